package logger

import (
	"log/slog"
	"slices"
	"strings"
)

// sensitiveWords mark attribute keys whose values are never written.
var sensitiveWords = []string{"secret", "master", "private", "password", "token"}

const redacted = "[redacted]"

// IsSensitiveKey reports whether key names secret material.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	return slices.ContainsFunc(sensitiveWords, func(w string) bool {
		return strings.Contains(k, w)
	})
}

// redact is the handlers' ReplaceAttr hook. An attribute inside a group
// with a sensitive name is redacted as well.
func redact(groups []string, a slog.Attr) slog.Attr {
	if blank(a.Value) {
		return a
	}
	if IsSensitiveKey(a.Key) || slices.ContainsFunc(groups, IsSensitiveKey) {
		a.Value = slog.StringValue(redacted)
	}
	return a
}

// blank values are logged as-is so an unset secret stays visible as unset.
func blank(v slog.Value) bool {
	switch v.Kind() {
	case slog.KindString:
		return v.String() == ""
	case slog.KindAny:
		switch x := v.Any().(type) {
		case nil:
			return true
		case []byte:
			return len(x) == 0
		}
	}
	return false
}
