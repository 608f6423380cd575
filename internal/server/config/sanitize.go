package config

// Sanitize returns a copy of cfg that is safe to log. The encryption key
// is replaced by a fixed marker revealing only whether one is set.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	out := *cfg
	if out.Security.EncryptionKey != "" {
		out.Security.EncryptionKey = keyMarker(out.Security.EncryptionKey)
	}
	return &out
}

func keyMarker(key string) string {
	if len(key) < 8 {
		return "<set>"
	}
	return "<set:" + key[:2] + "..>"
}
