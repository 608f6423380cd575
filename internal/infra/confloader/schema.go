package confloader

import (
	"errors"
	"reflect"
	"strings"

	"github.com/knadh/koanf/maps"
)

// SchemaKeys returns the dotted koanf keys of the leaf fields of v, a
// struct or pointer to one, in field order. time.Duration and other
// non-struct fields are leaves.
func SchemaKeys(v any) []string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	return appendKeys(nil, t, "")
}

func appendKeys(keys []string, t reflect.Type, prefix string) []string {
	for f := range fieldsOf(t) {
		name, ok := f.Tag.Lookup("koanf")
		if !ok || name == "" || name == "-" || !f.IsExported() {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct && f.Type.PkgPath() != "time" {
			keys = appendKeys(keys, f.Type, name)
		} else {
			keys = append(keys, name)
		}
	}
	return keys
}

func fieldsOf(t reflect.Type) func(func(reflect.StructField) bool) {
	return func(yield func(reflect.StructField) bool) {
		for i := range t.NumField() {
			if !yield(t.Field(i)) {
				return
			}
		}
	}
}

// envForm maps a key or environment suffix to a form in which "_" and
// "." are indistinguishable.
func envForm(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "_", ".")
}

var errNoBytes = errors.New("confloader: overrides have no byte form")

// overrides is a koanf provider for dotted keys set in code.
type overrides map[string]any

func (o overrides) ReadBytes() ([]byte, error) { return nil, errNoBytes }

func (o overrides) Read() (map[string]any, error) {
	return maps.Unflatten(o, "."), nil
}
