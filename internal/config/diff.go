package config

import (
	"reflect"
	"strings"

	"github.com/dshills/pulse/internal/config/notify"
)

// Diff lists the settings whose values differ between old and updated,
// in field order, with paths built from the toml keys.
func Diff(old, updated Config) []notify.Change {
	var changes []notify.Change
	diffValue("", reflect.ValueOf(old), reflect.ValueOf(updated), &changes)
	return changes
}

func diffValue(path string, a, b reflect.Value, out *[]notify.Change) {
	if a.Kind() == reflect.Struct {
		t := a.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			diffValue(join(path, keyOf(f)), a.Field(i), b.Field(i), out)
		}
		return
	}
	if reflect.DeepEqual(a.Interface(), b.Interface()) {
		return
	}
	*out = append(*out, notify.Change{
		Path:     path,
		Type:     notify.ChangeSet,
		OldValue: a.Interface(),
		NewValue: b.Interface(),
	})
}

func keyOf(f reflect.StructField) string {
	if tag, _, _ := strings.Cut(f.Tag.Get("toml"), ","); tag != "" {
		return tag
	}
	return strings.ToLower(f.Name)
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
