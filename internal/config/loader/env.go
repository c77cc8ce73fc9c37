package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// ReadDotEnv parses the given .env files, later files overriding earlier
// ones. Missing files are skipped. The process environment is not modified.
func (l *Loader) ReadDotEnv(paths ...string) (map[string]string, error) {
	vars := make(map[string]string)
	for _, path := range paths {
		data, err := l.fs.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading env file %s: %w", path, err)
		}
		parsed, err := godotenv.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, newParseError(path, err)
		}
		maps.Copy(vars, parsed)
	}
	return vars, nil
}

// Environ returns the process environment as a map.
func Environ() map[string]string {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			vars[k] = v
		}
	}
	return vars
}

// Overlay returns base with over applied on top.
func Overlay(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	maps.Copy(out, base)
	maps.Copy(out, over)
	return out
}

// ApplyEnv sets the fields of the struct pointed to by v from vars using
// `env` and `envPrefix` tags, with prefix in front of every name. Fields
// without a matching variable are left as they are.
func ApplyEnv(v any, prefix string, vars map[string]string) error {
	opts := env.Options{
		Prefix:      prefix,
		Environment: vars,
	}
	if err := env.Parse(v, opts); err != nil {
		return fmt.Errorf("applying %s* environment: %w", prefix, err)
	}
	return nil
}
