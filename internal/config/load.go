package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/dshills/pulse/internal/config/loader"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PULSE_"

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	file     string
	dotEnv   []string
	environ  map[string]string
	fs       loader.FileSystem
	optional bool
}

// WithFile names the configuration file. Its extension selects the format.
func WithFile(path string) Option {
	return func(o *loadOptions) {
		o.file = path
	}
}

// WithOptionalFile is like WithFile but a missing file is not an error.
func WithOptionalFile(path string) Option {
	return func(o *loadOptions) {
		o.file = path
		o.optional = true
	}
}

// WithDotEnv adds .env files whose variables sit below the process
// environment. Missing files are ignored.
func WithDotEnv(paths ...string) Option {
	return func(o *loadOptions) {
		o.dotEnv = append(o.dotEnv, paths...)
	}
}

// WithEnviron replaces the process environment, mainly for tests.
func WithEnviron(vars map[string]string) Option {
	return func(o *loadOptions) {
		o.environ = vars
	}
}

// WithFS reads files through fsys instead of the OS.
func WithFS(fsys loader.FileSystem) Option {
	return func(o *loadOptions) {
		o.fs = fsys
	}
}

// Load builds a Config from defaults, then the file, then .env files, then
// PULSE_* environment variables, and validates the result.
func Load(opts ...Option) (Config, error) {
	o := loadOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.environ == nil {
		o.environ = loader.Environ()
	}
	l := loader.NewWithFS(o.fs)

	cfg := Default()

	if o.file != "" {
		err := l.DecodeFile(o.file, &cfg)
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist) && o.optional:
		case errors.Is(err, fs.ErrNotExist):
			return Config{}, fmt.Errorf("%w: %s", ErrFileNotFound, o.file)
		case errors.Is(err, loader.ErrUnsupportedFormat):
			return Config{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, o.file)
		default:
			return Config{}, err
		}
	}

	vars := o.environ
	if len(o.dotEnv) > 0 {
		fileVars, err := l.ReadDotEnv(o.dotEnv...)
		if err != nil {
			return Config{}, err
		}
		vars = loader.Overlay(fileVars, o.environ)
	}

	if err := loader.ApplyEnv(&cfg, EnvPrefix, vars); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal renders cfg in the given format ("toml" or "yaml").
func Marshal(cfg Config, format string) ([]byte, error) {
	out, err := loader.Encode(loader.Format(format), cfg)
	if errors.Is(err, loader.ErrUnsupportedFormat) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return out, err
}
