// Package config loads YAML configuration files with environment variable
// expansion and optional validation.
//
// References take the shell forms $VAR, ${VAR} and ${VAR:-default}; the
// default applies when VAR is unset or empty.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Error kinds returned by Load, matched with errors.Is.
var (
	ErrRead       = errors.New("read config")
	ErrParse      = errors.New("parse config")
	ErrValidation = errors.New("config validation failed")
)

// Validator is implemented by configuration types that check themselves.
type Validator interface {
	Validate() error
}

// Load reads filename, expands environment references, decodes it into
// target and validates the result. Keys absent from the file keep whatever
// target already holds.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrRead, filename, err)
	}

	if err := yaml.Unmarshal([]byte(expand(string(data))), target); err != nil {
		return fmt.Errorf("%w %s: %w", ErrParse, filename, err)
	}

	return validate(target)
}

// LoadOptional behaves like Load but accepts a missing file, validating
// target as it stands.
func LoadOptional[T any](filename string, target *T) error {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return validate(target)
	}
	return Load(filename, target)
}

func validate[T any](target *T) error {
	if v, ok := any(target).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	return nil
}

func expand(s string) string {
	return os.Expand(s, func(ref string) string {
		name, fallback, hasDefault := strings.Cut(ref, ":-")
		if v := os.Getenv(name); v != "" || !hasDefault {
			return v
		}
		return fallback
	})
}
