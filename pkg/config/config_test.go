package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Extra string `yaml:"extra"`
}

func (s *sample) Validate() error {
	if s.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("SCRIBE_TEST_NAME", "from-env")
	p := writeFile(t, "name: ${SCRIBE_TEST_NAME}\nport: 9090\n")

	cfg := sample{Extra: "default"}
	require.NoError(t, Load(p, &cfg))
	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "default", cfg.Extra)
}

func TestLoad_ValidationFailure(t *testing.T) {
	p := writeFile(t, "name: x\n")
	var cfg sample
	err := Load(p, &cfg)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "port is required")
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg sample
	err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &cfg)
	require.ErrorIs(t, err, ErrRead)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_ParseError(t *testing.T) {
	p := writeFile(t, "port: [unclosed\n")
	var cfg sample
	assert.ErrorIs(t, Load(p, &cfg), ErrParse)
}

func TestLoad_DefaultExpansion(t *testing.T) {
	t.Setenv("SCRIBE_TEST_SET", "given")
	t.Setenv("SCRIBE_TEST_EMPTY", "")
	p := writeFile(t, "name: ${SCRIBE_TEST_SET:-fallback}\nextra: ${SCRIBE_TEST_EMPTY:-fallback}\nport: ${SCRIBE_TEST_UNSET_PORT:-7070}\n")

	var cfg sample
	require.NoError(t, Load(p, &cfg))
	assert.Equal(t, "given", cfg.Name)
	assert.Equal(t, "fallback", cfg.Extra)
	assert.Equal(t, 7070, cfg.Port)
}

func TestLoadOptional_MissingFileUsesDefaults(t *testing.T) {
	cfg := sample{Port: 8080}
	require.NoError(t, LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &cfg))
	assert.Equal(t, 8080, cfg.Port)

	var empty sample
	assert.Error(t, LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &empty))
}
