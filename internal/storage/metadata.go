package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starford/scribe/internal/apperr"
	"github.com/starford/scribe/internal/models"
)

func encodeMetadata(m models.PostMetadata) ([]byte, error) {
	m.Normalize()
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("storage: encode metadata: %w", err)
	}
	return data, nil
}

func decodeMetadata(data []byte) (*models.PostMetadata, error) {
	var m models.PostMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrDecode, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrDecode, err)
	}
	m.Normalize()
	return &m, nil
}

// validateName accepts a single path segment usable as an identifier or a
// file name.
func validateName(what, name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: %s is required", apperr.ErrInvalidArgument, what)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %s %q contains a path separator", apperr.ErrInvalidArgument, what, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %s %q starts with a dot", apperr.ErrInvalidArgument, what, name)
	}
	return nil
}
