// Package models defines the domain types for Scribe.
package models

import (
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Reserved file names inside a post directory.
const (
	MetadataFile = "post.json"
	MarkdownFile = "post.md"
)

// Contributor is a person credited on a post.
type Contributor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PostMetadata is everything about a post except its body. It is the exact
// content of post.json.
type PostMetadata struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Attachments  []string      `json:"attachments"`
	Contributors []Contributor `json:"contributors"`
	UpdatedTs    int64         `json:"updatedTs"` // epoch milliseconds
}

// Post is a full content unit: metadata plus markdown body.
type Post struct {
	PostMetadata
	Markdown string `json:"markdown"`
}

// Validate checks the fields post.json cannot do without.
func (m *PostMetadata) Validate() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.ID, validation.Required),
		validation.Field(&m.Attachments, validation.Each(validation.Required)),
	)
}

// Normalize replaces nil slices with empty ones so the JSON form always
// carries arrays.
func (m *PostMetadata) Normalize() {
	if m.Attachments == nil {
		m.Attachments = []string{}
	}
	if m.Contributors == nil {
		m.Contributors = []Contributor{}
	}
}

// HasAttachment reports whether name is already listed.
func (m *PostMetadata) HasAttachment(name string) bool {
	return slices.Contains(m.Attachments, name)
}

// Clone returns a deep copy of the metadata.
func (m PostMetadata) Clone() PostMetadata {
	m.Attachments = slices.Clone(m.Attachments)
	m.Contributors = slices.Clone(m.Contributors)
	return m
}

// Metadata returns the listing projection of the post.
func (p *Post) Metadata() PostMetadata {
	m := p.PostMetadata.Clone()
	m.Normalize()
	return m
}

// Clone returns a deep copy of the post.
func (p *Post) Clone() *Post {
	return &Post{PostMetadata: p.PostMetadata.Clone(), Markdown: p.Markdown}
}

// IsReservedName reports whether name collides, case-insensitively, with
// the post's own metadata or body file.
func IsReservedName(name string) bool {
	return strings.EqualFold(name, MetadataFile) || strings.EqualFold(name, MarkdownFile)
}
