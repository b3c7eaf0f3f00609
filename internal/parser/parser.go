// Package parser splits imported Markdown into YAML frontmatter and body and
// derives the post fields the frontmatter can carry.
package parser

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/scribe/internal/models"
)

// Result holds the output of parsing an imported Markdown document.
type Result struct {
	Frontmatter  map[string]interface{}
	Body         string
	Title        string
	Slug         string
	Contributors []models.Contributor
}

// header is the typed view of the frontmatter keys a post understands.
type header struct {
	Title        string               `yaml:"title"`
	Slug         string               `yaml:"slug"`
	Author       string               `yaml:"author"`
	Contributors []models.Contributor `yaml:"contributors"`
}

// Parse extracts frontmatter, body, title, slug and contributors from raw
// Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, hdr, body := splitFrontmatter(data)

	contributors := hdr.Contributors
	if len(contributors) == 0 && strings.TrimSpace(hdr.Author) != "" {
		name := strings.TrimSpace(hdr.Author)
		contributors = []models.Contributor{{ID: slugify(name), Name: name}}
	}

	return &Result{
		Frontmatter:  fm,
		Body:         body,
		Title:        deriveTitle(hdr.Title, body),
		Slug:         slugify(hdr.Slug),
		Contributors: contributors,
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, header, string) {
	const delim = "---"
	var hdr header
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, hdr, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, hdr, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: the whole document is body.
		return nil, header{}, string(data)
	}
	if err := yaml.Unmarshal(yamlBlock, &hdr); err != nil {
		// Known keys with unexpected shapes are ignored.
		hdr = header{}
		if s, ok := fm["title"].(string); ok {
			hdr.Title = s
		}
	}
	return fm, hdr, body
}

// deriveTitle returns the frontmatter title if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fmTitle, body string) string {
	if t := strings.TrimSpace(fmTitle); t != "" {
		return t
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single hyphen.
func slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}
