package parser

import (
	"testing"

	"github.com/starford/scribe/internal/models"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\nslug: Hello World!\ncontributors:\n  - id: ada\n    name: Ada Lovelace\n---\n# Heading\nBody text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if r.Slug != "hello-world" {
		t.Errorf("slug = %q, want %q", r.Slug, "hello-world")
	}
	if len(r.Contributors) != 1 || r.Contributors[0] != (models.Contributor{ID: "ada", Name: "Ada Lovelace"}) {
		t.Errorf("contributors = %v", r.Contributors)
	}
	if r.Body != "# Heading\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_AuthorFallback(t *testing.T) {
	r, err := Parse([]byte("---\nauthor: Grace Hopper\n---\ntext\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := models.Contributor{ID: "grace-hopper", Name: "Grace Hopper"}
	if len(r.Contributors) != 1 || r.Contributors[0] != want {
		t.Errorf("contributors = %v, want [%v]", r.Contributors, want)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
	if r.Body != string(input) {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
	if r.Body != string(input) {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_UnclosedFrontmatter(t *testing.T) {
	input := []byte("---\ntitle: x\nno closing")
	r, _ := Parse(input)
	if r.Frontmatter != nil || r.Body != string(input) {
		t.Errorf("unclosed frontmatter should be body, got %+v", r)
	}
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	title := deriveTitle("FM Title", "# H1 Title\ntext")
	if title != "FM Title" {
		t.Errorf("title = %q, want %q", title, "FM Title")
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	title := deriveTitle("", "some text\n# My Heading\nmore")
	if title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Hello World", "hello-world"},
		{"  --Go 1.25!-- ", "go-1-25"},
		{"Ünïcode & stuff", "n-code-stuff"},
		{"", ""},
		{"already-a-slug", "already-a-slug"},
	}
	for _, tc := range cases {
		if got := slugify(tc.in); got != tc.want {
			t.Errorf("slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
