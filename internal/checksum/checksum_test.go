package checksum

import "testing"

func TestSum(t *testing.T) {
	// sha256("")
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum(nil); got != empty {
		t.Errorf("Sum(nil) = %s", got)
	}
	if Sum([]byte("a")) == Sum([]byte("b")) {
		t.Error("different inputs produced the same digest")
	}
}

func TestETag(t *testing.T) {
	tag := ETag([]byte("x"))
	if tag[0] != '"' || tag[len(tag)-1] != '"' {
		t.Fatalf("ETag not quoted: %s", tag)
	}
	if tag != `"`+Sum([]byte("x"))+`"` {
		t.Errorf("ETag = %s", tag)
	}
}

func TestMatch(t *testing.T) {
	tag := ETag([]byte("x"))
	cases := []struct {
		header string
		want   bool
	}{
		{"", false},
		{"*", true},
		{tag, true},
		{"W/" + tag, true},
		{`"other", ` + tag, true},
		{`"other"`, false},
	}
	for _, tc := range cases {
		if got := Match(tc.header, tag); got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.header, got, tc.want)
		}
	}
}
