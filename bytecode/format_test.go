package bytecode

import "testing"

func TestSubstitute(t *testing.T) {
	tests := []struct {
		text string
		subs []string
		want string
	}{
		{"plain", nil, "plain"},
		{"Hello {0}!", []string{"Ada"}, "Hello Ada!"},
		{"{1} before {0}", []string{"a", "b"}, "b before a"},
		{"{0}{0}", []string{"x"}, "xx"},
		{"missing {3}", []string{"a"}, "missing {3}"},
		{"not a marker {name}", []string{"a"}, "not a marker {name}"},
		{"unterminated {0", []string{"a"}, "unterminated {0"},
		{"empty {}", []string{"a"}, "empty {}"},
	}
	for _, tt := range tests {
		if got := Substitute(tt.text, tt.subs); got != tt.want {
			t.Errorf("Substitute(%q, %v) = %q, want %q", tt.text, tt.subs, got, tt.want)
		}
	}
}
