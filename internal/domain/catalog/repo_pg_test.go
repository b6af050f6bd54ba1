package catalog

import "testing"

func TestContainsPattern(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Paracetamol", "%Paracetamol%"},
		{"  amox ", "%amox%"},
		{"50%", `%50\%%`},
		{"a_b", `%a\_b%`},
		{`c:\x`, `%c:\\x%`},
	}
	for _, tt := range tests {
		if got := containsPattern(tt.in); got != tt.want {
			t.Errorf("containsPattern(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
