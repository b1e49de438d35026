package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"discharge summary.pdf", "discharge summary.pdf"},
		{"notes/2024:draft.txt", "notes-2024-draft.txt"},
		{`lab<results>?.pdf`, "labresults.pdf"},
		{"  trimmed.docx  ", "trimmed.docx"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeFileName(tc.in); got != tc.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeToken(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Dr. Lee", "dr__lee"},
		{"clinic-7", "clinic-7"},
		{"__edge__", "edge"},
		{"", "unknown"},
		{"???", "unknown"},
	}
	for _, tc := range cases {
		if got := SanitizeToken(tc.in); got != tc.want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
