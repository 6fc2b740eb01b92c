package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactSecrets(t *testing.T) {
	tests := []struct {
		name  string
		input string
		leak  string
	}{
		{
			name:  "socket url query",
			input: `dial wss://api.openai.com/v1/chatkit/sessions/cks_1/ws?api_key=abc123SECRET: refused`,
			leak:  "abc123SECRET",
		},
		{
			name:  "authorization header",
			input: "Authorization: Bearer tok.en-value",
			leak:  "tok.en-value",
		},
		{
			name:  "bare key",
			input: "using key sk-proj_abcdefghijkl",
			leak:  "sk-proj_abcdefghijkl",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := RedactSecrets(tc.input)
			if strings.Contains(out, tc.leak) {
				t.Fatalf("RedactSecrets(%q) = %q, still contains secret", tc.input, out)
			}
			if !strings.Contains(out, "REDACTED") {
				t.Fatalf("RedactSecrets(%q) = %q, missing marker", tc.input, out)
			}
		})
	}
}

func TestLogPreviewTruncatesAfterRedaction(t *testing.T) {
	got := LogPreview("  reach me at sam@example.com about my steps  ", 20)
	if strings.Contains(got, "sam@example.com") {
		t.Fatalf("LogPreview() leaked email: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("LogPreview() = %q, want truncated suffix", got)
	}
	if got := LogPreview("short", 20); got != "short" {
		t.Fatalf("LogPreview() = %q, want %q", got, "short")
	}
}
