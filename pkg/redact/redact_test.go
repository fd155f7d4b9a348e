package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	in := "email a@b.com and phone +62 812 3456 7890"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	in := "email a@b.com and phone +62 812 3456 7890"
	got := Text(in)
	if got == in {
		t.Fatalf("expected redaction")
	}
	if want := "[REDACTED_EMAIL]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
	if want := "[REDACTED_PHONE]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
}

func TestTokenMasksAllButTail(t *testing.T) {
	if got := Token("eyJhbGciOiJIUzI1NiJ9.abcd"); got != "****abcd" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := Token("short"); got != "****" {
		t.Fatalf("expected full mask for short token, got %q", got)
	}
	if got := Token("  "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
