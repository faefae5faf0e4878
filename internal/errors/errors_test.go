package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapMatchesByCode(t *testing.T) {
	cause := stdErrors.New("boom")
	err := Wrap(CodeExecutionFailure, cause, "handler failed", WithMetadata("agent", "Agent1"))

	if !stdErrors.Is(err, New(CodeExecutionFailure, "")) {
		t.Fatalf("expected errors.Is to match on code")
	}
	if stdErrors.Is(err, New(CodeTimeout, "")) {
		t.Fatalf("different codes must not match")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
	if got := err.Metadata()["agent"]; got != "Agent1" {
		t.Fatalf("unexpected metadata %q", got)
	}
}

func TestCodeOfThroughFmtWrap(t *testing.T) {
	inner := New(CodeQueueFailure, "queue down")
	outer := fmt.Errorf("publish: %w", inner)

	if CodeOf(outer) != CodeQueueFailure {
		t.Fatalf("unexpected code %s", CodeOf(outer))
	}
	if !ShouldAlert(outer) {
		t.Fatalf("queue failures alert by default")
	}
	if SeverityOf(outer) != SeverityCritical {
		t.Fatalf("unexpected severity %s", SeverityOf(outer))
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors map to UNKNOWN")
	}
}

func TestRegisterOverridesAttributes(t *testing.T) {
	code := Code("TEST_REGISTERED")
	Register(code, Attributes{Message: "registered", Severity: SeverityWarning, Alert: true})

	err := New(code, "")
	if err.Message() != "registered" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if !err.ShouldAlert() {
		t.Fatalf("expected alert from registered attributes")
	}
	if New(code, "", WithAlert(false)).ShouldAlert() {
		t.Fatalf("option must override registered alert flag")
	}
	if got := SeverityOf(New(code, "", WithSeverity(SeverityCritical))); got != SeverityCritical {
		t.Fatalf("option must override registered severity, got %s", got)
	}
}

func TestLogAttrs(t *testing.T) {
	if LogAttrs(nil) != nil {
		t.Fatalf("nil error yields no attributes")
	}
	attrs := LogAttrs(New(CodeNotFound, "missing", WithMetadata("handler", "default")))
	if len(attrs) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(attrs))
	}
}
