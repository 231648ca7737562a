package logx

import (
	"context"
	"errors"
	"testing"
)

func TestDebugToggle(t *testing.T) {
	SetDebugConfig(false, nil)

	if IsDebugEnabled() {
		t.Error("Debug should be disabled by default")
	}

	SetDebugConfig(true, nil)
	if !IsDebugEnabled() {
		t.Error("Debug should be enabled after SetDebugConfig")
	}

	SetDebugConfig(false, nil)
	if IsDebugEnabled() {
		t.Error("Debug should be disabled after SetDebugConfig(false)")
	}
}

func TestDomainFiltering(t *testing.T) {
	SetDebugConfig(true, []string{"table", "enrich"})
	defer SetDebugConfig(false, nil)

	if !IsDebugEnabledForDomain("table") {
		t.Error("table domain should be enabled")
	}
	if !IsDebugEnabledForDomain("enrich") {
		t.Error("enrich domain should be enabled")
	}
	if IsDebugEnabledForDomain("explorer") {
		t.Error("explorer domain should not be enabled")
	}

	// Empty domain list enables everything.
	SetDebugConfig(true, nil)
	if !IsDebugEnabledForDomain("explorer") {
		t.Error("all domains should be enabled with nil filter")
	}
}

func TestDomainFilteringDisabledGlobally(t *testing.T) {
	SetDebugConfig(false, []string{"table"})
	defer SetDebugConfig(false, nil)

	if IsDebugEnabledForDomain("table") {
		t.Error("no domain should be enabled when debug is off")
	}
}

func TestWithSessionID(t *testing.T) {
	logger := NewLogger("sess-1")
	if logger.GetSessionID() != "sess-1" {
		t.Errorf("expected sess-1, got %s", logger.GetSessionID())
	}

	derived := logger.WithSessionID("sess-2")
	if derived.GetSessionID() != "sess-2" {
		t.Errorf("expected sess-2, got %s", derived.GetSessionID())
	}
	if logger.GetSessionID() != "sess-1" {
		t.Error("original logger should be unchanged")
	}
}

func TestContextSessionID(t *testing.T) {
	ctx := WithSessionID(context.Background(), "sess-ctx")
	if got := ctx.Value(sessionIDKey{}); got != "sess-ctx" {
		t.Errorf("expected sess-ctx, got %v", got)
	}

	// Must not panic with a nil-valued context or missing key.
	SetDebugConfig(true, nil)
	defer SetDebugConfig(false, nil)
	Debug(context.Background(), "table", "no session id")
	Debug(ctx, "table", "with session id")
}

func TestErrorf(t *testing.T) {
	err := Errorf("operation failed: %d", 42)
	if err == nil {
		t.Fatal("Errorf should return an error")
	}
	if err.Error() != "operation failed: 42" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	base := errors.New("db locked")
	wrapped := Wrap(base, "save session")
	if wrapped == nil {
		t.Fatal("Wrap should return an error")
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should unwrap to the base error")
	}
	if wrapped.Error() != "save session: db locked" {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}
}
