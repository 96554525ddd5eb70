package logx

import (
	"context"
	"errors"
	"testing"
)

func TestIsDebugEnabledForDomain_AllDomains(t *testing.T) {
	SetDebugConfig(true, nil)
	defer SetDebugConfig(false, nil)

	if !IsDebugEnabledForDomain("poller") {
		t.Error("Expected all domains enabled when no filter configured")
	}
	if !IsDebugEnabledForDomain("handoff") {
		t.Error("Expected all domains enabled when no filter configured")
	}
}

func TestIsDebugEnabledForDomain_Filtered(t *testing.T) {
	SetDebugConfig(true, []string{"poller", " handoff "})
	defer SetDebugConfig(false, nil)

	if !IsDebugEnabledForDomain("poller") {
		t.Error("Expected poller domain enabled")
	}
	if !IsDebugEnabledForDomain("handoff") {
		t.Error("Expected handoff domain enabled (whitespace trimmed)")
	}
	if IsDebugEnabledForDomain("store") {
		t.Error("Expected store domain disabled")
	}
}

func TestIsDebugEnabledForDomain_Disabled(t *testing.T) {
	SetDebugConfig(false, []string{"poller"})

	if IsDebugEnabledForDomain("poller") {
		t.Error("Expected no domain enabled when debug is off")
	}
}

func TestWrap_NilError(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(cause, "db open")
	if wrapped.Error() != "db open: boom" {
		t.Errorf("Unexpected wrapped message: %q", wrapped.Error())
	}
	if !errors.Is(wrapped, cause) {
		t.Error("Expected wrapped error to preserve the cause")
	}
}

func TestWithComponent(t *testing.T) {
	ctx := WithComponent(context.Background(), "planner")
	if id := ctx.Value(componentKey{}); id != "planner" {
		t.Errorf("Expected component 'planner', got %v", id)
	}
}
