package xerrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrap_MessageAndUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, "loading state")

	if got := err.Error(); got != "loading state: boom" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error lost its cause")
	}
}

func TestWrap_NilPassthrough(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
	if WithStack(nil) != nil {
		t.Error("WithStack(nil) should be nil")
	}
	if EnsureTrace(nil) != nil {
		t.Error("EnsureTrace(nil) should be nil")
	}
}

func TestWrap_RecordsCallSite(t *testing.T) {
	err := Wrap(errors.New("boom"), "ctx")

	type hasPC interface{ PC() uintptr }
	hp, ok := err.(hasPC)
	if !ok {
		t.Fatal("Wrap result does not expose PC()")
	}
	if hp.PC() == 0 {
		t.Fatal("PC() = 0, want a call site")
	}
}

func TestNew_CapturesStack(t *testing.T) {
	err := New("boom")

	type hasStack interface{ StackPCs() []uintptr }
	hs, ok := err.(hasStack)
	if !ok {
		t.Fatal("New result does not expose StackPCs()")
	}
	if len(hs.StackPCs()) == 0 {
		t.Fatal("StackPCs() empty")
	}
}

func TestNewf_Formats(t *testing.T) {
	err := Newf("bad value %d", 7)
	if !strings.Contains(err.Error(), "bad value 7") {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestEnsureTrace_NoDoubleCapture(t *testing.T) {
	inner := New("boom")
	wrapped := fmt.Errorf("outer: %w", inner)

	got := EnsureTrace(wrapped)
	if got != wrapped {
		t.Fatal("EnsureTrace should not re-wrap a chain that already has a stack")
	}
}

func TestEnsureTrace_AddsStackWhenMissing(t *testing.T) {
	plain := errors.New("boom")

	got := EnsureTrace(plain)
	if got == plain {
		t.Fatal("EnsureTrace should wrap a stackless error")
	}

	type hasStack interface{ StackPCs() []uintptr }
	var hs hasStack
	if !errors.As(got, &hs) || len(hs.StackPCs()) == 0 {
		t.Fatal("EnsureTrace did not attach a stack")
	}
}

func TestWrapf_FormatsAndUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := Wrapf(base, "student %s", "s1")

	if got := err.Error(); got != "student s1: boom" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(err, base) {
		t.Fatal("Wrapf lost its cause")
	}
}
