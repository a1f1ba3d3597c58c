package dberr

import (
	"errors"
	"strings"
	"testing"
)

func TestCategoryString(t *testing.T) {
	cases := map[Category]string{
		CategoryDeadlock:    "Deadlock",
		CategoryLockTimeout: "LockTimeout",
		CategoryDocExists:   "DocExists",
		CategoryError:       "Error",
		Category(99):        "Unknown",
	}
	for c, want := range cases {
		if got := c.String(); got != want {
			t.Errorf("Category(%d).String() = %q, want %q", c, got, want)
		}
	}
}

func TestIsHelpers(t *testing.T) {
	if !IsDeadlock(NewDeadlock("x", nil)) {
		t.Error("IsDeadlock should be true for NewDeadlock")
	}
	if IsDeadlock(NewLockTimeout("x", nil)) {
		t.Error("IsDeadlock should be false for NewLockTimeout")
	}
	if !IsLockTimeout(NewLockTimeout("x", nil)) {
		t.Error("IsLockTimeout should be true for NewLockTimeout")
	}
	if !IsDocExists(NewDocExists("x")) {
		t.Error("IsDocExists should be true for NewDocExists")
	}
}

func TestErrorsIsAgainstSentinels(t *testing.T) {
	err := NewDeadlock("victim 7", nil)
	if !errors.Is(err, Deadlock) {
		t.Error("errors.Is(err, Deadlock) should hold regardless of message")
	}
	if errors.Is(err, LockTimeout) {
		t.Error("errors.Is(err, LockTimeout) should not hold for a Deadlock error")
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("engine failure")
	err := NewError("wrapped", inner)
	if errors.Unwrap(err) != inner {
		t.Error("Unwrap should return the wrapped engine error")
	}
}

func TestErrorMessageIncludesEngine(t *testing.T) {
	inner := errors.New("disk full")
	err := NewError("write failed", inner)
	msg := err.Error()
	if msg == "" {
		t.Fatal("Error() returned empty string")
	}
	if !strings.Contains(msg, "disk full") {
		t.Errorf("Error() = %q, want it to include the engine diagnostic %q", msg, "disk full")
	}
	if !errors.Is(err, Generic) {
		t.Error("NewError should carry CategoryError, matching the Generic sentinel")
	}
}
