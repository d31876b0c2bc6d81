package rpcerr

import (
	"errors"
	"testing"
)

func TestWrapMatchesSentinelViaErrorsIs(t *testing.T) {
	err := Wrap(ErrTimeout, "Echo.Say after 5s")
	if !errors.Is(err, ErrTimeout) {
		t.Error("expected wrapped error to match its sentinel via errors.Is")
	}
	if errors.Is(err, ErrTooBusy) {
		t.Error("wrapped error should not match an unrelated sentinel")
	}
}

func TestWrapErrorMessageIncludesContext(t *testing.T) {
	err := Wrap(ErrMethodNotFound, "Arith.Add")
	want := "Arith.Add: xrpc: method not found"
	if err.Error() != want {
		t.Errorf("Error() mismatch: got %q, want %q", err.Error(), want)
	}
}
