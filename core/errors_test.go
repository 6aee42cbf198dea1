package core

import (
	"errors"
	"testing"
)

func TestCodedErrorUnwrapsToSentinel(t *testing.T) {
	err := wrapErr("channel.Open", ErrChannelExists)
	if !errors.Is(err, ErrChannelExists) {
		t.Fatalf("expected errors.Is to match the wrapped sentinel")
	}
	if err.Error() != "channel.Open: "+ErrChannelExists.Error() {
		t.Fatalf("unexpected error string: %q", err.Error())
	}
}

func TestCodedErrorWithoutOpReturnsBareMessage(t *testing.T) {
	ce := &CodedError{Err: ErrNotFound}
	if ce.Error() != ErrNotFound.Error() {
		t.Fatalf("expected bare sentinel message, got %q", ce.Error())
	}
}

func TestWrapErrPassesThroughNil(t *testing.T) {
	if err := wrapErr("noop", nil); err != nil {
		t.Fatalf("expected nil passthrough, got %v", err)
	}
}
