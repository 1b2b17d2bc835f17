package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(NotFound, "message %s not found", "m1")
	if KindOf(err) != NotFound {
		t.Fatalf("expected NotFound, got %v", KindOf(err))
	}
	if Message(err) != "message m1 not found" {
		t.Fatalf("unexpected message: %q", Message(err))
	}

	// unclassified errors default to Transient
	if KindOf(errors.New("disk on fire")) != Transient {
		t.Fatalf("expected Transient for plain error")
	}
}

func TestWrapPreservesChain(t *testing.T) {
	cause := errors.New("pebble: not found")
	err := Wrap(NotFound, cause, "conversation lookup")

	if !Is(err, NotFound) {
		t.Fatalf("expected Is(NotFound)")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause in chain")
	}

	// a fault surviving further fmt wrapping keeps its kind
	outer := fmt.Errorf("handler: %w", err)
	if KindOf(outer) != NotFound {
		t.Fatalf("kind lost through wrapping")
	}
}

func TestIsDistinguishesKinds(t *testing.T) {
	err := New(Conflict, "duplicate reaction")
	if Is(err, Forbidden) {
		t.Fatalf("Conflict should not match Forbidden")
	}
	if !Is(err, Conflict) {
		t.Fatalf("expected Conflict")
	}
}
