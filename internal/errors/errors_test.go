package errors

import (
	"fmt"
	"testing"
)

func TestBuildDefaults(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("test error")
	ee := New(err).Build()

	if ee.Err.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Err.Error())
	}

	if ee.GetComponent() != ComponentUnknown {
		t.Errorf("Expected component 'unknown', got '%s'", ee.GetComponent())
	}

	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic', got '%s'", ee.Category)
	}
}

func TestBuilderSetsMetadata(t *testing.T) {
	t.Parallel()

	ee := Newf("claim failed for card %d", 42).
		Component("ledger").
		Category(CategoryConflict).
		Context("card_id", 42).
		Build()

	if ee.GetComponent() != "ledger" {
		t.Errorf("Expected component 'ledger', got '%s'", ee.GetComponent())
	}
	if ee.Category != CategoryConflict {
		t.Errorf("Expected category 'conflict', got '%s'", ee.Category)
	}
	if ctx := ee.GetContext(); ctx["card_id"] != 42 {
		t.Errorf("Expected card_id context 42, got %v", ctx["card_id"])
	}
}

func TestIsMatchesByCategory(t *testing.T) {
	t.Parallel()

	a := Newf("first").Category(CategoryConflict).Build()
	b := Newf("second").Category(CategoryConflict).Build()
	c := Newf("third").Category(CategoryDatabase).Build()

	if !Is(a, b) {
		t.Error("Expected errors with the same category to match")
	}
	if Is(a, c) {
		t.Error("Expected errors with different categories not to match")
	}
}

func TestUnwrapPreservesSentinel(t *testing.T) {
	t.Parallel()

	sentinel := NewStd("store timeout")
	wrapped := New(fmt.Errorf("saving match: %w", sentinel)).Category(CategoryTimeout).Build()

	if !Is(wrapped, sentinel) {
		t.Error("Expected wrapped sentinel to be matched through the enhanced error")
	}
}
