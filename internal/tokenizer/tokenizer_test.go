package tokenizer

import (
	"errors"
	"testing"
)

type testCounter struct{}

func (testCounter) Name() string { return "stub" }

func (testCounter) CountString(input string) (int, error) { return len([]rune(input)), nil }

func TestCountText(t *testing.T) {
	tokens, err := CountText(testCounter{}, "hello")
	if err != nil {
		t.Fatalf("CountText error: %v", err)
	}
	if tokens != len([]rune("hello")) {
		t.Fatalf("expected %d tokens, got %d", len([]rune("hello")), tokens)
	}
}

func TestCountTextNilCounter(t *testing.T) {
	if _, err := CountText(nil, "hello"); !errors.Is(err, ErrNilCounter) {
		t.Fatalf("expected ErrNilCounter, got %v", err)
	}
}

func TestNewCounterDefault(t *testing.T) {
	counter, model, err := NewCounter(Config{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("NewCounter error: %v", err)
	}
	if counter == nil {
		t.Fatalf("expected non-nil counter")
	}
	if model != "gpt-4o" {
		t.Fatalf("expected model gpt-4o, got %q", model)
	}
	tokens, err := counter.CountString("hello world")
	if err != nil {
		t.Fatalf("CountString error: %v", err)
	}
	if tokens <= 0 {
		t.Fatalf("expected positive token count, got %d", tokens)
	}
}

func TestNewCounterUnknownModelFallsBack(t *testing.T) {
	counter, model, err := NewCounter(Config{Model: "mystery-model"})
	if err != nil {
		t.Fatalf("NewCounter error: %v", err)
	}
	if model != defaultEncodingName {
		t.Fatalf("expected fallback %q, got %q", defaultEncodingName, model)
	}
	if counter.Name() != defaultEncodingName {
		t.Fatalf("expected counter name %q, got %q", defaultEncodingName, counter.Name())
	}
}
