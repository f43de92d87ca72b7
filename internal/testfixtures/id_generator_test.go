package testfixtures

import "testing"

func TestUUIDGeneratorProducesSequentialIDs(t *testing.T) {
	gen := NewUUIDGenerator()

	first := gen.Next()
	second := gen.Next()

	if first.String() != "00000000-0000-7000-8000-000000000001" {
		t.Fatalf("unexpected first identifier: %s", first)
	}
	if second.String() != "00000000-0000-7000-8000-000000000002" {
		t.Fatalf("unexpected second identifier: %s", second)
	}
	if first.Version() != 7 {
		t.Fatalf("expected version 7, got %d", first.Version())
	}
}

func TestUUIDGeneratorCanReset(t *testing.T) {
	gen := NewUUIDGenerator()
	_ = gen.Next()
	gen.SetCounter(0)

	next, err := gen.NextFunc()()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.String() != "00000000-0000-7000-8000-000000000001" {
		t.Fatalf("expected first identifier after reset, got %s", next)
	}
}
