package testfixtures

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

// UUIDGenerator produces deterministic run identifiers for tests.
type UUIDGenerator struct {
	mu      sync.Mutex
	counter uint64
}

// NewUUIDGenerator constructs a generator whose first identifier is
// 00000000-0000-7000-8000-000000000001.
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

// Next returns the next identifier in the sequence. Identifiers carry the
// version 7 and RFC 4122 variant bits.
func (g *UUIDGenerator) Next() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++

	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], g.counter)
	id[6] = 0x70
	id[8] = 0x80
	return id
}

// NextFunc exposes Next with the signature of uuid.NewV7 for dependency
// injection.
func (g *UUIDGenerator) NextFunc() func() (uuid.UUID, error) {
	return func() (uuid.UUID, error) {
		return g.Next(), nil
	}
}

// SetCounter overrides the internal counter, enabling deterministic resets.
func (g *UUIDGenerator) SetCounter(counter uint64) {
	g.mu.Lock()
	g.counter = counter
	g.mu.Unlock()
}
