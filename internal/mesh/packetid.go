package mesh

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// PacketIDGenerator hands out packet ids that increase modulo 2^32 and skip zero.
type PacketIDGenerator struct {
	mu      sync.Mutex
	current uint32
	seeded  bool
}

// Seed starts the sequence at start. Called once a session exists.
func (g *PacketIDGenerator) Seed(start uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = start
	g.seeded = true
}

// SeedOnce seeds the generator unless it already is. Ids stay unique across
// handshakes of the same session.
func (g *PacketIDGenerator) SeedOnce(start uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.seeded {
		g.current = start
		g.seeded = true
	}
}

// Next returns the next id, or ErrNoSession before Seed.
func (g *PacketIDGenerator) Next() (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.seeded {
		return 0, ErrNoSession
	}
	g.current++
	if g.current == 0 {
		g.current++
	}
	return g.current, nil
}

// randomUint32 returns a random value, never zero when nonZero is set.
func randomUint32(nonZero bool) uint32 {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			panic("mesh: crypto/rand unavailable: " + err.Error())
		}
		v := binary.BigEndian.Uint32(b[:])
		if v != 0 || !nonZero {
			return v
		}
	}
}
