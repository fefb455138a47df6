// Package rng derives independent deterministic random streams from one run seed.
package rng

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"

	"equityaudit/ports"
)

// SeededRNG implements ports.RNGPort. It holds no stream state, so it is safe
// to share between goroutines; each call returns a fresh *rand.Rand.
type SeededRNG struct {
	seed int64
}

var _ ports.RNGPort = (*SeededRNG)(nil)

// New creates a stream source for the given run seed
func New(seed int64) *SeededRNG {
	return &SeededRNG{seed: seed}
}

// BaseSeed returns the run seed
func (r *SeededRNG) BaseSeed() int64 {
	return r.seed
}

// Stream creates a stream keyed on namespace, entity and sample key
func (r *SeededRNG) Stream(namespace, entityID, key string) *rand.Rand {
	return rand.New(rand.NewSource(r.derive(namespace, entityID, key)))
}

func (r *SeededRNG) derive(parts ...string) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(r.seed))
	h.Write(buf[:])
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return int64(h.Sum64() & (1<<63 - 1))
}
