package ports

import (
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// Stream creates a deterministic RNG stream for one entity within an audit domain.
	// The same (namespace, entity, key) always yields the same sequence for a given base seed.
	Stream(namespace, entityID, key string) *rand.Rand

	// BaseSeed returns the seed every stream is derived from
	BaseSeed() int64
}
