package dataset

import (
	"math/rand"
	"time"
)

// NewRand returns a generator for Shuffle. A zero seed is replaced by the
// current time, so such runs are not reproducible.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Shuffle permutes items in place.
func Shuffle(items []Item, rng *rand.Rand) {
	rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}

// Prefix returns at most n leading items.
func Prefix(items []Item, n int) []Item {
	if n < 0 {
		n = 0
	}
	return items[:min(n, len(items))]
}
