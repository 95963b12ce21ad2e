package docking

import (
	"math/rand"
	"time"
)

// NewRand returns a private random source. A zero seed is replaced by the
// current time.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
