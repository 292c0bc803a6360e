package storage

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Namer derives destination keys for one worker.
//
// Each worker owns its Namer and the *rand.Rand inside it; the generator is
// never shared, so no locking is involved. The random prefix only makes
// collisions between identically named uploads unlikely. Stores detect the
// remaining collisions with ErrExists.
type Namer struct {
	rng *rand.Rand
}

// NewNamer creates a Namer seeded with seed.
func NewNamer(seed int64) *Namer {
	return &Namer{rng: rand.New(rand.NewSource(seed))}
}

// WorkerSeed derives the seed for the worker with the given index.
// Workers started at the same instant still get distinct sequences.
func WorkerSeed(start time.Time, worker int) int64 {
	return start.UnixNano() + int64(worker)
}

// Key returns "<n>_<name>" where n is a fresh non-negative 31-bit integer.
func (n *Namer) Key(name string) string {
	prefix := strconv.FormatInt(int64(n.rng.Int31()), 10)
	return prefix + "_" + name
}

// ValidateName checks that a client-supplied name can be used as a single
// path component.
//
// An empty name is accepted and stores as "<n>_". Names containing a path
// separator or NUL byte, and the names "." and "..", are rejected. A maxLen
// of 0 disables the length check.
func ValidateName(name string, maxLen int) error {
	if maxLen > 0 && len(name) > maxLen {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidName, len(name), maxLen)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q contains a path separator or NUL byte", ErrInvalidName, name)
	}
	return nil
}
