// Package idgen provides pluggable ID generation.
//
// Scan cycles take a Generator so tests can swap in a deterministic
// sequence.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings (time-sortable).
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed prefix to every ID of gen, e.g. "cyc_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a Generator producing prefix-1, prefix-2, ...
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()
