// Package idgen produces the identifiers docparse attaches to requests,
// traces and business events.
package idgen

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of time-ordered RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Hex returns a Generator of 2*n lowercase hex characters drawn from a
// random UUID. n is capped at 16.
func Hex(n int) Generator {
	n = min(max(n, 1), 16)
	return func() string {
		u := uuid.New()
		return hex.EncodeToString(u[:n])
	}
}

// Prefixed prepends prefix to every ID of gen ("req_", "evt_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()
