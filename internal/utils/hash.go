package utils

import (
	"hash/fnv"
	"strings"
)

// StableHash is FNV-1a over the parts joined with ":".
func StableHash(parts ...string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(parts, ":")))
	return h.Sum64()
}

// StableUnit maps parts onto [0, 1) with a resolution of 1e-6.
func StableUnit(parts ...string) float64 {
	return float64(StableHash(parts...)%1_000_000) / 1_000_000
}
