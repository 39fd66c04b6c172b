package raft

import (
	"crypto/rand"
	"encoding/binary"
)

// randomInt returns a random integer in [min, max). Returns min if max <= min,
// since every caller in this package derives max from a fixed positive
// spread.
func randomInt(min, max int) int {
	if max <= min {
		return min
	}

	var n uint32
	binary.Read(rand.Reader, binary.BigEndian, &n)
	return min + int(n)%(max-min)
}
