package iceio

import (
	"encoding/binary"

	"github.com/pion/randutil"
)

// Rng is a thin wrapper over github.com/pion/randutil, satisfying
// ice.RandomSource. Used for ICE credential, tie-breaker, and STUN
// transaction ID generation, per SPEC_FULL.md §10.1.
type Rng struct{}

// Bytes returns n cryptographically random bytes, built from
// randutil.CryptoUint64 eight bytes at a time since pion/randutil does
// not expose a raw byte-slice generator.
func (Rng) Bytes(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		v, err := randutil.CryptoUint64()
		if err != nil {
			return nil, err
		}
		var chunk [8]byte
		binary.BigEndian.PutUint64(chunk[:], v)
		out = append(out, chunk[:]...)
	}
	return out[:n], nil
}
