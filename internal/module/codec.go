// Package module implements the module pipeline of spec.md §4.2: the
// majority-of-seven decode that survives in-flight corruption, ed25519
// signature verification, and the enable/execute gate whose deliberate
// asymmetry (verified lives unprotected, enabled lives protected) is the
// whole point of the challenge.
package module

import "github.com/radsat-ctf/radsat/internal/errs"

// groupSize is the number of replicated input bytes consumed to produce
// one output byte under majority-of-seven encoding.
const groupSize = 7

// Decode applies the majority-of-seven decode described in spec.md §4.2:
// input is a sequence of 7-byte groups; for each bit position of each
// output byte, the output bit is set iff at least 4 of the 7 input bytes
// have that bit set. len(input) must be a multiple of 7.
func Decode(input []byte) ([]byte, error) {
	if len(input)%groupSize != 0 {
		return nil, errs.ErrDecodeShort
	}
	out := make([]byte, len(input)/groupSize)
	for g := 0; g < len(out); g++ {
		group := input[g*groupSize : (g+1)*groupSize]
		var b byte
		for bit := 0; bit < 8; bit++ {
			count := 0
			for _, in := range group {
				if in&(1<<uint(bit)) != 0 {
					count++
				}
			}
			if count >= 4 {
				b |= 1 << uint(bit)
			}
		}
		out[g] = b
	}
	return out, nil
}

// Encode is the inverse operation used by cmd/modasm to produce
// upload-ready payloads: each input byte is replicated into 7 identical
// output bytes, so a correctly-encoded module decodes to exactly the
// original bytes and tolerates up to three independent bit-flips per
// output byte (spec.md §4.2's decode tolerance invariant).
func Encode(input []byte) []byte {
	out := make([]byte, len(input)*groupSize)
	for i, b := range input {
		for j := 0; j < groupSize; j++ {
			out[i*groupSize+j] = b
		}
	}
	return out
}
