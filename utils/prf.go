package utils

import (
	"golang.org/x/crypto/blake2b"
)

// Keyed BLAKE2b separates the domains; the key is not secret.
const expandKey = "Zcash_ExpandSeed"

// PRFExpand is BLAKE2b-512 keyed with expandKey over sk || t.
func PRFExpand(sk []byte, t ...[]byte) [64]byte {
	h, err := blake2b.New512([]byte(expandKey))
	if err != nil {
		panic(err)
	}
	h.Write(sk)
	for _, part := range t {
		h.Write(part)
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Blake2b256 is a BLAKE2b-256 digest keyed with domain.
func Blake2b256(domain string, ins ...[]byte) [32]byte {
	h, err := blake2b.New256([]byte(domain))
	if err != nil {
		panic(err)
	}
	for _, in := range ins {
		h.Write(in)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
