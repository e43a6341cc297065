package utils

import (
	crand "crypto/rand"
	"hash"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark-crypto/ecc/twistededwards"
)

// CURVEID is the twisted Edwards curve embedded in the BN254 scalar field.
var CURVEID = twistededwards.BN254

func MiMCHasher() hash.Hash {
	return mimc.NewMiMC()
}

// HashElements returns the MiMC digest of elems, each written as one
// canonical block. It matches std/hash/mimc fed with the same variables.
func HashElements(elems ...fr.Element) fr.Element {
	hasher := MiMCHasher()
	for i := range elems {
		b := elems[i].Bytes()
		if _, err := hasher.Write(b[:]); err != nil {
			// canonical encodings are always accepted
			panic(err)
		}
	}
	var out fr.Element
	out.SetBytes(hasher.Sum(nil))
	return out
}

// ToElement reduces an arbitrary length big-endian byte string into the field.
func ToElement(bz []byte) fr.Element {
	var elem fr.Element
	elem.SetBytes(bz)
	return elem
}

// ElementFromCanonical rejects encodings that are not reduced.
func ElementFromCanonical(bz [32]byte) (fr.Element, error) {
	var elem fr.Element
	err := elem.SetBytesCanonical(bz[:])
	return elem, err
}

// ElementBig returns e as a non negative integer, suitable for circuit assignment.
func ElementBig(e *fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

// ReadRand fills n bytes from rng, falling back to crypto/rand when rng is nil.
func ReadRand(rng io.Reader, n int) ([]byte, error) {
	if rng == nil {
		rng = crand.Reader
	}
	bz := make([]byte, n)
	if _, err := io.ReadFull(rng, bz); err != nil {
		return nil, err
	}
	return bz, nil
}
