package crypto

import (
	"math/big"

	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2s"
)

const (
	// NoteKeySize is the ChaCha20-Poly1305 key followed by its nonce.
	NoteKeySize = 32 + 12

	kdfPersonalization = "Zcash_ExpandSeed"
)

// ECDHComputeSharedSecret computes blake2s([sk]pub.X).
func ECDHComputeSharedSecret(sk *big.Int, pub *tedwards.PointAffine) ([]byte, error) {
	if !pub.IsOnCurve() {
		return nil, errors.New("other public key is not on curve")
	}
	if IsIdentity(pub) {
		return nil, errors.New("other public key is the identity")
	}

	shared := Mul(pub, sk)
	if !shared.IsOnCurve() {
		return nil, errors.New("computed shared secret is not on curve")
	}

	hasher, err := blake2s.New256(nil)
	if err != nil {
		return nil, err
	}
	ax := shared.X.Bytes()
	ay := shared.Y.Bytes()
	hasher.Write(ax[:])
	hasher.Write(ay[:])
	return hasher.Sum(nil), nil
}

// NoteKDF expands the shared secret, bound to the ephemeral key, into
// outputLen bytes using a counter mode over keyed BLAKE2s.
func NoteKDF(sharedSecret, epk []byte, outputLen int) ([]byte, error) {
	if len(sharedSecret) != 32 {
		return nil, errors.New("sharedSecret must be 32 bytes")
	}

	var keyStream []byte
	var counter byte = 1
	for len(keyStream) < outputLen {
		h, err := blake2s.New256([]byte(kdfPersonalization))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create blake2s hash")
		}
		h.Write(sharedSecret)
		h.Write(epk)
		h.Write([]byte{counter})
		keyStream = append(keyStream, h.Sum(nil)...)

		counter++
		if counter == 0 {
			return nil, errors.New("KDF counter overflow")
		}
	}
	return keyStream[:outputLen], nil
}

// DeriveNoteKey runs ECDH then the KDF. It returns the AEAD key and nonce.
func DeriveNoteKey(sk *big.Int, pub *tedwards.PointAffine, epk []byte) ([]byte, []byte, error) {
	shared, err := ECDHComputeSharedSecret(sk, pub)
	if err != nil {
		return nil, nil, err
	}
	ks, err := NoteKDF(shared, epk, NoteKeySize)
	if err != nil {
		return nil, nil, err
	}
	return ks[:32], ks[32:], nil
}
