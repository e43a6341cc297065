package bundle

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Digests use keyed BLAKE2b with these keys for domain separation.
const (
	effectsKey = "Orchard_Effects"
	authKey    = "Orchard_AuthCm"
)

// Commitment digests the effecting data: every Action field except its
// signature, then flags, value balance and anchor. It is the message spend
// and binding signatures sign, so it leaves out the proof.
func (b *Bundle) Commitment() [32]byte {
	h, err := blake2b.New256([]byte(effectsKey))
	if err != nil {
		panic(err)
	}
	for i := range b.actions {
		a := &b.actions[i]
		rk := a.Rk.Bytes()
		cv := a.CvNet.Bytes()
		h.Write(a.Nf[:])
		h.Write(rk[:])
		h.Write(a.Cmx[:])
		h.Write(a.Epk[:])
		h.Write(a.EncCiphertext[:])
		h.Write(a.OutCiphertext[:])
		h.Write(cv[:])
	}
	var tail [1 + 8]byte
	tail[0] = b.flags.Byte()
	binary.LittleEndian.PutUint64(tail[1:], uint64(b.valueBalance))
	h.Write(tail[:])
	h.Write(b.anchor[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// AuthorizingCommitment digests the authorizing data.
func (a *Authorized) AuthorizingCommitment() [32]byte {
	h, err := blake2b.New256([]byte(authKey))
	if err != nil {
		panic(err)
	}
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(a.proof)))
	h.Write(l[:])
	h.Write(a.proof)
	for _, s := range a.spendAuthSigs {
		h.Write(s[:])
	}
	h.Write(a.bindingSig[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
