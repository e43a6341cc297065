package types

import (
	"encoding/binary"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/pkg/errors"

	"github.com/kysee/orchard/crypto"
	"github.com/kysee/orchard/utils"
)

const SpendingKeySize = 32

// SpendingKey is the root secret. Every other key is derived from it.
type SpendingKey struct {
	bz  [SpendingKeySize]byte
	ask *crypto.SigningKey
	fvk *FullViewingKey
}

// NewSpendingKey samples until the derived keys are all valid.
func NewSpendingKey(rng io.Reader) (*SpendingKey, error) {
	for {
		bz, err := utils.ReadRand(rng, SpendingKeySize)
		if err != nil {
			return nil, errors.Wrap(err, "reading randomness")
		}
		var raw [SpendingKeySize]byte
		copy(raw[:], bz)
		if sk, err := SpendingKeyFromBytes(raw); err == nil {
			return sk, nil
		}
	}
}

func SpendingKeyFromBytes(bz [SpendingKeySize]byte) (*SpendingKey, error) {
	askOut := utils.PRFExpand(bz[:], []byte{0x06})
	ask, err := crypto.NewSigningKey(crypto.SpendAuth, crypto.ScalarFromWide(askOut[:]))
	if err != nil {
		return nil, validationf("spending key yields zero ask")
	}
	nkOut := utils.PRFExpand(bz[:], []byte{0x07})
	rivkOut := utils.PRFExpand(bz[:], []byte{0x08})
	fvk, err := NewFullViewingKey(ask.VerificationKey(), utils.ToElement(nkOut[:]), utils.ToElement(rivkOut[:]))
	if err != nil {
		return nil, err
	}
	return &SpendingKey{bz: bz, ask: ask, fvk: fvk}, nil
}

func (sk *SpendingKey) Bytes() [SpendingKeySize]byte { return sk.bz }

// SpendAuthorizingKey is ask. Spends are signed with ask + alpha.
func (sk *SpendingKey) SpendAuthorizingKey() *crypto.SigningKey { return sk.ask }

func (sk *SpendingKey) FullViewingKey() *FullViewingKey { return sk.fvk }

// FullViewingKey is (ak, nk, rivk).
type FullViewingKey struct {
	ak   crypto.VerificationKey
	nk   fr.Element
	rivk fr.Element

	ivk IncomingViewingKey
	ovk OutgoingViewingKey
}

func NewFullViewingKey(ak crypto.VerificationKey, nk, rivk fr.Element) (*FullViewingKey, error) {
	if ak.Type() != crypto.SpendAuth {
		return nil, validationf("ak must be a spend authorization key")
	}
	akPt := ak.Point()
	ivk := utils.HashElements(fr.NewElement(DomainIvk), akPt.X, akPt.Y, nk, rivk)
	if ivk.IsZero() {
		return nil, validationf("zero incoming viewing key")
	}

	akBz := ak.Bytes()
	nkBz := nk.Bytes()
	rivkBz := rivk.Bytes()
	out := utils.PRFExpand(rivkBz[:], []byte{0x82}, akBz[:], nkBz[:])

	fvk := &FullViewingKey{ak: ak, nk: nk, rivk: rivk}
	fvk.ivk.ivk = ivk
	copy(fvk.ivk.dk[:], out[:32])
	copy(fvk.ovk[:], out[32:])
	return fvk, nil
}

func (fvk *FullViewingKey) AK() crypto.VerificationKey { return fvk.ak }

func (fvk *FullViewingKey) NK() fr.Element { return fvk.nk }

func (fvk *FullViewingKey) Rivk() fr.Element { return fvk.rivk }

func (fvk *FullViewingKey) IncomingViewingKey() *IncomingViewingKey {
	ivk := fvk.ivk
	return &ivk
}

func (fvk *FullViewingKey) OutgoingViewingKey() *OutgoingViewingKey {
	ovk := fvk.ovk
	return &ovk
}

func (fvk *FullViewingKey) Address(index uint32) Address {
	return fvk.ivk.Address(index)
}

// Owns reports whether addr was derived from this key.
func (fvk *FullViewingKey) Owns(addr Address) bool {
	return fvk.ivk.Owns(addr)
}

// IncomingViewingKey decrypts notes and derives addresses.
type IncomingViewingKey struct {
	dk  [32]byte
	ivk fr.Element
}

func (ivk *IncomingViewingKey) scalar() *big.Int {
	return utils.ElementBig(&ivk.ivk)
}

func (ivk *IncomingViewingKey) Address(index uint32) Address {
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], index)
	h := utils.Blake2b256("Orchard-div", ivk.dk[:], idx[:])
	var d Diversifier
	copy(d[:], h[:DiversifierSize])
	return ivk.AddressFor(d)
}

func (ivk *IncomingViewingKey) AddressFor(d Diversifier) Address {
	gd := crypto.DiversifyHash(d[:])
	return Address{d: d, gd: gd, pkd: crypto.Mul(&gd, ivk.scalar())}
}

func (ivk *IncomingViewingKey) Owns(addr Address) bool {
	return ivk.AddressFor(addr.d).Equal(addr)
}

// OutgoingViewingKey lets a sender recover the outputs it created.
type OutgoingViewingKey [32]byte
