package types

import (
	"github.com/btcsuite/btcutil/base58"
	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"

	"github.com/kysee/orchard/crypto"
)

const (
	DiversifierSize = 11
	AddressSize     = DiversifierSize + crypto.PointSize

	addressVersion byte = 0x01
)

type Diversifier [DiversifierSize]byte

// Address is a diversified payment address (d, pk_d).
type Address struct {
	d   Diversifier
	gd  tedwards.PointAffine
	pkd tedwards.PointAffine
}

func NewAddress(d Diversifier, pkd tedwards.PointAffine) (Address, error) {
	if crypto.IsIdentity(&pkd) {
		return Address{}, validationf("identity transmission key")
	}
	if _, err := crypto.DecodePoint(crypto.EncodePoint(&pkd)); err != nil {
		return Address{}, validationf("transmission key: %v", err)
	}
	return Address{d: d, gd: crypto.DiversifyHash(d[:]), pkd: pkd}, nil
}

func AddressFromBytes(bz [AddressSize]byte) (Address, error) {
	var d Diversifier
	copy(d[:], bz[:DiversifierSize])
	var pkBz [crypto.PointSize]byte
	copy(pkBz[:], bz[DiversifierSize:])
	pkd, err := crypto.DecodePoint(pkBz)
	if err != nil {
		return Address{}, validationf("transmission key: %v", err)
	}
	return NewAddress(d, pkd)
}

func (a Address) Bytes() [AddressSize]byte {
	var out [AddressSize]byte
	copy(out[:], a.d[:])
	pk := crypto.EncodePoint(&a.pkd)
	copy(out[DiversifierSize:], pk[:])
	return out
}

func (a Address) Diversifier() Diversifier { return a.d }

// GD is the diversified base.
func (a Address) GD() tedwards.PointAffine { return a.gd }

// PKD is the diversified transmission key.
func (a Address) PKD() tedwards.PointAffine { return a.pkd }

func (a Address) Equal(o Address) bool {
	return a.d == o.d && a.pkd.Equal(&o.pkd)
}

// String is a checksummed display form for logs. It is not a wire format.
func (a Address) String() string {
	bz := a.Bytes()
	return "oa" + base58.CheckEncode(bz[:], addressVersion)
}
