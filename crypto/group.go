package crypto

import (
	"io"
	"math/big"

	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/pkg/errors"

	"github.com/kysee/orchard/utils"
)

const (
	PointSize  = 32
	ScalarSize = 32
)

var (
	ErrInvalidPoint  = errors.New("invalid curve point encoding")
	ErrInvalidScalar = errors.New("invalid scalar encoding")
)

func Identity() tedwards.PointAffine {
	var p tedwards.PointAffine
	p.X.SetZero()
	p.Y.SetOne()
	return p
}

func IsIdentity(p *tedwards.PointAffine) bool {
	return p.X.IsZero() && p.Y.IsOne()
}

// Mul returns [k]p for any integer k, reducing it into [0, order).
func Mul(p *tedwards.PointAffine, k *big.Int) tedwards.PointAffine {
	s := ReduceScalar(k)
	var res tedwards.PointAffine
	res.ScalarMultiplication(p, s)
	return res
}

func Add(p, q *tedwards.PointAffine) tedwards.PointAffine {
	var res tedwards.PointAffine
	res.Add(p, q)
	return res
}

func Sub(p, q *tedwards.PointAffine) tedwards.PointAffine {
	var neg, res tedwards.PointAffine
	neg.Neg(q)
	res.Add(p, &neg)
	return res
}

func EncodePoint(p *tedwards.PointAffine) [PointSize]byte {
	return p.Bytes()
}

// DecodePoint accepts only canonical encodings of prime order subgroup
// points (including the identity).
func DecodePoint(bz [PointSize]byte) (tedwards.PointAffine, error) {
	var p tedwards.PointAffine
	if _, err := p.SetBytes(bz[:]); err != nil {
		return p, errors.Wrap(ErrInvalidPoint, err.Error())
	}
	if !p.IsOnCurve() {
		return p, ErrInvalidPoint
	}
	if p.Bytes() != bz {
		return p, errors.Wrap(ErrInvalidPoint, "non-canonical encoding")
	}
	var chk tedwards.PointAffine
	chk.ScalarMultiplication(&p, &GetParams().Order)
	if !IsIdentity(&chk) {
		return p, errors.Wrap(ErrInvalidPoint, "not in the prime order subgroup")
	}
	return p, nil
}

// ReduceScalar returns k mod order as a fresh non negative integer.
func ReduceScalar(k *big.Int) *big.Int {
	return new(big.Int).Mod(k, &GetParams().Order)
}

// ScalarFromWide reduces a uniformly random byte string (at least 64 bytes
// for negligible bias) into a scalar.
func ScalarFromWide(bz []byte) *big.Int {
	return ReduceScalar(new(big.Int).SetBytes(bz))
}

func RandomScalar(rng io.Reader) (*big.Int, error) {
	bz, err := utils.ReadRand(rng, 64)
	if err != nil {
		return nil, errors.Wrap(err, "reading randomness")
	}
	return ScalarFromWide(bz), nil
}

func RandomNonZeroScalar(rng io.Reader) (*big.Int, error) {
	for {
		s, err := RandomScalar(rng)
		if err != nil {
			return nil, err
		}
		if s.Sign() != 0 {
			return s, nil
		}
	}
}

func EncodeScalar(s *big.Int) [ScalarSize]byte {
	var out [ScalarSize]byte
	ReduceScalar(s).FillBytes(out[:])
	return out
}

func DecodeScalar(bz [ScalarSize]byte) (*big.Int, error) {
	s := new(big.Int).SetBytes(bz[:])
	if s.Cmp(&GetParams().Order) >= 0 {
		return nil, ErrInvalidScalar
	}
	return s, nil
}

func AddScalars(a, b *big.Int) *big.Int {
	return ReduceScalar(new(big.Int).Add(a, b))
}
