package types

import (
	"io"
	"math"
	"math/big"

	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/holiman/uint256"

	"github.com/kysee/orchard/crypto"
)

// ValueSum is a signed sum of note values, held in two's complement.
type ValueSum struct {
	v uint256.Int
}

func ValueSumFromInt64(v int64) ValueSum {
	var s ValueSum
	if v >= 0 {
		s.v.SetUint64(uint64(v))
	} else {
		s.v.SetUint64(uint64(-(v + 1)) + 1)
		s.v.Neg(&s.v)
	}
	return s
}

// NetValue is out - spend.
func NetValue(out, spend NoteValue) ValueSum {
	var s, sp ValueSum
	s.v.SetUint64(uint64(out))
	sp.v.SetUint64(uint64(spend))
	return s.Sub(sp)
}

func (s ValueSum) Add(o ValueSum) ValueSum {
	var r ValueSum
	r.v.Add(&s.v, &o.v)
	return r
}

func (s ValueSum) Sub(o ValueSum) ValueSum {
	var r ValueSum
	r.v.Sub(&s.v, &o.v)
	return r
}

func (s ValueSum) IsNegative() bool { return s.v.Sign() < 0 }

// Int64 fails when the sum does not fit a signed 64 bit balance.
func (s ValueSum) Int64() (int64, error) {
	if !s.IsNegative() {
		if !s.v.IsUint64() || s.v.Uint64() > math.MaxInt64 {
			return 0, validationf("value sum overflows int64")
		}
		return int64(s.v.Uint64()), nil
	}
	var abs uint256.Int
	abs.Neg(&s.v)
	if !abs.IsUint64() || abs.Uint64() > uint64(math.MaxInt64)+1 {
		return 0, validationf("value sum underflows int64")
	}
	return -int64(abs.Uint64()-1) - 1, nil
}

// scalar maps the signed sum into the curve scalar field.
func (s ValueSum) scalar() *big.Int {
	if !s.IsNegative() {
		return s.v.ToBig()
	}
	var abs uint256.Int
	abs.Neg(&s.v)
	return crypto.ReduceScalar(new(big.Int).Neg(abs.ToBig()))
}

// ValueCommitTrapdoor is the blinding scalar rcv.
type ValueCommitTrapdoor struct {
	r big.Int
}

func RandomTrapdoor(rng io.Reader) (ValueCommitTrapdoor, error) {
	var t ValueCommitTrapdoor
	s, err := crypto.RandomScalar(rng)
	if err != nil {
		return t, err
	}
	t.r.Set(s)
	return t, nil
}

func ZeroTrapdoor() ValueCommitTrapdoor { return ValueCommitTrapdoor{} }

func TrapdoorFromScalar(s *big.Int) ValueCommitTrapdoor {
	var t ValueCommitTrapdoor
	t.r.Set(crypto.ReduceScalar(s))
	return t
}

func (t ValueCommitTrapdoor) Add(o ValueCommitTrapdoor) ValueCommitTrapdoor {
	return TrapdoorFromScalar(new(big.Int).Add(&t.r, &o.r))
}

func (t ValueCommitTrapdoor) Scalar() *big.Int { return new(big.Int).Set(&t.r) }

// ValueCommitment is [v]V + [rcv]R.
type ValueCommitment struct {
	p tedwards.PointAffine
}

func CommitValue(v ValueSum, rcv ValueCommitTrapdoor) ValueCommitment {
	pr := crypto.GetParams()
	vv := crypto.Mul(&pr.ValueBase, v.scalar())
	rr := crypto.Mul(&pr.RandomnessBase, &rcv.r)
	return ValueCommitment{p: crypto.Add(&vv, &rr)}
}

// CommitBalance commits to a declared net balance with zero blinding.
func CommitBalance(valueBalance int64) ValueCommitment {
	return CommitValue(ValueSumFromInt64(valueBalance), ZeroTrapdoor())
}

func SumValueCommitments(cvs ...ValueCommitment) ValueCommitment {
	acc := ValueCommitment{p: crypto.Identity()}
	for _, cv := range cvs {
		acc = acc.Add(cv)
	}
	return acc
}

func ValueCommitmentFromBytes(bz [crypto.PointSize]byte) (ValueCommitment, error) {
	p, err := crypto.DecodePoint(bz)
	if err != nil {
		return ValueCommitment{}, validationf("value commitment: %v", err)
	}
	return ValueCommitment{p: p}, nil
}

func (cv ValueCommitment) Add(o ValueCommitment) ValueCommitment {
	return ValueCommitment{p: crypto.Add(&cv.p, &o.p)}
}

func (cv ValueCommitment) Sub(o ValueCommitment) ValueCommitment {
	return ValueCommitment{p: crypto.Sub(&cv.p, &o.p)}
}

func (cv ValueCommitment) Equal(o ValueCommitment) bool { return cv.p.Equal(&o.p) }

func (cv ValueCommitment) Point() tedwards.PointAffine { return cv.p }

func (cv ValueCommitment) Bytes() [crypto.PointSize]byte { return crypto.EncodePoint(&cv.p) }

// BindingKey interprets the commitment as a binding signature verification key.
func (cv ValueCommitment) BindingKey() crypto.VerificationKey {
	return crypto.NewVerificationKey(crypto.Binding, cv.p)
}
