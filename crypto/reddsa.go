package crypto

import (
	"io"
	"math/big"

	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/kysee/orchard/utils"
)

const SignatureSize = 64

var ErrSignature = errors.New("signature verification failed")

// SigType selects the base point and hash domain of a re-randomizable
// Schnorr signature.
type SigType uint8

const (
	SpendAuth SigType = iota
	Binding
)

func (t SigType) String() string {
	switch t {
	case SpendAuth:
		return "spend-auth"
	case Binding:
		return "binding"
	}
	return "unknown"
}

func (t SigType) base() *tedwards.PointAffine {
	if t == Binding {
		return &GetParams().RandomnessBase
	}
	return &GetParams().SpendAuthBase
}

func (t SigType) personalization() string {
	if t == Binding {
		return "Orchard_RedBind"
	}
	return "Orchard_RedSpend"
}

type Signature [SignatureSize]byte

type SigningKey struct {
	sigType SigType
	sk      big.Int
}

type VerificationKey struct {
	sigType SigType
	point   tedwards.PointAffine
}

func NewSigningKey(t SigType, sk *big.Int) (*SigningKey, error) {
	s := ReduceScalar(sk)
	if s.Sign() == 0 {
		return nil, errors.Wrap(ErrInvalidScalar, "zero signing key")
	}
	k := &SigningKey{sigType: t}
	k.sk.Set(s)
	return k, nil
}

func RandomSigningKey(t SigType, rng io.Reader) (*SigningKey, error) {
	s, err := RandomNonZeroScalar(rng)
	if err != nil {
		return nil, err
	}
	return NewSigningKey(t, s)
}

func (k *SigningKey) Type() SigType { return k.sigType }

func (k *SigningKey) Scalar() *big.Int { return new(big.Int).Set(&k.sk) }

func (k *SigningKey) VerificationKey() VerificationKey {
	return VerificationKey{sigType: k.sigType, point: Mul(k.sigType.base(), &k.sk)}
}

// Randomize returns sk + alpha.
func (k *SigningKey) Randomize(alpha *big.Int) *SigningKey {
	r := &SigningKey{sigType: k.sigType}
	r.sk.Set(AddScalars(&k.sk, alpha))
	return r
}

// Sign produces R || S with R = [r]B, S = r + H(R || vk || msg) * sk.
func (k *SigningKey) Sign(rng io.Reader, msg []byte) (Signature, error) {
	var sig Signature
	t, err := utils.ReadRand(rng, 80)
	if err != nil {
		return sig, errors.Wrap(err, "reading signature randomness")
	}
	vk := k.VerificationKey()
	vkBz := vk.Bytes()

	r := k.sigType.challenge(t, vkBz[:], msg)
	rPt := Mul(k.sigType.base(), r)
	rBz := EncodePoint(&rPt)

	c := k.sigType.challenge(rBz[:], vkBz[:], msg)
	s := new(big.Int).Mul(c, &k.sk)
	s.Add(s, r)
	sBz := EncodeScalar(s)

	copy(sig[:32], rBz[:])
	copy(sig[32:], sBz[:])
	return sig, nil
}

func (t SigType) challenge(parts ...[]byte) *big.Int {
	h, err := blake2b.New512([]byte(t.personalization()))
	if err != nil {
		panic(err)
	}
	for _, p := range parts {
		h.Write(p)
	}
	return ScalarFromWide(h.Sum(nil))
}

func NewVerificationKey(t SigType, p tedwards.PointAffine) VerificationKey {
	return VerificationKey{sigType: t, point: p}
}

// VerificationKeyFromBytes rejects the identity in addition to malformed points.
func VerificationKeyFromBytes(t SigType, bz [PointSize]byte) (VerificationKey, error) {
	p, err := DecodePoint(bz)
	if err != nil {
		return VerificationKey{}, err
	}
	if IsIdentity(&p) {
		return VerificationKey{}, errors.Wrap(ErrInvalidPoint, "identity verification key")
	}
	return VerificationKey{sigType: t, point: p}, nil
}

func (vk VerificationKey) Type() SigType { return vk.sigType }

func (vk VerificationKey) Point() tedwards.PointAffine { return vk.point }

func (vk VerificationKey) Bytes() [PointSize]byte { return EncodePoint(&vk.point) }

func (vk VerificationKey) Equal(o VerificationKey) bool {
	return vk.sigType == o.sigType && vk.point.Equal(&o.point)
}

// Randomize returns vk + [alpha]B.
func (vk VerificationKey) Randomize(alpha *big.Int) VerificationKey {
	a := Mul(vk.sigType.base(), alpha)
	return VerificationKey{sigType: vk.sigType, point: Add(&vk.point, &a)}
}

// Verify checks [S]B == R + [c]vk. Malformed R or S yield ErrInvalidPoint or
// ErrInvalidScalar, a failed equation yields ErrSignature.
func (vk VerificationKey) Verify(msg []byte, sig Signature) error {
	var rBz, sBz [32]byte
	copy(rBz[:], sig[:32])
	copy(sBz[:], sig[32:])

	rPt, err := DecodePoint(rBz)
	if err != nil {
		return err
	}
	s, err := DecodeScalar(sBz)
	if err != nil {
		return err
	}
	vkBz := vk.Bytes()
	c := vk.sigType.challenge(rBz[:], vkBz[:], msg)

	lhs := Mul(vk.sigType.base(), s)
	cvk := Mul(&vk.point, c)
	rhs := Add(&rPt, &cvk)
	if !lhs.Equal(&rhs) {
		return ErrSignature
	}
	return nil
}
