package crypto

import (
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"golang.org/x/crypto/blake2b"
)

const (
	ValueCommitPersonalization = "Orchard-cv"
	DiversifyPersonalization   = "Orchard-gd"
)

// Params holds the curve constants and fixed generators. It is built once
// and never mutated.
type Params struct {
	A, D     fr.Element
	Order    big.Int
	Cofactor big.Int

	// SpendAuthBase is the base of spend authorization keys and signatures.
	SpendAuthBase tedwards.PointAffine
	// ValueBase and RandomnessBase are the value commitment generators.
	ValueBase      tedwards.PointAffine
	RandomnessBase tedwards.PointAffine
}

var (
	paramsOnce sync.Once
	params     *Params
)

func GetParams() *Params {
	paramsOnce.Do(func() {
		curve := tedwards.GetEdwardsCurve()
		p := &Params{
			A: curve.A,
			D: curve.D,
		}
		p.Order.Set(&curve.Order)
		curve.Cofactor.BigInt(&p.Cofactor)
		p.SpendAuthBase.Set(&curve.Base)
		params = p
		p.ValueBase = GroupHash(ValueCommitPersonalization, []byte("v"))
		p.RandomnessBase = GroupHash(ValueCommitPersonalization, []byte("r"))
	})
	return params
}

// GroupHash maps msg onto the prime order subgroup by try-and-increment on
// the y coordinate followed by cofactor clearing.
func GroupHash(personalization string, msg []byte) tedwards.PointAffine {
	curve := tedwards.GetEdwardsCurve()
	var cofactor big.Int
	curve.Cofactor.BigInt(&cofactor)

	var ctr [4]byte
	for i := uint32(0); ; i++ {
		binary.LittleEndian.PutUint32(ctr[:], i)
		h, err := blake2b.New256([]byte(personalization))
		if err != nil {
			panic(err)
		}
		h.Write(msg)
		h.Write(ctr[:])

		var y, y2, num, den, x2, x fr.Element
		y.SetBytes(h.Sum(nil))

		// a*x^2 + y^2 = 1 + d*x^2*y^2  =>  x^2 = (1 - y^2) / (a - d*y^2)
		y2.Square(&y)
		num.SetOne()
		num.Sub(&num, &y2)
		den.Mul(&curve.D, &y2)
		den.Sub(&curve.A, &den)
		if den.IsZero() {
			continue
		}
		den.Inverse(&den)
		x2.Mul(&num, &den)
		if x.Sqrt(&x2) == nil {
			continue
		}

		var pt tedwards.PointAffine
		pt.X, pt.Y = x, y
		if !pt.IsOnCurve() {
			continue
		}
		pt.ScalarMultiplication(&pt, &cofactor)
		if IsIdentity(&pt) {
			continue
		}
		return pt
	}
}

// DiversifyHash returns the diversified base g_d for diversifier d.
func DiversifyHash(d []byte) tedwards.PointAffine {
	return GroupHash(DiversifyPersonalization, d)
}
