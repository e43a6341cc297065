package circuit

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/consensys/gnark/frontend"
	std_tedwards "github.com/consensys/gnark/std/algebra/native/twistededwards"
	std_mimc "github.com/consensys/gnark/std/hash/mimc"
	"github.com/pkg/errors"

	"github.com/kysee/orchard/crypto"
	"github.com/kysee/orchard/types"
	"github.com/kysee/orchard/utils"
)

// ActionCircuit proves one Action: knowledge of a note in the tree under
// Anchor whose nullifier is Nf, an authorizing key randomized into Rk, a new
// note committed in Cmx with rho = Nf, and a value commitment CvNet to
// v_new - v_old.
type ActionCircuit struct {
	Anchor        frontend.Variable `gnark:",public"`
	CvX           frontend.Variable `gnark:",public"`
	CvY           frontend.Variable `gnark:",public"`
	Nf            frontend.Variable `gnark:",public"`
	RkX           frontend.Variable `gnark:",public"`
	RkY           frontend.Variable `gnark:",public"`
	Cmx           frontend.Variable `gnark:",public"`
	EpkX          frontend.Variable `gnark:",public"`
	EpkY          frontend.Variable `gnark:",public"`
	EnableSpends  frontend.Variable `gnark:",public"`
	EnableOutputs frontend.Variable `gnark:",public"`
	ValueBalance  frontend.Variable `gnark:",public"`

	// spent note
	Position frontend.Variable
	AuthPath []frontend.Variable
	GdOld    std_tedwards.Point
	VOld     frontend.Variable
	RhoOld   frontend.Variable
	PsiOld   frontend.Variable
	RcmOld   frontend.Variable
	AK       std_tedwards.Point
	NK       frontend.Variable
	Rivk     frontend.Variable
	Alpha    frontend.Variable

	// new note
	GdNew  std_tedwards.Point
	PkdNew std_tedwards.Point
	VNew   frontend.Variable
	PsiNew frontend.Variable
	RcmNew frontend.Variable
	Rcv    frontend.Variable
}

func constPoint(p *tedwards.PointAffine) std_tedwards.Point {
	return std_tedwards.Point{X: utils.ElementBig(&p.X), Y: utils.ElementBig(&p.Y)}
}

func (c *ActionCircuit) Define(api frontend.API) error {
	curve, err := std_tedwards.NewEdCurve(api, utils.CURVEID)
	if err != nil {
		return err
	}
	h, err := std_mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hasher := &h
	hash := func(ins ...frontend.Variable) frontend.Variable {
		hasher.Reset()
		hasher.Write(ins...)
		return hasher.Sum()
	}

	api.AssertIsBoolean(c.EnableSpends)
	api.AssertIsBoolean(c.EnableOutputs)
	_ = api.ToBinary(c.VOld, 64)
	_ = api.ToBinary(c.VNew, 64)

	curve.AssertIsOnCurve(c.AK)
	curve.AssertIsOnCurve(c.GdOld)
	curve.AssertIsOnCurve(c.GdNew)
	curve.AssertIsOnCurve(c.PkdNew)
	curve.AssertIsOnCurve(std_tedwards.Point{X: c.EpkX, Y: c.EpkY})

	// the spender owns the old note: pk_d = [ivk]g_d
	ivk := hash(types.DomainIvk, c.AK.X, c.AK.Y, c.NK, c.Rivk)
	pkdOld := curve.ScalarMul(c.GdOld, ivk)

	cmOld := hash(types.DomainNoteCommit,
		c.GdOld.X, c.GdOld.Y, pkdOld.X, pkdOld.Y,
		c.VOld, c.RhoOld, c.PsiOld, c.RcmOld)

	// membership, required only for spends of non-zero value
	bits := api.ToBinary(c.Position, len(c.AuthPath))
	node := cmOld
	for i, sib := range c.AuthPath {
		left := api.Select(bits[i], sib, node)
		right := api.Select(bits[i], node, sib)
		node = hash(left, right)
	}
	api.AssertIsEqual(api.Mul(c.VOld, api.Sub(node, c.Anchor)), 0)

	nf := hash(types.DomainNullifier, c.NK, c.RhoOld, c.PsiOld, cmOld)
	api.AssertIsEqual(c.Nf, nf)

	pr := crypto.GetParams()
	g := constPoint(&pr.SpendAuthBase)
	rk := curve.Add(c.AK, curve.ScalarMul(g, c.Alpha))
	api.AssertIsEqual(c.RkX, rk.X)
	api.AssertIsEqual(c.RkY, rk.Y)

	// cv + [v_old]V == [v_new]V + [rcv]R
	vBase := constPoint(&pr.ValueBase)
	rBase := constPoint(&pr.RandomnessBase)
	lhs := curve.Add(std_tedwards.Point{X: c.CvX, Y: c.CvY}, curve.ScalarMul(vBase, c.VOld))
	rhs := curve.Add(curve.ScalarMul(vBase, c.VNew), curve.ScalarMul(rBase, c.Rcv))
	api.AssertIsEqual(lhs.X, rhs.X)
	api.AssertIsEqual(lhs.Y, rhs.Y)

	cmNew := hash(types.DomainNoteCommit,
		c.GdNew.X, c.GdNew.Y, c.PkdNew.X, c.PkdNew.Y,
		c.VNew, c.Nf, c.PsiNew, c.RcmNew)
	api.AssertIsEqual(c.Cmx, cmNew)

	api.AssertIsEqual(api.Mul(api.Sub(1, c.EnableSpends), c.VOld), 0)
	api.AssertIsEqual(api.Mul(api.Sub(1, c.EnableOutputs), c.VNew), 0)
	return nil
}

func boolVar(b bool) int {
	if b {
		return 1
	}
	return 0
}

func pointVar(p tedwards.PointAffine) std_tedwards.Point {
	return constPoint(&p)
}

func elemVar(e fr.Element) *big.Int {
	return utils.ElementBig(&e)
}

func balanceVar(vb int64) *big.Int {
	var e fr.Element
	e.SetInt64(vb)
	return utils.ElementBig(&e)
}

// assignPublic fills the public inputs. depth sizes the private path.
func assignPublic(inst *types.Instance, valueBalance int64, depth int) (*ActionCircuit, error) {
	anchor, err := inst.Anchor.Element()
	if err != nil {
		return nil, errors.Wrap(types.ErrValidation, "non-canonical anchor")
	}
	epk, err := inst.Epk.Point()
	if err != nil {
		return nil, errors.Wrap(types.ErrValidation, "invalid ephemeral key")
	}
	cv := inst.CvNet.Point()
	rk := inst.Rk.Point()

	c := &ActionCircuit{
		Anchor:        elemVar(anchor),
		CvX:           elemVar(cv.X),
		CvY:           elemVar(cv.Y),
		Nf:            elemVar(inst.Nf.Element()),
		RkX:           elemVar(rk.X),
		RkY:           elemVar(rk.Y),
		Cmx:           elemVar(inst.Cmx.Element()),
		EpkX:          elemVar(epk.X),
		EpkY:          elemVar(epk.Y),
		EnableSpends:  boolVar(inst.EnableSpends),
		EnableOutputs: boolVar(inst.EnableOutputs),
		ValueBalance:  balanceVar(valueBalance),
	}
	c.AuthPath = make([]frontend.Variable, depth)
	for i := range c.AuthPath {
		c.AuthPath[i] = 0
	}
	zero := std_tedwards.Point{X: 0, Y: 1}
	c.Position, c.VOld, c.RhoOld, c.PsiOld, c.RcmOld = 0, 0, 0, 0, 0
	c.NK, c.Rivk, c.Alpha = 0, 0, 0
	c.VNew, c.PsiNew, c.RcmNew, c.Rcv = 0, 0, 0, 0
	c.GdOld, c.AK, c.GdNew, c.PkdNew = zero, zero, zero, zero
	return c, nil
}

// Assign builds the full assignment of one Action.
func Assign(w *types.ActionWitness, inst *types.Instance, valueBalance int64) (*ActionCircuit, error) {
	if w.Path == nil || w.SpendNote == nil || w.OutputNote == nil || w.FVK == nil || w.Alpha == nil {
		return nil, errors.Wrap(types.ErrValidation, "incomplete action witness")
	}
	c, err := assignPublic(inst, valueBalance, w.Path.Depth())
	if err != nil {
		return nil, err
	}

	c.Position = w.Path.Position
	for i := range w.Path.AuthPath {
		c.AuthPath[i] = elemVar(w.Path.AuthPath[i])
	}

	old := w.SpendNote
	c.GdOld = pointVar(old.Recipient().GD())
	c.VOld = old.Value().Uint64()
	c.RhoOld = elemVar(old.Rho().Element())
	c.PsiOld = elemVar(old.Psi())
	c.RcmOld = elemVar(old.Rcm())
	c.AK = pointVar(w.FVK.AK().Point())
	c.NK = elemVar(w.FVK.NK())
	c.Rivk = elemVar(w.FVK.Rivk())
	c.Alpha = crypto.ReduceScalar(w.Alpha)

	out := w.OutputNote
	c.GdNew = pointVar(out.Recipient().GD())
	c.PkdNew = pointVar(out.Recipient().PKD())
	c.VNew = out.Value().Uint64()
	c.PsiNew = elemVar(out.Psi())
	c.RcmNew = elemVar(out.Rcm())
	c.Rcv = w.Rcv.Scalar()
	return c, nil
}
