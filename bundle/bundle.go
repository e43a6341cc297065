package bundle

import (
	"github.com/pkg/errors"

	"github.com/kysee/orchard/crypto"
	"github.com/kysee/orchard/tree"
	"github.com/kysee/orchard/types"
)

// Flags gate which side of every Action may carry value.
type Flags struct {
	SpendsEnabled  bool
	OutputsEnabled bool
}

const (
	flagSpends  byte = 1 << 0
	flagOutputs byte = 1 << 1
)

func (f Flags) Byte() byte {
	var b byte
	if f.SpendsEnabled {
		b |= flagSpends
	}
	if f.OutputsEnabled {
		b |= flagOutputs
	}
	return b
}

func FlagsFromByte(b byte) (Flags, error) {
	if b&^(flagSpends|flagOutputs) != 0 {
		return Flags{}, errors.Wrapf(types.ErrValidation, "unknown flag bits %#x", b)
	}
	return Flags{SpendsEnabled: b&flagSpends != 0, OutputsEnabled: b&flagOutputs != 0}, nil
}

// Action is the effecting data of one spend paired with one output.
type Action struct {
	Nf            types.Nullifier
	Rk            crypto.VerificationKey
	Cmx           types.NoteCommitment
	Epk           types.EphemeralKey
	EncCiphertext [types.EncCiphertextSize]byte
	OutCiphertext [types.OutCiphertextSize]byte
	CvNet         types.ValueCommitment
}

// Output returns the data a wallet needs to trial decrypt this Action.
func (a Action) Output() *types.ShieldedOutput {
	return &types.ShieldedOutput{
		Rho:           a.Nf,
		Cmx:           a.Cmx,
		Epk:           a.Epk,
		CvNet:         a.CvNet,
		EncCiphertext: a.EncCiphertext,
		OutCiphertext: a.OutCiphertext,
	}
}

// Bundle is the effecting data shared by every authorization state. It is
// immutable once built.
type Bundle struct {
	actions      []Action
	flags        Flags
	valueBalance int64
	anchor       tree.Anchor
}

func newBundle(actions []Action, flags Flags, valueBalance int64, anchor tree.Anchor) (Bundle, error) {
	if len(actions) == 0 {
		return Bundle{}, errors.Wrap(types.ErrValidation, "bundle has no actions")
	}
	return Bundle{
		actions:      append([]Action(nil), actions...),
		flags:        flags,
		valueBalance: valueBalance,
		anchor:       anchor,
	}, nil
}

func (b *Bundle) NumActions() int { return len(b.actions) }

// Action returns a copy of the i-th Action.
func (b *Bundle) Action(i int) Action { return b.actions[i] }

func (b *Bundle) Actions() []Action { return append([]Action(nil), b.actions...) }

func (b *Bundle) Flags() Flags { return b.flags }

// ValueBalance is the sum of output values minus the sum of spend values.
func (b *Bundle) ValueBalance() int64 { return b.valueBalance }

func (b *Bundle) Anchor() tree.Anchor { return b.anchor }

func (b *Bundle) Nullifiers() []types.Nullifier {
	nfs := make([]types.Nullifier, len(b.actions))
	for i := range b.actions {
		nfs[i] = b.actions[i].Nf
	}
	return nfs
}

// PublicInputs is the proof statement, in Action order.
func (b *Bundle) PublicInputs() types.PublicInputs {
	pub := types.PublicInputs{
		Actions:      make([]types.Instance, len(b.actions)),
		ValueBalance: b.valueBalance,
	}
	for i := range b.actions {
		a := &b.actions[i]
		pub.Actions[i] = types.Instance{
			Anchor:        b.anchor,
			CvNet:         a.CvNet,
			Nf:            a.Nf,
			Rk:            a.Rk,
			Cmx:           a.Cmx,
			Epk:           a.Epk,
			EnableSpends:  b.flags.SpendsEnabled,
			EnableOutputs: b.flags.OutputsEnabled,
		}
	}
	return pub
}

// BindingValidatingKey is sum(cv) - [valueBalance]V. It equals [bsk]R iff
// the bundle balances.
func (b *Bundle) BindingValidatingKey() crypto.VerificationKey {
	cvs := make([]types.ValueCommitment, len(b.actions))
	for i := range b.actions {
		cvs[i] = b.actions[i].CvNet
	}
	bvk := types.SumValueCommitments(cvs...).Sub(types.CommitBalance(b.valueBalance))
	return bvk.BindingKey()
}
