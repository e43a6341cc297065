package bundle

import (
	"io"
	"math/big"

	"github.com/pkg/errors"

	"github.com/kysee/orchard/crypto"
	"github.com/kysee/orchard/tree"
	"github.com/kysee/orchard/types"
	"github.com/kysee/orchard/utils"
)

// Prover turns the private witnesses of every Action into one aggregate proof.
type Prover interface {
	Prove(witnesses []types.ActionWitness, pub types.PublicInputs) ([]byte, error)
}

// SpendAuth is the per-Action signing material kept until signatures are
// applied. DummyKey is set only for padding spends, whose key the builder
// sampled itself.
type SpendAuth struct {
	Alpha    *big.Int
	DummyKey *crypto.SigningKey
}

// Unauthorized has fixed effects and balance but neither proof nor signatures.
type Unauthorized struct {
	Bundle
	witnesses []types.ActionWitness
	spendAuth []SpendAuth
	bsk       *crypto.SigningKey
}

// NewUnauthorized checks that bsk matches the value commitments before
// accepting the bundle.
func NewUnauthorized(
	actions []Action, flags Flags, valueBalance int64, anchor tree.Anchor,
	witnesses []types.ActionWitness, spendAuth []SpendAuth, bsk types.ValueCommitTrapdoor,
) (*Unauthorized, error) {
	b, err := newBundle(actions, flags, valueBalance, anchor)
	if err != nil {
		return nil, err
	}
	if len(witnesses) != len(actions) || len(spendAuth) != len(actions) {
		return nil, errors.Wrap(types.ErrValidation, "witness count does not match actions")
	}
	for i := range spendAuth {
		if spendAuth[i].Alpha == nil {
			return nil, errors.Wrapf(types.ErrValidation, "action %d has no randomizer", i)
		}
	}
	key, err := crypto.NewSigningKey(crypto.Binding, bsk.Scalar())
	if err != nil {
		return nil, errors.Wrap(types.ErrValidation, "degenerate binding key")
	}
	if !key.VerificationKey().Equal(b.BindingValidatingKey()) {
		return nil, errors.Wrap(types.ErrValidation, "value commitments do not balance")
	}
	return &Unauthorized{
		Bundle:    b,
		witnesses: append([]types.ActionWitness(nil), witnesses...),
		spendAuth: append([]SpendAuth(nil), spendAuth...),
		bsk:       key,
	}, nil
}

func (u *Unauthorized) Witnesses() []types.ActionWitness {
	return append([]types.ActionWitness(nil), u.witnesses...)
}

// Prove attaches the aggregate proof. A backend failure leaves u untouched
// and may be retried.
func (u *Unauthorized) Prove(p Prover) (*Proven, error) {
	log := utils.Logger("bundle")
	proof, err := p.Prove(u.witnesses, u.PublicInputs())
	if err != nil {
		log.Warn().Err(err).Int("actions", len(u.actions)).Msg("proving failed")
		if errors.Is(err, types.ErrProving) {
			return nil, err
		}
		return nil, errors.Wrap(types.ErrProving, err.Error())
	}
	return &Proven{
		Bundle:    u.Bundle,
		proof:     proof,
		spendAuth: u.spendAuth,
		bsk:       u.bsk,
	}, nil
}

// ApplySignatures proves, signs with every key given and finalizes.
func (u *Unauthorized) ApplySignatures(rng io.Reader, p Prover, sighash [32]byte, keys ...*crypto.SigningKey) (*Authorized, error) {
	proven, err := u.Prove(p)
	if err != nil {
		return nil, err
	}
	partial, err := proven.PrepareSign(rng, sighash)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if _, err := partial.Sign(rng, k); err != nil {
			return nil, err
		}
	}
	return partial.Finalize()
}

// Proven carries the proof; no signature exists yet.
type Proven struct {
	Bundle
	proof     []byte
	spendAuth []SpendAuth
	bsk       *crypto.SigningKey
}

func (p *Proven) Proof() []byte { return append([]byte(nil), p.proof...) }

// PrepareSign fixes the signed message, creates the binding signature and
// signs every padding spend.
func (p *Proven) PrepareSign(rng io.Reader, sighash [32]byte) (*PartiallyAuthorized, error) {
	bindingSig, err := p.bsk.Sign(rng, sighash[:])
	if err != nil {
		return nil, err
	}
	pa := &PartiallyAuthorized{
		Bundle:     p.Bundle,
		proof:      p.proof,
		bindingSig: bindingSig,
		sighash:    sighash,
		alphas:     make([]*big.Int, len(p.actions)),
		sigs:       make([]*crypto.Signature, len(p.actions)),
	}
	for i, sa := range p.spendAuth {
		pa.alphas[i] = new(big.Int).Set(sa.Alpha)
		if sa.DummyKey == nil {
			continue
		}
		sig, err := sa.DummyKey.Randomize(sa.Alpha).Sign(rng, sighash[:])
		if err != nil {
			return nil, err
		}
		pa.sigs[i] = &sig
	}
	return pa, nil
}

// PartiallyAuthorized has its proof and binding signature; some spend
// authorization signatures may still be missing.
type PartiallyAuthorized struct {
	Bundle
	proof      []byte
	bindingSig crypto.Signature
	sighash    [32]byte
	alphas     []*big.Int
	sigs       []*crypto.Signature
}

func (p *PartiallyAuthorized) Proof() []byte { return append([]byte(nil), p.proof...) }

func (p *PartiallyAuthorized) SigHash() [32]byte { return p.sighash }

// Alpha is the randomizer of the i-th Action's rk, for signing elsewhere.
func (p *PartiallyAuthorized) Alpha(i int) (*big.Int, error) {
	if i < 0 || i >= len(p.alphas) {
		return nil, errors.Wrapf(types.ErrValidation, "action index %d out of range", i)
	}
	return new(big.Int).Set(p.alphas[i]), nil
}

// Sign adds a signature to every unsigned Action whose rk was randomized from ask.
func (p *PartiallyAuthorized) Sign(rng io.Reader, ask *crypto.SigningKey) (int, error) {
	if ask == nil || ask.Type() != crypto.SpendAuth {
		return 0, errors.Wrap(types.ErrValidation, "not a spend authorizing key")
	}
	signed := 0
	for i := range p.actions {
		if p.sigs[i] != nil {
			continue
		}
		rsk := ask.Randomize(p.alphas[i])
		if !rsk.VerificationKey().Equal(p.actions[i].Rk) {
			continue
		}
		sig, err := rsk.Sign(rng, p.sighash[:])
		if err != nil {
			return signed, err
		}
		p.sigs[i] = &sig
		signed++
	}
	return signed, nil
}

// AppendSignature accepts a signature produced elsewhere, after checking it.
func (p *PartiallyAuthorized) AppendSignature(i int, sig crypto.Signature) error {
	if i < 0 || i >= len(p.actions) {
		return errors.Wrapf(types.ErrValidation, "action index %d out of range", i)
	}
	if err := p.actions[i].Rk.Verify(p.sighash[:], sig); err != nil {
		return &types.SignatureError{Index: i}
	}
	p.sigs[i] = &sig
	return nil
}

// MissingSignatures lists the Actions that still lack a spend signature.
func (p *PartiallyAuthorized) MissingSignatures() []int {
	var missing []int
	for i, s := range p.sigs {
		if s == nil {
			missing = append(missing, i)
		}
	}
	return missing
}

func (p *PartiallyAuthorized) Finalize() (*Authorized, error) {
	if missing := p.MissingSignatures(); len(missing) > 0 {
		return nil, errors.Wrapf(types.ErrMissingSignatures, "actions %v", missing)
	}
	sigs := make([]crypto.Signature, len(p.sigs))
	for i, s := range p.sigs {
		sigs[i] = *s
	}
	return &Authorized{
		Bundle:        p.Bundle,
		proof:         p.proof,
		spendAuthSigs: sigs,
		bindingSig:    p.bindingSig,
	}, nil
}

// Authorized is the only state a verifier accepts.
type Authorized struct {
	Bundle
	proof         []byte
	spendAuthSigs []crypto.Signature
	bindingSig    crypto.Signature
}

func (a *Authorized) Proof() []byte { return append([]byte(nil), a.proof...) }

func (a *Authorized) SpendAuthSignature(i int) crypto.Signature { return a.spendAuthSigs[i] }

func (a *Authorized) BindingSignature() crypto.Signature { return a.bindingSig }
