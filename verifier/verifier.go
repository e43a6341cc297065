package verifier

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kysee/orchard/bundle"
	"github.com/kysee/orchard/crypto"
	"github.com/kysee/orchard/tree"
	"github.com/kysee/orchard/types"
	"github.com/kysee/orchard/utils"
)

// ProofVerifier checks an aggregate proof against the public inputs of a
// bundle. circuit.ProvingSystem implements it.
type ProofVerifier interface {
	Verify(proof []byte, pub types.PublicInputs) error
}

// Context carries the consensus rules that live outside the bundle.
type Context struct {
	// SigHash computes the message spend and binding signatures sign. Nil
	// means the bundle's own effects commitment.
	SigHash func(*bundle.Authorized) [32]byte
	// IsValidAnchor reports whether the anchor is a known tree root. Nil
	// accepts every anchor.
	IsValidAnchor func(tree.Anchor) bool
}

func (c *Context) sighash(b *bundle.Authorized) [32]byte {
	if c != nil && c.SigHash != nil {
		return c.SigHash(b)
	}
	return b.Commitment()
}

func (c *Context) validAnchor(a tree.Anchor) bool {
	return c == nil || c.IsValidAnchor == nil || c.IsValidAnchor(a)
}

type Verifier struct {
	proofs      ProofVerifier
	concurrency int
	log         zerolog.Logger
}

type Option func(*Verifier)

// WithConcurrency bounds the number of bundles BatchVerify checks at once.
func WithConcurrency(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

func New(pv ProofVerifier, opts ...Option) *Verifier {
	v := &Verifier{
		proofs:      pv,
		concurrency: runtime.GOMAXPROCS(0),
		log:         utils.Logger("verifier"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks anchor, balance and binding signature, every spend
// authorization signature and finally the proof. It returns the bundle's
// nullifiers for the caller's double-spend check. b is only read.
// Only the first failing check is reported, so the error kind identifies
// the defect only when exactly one check fails. A binding signature that
// decodes but does not verify is reported as ErrBalanceInvalid.
func (v *Verifier) Verify(b *bundle.Authorized, vctx *Context) ([]types.Nullifier, error) {
	if b == nil || b.NumActions() == 0 {
		return nil, errors.Wrap(types.ErrValidation, "empty bundle")
	}
	if err := v.verify(b, vctx); err != nil {
		v.log.Warn().Err(err).Int("actions", b.NumActions()).Msg("bundle rejected")
		return nil, err
	}
	v.log.Debug().Int("actions", b.NumActions()).Int64("value_balance", b.ValueBalance()).Msg("bundle verified")
	return b.Nullifiers(), nil
}

func (v *Verifier) verify(b *bundle.Authorized, vctx *Context) error {
	if !vctx.validAnchor(b.Anchor()) {
		return errors.Wrapf(types.ErrAnchorInvalid, "anchor %x", b.Anchor())
	}
	sighash := vctx.sighash(b)

	bvk := b.BindingValidatingKey()
	if err := bvk.Verify(sighash[:], b.BindingSignature()); err != nil {
		if errors.Is(err, crypto.ErrSignature) {
			return errors.Wrap(types.ErrBalanceInvalid, "value commitments do not match the value balance")
		}
		return errors.Wrap(types.ErrBindingSignatureInvalid, err.Error())
	}

	for i := 0; i < b.NumActions(); i++ {
		a := b.Action(i)
		if err := a.Rk.Verify(sighash[:], b.SpendAuthSignature(i)); err != nil {
			return &types.SignatureError{Index: i}
		}
	}

	if v.proofs == nil {
		return errors.Wrap(types.ErrProofInvalid, "no proof verifier configured")
	}
	if err := v.proofs.Verify(b.Proof(), b.PublicInputs()); err != nil {
		if errors.Is(err, types.ErrProofInvalid) {
			return err
		}
		return errors.Wrap(types.ErrProofInvalid, err.Error())
	}
	return nil
}

// Item is one bundle of a batch. A nil Context uses the defaults.
type Item struct {
	Bundle  *bundle.Authorized
	Context *Context
}

type Result struct {
	Nullifiers []types.Nullifier
	Err        error
}

// BatchVerify checks every item independently, at most the configured
// number at a time. Results are in item order. Items not started before ctx
// is done fail with the context's error.
func (v *Verifier) BatchVerify(ctx context.Context, items []Item) []Result {
	results := make([]Result, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			nfs, err := v.Verify(items[i].Bundle, items[i].Context)
			results[i] = Result{Nullifiers: nfs, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	v.log.Debug().Int("bundles", len(items)).Int("rejected", failed).Msg("batch verified")
	return results
}
