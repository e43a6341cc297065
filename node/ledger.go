package node

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kysee/orchard/bundle"
	"github.com/kysee/orchard/tree"
	"github.com/kysee/orchard/types"
	"github.com/kysee/orchard/utils"
	"github.com/kysee/orchard/verifier"
)

// Output is a note ciphertext at its position in the commitment tree.
type Output struct {
	Position uint32
	types.ShieldedOutput
}

// Ledger is the chain state the shielded pool needs: commitment tree,
// historic anchors, revealed nullifiers and every note ciphertext.
type Ledger struct {
	mu         sync.RWMutex
	tree       *tree.Tree
	anchors    map[tree.Anchor]struct{}
	nullifiers map[types.Nullifier]struct{}
	outputs    []Output

	verifier *verifier.Verifier
	store    *Store
	log      zerolog.Logger
}

type Option func(*Ledger)

// WithStore persists every state change. Existing state in the store is
// loaded by NewLedger.
func WithStore(s *Store) Option {
	return func(l *Ledger) { l.store = s }
}

// NewLedger creates a ledger whose tree depth must match the circuit the
// verifier checks proofs with.
func NewLedger(depth int, v *verifier.Verifier, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		tree:       tree.New(depth),
		anchors:    make(map[tree.Anchor]struct{}),
		nullifiers: make(map[types.Nullifier]struct{}),
		verifier:   v,
		log:        utils.Logger("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.anchors[l.tree.Root()] = struct{}{}
	if l.store != nil {
		if err := l.restore(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Ledger) restore() error {
	snap, err := l.store.load()
	if err != nil {
		return err
	}
	for _, o := range snap.outputs {
		pos, err := l.tree.Append(o.Cmx.Element())
		if err != nil {
			return errors.Wrap(err, "rebuilding commitment tree")
		}
		if pos != o.Position {
			return errors.Errorf("stored output at %d replayed at %d", o.Position, pos)
		}
	}
	l.outputs = snap.outputs
	for _, nf := range snap.nullifiers {
		l.nullifiers[nf] = struct{}{}
	}
	for _, a := range snap.anchors {
		l.anchors[a] = struct{}{}
	}
	if _, ok := l.anchors[l.tree.Root()]; !ok {
		return errors.New("stored anchors do not include the rebuilt tree root")
	}
	l.log.Info().Int("outputs", len(l.outputs)).Int("nullifiers", len(l.nullifiers)).Msg("ledger restored")
	return nil
}

// Mint issues a genesis note of value to recipient, outside of any bundle.
func (l *Ledger) Mint(rng io.Reader, recipient types.Address, value uint64) (uint32, error) {
	rho, err := types.RandomNullifier(rng)
	if err != nil {
		return 0, err
	}
	note, err := types.NewRandomNote(rng, recipient, value, rho)
	if err != nil {
		return 0, err
	}
	cmx, err := note.Commitment()
	if err != nil {
		return 0, err
	}
	cv := types.CommitValue(types.NetValue(note.Value(), 0), types.ZeroTrapdoor())
	ne := types.NewNoteEncryption(nil, note, types.Memo{})
	enc, err := ne.EncryptNotePlaintext()
	if err != nil {
		return 0, err
	}
	out, err := ne.EncryptOutgoingPlaintext(rng, cv, cmx)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	outs, err := l.apply(nil, []types.ShieldedOutput{{
		Rho:           rho,
		Cmx:           cmx,
		Epk:           ne.EphemeralKey(),
		CvNet:         cv,
		EncCiphertext: enc,
		OutCiphertext: out,
	}})
	if err != nil {
		return 0, err
	}
	l.log.Debug().Uint32("position", outs[0].Position).Msg("note minted")
	return outs[0].Position, nil
}

// SubmitBundle verifies b and, if none of its nullifiers were seen before,
// appends its outputs. The ledger is unchanged on any error.
func (l *Ledger) SubmitBundle(b *bundle.Authorized) error {
	if l.verifier == nil {
		return errors.New("ledger has no verifier")
	}
	nfs, err := l.verifier.Verify(b, &verifier.Context{IsValidAnchor: l.IsValidAnchor})
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[types.Nullifier]struct{}, len(nfs))
	for _, nf := range nfs {
		if _, ok := l.nullifiers[nf]; ok {
			l.log.Warn().Str("nullifier", nf.String()).Msg("double spend")
			return errors.Wrapf(types.ErrDoubleSpend, "nullifier %s", nf)
		}
		if _, ok := seen[nf]; ok {
			return errors.Wrapf(types.ErrDoubleSpend, "nullifier %s repeated within the bundle", nf)
		}
		seen[nf] = struct{}{}
	}

	outs := make([]types.ShieldedOutput, b.NumActions())
	for i := range outs {
		a := b.Action(i)
		outs[i] = *a.Output()
	}
	if _, err := l.apply(nfs, outs); err != nil {
		return err
	}
	l.log.Debug().Int("actions", b.NumActions()).Str("anchor", l.tree.Root().String()).Msg("bundle applied")
	return nil
}

// apply must be called with mu held.
func (l *Ledger) apply(nfs []types.Nullifier, outs []types.ShieldedOutput) ([]Output, error) {
	if l.tree.Size()+uint64(len(outs)) > uint64(1)<<uint(l.tree.Depth()) {
		return nil, tree.ErrTreeFull
	}

	// the new root, computed on a copy so a failed write leaves the tree as is
	next := l.tree.Clone()
	added := make([]Output, len(outs))
	for i := range outs {
		pos, err := next.Append(outs[i].Cmx.Element())
		if err != nil {
			return nil, err
		}
		added[i] = Output{Position: pos, ShieldedOutput: outs[i]}
	}
	root := next.Root()

	if l.store != nil {
		if err := l.store.commit(nfs, added, root); err != nil {
			return nil, errors.Wrap(err, "persisting ledger state")
		}
	}
	l.tree = next
	l.anchors[root] = struct{}{}
	for _, nf := range nfs {
		l.nullifiers[nf] = struct{}{}
	}
	l.outputs = append(l.outputs, added...)
	return added, nil
}

// Witness is the authentication path of the note at pos to the current root.
func (l *Ledger) Witness(pos uint32) (*tree.MerklePath, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.Path(pos)
}

func (l *Ledger) Anchor() tree.Anchor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.Root()
}

func (l *Ledger) Depth() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.Depth()
}

func (l *Ledger) IsValidAnchor(a tree.Anchor) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.anchors[a]
	return ok
}

func (l *Ledger) HasNullifier(nf types.Nullifier) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.nullifiers[nf]
	return ok
}

// Outputs returns every output at position from or later.
func (l *Ledger) Outputs(from uint32) []Output {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if uint64(from) >= uint64(len(l.outputs)) {
		return nil
	}
	return append([]Output(nil), l.outputs[from:]...)
}
