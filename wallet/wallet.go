package wallet

import (
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/kysee/orchard/builder"
	"github.com/kysee/orchard/bundle"
	"github.com/kysee/orchard/node"
	"github.com/kysee/orchard/types"
	"github.com/kysee/orchard/utils"
)

type ownedNote struct {
	note     *types.Note
	position uint32
	nf       types.Nullifier
}

// Wallet tracks the unspent notes of one spending key. Not safe for
// concurrent use.
type Wallet struct {
	sk      *types.SpendingKey
	fvk     *types.FullViewingKey
	notes   []ownedNote
	scanned uint32
}

func New(rng io.Reader) (*Wallet, error) {
	sk, err := types.NewSpendingKey(rng)
	if err != nil {
		return nil, err
	}
	return FromSpendingKey(sk), nil
}

func FromSpendingKey(sk *types.SpendingKey) *Wallet {
	return &Wallet{sk: sk, fvk: sk.FullViewingKey()}
}

func (w *Wallet) SpendingKey() *types.SpendingKey { return w.sk }

// Address is the default diversified address.
func (w *Wallet) Address() types.Address { return w.fvk.Address(0) }

// Sync trial decrypts every output the wallet has not seen yet and forgets
// notes whose nullifier the ledger revealed. It returns the number of new
// notes found.
func (w *Wallet) Sync(l *node.Ledger) (int, error) {
	log := utils.Logger("wallet")
	ivk := w.fvk.IncomingViewingKey()

	found := 0
	for _, out := range l.Outputs(w.scanned) {
		note, _, _, err := types.TryNoteDecryption(ivk, &out.ShieldedOutput)
		if errors.Is(err, types.ErrDecryptionFailed) {
			w.scanned = out.Position + 1
			continue
		}
		if err != nil {
			return found, err
		}
		nf, err := note.Nullifier(w.fvk)
		if err != nil {
			return found, err
		}
		if note.Value() > 0 {
			w.notes = append(w.notes, ownedNote{note: note, position: out.Position, nf: nf})
			found++
		}
		w.scanned = out.Position + 1
	}

	unspent := w.notes[:0]
	for _, n := range w.notes {
		if !l.HasNullifier(n.nf) {
			unspent = append(unspent, n)
		}
	}
	w.notes = unspent
	log.Debug().Int("found", found).Int("unspent", len(w.notes)).Uint32("scanned", w.scanned).Msg("wallet synced")
	return found, nil
}

func (w *Wallet) Balance() uint64 {
	var sum uint64
	for _, n := range w.notes {
		sum += n.note.Value().Uint64()
	}
	return sum
}

func (w *Wallet) Notes() []*types.Note {
	notes := make([]*types.Note, len(w.notes))
	for i, n := range w.notes {
		notes[i] = n.note
	}
	return notes
}

// Transfer pays amount to the recipient, returning change to the wallet and
// releasing fee as the bundle's value balance. The returned bundle is signed
// over its effects commitment and has not been submitted.
func (w *Wallet) Transfer(
	rng io.Reader, l *node.Ledger, prover bundle.Prover,
	to types.Address, amount, fee uint64, memo *types.Memo,
) (*bundle.Authorized, error) {
	need := amount + fee
	if need < amount {
		return nil, errors.Wrap(types.ErrValidation, "amount plus fee overflows")
	}

	// largest notes first keeps the bundle small
	candidates := append([]ownedNote(nil), w.notes...)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].note.Value() > candidates[j].note.Value() })
	var selected []ownedNote
	var total uint64
	for _, n := range candidates {
		if total >= need {
			break
		}
		selected = append(selected, n)
		total += n.note.Value().Uint64()
	}
	if total < need {
		return nil, errors.Wrapf(types.ErrValidation, "insufficient funds: have %d, need %d", total, need)
	}

	b := builder.NewBuilder(bundle.Flags{SpendsEnabled: true, OutputsEnabled: true}, l.Anchor(),
		builder.WithTreeDepth(l.Depth()))
	for _, n := range selected {
		path, err := l.Witness(n.position)
		if err != nil {
			return nil, err
		}
		if err := b.AddSpend(w.fvk, n.note, path); err != nil {
			return nil, err
		}
	}
	ovk := w.fvk.OutgoingViewingKey()
	if err := b.AddOutput(ovk, to, amount, memo); err != nil {
		return nil, err
	}
	if change := total - need; change > 0 {
		if err := b.AddOutput(ovk, w.Address(), change, nil); err != nil {
			return nil, err
		}
	}

	u, err := b.Build(rng)
	if err != nil {
		return nil, err
	}
	return u.ApplySignatures(rng, prover, u.Commitment(), w.sk.SpendAuthorizingKey())
}
