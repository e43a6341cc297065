package builder

import (
	crand "crypto/rand"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/kysee/orchard/bundle"
	"github.com/kysee/orchard/crypto"
	"github.com/kysee/orchard/tree"
	"github.com/kysee/orchard/types"
	"github.com/kysee/orchard/utils"
)

type spendInfo struct {
	dummyKey *types.SpendingKey
	fvk      *types.FullViewingKey
	note     *types.Note
	path     *tree.MerklePath
}

type outputInfo struct {
	ovk       *types.OutgoingViewingKey
	recipient types.Address
	value     uint64
	memo      types.Memo
}

// Builder collects spends and outputs for one bundle. Not safe for
// concurrent use.
type Builder struct {
	flags      bundle.Flags
	anchor     tree.Anchor
	depth      int
	minActions int
	shuffle    bool

	spends  []spendInfo
	outputs []outputInfo
}

type Option func(*Builder)

// WithMinActions pads every bundle to at least n Actions.
func WithMinActions(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.minActions = n
		}
	}
}

// WithTreeDepth sets the authentication path depth of every spend. It must
// match the depth the circuit was compiled for.
func WithTreeDepth(depth int) Option {
	return func(b *Builder) { b.depth = depth }
}

// WithoutShuffle keeps spends and outputs in insertion order.
func WithoutShuffle() Option {
	return func(b *Builder) { b.shuffle = false }
}

func NewBuilder(flags bundle.Flags, anchor tree.Anchor, opts ...Option) *Builder {
	b := &Builder{
		flags:      flags,
		anchor:     anchor,
		depth:      tree.DefaultDepth,
		minActions: 1,
		shuffle:    true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddSpend adds a note fvk can spend. The path must lead to the builder's anchor.
func (b *Builder) AddSpend(fvk *types.FullViewingKey, note *types.Note, path *tree.MerklePath) error {
	if !b.flags.SpendsEnabled {
		return errors.Wrap(types.ErrValidation, "spends are disabled")
	}
	if _, err := types.NewNoteValue(note.Value().Uint64()); err != nil {
		return err
	}
	if !fvk.Owns(note.Recipient()) {
		return errors.Wrap(types.ErrValidation, "note is not owned by the viewing key")
	}
	if path.Depth() != b.depth {
		return errors.Wrapf(types.ErrValidation, "path depth %d, expected %d", path.Depth(), b.depth)
	}
	cm, err := note.Commitment()
	if err != nil {
		return err
	}
	if tree.AnchorFromElement(path.Root(cm.Element())) != b.anchor {
		return errors.Wrap(types.ErrValidation, "spend path does not lead to the bundle anchor")
	}
	b.spends = append(b.spends, spendInfo{fvk: fvk, note: note, path: path})
	return nil
}

// AddOutput adds a payment. A nil ovk makes the output unrecoverable by the
// sender; a nil memo is empty.
func (b *Builder) AddOutput(ovk *types.OutgoingViewingKey, recipient types.Address, value uint64, memo *types.Memo) error {
	if !b.flags.OutputsEnabled {
		return errors.Wrap(types.ErrValidation, "outputs are disabled")
	}
	if _, err := types.NewNoteValue(value); err != nil {
		return err
	}
	out := outputInfo{ovk: ovk, recipient: recipient, value: value}
	if memo != nil {
		out.memo = *memo
	}
	b.outputs = append(b.outputs, out)
	return nil
}

// ValueBalance is the sum of output values minus the sum of spend values.
func (b *Builder) ValueBalance() (int64, error) {
	sum := types.ValueSumFromInt64(0)
	for _, s := range b.outputs {
		sum = sum.Add(types.NetValue(types.NoteValue(s.value), 0))
	}
	for _, s := range b.spends {
		sum = sum.Add(types.NetValue(0, s.note.Value()))
	}
	return sum.Int64()
}

func (b *Builder) dummySpend(rng io.Reader) (spendInfo, error) {
	sk, note, err := types.DummySpend(rng)
	if err != nil {
		return spendInfo{}, err
	}
	path, err := tree.DummyPath(rng, b.depth)
	if err != nil {
		return spendInfo{}, err
	}
	return spendInfo{dummyKey: sk, fvk: sk.FullViewingKey(), note: note, path: path}, nil
}

func (b *Builder) dummyOutput(rng io.Reader) (outputInfo, error) {
	addr, err := types.DummyRecipient(rng)
	if err != nil {
		return outputInfo{}, err
	}
	return outputInfo{recipient: addr}, nil
}

// Build pads, orders and constructs every Action. The builder's own state is
// not modified, so a failed Build can be retried.
func (b *Builder) Build(rng io.Reader) (*bundle.Unauthorized, error) {
	if rng == nil {
		rng = crand.Reader
	}
	log := utils.Logger("builder")

	if len(b.spends) == 0 && len(b.outputs) == 0 {
		return nil, errors.Wrap(types.ErrValidation, "nothing to build")
	}
	valueBalance, err := b.ValueBalance()
	if err != nil {
		return nil, err
	}

	n := max(len(b.spends), len(b.outputs), b.minActions)
	spends := append([]spendInfo(nil), b.spends...)
	outputs := append([]outputInfo(nil), b.outputs...)
	for len(spends) < n {
		s, err := b.dummySpend(rng)
		if err != nil {
			return nil, err
		}
		spends = append(spends, s)
	}
	for len(outputs) < n {
		o, err := b.dummyOutput(rng)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, o)
	}
	if b.shuffle {
		if err := shuffle(rng, len(spends), func(i, j int) { spends[i], spends[j] = spends[j], spends[i] }); err != nil {
			return nil, err
		}
		if err := shuffle(rng, len(outputs), func(i, j int) { outputs[i], outputs[j] = outputs[j], outputs[i] }); err != nil {
			return nil, err
		}
	}

	actions := make([]bundle.Action, n)
	witnesses := make([]types.ActionWitness, n)
	spendAuth := make([]bundle.SpendAuth, n)
	bsk := types.ZeroTrapdoor()
	for i := 0; i < n; i++ {
		rcv, err := b.buildAction(rng, &spends[i], &outputs[i], &actions[i], &witnesses[i], &spendAuth[i])
		if err != nil {
			return nil, errors.Wrapf(err, "action %d", i)
		}
		bsk = bsk.Add(rcv)
	}

	u, err := bundle.NewUnauthorized(actions, b.flags, valueBalance, b.anchor, witnesses, spendAuth, bsk)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("actions", n).Int("spends", len(b.spends)).Int("outputs", len(b.outputs)).
		Int64("value_balance", valueBalance).Msg("bundle built")
	return u, nil
}

func (b *Builder) buildAction(
	rng io.Reader, spend *spendInfo, output *outputInfo,
	action *bundle.Action, witness *types.ActionWitness, auth *bundle.SpendAuth,
) (types.ValueCommitTrapdoor, error) {
	nf, err := spend.note.Nullifier(spend.fvk)
	if err != nil {
		return types.ValueCommitTrapdoor{}, err
	}
	alpha, err := crypto.RandomScalar(rng)
	if err != nil {
		return types.ValueCommitTrapdoor{}, err
	}
	note, err := types.NewRandomNote(rng, output.recipient, output.value, nf)
	if err != nil {
		return types.ValueCommitTrapdoor{}, err
	}
	cmx, err := note.Commitment()
	if err != nil {
		return types.ValueCommitTrapdoor{}, err
	}
	rcv, err := types.RandomTrapdoor(rng)
	if err != nil {
		return types.ValueCommitTrapdoor{}, err
	}
	cv := types.CommitValue(types.NetValue(note.Value(), spend.note.Value()), rcv)

	ne := types.NewNoteEncryption(output.ovk, note, output.memo)
	enc, err := ne.EncryptNotePlaintext()
	if err != nil {
		return types.ValueCommitTrapdoor{}, err
	}
	out, err := ne.EncryptOutgoingPlaintext(rng, cv, cmx)
	if err != nil {
		return types.ValueCommitTrapdoor{}, err
	}

	*action = bundle.Action{
		Nf:            nf,
		Rk:            spend.fvk.AK().Randomize(alpha),
		Cmx:           cmx,
		Epk:           ne.EphemeralKey(),
		EncCiphertext: enc,
		OutCiphertext: out,
		CvNet:         cv,
	}
	*witness = types.ActionWitness{
		Path:       spend.path,
		SpendNote:  spend.note,
		FVK:        spend.fvk,
		Alpha:      alpha,
		OutputNote: note,
		Rcv:        rcv,
	}
	*auth = bundle.SpendAuth{Alpha: alpha}
	if spend.dummyKey != nil {
		auth.DummyKey = spend.dummyKey.SpendAuthorizingKey()
	}
	return rcv, nil
}

// shuffle is a Fisher-Yates shuffle driven by rng.
func shuffle(rng io.Reader, n int, swap func(i, j int)) error {
	for i := n - 1; i > 0; i-- {
		j, err := uniform(rng, uint64(i+1))
		if err != nil {
			return err
		}
		swap(i, int(j))
	}
	return nil
}

// uniform draws from [0, n) without modulo bias by rejecting draws at or
// above the largest multiple of n.
func uniform(rng io.Reader, n uint64) (uint64, error) {
	limit := math.MaxUint64 - math.MaxUint64%n
	var buf [8]byte
	for {
		if _, err := io.ReadFull(rng, buf[:]); err != nil {
			return 0, errors.Wrap(err, "reading randomness")
		}
		if v := binary.LittleEndian.Uint64(buf[:]); v < limit {
			return v % n, nil
		}
	}
}
