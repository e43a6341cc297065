package builder

import (
	"bytes"
	crand "crypto/rand"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/kysee/orchard/bundle"
	"github.com/kysee/orchard/tree"
	"github.com/kysee/orchard/types"
)

const testDepth = 4

var allEnabled = bundle.Flags{SpendsEnabled: true, OutputsEnabled: true}

func spendable(t *testing.T, tr *tree.Tree, sk *types.SpendingKey, value uint64) (*types.Note, uint32) {
	rho, err := types.RandomNullifier(crand.Reader)
	require.NoError(t, err)
	note, err := types.NewRandomNote(crand.Reader, sk.FullViewingKey().Address(0), value, rho)
	require.NoError(t, err)
	cm, err := note.Commitment()
	require.NoError(t, err)
	pos, err := tr.Append(cm.Element())
	require.NoError(t, err)
	return note, pos
}

func newKey(t *testing.T) *types.SpendingKey {
	sk, err := types.NewSpendingKey(crand.Reader)
	require.NoError(t, err)
	return sk
}

func TestBuildPadsToMinActions(t *testing.T) {
	to := newKey(t)
	b := NewBuilder(allEnabled, tree.New(testDepth).Root(), WithTreeDepth(testDepth), WithMinActions(3))
	require.NoError(t, b.AddOutput(nil, to.FullViewingKey().Address(0), 5, nil))

	u, err := b.Build(crand.Reader)
	require.NoError(t, err)
	require.Equal(t, 3, u.NumActions())
	require.Equal(t, int64(5), u.ValueBalance())

	seen := map[types.Nullifier]bool{}
	for _, nf := range u.Nullifiers() {
		require.False(t, seen[nf])
		seen[nf] = true
	}
	for _, w := range u.Witnesses() {
		require.Equal(t, testDepth, w.Path.Depth())
	}
}

func TestBuildSingleOutputHasOneAction(t *testing.T) {
	to := newKey(t)
	b := NewBuilder(allEnabled, tree.New(testDepth).Root(), WithTreeDepth(testDepth))
	require.NoError(t, b.AddOutput(nil, to.FullViewingKey().Address(0), 5, nil))
	u, err := b.Build(crand.Reader)
	require.NoError(t, err)
	require.Equal(t, 1, u.NumActions())

	// the recipient finds the note, no matter where it was shuffled
	found := 0
	for _, a := range u.Actions() {
		note, _, _, err := types.TryNoteDecryption(to.FullViewingKey().IncomingViewingKey(), a.Output())
		if err != nil {
			require.True(t, errors.Is(err, types.ErrDecryptionFailed))
			continue
		}
		require.Equal(t, uint64(5), note.Value().Uint64())
		found++
	}
	require.Equal(t, 1, found)
}

func TestValueBalance(t *testing.T) {
	sk := newKey(t)
	tr := tree.New(testDepth)
	n1, p1 := spendable(t, tr, sk, 10)
	n2, p2 := spendable(t, tr, sk, 4)
	anchor := tr.Root()
	path1, err := tr.Path(p1)
	require.NoError(t, err)
	path2, err := tr.Path(p2)
	require.NoError(t, err)

	b := NewBuilder(allEnabled, anchor, WithTreeDepth(testDepth), WithoutShuffle())
	fvk := sk.FullViewingKey()
	require.NoError(t, b.AddSpend(fvk, n1, path1))
	require.NoError(t, b.AddSpend(fvk, n2, path2))
	require.NoError(t, b.AddOutput(fvk.OutgoingViewingKey(), fvk.Address(1), 11, nil))

	vb, err := b.ValueBalance()
	require.NoError(t, err)
	require.Equal(t, int64(-3), vb)

	u, err := b.Build(crand.Reader)
	require.NoError(t, err)
	require.Equal(t, 2, u.NumActions())
	require.Equal(t, int64(-3), u.ValueBalance())

	// unshuffled, the spends keep their order
	nf1, err := n1.Nullifier(fvk)
	require.NoError(t, err)
	nf2, err := n2.Nullifier(fvk)
	require.NoError(t, err)
	require.Equal(t, []types.Nullifier{nf1, nf2}, u.Nullifiers())

	// every output note is bound to the nullifier of its Action
	for i, w := range u.Witnesses() {
		require.Equal(t, u.Action(i).Nf, w.OutputNote.Rho())
	}
}

func TestAddSpendChecks(t *testing.T) {
	sk := newKey(t)
	tr := tree.New(testDepth)
	note, pos := spendable(t, tr, sk, 10)
	path, err := tr.Path(pos)
	require.NoError(t, err)
	anchor := tr.Root()

	b := NewBuilder(allEnabled, anchor, WithTreeDepth(testDepth))
	err = b.AddSpend(newKey(t).FullViewingKey(), note, path)
	require.True(t, errors.Is(err, types.ErrValidation))

	var leaf fr.Element
	_, _ = leaf.SetRandom()
	_, err = tr.Append(leaf)
	require.NoError(t, err)
	stale := NewBuilder(allEnabled, tr.Root(), WithTreeDepth(testDepth))
	err = stale.AddSpend(sk.FullViewingKey(), note, path)
	require.True(t, errors.Is(err, types.ErrValidation))

	deep := NewBuilder(allEnabled, anchor, WithTreeDepth(testDepth+1))
	err = deep.AddSpend(sk.FullViewingKey(), note, path)
	require.True(t, errors.Is(err, types.ErrValidation))

	noSpends := NewBuilder(bundle.Flags{OutputsEnabled: true}, anchor, WithTreeDepth(testDepth))
	err = noSpends.AddSpend(sk.FullViewingKey(), note, path)
	require.True(t, errors.Is(err, types.ErrValidation))

	require.NoError(t, b.AddSpend(sk.FullViewingKey(), note, path))
}

func TestAddOutputRejectsOverflow(t *testing.T) {
	to := newKey(t)
	b := NewBuilder(allEnabled, tree.New(testDepth).Root(), WithTreeDepth(testDepth))
	err := b.AddOutput(nil, to.FullViewingKey().Address(0), types.MaxNoteValue+1, nil)
	require.True(t, errors.Is(err, types.ErrValidation))
	require.NoError(t, b.AddOutput(nil, to.FullViewingKey().Address(0), types.MaxNoteValue, nil))

	noOutputs := NewBuilder(bundle.Flags{SpendsEnabled: true}, tree.New(testDepth).Root())
	err = noOutputs.AddOutput(nil, to.FullViewingKey().Address(0), 1, nil)
	require.True(t, errors.Is(err, types.ErrValidation))
}

func TestBuildEmpty(t *testing.T) {
	_, err := NewBuilder(allEnabled, tree.New(testDepth).Root()).Build(crand.Reader)
	require.True(t, errors.Is(err, types.ErrValidation))
}

func TestMemoTravelsWithNote(t *testing.T) {
	to := newKey(t)
	memo, err := types.MemoFromBytes([]byte("invoice 42"))
	require.NoError(t, err)

	b := NewBuilder(allEnabled, tree.New(testDepth).Root(), WithTreeDepth(testDepth), WithoutShuffle())
	require.NoError(t, b.AddOutput(nil, to.FullViewingKey().Address(3), 9, &memo))
	u, err := b.Build(crand.Reader)
	require.NoError(t, err)

	note, addr, got, err := types.TryNoteDecryption(to.FullViewingKey().IncomingViewingKey(), u.Action(0).Output())
	require.NoError(t, err)
	require.Equal(t, memo, got)
	require.True(t, addr.Equal(to.FullViewingKey().Address(3)))
	require.Equal(t, uint64(9), note.Value().Uint64())
}

func TestShuffleIsPermutation(t *testing.T) {
	xs := []int{0, 1, 2, 3, 4, 5, 6, 7}
	require.NoError(t, shuffle(crand.Reader, len(xs), func(i, j int) { xs[i], xs[j] = xs[j], xs[i] }))
	require.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, xs)
}

func TestUniformRejectsBiasedDraws(t *testing.T) {
	// 2^64-1 is the one draw above the largest multiple of 3
	draws := append(bytes.Repeat([]byte{0xff}, 8), 5, 0, 0, 0, 0, 0, 0, 0)
	j, err := uniform(bytes.NewReader(draws), 3)
	require.NoError(t, err)
	require.Equal(t, uint64(2), j)

	_, err = uniform(bytes.NewReader(bytes.Repeat([]byte{0xff}, 8)), 3)
	require.Error(t, err)
}
