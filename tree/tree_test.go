package tree

import (
	crand "crypto/rand"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"
)

func randLeaf(t *testing.T) fr.Element {
	var e fr.Element
	_, err := e.SetRandom()
	require.NoError(t, err)
	return e
}

func TestEmptyRoot(t *testing.T) {
	tr := New(4)
	root := emptyRoots(4)[4]
	require.Equal(t, AnchorFromElement(root), tr.Root())
}

func TestAppendAndPath(t *testing.T) {
	tr := New(5)
	leaves := make([]fr.Element, 11)
	for i := range leaves {
		leaves[i] = randLeaf(t)
		pos, err := tr.Append(leaves[i])
		require.NoError(t, err)
		require.Equal(t, uint32(i), pos)
	}

	root := tr.Root()
	for i, leaf := range leaves {
		p, err := tr.Path(uint32(i))
		require.NoError(t, err)
		require.Equal(t, 5, p.Depth())
		require.Equal(t, root, AnchorFromElement(p.Root(leaf)), "position %d", i)

		other := randLeaf(t)
		require.NotEqual(t, root, AnchorFromElement(p.Root(other)))
	}

	_, err := tr.Path(11)
	require.ErrorIs(t, err, ErrInvalidPosition)
}

func TestRootChangesOnAppend(t *testing.T) {
	tr := New(3)
	seen := map[Anchor]bool{tr.Root(): true}
	for i := 0; i < 8; i++ {
		_, err := tr.Append(randLeaf(t))
		require.NoError(t, err)
		require.False(t, seen[tr.Root()])
		seen[tr.Root()] = true
	}
	_, err := tr.Append(randLeaf(t))
	require.ErrorIs(t, err, ErrTreeFull)
}

func TestOldPathStaysValidForOldRoot(t *testing.T) {
	tr := New(4)
	leaf := randLeaf(t)
	_, err := tr.Append(leaf)
	require.NoError(t, err)
	old := tr.Root()
	p, err := tr.Path(0)
	require.NoError(t, err)

	_, err = tr.Append(randLeaf(t))
	require.NoError(t, err)
	require.Equal(t, old, AnchorFromElement(p.Root(leaf)))
	require.NotEqual(t, tr.Root(), old)
}

func TestDummyPath(t *testing.T) {
	p, err := DummyPath(crand.Reader, 8)
	require.NoError(t, err)
	require.Equal(t, 8, p.Depth())
	require.Less(t, p.Position, uint32(1<<8))

	a := AnchorFromElement(randLeaf(t))
	e, err := a.Element()
	require.NoError(t, err)
	require.Equal(t, a, AnchorFromElement(e))
}

func TestCloneIsIndependent(t *testing.T) {
	tr := New(3)
	for i := 0; i < 3; i++ {
		_, err := tr.Append(randLeaf(t))
		require.NoError(t, err)
	}
	root := tr.Root()

	c := tr.Clone()
	_, err := c.Append(randLeaf(t))
	require.NoError(t, err)
	require.Equal(t, root, tr.Root())
	require.Equal(t, uint64(3), tr.Size())
	require.NotEqual(t, root, c.Root())

	// the original still appends as if the clone never existed
	leaf := randLeaf(t)
	_, err = tr.Append(leaf)
	require.NoError(t, err)
	_, err = c.Clone().Append(leaf)
	require.NoError(t, err)
	p, err := tr.Path(3)
	require.NoError(t, err)
	require.Equal(t, tr.Root(), AnchorFromElement(p.Root(leaf)))
}
