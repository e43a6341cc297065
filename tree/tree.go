package tree

import (
	"encoding/hex"
	"io"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/pkg/errors"

	"github.com/kysee/orchard/utils"
)

// DefaultDepth supports 2^32 note commitments.
const DefaultDepth = 32

var (
	ErrTreeFull        = errors.New("note commitment tree is full")
	ErrInvalidPosition = errors.New("position out of range")
)

// Anchor is the canonical encoding of a tree root.
type Anchor [32]byte

func AnchorFromElement(e fr.Element) Anchor {
	return Anchor(e.Bytes())
}

func (a Anchor) Element() (fr.Element, error) {
	return utils.ElementFromCanonical(a)
}

func (a Anchor) String() string { return hex.EncodeToString(a[:]) }

// EmptyLeaf is the value of an unoccupied leaf. It is not a valid output
// of the commitment hash with overwhelming probability.
func EmptyLeaf() fr.Element {
	return fr.NewElement(2)
}

func hashNode(left, right fr.Element) fr.Element {
	return utils.HashElements(left, right)
}

// emptyRoots[i] is the root of an empty subtree of height i.
func emptyRoots(depth int) []fr.Element {
	roots := make([]fr.Element, depth+1)
	roots[0] = EmptyLeaf()
	for i := 1; i <= depth; i++ {
		roots[i] = hashNode(roots[i-1], roots[i-1])
	}
	return roots
}

// MerklePath authenticates a leaf at Position. AuthPath[0] is the sibling
// at the leaf level.
type MerklePath struct {
	Position uint32
	AuthPath []fr.Element
}

func (p *MerklePath) Depth() int { return len(p.AuthPath) }

// Root folds leaf up the path.
func (p *MerklePath) Root(leaf fr.Element) fr.Element {
	cur := leaf
	for i, sib := range p.AuthPath {
		if (p.Position>>uint(i))&1 == 0 {
			cur = hashNode(cur, sib)
		} else {
			cur = hashNode(sib, cur)
		}
	}
	return cur
}

// DummyPath returns a random path, used by zero value spends whose root is
// never checked.
func DummyPath(rng io.Reader, depth int) (*MerklePath, error) {
	bz, err := utils.ReadRand(rng, 4+depth*32)
	if err != nil {
		return nil, errors.Wrap(err, "reading randomness")
	}
	p := &MerklePath{AuthPath: make([]fr.Element, depth)}
	if depth < 32 {
		p.Position = (uint32(bz[0]) | uint32(bz[1])<<8 | uint32(bz[2])<<16 | uint32(bz[3])<<24) & (1<<uint(depth) - 1)
	} else {
		p.Position = uint32(bz[0]) | uint32(bz[1])<<8 | uint32(bz[2])<<16 | uint32(bz[3])<<24
	}
	for i := 0; i < depth; i++ {
		p.AuthPath[i] = utils.ToElement(bz[4+i*32 : 4+(i+1)*32])
	}
	return p, nil
}

// Tree is an append-only note commitment tree of fixed depth. It keeps every
// level so any position can be witnessed. Not safe for concurrent use.
type Tree struct {
	depth  int
	levels [][]fr.Element
	empty  []fr.Element
}

func New(depth int) *Tree {
	if depth <= 0 || depth > 32 {
		panic("tree depth must be in [1, 32]")
	}
	return &Tree{
		depth:  depth,
		levels: make([][]fr.Element, depth+1),
		empty:  emptyRoots(depth),
	}
}

func (t *Tree) Depth() int { return t.depth }

// Clone returns a deep copy that can be appended to independently.
func (t *Tree) Clone() *Tree {
	c := &Tree{depth: t.depth, levels: make([][]fr.Element, len(t.levels)), empty: t.empty}
	for i, lv := range t.levels {
		c.levels[i] = append([]fr.Element(nil), lv...)
	}
	return c
}

func (t *Tree) Size() uint64 { return uint64(len(t.levels[0])) }

// Append adds leaf and returns its position.
func (t *Tree) Append(leaf fr.Element) (uint32, error) {
	if t.Size() >= uint64(1)<<uint(t.depth) {
		return 0, ErrTreeFull
	}
	pos := uint32(len(t.levels[0]))
	t.levels[0] = append(t.levels[0], leaf)

	idx := uint64(pos)
	cur := leaf
	for i := 0; i < t.depth; i++ {
		var parent fr.Element
		if idx&1 == 0 {
			parent = hashNode(cur, t.node(i, idx+1))
		} else {
			parent = hashNode(t.node(i, idx-1), cur)
		}
		idx >>= 1
		if idx < uint64(len(t.levels[i+1])) {
			t.levels[i+1][idx] = parent
		} else {
			t.levels[i+1] = append(t.levels[i+1], parent)
		}
		cur = parent
	}
	return pos, nil
}

func (t *Tree) node(level int, idx uint64) fr.Element {
	if idx < uint64(len(t.levels[level])) {
		return t.levels[level][idx]
	}
	return t.empty[level]
}

func (t *Tree) Root() Anchor {
	return AnchorFromElement(t.node(t.depth, 0))
}

func (t *Tree) Leaf(pos uint32) (fr.Element, error) {
	if uint64(pos) >= t.Size() {
		return fr.Element{}, ErrInvalidPosition
	}
	return t.levels[0][pos], nil
}

// Path returns the authentication path of pos against the current root.
func (t *Tree) Path(pos uint32) (*MerklePath, error) {
	if uint64(pos) >= t.Size() {
		return nil, errors.Wrapf(ErrInvalidPosition, "position %d, size %d", pos, t.Size())
	}
	p := &MerklePath{Position: pos, AuthPath: make([]fr.Element, t.depth)}
	idx := uint64(pos)
	for i := 0; i < t.depth; i++ {
		p.AuthPath[i] = t.node(i, idx^1)
		idx >>= 1
	}
	return p, nil
}
