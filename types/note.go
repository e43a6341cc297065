package types

import (
	"encoding/hex"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/pkg/errors"

	"github.com/kysee/orchard/crypto"
	"github.com/kysee/orchard/utils"
)

// MiMC domain tags. The circuit writes the same constants first.
const (
	DomainNoteCommit uint64 = 1
	DomainNullifier  uint64 = 2
	DomainIvk        uint64 = 3
)

// MaxNoteValue is the largest value a single note may carry.
const MaxNoteValue uint64 = 2_100_000_000_000_000

type NoteValue uint64

func NewNoteValue(v uint64) (NoteValue, error) {
	if v > MaxNoteValue {
		return 0, validationf("note value %d exceeds maximum %d", v, MaxNoteValue)
	}
	return NoteValue(v), nil
}

func (v NoteValue) Uint64() uint64 { return uint64(v) }

// Nullifier is a canonical field element revealed when a note is spent.
type Nullifier [32]byte

func NullifierFromBytes(bz [32]byte) (Nullifier, error) {
	if _, err := utils.ElementFromCanonical(bz); err != nil {
		return Nullifier{}, validationf("non-canonical nullifier")
	}
	return Nullifier(bz), nil
}

func nullifierFromElement(e fr.Element) Nullifier { return Nullifier(e.Bytes()) }

// RandomNullifier is used as rho for notes with no predecessor.
func RandomNullifier(rng io.Reader) (Nullifier, error) {
	for {
		bz, err := utils.ReadRand(rng, 64)
		if err != nil {
			return Nullifier{}, errors.Wrap(err, "reading randomness")
		}
		e := utils.ToElement(bz)
		if !e.IsZero() {
			return nullifierFromElement(e), nil
		}
	}
}

func (nf Nullifier) Element() fr.Element { return utils.ToElement(nf[:]) }

func (nf Nullifier) IsZero() bool { return nf == Nullifier{} }

func (nf Nullifier) String() string { return hex.EncodeToString(nf[:]) }

// NoteCommitment is the extracted (field element) note commitment.
type NoteCommitment [32]byte

func NoteCommitmentFromBytes(bz [32]byte) (NoteCommitment, error) {
	if _, err := utils.ElementFromCanonical(bz); err != nil {
		return NoteCommitment{}, validationf("non-canonical note commitment")
	}
	return NoteCommitment(bz), nil
}

func (cm NoteCommitment) Element() fr.Element { return utils.ToElement(cm[:]) }

func (cm NoteCommitment) String() string { return hex.EncodeToString(cm[:]) }

type RandomSeed [32]byte

// Note is immutable once constructed.
type Note struct {
	recipient Address
	value     NoteValue
	rho       Nullifier
	rseed     RandomSeed
}

// NewNote validates value and rho. rseed must not derive a zero ephemeral key.
func NewNote(recipient Address, value uint64, rho Nullifier, rseed RandomSeed) (*Note, error) {
	v, err := NewNoteValue(value)
	if err != nil {
		return nil, err
	}
	if rho.IsZero() {
		return nil, validationf("note rho is not set")
	}
	if _, err := NullifierFromBytes(rho); err != nil {
		return nil, err
	}
	n := &Note{recipient: recipient, value: v, rho: rho, rseed: rseed}
	if n.Esk().Sign() == 0 {
		return nil, validationf("random seed yields zero ephemeral key")
	}
	return n, nil
}

// NewRandomNote samples rseed.
func NewRandomNote(rng io.Reader, recipient Address, value uint64, rho Nullifier) (*Note, error) {
	if _, err := NewNoteValue(value); err != nil {
		return nil, err
	}
	if rho.IsZero() {
		return nil, validationf("note rho is not set")
	}
	if _, err := NullifierFromBytes(rho); err != nil {
		return nil, err
	}
	for {
		bz, err := utils.ReadRand(rng, 32)
		if err != nil {
			return nil, errors.Wrap(err, "reading randomness")
		}
		var rseed RandomSeed
		copy(rseed[:], bz)
		// only a zero ephemeral key can fail here
		if n, err := NewNote(recipient, value, rho, rseed); err == nil {
			return n, nil
		}
	}
}

func (n *Note) Recipient() Address { return n.recipient }

func (n *Note) Value() NoteValue { return n.value }

func (n *Note) Rho() Nullifier { return n.rho }

func (n *Note) RSeed() RandomSeed { return n.rseed }

func (n *Note) prf(t byte) [64]byte {
	return utils.PRFExpand(n.rseed[:], []byte{t}, n.rho[:])
}

func (n *Note) Psi() fr.Element {
	out := n.prf(0x09)
	return utils.ToElement(out[:])
}

func (n *Note) Rcm() fr.Element {
	out := n.prf(0x05)
	return utils.ToElement(out[:])
}

// Esk is the ephemeral secret used to encrypt this note.
func (n *Note) Esk() *big.Int {
	out := n.prf(0x04)
	return crypto.ScalarFromWide(out[:])
}

// Commitment is MiMC(g_d, pk_d, v, rho, psi, rcm) under the commitment domain.
func (n *Note) Commitment() (NoteCommitment, error) {
	if uint64(n.value) > MaxNoteValue {
		return NoteCommitment{}, validationf("note value %d exceeds maximum", n.value)
	}
	gd, pkd := n.recipient.gd, n.recipient.pkd
	cm := utils.HashElements(
		fr.NewElement(DomainNoteCommit),
		gd.X, gd.Y, pkd.X, pkd.Y,
		fr.NewElement(uint64(n.value)),
		n.rho.Element(), n.Psi(), n.Rcm(),
	)
	return NoteCommitment(cm.Bytes()), nil
}

// Nullifier is MiMC(nk, rho, psi, cm) under the nullifier domain.
func (n *Note) Nullifier(fvk *FullViewingKey) (Nullifier, error) {
	if n.rho.IsZero() {
		return Nullifier{}, validationf("note rho is not set")
	}
	cm, err := n.Commitment()
	if err != nil {
		return Nullifier{}, err
	}
	nf := utils.HashElements(
		fr.NewElement(DomainNullifier),
		fvk.nk, n.rho.Element(), n.Psi(), cm.Element(),
	)
	return nullifierFromElement(nf), nil
}

// DummySpend returns a fresh key and a zero value note it owns.
func DummySpend(rng io.Reader) (*SpendingKey, *Note, error) {
	sk, err := NewSpendingKey(rng)
	if err != nil {
		return nil, nil, err
	}
	rho, err := RandomNullifier(rng)
	if err != nil {
		return nil, nil, err
	}
	n, err := NewRandomNote(rng, sk.FullViewingKey().Address(0), 0, rho)
	if err != nil {
		return nil, nil, err
	}
	return sk, n, nil
}

// DummyRecipient is an address nobody holds keys for after the call returns.
func DummyRecipient(rng io.Reader) (Address, error) {
	sk, err := NewSpendingKey(rng)
	if err != nil {
		return Address{}, err
	}
	return sk.FullViewingKey().Address(0), nil
}
