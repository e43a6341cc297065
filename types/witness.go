package types

import (
	"math/big"

	"github.com/kysee/orchard/crypto"
	"github.com/kysee/orchard/tree"
)

// ActionWitness is the private input of one Action proof.
type ActionWitness struct {
	Path      *tree.MerklePath
	SpendNote *Note
	FVK       *FullViewingKey
	Alpha     *big.Int

	OutputNote *Note
	Rcv        ValueCommitTrapdoor
}

// Instance is the public input of one Action proof.
type Instance struct {
	Anchor        tree.Anchor
	CvNet         ValueCommitment
	Nf            Nullifier
	Rk            crypto.VerificationKey
	Cmx           NoteCommitment
	Epk           EphemeralKey
	EnableSpends  bool
	EnableOutputs bool
}

// PublicInputs covers every Action of a bundle, in bundle order, plus the
// declared net value balance.
type PublicInputs struct {
	Actions      []Instance
	ValueBalance int64
}
