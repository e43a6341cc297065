package circuit

import (
	"bytes"
	"encoding/hex"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/frontend"
	"github.com/pkg/errors"

	"github.com/kysee/orchard/types"
)

// ActionCalldata is one Action proof laid out for PlonkVerifier.sol.
type ActionCalldata struct {
	Proof        string   `json:"proof"`
	PublicInputs []string `json:"publicInputs"`
}

type solidityProof interface {
	MarshalSolidity() []byte
}

// SolidityCalldata splits an aggregate proof into per-Action calldata for
// the verifier written by ExportSolidity. Public inputs follow the field
// order of ActionCircuit.
func (ps *ProvingSystem) SolidityCalldata(proof []byte, pub types.PublicInputs) ([]ActionCalldata, error) {
	proofs, err := splitProofs(proof)
	if err != nil {
		return nil, errors.Wrap(types.ErrProofInvalid, err.Error())
	}
	if len(proofs) != len(pub.Actions) {
		return nil, errors.Wrapf(types.ErrProofInvalid, "%d proofs for %d actions", len(proofs), len(pub.Actions))
	}

	out := make([]ActionCalldata, len(proofs))
	for i, bz := range proofs {
		p := plonk.NewProof(ecc.BN254)
		if _, err := p.ReadFrom(bytes.NewReader(bz)); err != nil {
			return nil, errors.Wrapf(types.ErrProofInvalid, "action %d: %v", i, err)
		}
		sp, ok := p.(solidityProof)
		if !ok {
			return nil, errors.New("proof type has no solidity encoding")
		}

		assignment, err := assignPublic(&pub.Actions[i], pub.ValueBalance, ps.depth)
		if err != nil {
			return nil, err
		}
		wtn, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
		if err != nil {
			return nil, errors.Wrapf(err, "action %d public witness", i)
		}
		vec, ok := wtn.Vector().(fr.Vector)
		if !ok {
			return nil, errors.New("unexpected public witness type")
		}
		inputs := make([]string, len(vec))
		for j := range vec {
			e := vec[j].Bytes()
			inputs[j] = "0x" + hex.EncodeToString(e[:])
		}
		out[i] = ActionCalldata{Proof: "0x" + hex.EncodeToString(sp.MarshalSolidity()), PublicInputs: inputs}
	}
	return out, nil
}
