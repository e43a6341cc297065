package bundle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/kysee/orchard/crypto"
	"github.com/kysee/orchard/types"
)

// partialRLP is the interchange form handed to external spend signers.
// Missing signatures are empty byte strings.
type partialRLP struct {
	Effects    []byte
	Proof      []byte
	BindingSig []byte
	SigHash    []byte
	Alphas     [][]byte
	Sigs       [][]byte
}

// MarshalRLP encodes the bundle so that another party can add signatures.
func (p *PartiallyAuthorized) MarshalRLP() ([]byte, error) {
	enc := partialRLP{
		Effects:    p.encodeEffects(),
		Proof:      p.proof,
		BindingSig: p.bindingSig[:],
		SigHash:    p.sighash[:],
		Alphas:     make([][]byte, len(p.alphas)),
		Sigs:       make([][]byte, len(p.sigs)),
	}
	for i, a := range p.alphas {
		bz := crypto.EncodeScalar(a)
		enc.Alphas[i] = bz[:]
	}
	for i, s := range p.sigs {
		if s != nil {
			enc.Sigs[i] = append([]byte(nil), s[:]...)
		} else {
			enc.Sigs[i] = []byte{}
		}
	}
	bz, err := rlp.EncodeToBytes(&enc)
	if err != nil {
		return nil, errors.Wrap(err, "rlp encoding partially authorized bundle")
	}
	return bz, nil
}

// DecodePartial rebuilds a partially authorized bundle. Every signature
// present is verified.
func DecodePartial(bz []byte) (*PartiallyAuthorized, error) {
	var dec partialRLP
	if err := rlp.DecodeBytes(bz, &dec); err != nil {
		return nil, errors.Wrap(types.ErrValidation, err.Error())
	}
	b, err := decodeEffects(dec.Effects)
	if err != nil {
		return nil, err
	}
	n := b.NumActions()
	if len(dec.Alphas) != n || len(dec.Sigs) != n {
		return nil, errors.Wrap(types.ErrValidation, "signing data does not match actions")
	}
	if len(dec.BindingSig) != crypto.SignatureSize || len(dec.SigHash) != 32 {
		return nil, errors.Wrap(types.ErrValidation, "malformed binding data")
	}

	p := &PartiallyAuthorized{
		Bundle: b,
		proof:  dec.Proof,
		alphas: make([]*big.Int, n),
		sigs:   make([]*crypto.Signature, n),
	}
	copy(p.bindingSig[:], dec.BindingSig)
	copy(p.sighash[:], dec.SigHash)
	for i := 0; i < n; i++ {
		if len(dec.Alphas[i]) != crypto.ScalarSize {
			return nil, errors.Wrapf(types.ErrValidation, "alpha %d", i)
		}
		var abz [crypto.ScalarSize]byte
		copy(abz[:], dec.Alphas[i])
		alpha, err := crypto.DecodeScalar(abz)
		if err != nil {
			return nil, errors.Wrapf(types.ErrValidation, "alpha %d", i)
		}
		p.alphas[i] = alpha

		switch len(dec.Sigs[i]) {
		case 0:
		case crypto.SignatureSize:
			var sig crypto.Signature
			copy(sig[:], dec.Sigs[i])
			if err := p.AppendSignature(i, sig); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Wrapf(types.ErrValidation, "signature %d has length %d", i, len(dec.Sigs[i]))
		}
	}
	return p, nil
}
