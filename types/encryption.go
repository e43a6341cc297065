package types

import (
	"encoding/binary"
	"io"
	"math/big"

	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/pkg/errors"

	"github.com/kysee/orchard/crypto"
	"github.com/kysee/orchard/utils"
)

const (
	MemoSize          = 512
	NotePlaintextSize = 1 + DiversifierSize + 8 + 32 + 32 + MemoSize
	EncCiphertextSize = NotePlaintextSize + 16
	OutPlaintextSize  = crypto.PointSize + crypto.ScalarSize
	OutCiphertextSize = OutPlaintextSize + 16

	notePlaintextLead byte = 0x02
	outCiphKey             = "Orchard_OutCiph"
)

type Memo [MemoSize]byte

func MemoFromBytes(bz []byte) (Memo, error) {
	var m Memo
	if len(bz) > MemoSize {
		return m, validationf("memo is %d bytes, limit %d", len(bz), MemoSize)
	}
	copy(m[:], bz)
	return m, nil
}

// EphemeralKey is the encoded epk = [esk]g_d.
type EphemeralKey [crypto.PointSize]byte

func (k EphemeralKey) Point() (tedwards.PointAffine, error) {
	p, err := crypto.DecodePoint(k)
	if err != nil {
		return p, err
	}
	if crypto.IsIdentity(&p) {
		return p, crypto.ErrInvalidPoint
	}
	return p, nil
}

// ShieldedOutput is the public part of an Action needed to recover its note.
type ShieldedOutput struct {
	Rho           Nullifier
	Cmx           NoteCommitment
	Epk           EphemeralKey
	CvNet         ValueCommitment
	EncCiphertext [EncCiphertextSize]byte
	OutCiphertext [OutCiphertextSize]byte
}

// NoteEncryption seals one output note to its recipient.
type NoteEncryption struct {
	note *Note
	memo Memo
	ovk  *OutgoingViewingKey
	esk  *big.Int
	epk  tedwards.PointAffine
}

// NewNoteEncryption derives esk from the note. A nil ovk makes the output
// unrecoverable by the sender.
func NewNoteEncryption(ovk *OutgoingViewingKey, note *Note, memo Memo) *NoteEncryption {
	esk := note.Esk()
	gd := note.recipient.gd
	return &NoteEncryption{
		note: note,
		memo: memo,
		ovk:  ovk,
		esk:  esk,
		epk:  crypto.Mul(&gd, esk),
	}
}

func (ne *NoteEncryption) EphemeralKey() EphemeralKey {
	return EphemeralKey(crypto.EncodePoint(&ne.epk))
}

func (ne *NoteEncryption) EncryptNotePlaintext() ([EncCiphertextSize]byte, error) {
	var out [EncCiphertextSize]byte
	epk := ne.EphemeralKey()
	pkd := ne.note.recipient.pkd
	key, nonce, err := crypto.DeriveNoteKey(ne.esk, &pkd, epk[:])
	if err != nil {
		return out, errors.Wrap(err, "deriving note key")
	}
	ct, err := crypto.Seal(key, nonce, encodePlaintext(ne.note, &ne.memo), nil)
	if err != nil {
		return out, err
	}
	copy(out[:], ct)
	return out, nil
}

// EncryptOutgoingPlaintext seals pk_d || esk under the sender's ovk. Without
// an ovk the ciphertext is random bytes.
func (ne *NoteEncryption) EncryptOutgoingPlaintext(rng io.Reader, cv ValueCommitment, cmx NoteCommitment) ([OutCiphertextSize]byte, error) {
	var out [OutCiphertextSize]byte
	if ne.ovk == nil {
		bz, err := utils.ReadRand(rng, OutCiphertextSize)
		if err != nil {
			return out, errors.Wrap(err, "reading randomness")
		}
		copy(out[:], bz)
		return out, nil
	}
	epk := ne.EphemeralKey()
	ock := outgoingCipherKey(ne.ovk, cv, cmx, epk)

	pt := make([]byte, 0, OutPlaintextSize)
	pkd := crypto.EncodePoint(&ne.note.recipient.pkd)
	esk := crypto.EncodeScalar(ne.esk)
	pt = append(pt, pkd[:]...)
	pt = append(pt, esk[:]...)

	ct, err := crypto.Seal(ock[:], make([]byte, 12), pt, nil)
	if err != nil {
		return out, err
	}
	copy(out[:], ct)
	return out, nil
}

func outgoingCipherKey(ovk *OutgoingViewingKey, cv ValueCommitment, cmx NoteCommitment, epk EphemeralKey) [32]byte {
	cvBz := cv.Bytes()
	return utils.Blake2b256(outCiphKey, ovk[:], cvBz[:], cmx[:], epk[:])
}

func encodePlaintext(n *Note, memo *Memo) []byte {
	pt := make([]byte, 0, NotePlaintextSize)
	pt = append(pt, notePlaintextLead)
	pt = append(pt, n.recipient.d[:]...)
	pt = binary.LittleEndian.AppendUint64(pt, uint64(n.value))
	pt = append(pt, n.rho[:]...)
	pt = append(pt, n.rseed[:]...)
	pt = append(pt, memo[:]...)
	return pt
}

type notePlaintext struct {
	d     Diversifier
	value uint64
	rho   Nullifier
	rseed RandomSeed
	memo  Memo
}

func decodePlaintext(pt []byte) (*notePlaintext, bool) {
	if len(pt) != NotePlaintextSize || pt[0] != notePlaintextLead {
		return nil, false
	}
	np := &notePlaintext{}
	off := 1
	off += copy(np.d[:], pt[off:])
	np.value = binary.LittleEndian.Uint64(pt[off:])
	off += 8
	off += copy(np.rho[:], pt[off:off+32])
	off += copy(np.rseed[:], pt[off:off+32])
	copy(np.memo[:], pt[off:])
	return np, true
}

// TryNoteDecryption opens an output with an incoming viewing key. Every
// failure is reported as ErrDecryptionFailed.
func TryNoteDecryption(ivk *IncomingViewingKey, out *ShieldedOutput) (*Note, Address, Memo, error) {
	epk, err := out.Epk.Point()
	if err != nil {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	key, nonce, err := crypto.DeriveNoteKey(ivk.scalar(), &epk, out.Epk[:])
	if err != nil {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	pt, err := crypto.Open(key, nonce, out.EncCiphertext[:], nil)
	if err != nil {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	np, ok := decodePlaintext(pt)
	if !ok {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	return checkPlaintext(np, ivk.AddressFor(np.d), out)
}

// TryOutputRecovery lets the sender reopen an output it created with ovk.
func TryOutputRecovery(ovk *OutgoingViewingKey, out *ShieldedOutput) (*Note, Address, Memo, error) {
	ock := outgoingCipherKey(ovk, out.CvNet, out.Cmx, out.Epk)
	op, err := crypto.Open(ock[:], make([]byte, 12), out.OutCiphertext[:], nil)
	if err != nil || len(op) != OutPlaintextSize {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	var pkBz [crypto.PointSize]byte
	var eskBz [crypto.ScalarSize]byte
	copy(pkBz[:], op[:crypto.PointSize])
	copy(eskBz[:], op[crypto.PointSize:])
	pkd, err := crypto.DecodePoint(pkBz)
	if err != nil {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	esk, err := crypto.DecodeScalar(eskBz)
	if err != nil {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	key, nonce, err := crypto.DeriveNoteKey(esk, &pkd, out.Epk[:])
	if err != nil {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	pt, err := crypto.Open(key, nonce, out.EncCiphertext[:], nil)
	if err != nil {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	np, ok := decodePlaintext(pt)
	if !ok {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	addr, err := NewAddress(np.d, pkd)
	if err != nil {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	note, addr, memo, err := checkPlaintext(np, addr, out)
	if err != nil {
		return nil, Address{}, Memo{}, err
	}
	if note.Esk().Cmp(esk) != 0 {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	return note, addr, memo, nil
}

// checkPlaintext rebuilds the note and binds it to the public output data.
func checkPlaintext(np *notePlaintext, addr Address, out *ShieldedOutput) (*Note, Address, Memo, error) {
	if np.rho != out.Rho {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	note, err := NewNote(addr, np.value, np.rho, np.rseed)
	if err != nil {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	epk := NewNoteEncryption(nil, note, np.memo).EphemeralKey()
	if epk != out.Epk {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	cm, err := note.Commitment()
	if err != nil || cm != out.Cmx {
		return nil, Address{}, Memo{}, ErrDecryptionFailed
	}
	return note, addr, np.memo, nil
}
