package bundle

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/kysee/orchard/crypto"
	"github.com/kysee/orchard/tree"
	"github.com/kysee/orchard/types"
)

// EncodingVersion is bumped on any change of field order or width.
const EncodingVersion byte = 1

// Canonical layout of one encoded Action.
const (
	OffsetNf            = 0
	OffsetCmx           = OffsetNf + 32
	OffsetEpk           = OffsetCmx + 32
	OffsetEncCiphertext = OffsetEpk + crypto.PointSize
	OffsetCvNet         = OffsetEncCiphertext + types.EncCiphertextSize
	OffsetOutCiphertext = OffsetCvNet + crypto.PointSize
	OffsetRk            = OffsetOutCiphertext + types.OutCiphertextSize
	OffsetSpendAuthSig  = OffsetRk + crypto.PointSize
	ActionSize          = OffsetSpendAuthSig + crypto.SignatureSize

	// HeaderSize is the version byte and the little endian Action count.
	HeaderSize = 1 + 4

	maxActions = 1 << 16
)

// ActionOffset is where the i-th Action starts in an encoded bundle.
func ActionOffset(i int) int { return HeaderSize + i*ActionSize }

func (a *Action) encodeEffects(buf *bytes.Buffer) {
	cv := a.CvNet.Bytes()
	rk := a.Rk.Bytes()
	buf.Write(a.Nf[:])
	buf.Write(a.Cmx[:])
	buf.Write(a.Epk[:])
	buf.Write(a.EncCiphertext[:])
	buf.Write(cv[:])
	buf.Write(a.OutCiphertext[:])
	buf.Write(rk[:])
}

func (b *Bundle) encodeTrailer(buf *bytes.Buffer) {
	buf.WriteByte(b.flags.Byte())
	buf.Write(b.anchor[:])
}

// Encode serializes
//
//	version || u32 n || n * (nf cmx epk enc cv out rk sig) ||
//	flags || anchor || u32 len || proof || i64 valueBalance || bindingSig
//
// with all integers little endian.
func (a *Authorized) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(a.actions)*ActionSize+len(a.proof)+128))
	buf.WriteByte(EncodingVersion)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(a.actions)))
	for i := range a.actions {
		a.actions[i].encodeEffects(buf)
		buf.Write(a.spendAuthSigs[i][:])
	}
	a.encodeTrailer(buf)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(a.proof)))
	buf.Write(a.proof)
	_ = binary.Write(buf, binary.LittleEndian, a.valueBalance)
	buf.Write(a.bindingSig[:])
	return buf.Bytes()
}

// encodeEffects serializes the Bundle without authorizing data; used by the
// partially authorized interchange format.
func (b *Bundle) encodeEffects() []byte {
	buf := bytes.NewBuffer(nil)
	buf.WriteByte(EncodingVersion)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(b.actions)))
	for i := range b.actions {
		b.actions[i].encodeEffects(buf)
	}
	b.encodeTrailer(buf)
	_ = binary.Write(buf, binary.LittleEndian, b.valueBalance)
	return buf.Bytes()
}

type decoder struct {
	r   *bytes.Reader
	err error
}

func (d *decoder) read(p []byte) {
	if d.err != nil {
		return
	}
	if _, err := io.ReadFull(d.r, p); err != nil {
		d.err = errors.Wrap(types.ErrValidation, "truncated bundle encoding")
	}
}

func (d *decoder) fail(err error) {
	if d.err != nil {
		return
	}
	if errors.Is(err, types.ErrValidation) {
		d.err = err
		return
	}
	d.err = errors.Wrap(types.ErrValidation, err.Error())
}

func (d *decoder) header() int {
	var ver [1]byte
	d.read(ver[:])
	if d.err == nil && ver[0] != EncodingVersion {
		d.fail(errors.Errorf("unsupported encoding version %d", ver[0]))
	}
	var n [4]byte
	d.read(n[:])
	count := binary.LittleEndian.Uint32(n[:])
	if d.err == nil && (count == 0 || count > maxActions) {
		d.fail(errors.Errorf("invalid action count %d", count))
	}
	return int(count)
}

func (d *decoder) action() Action {
	var a Action
	var nf, cmx, cv, rk [32]byte
	d.read(nf[:])
	d.read(cmx[:])
	d.read(a.Epk[:])
	d.read(a.EncCiphertext[:])
	d.read(cv[:])
	d.read(a.OutCiphertext[:])
	d.read(rk[:])
	if d.err != nil {
		return a
	}
	var err error
	if a.Nf, err = types.NullifierFromBytes(nf); err != nil {
		d.fail(err)
	}
	if a.Cmx, err = types.NoteCommitmentFromBytes(cmx); err != nil {
		d.fail(err)
	}
	if _, err = a.Epk.Point(); err != nil {
		d.fail(errors.Wrap(err, "ephemeral key"))
	}
	if a.CvNet, err = types.ValueCommitmentFromBytes(cv); err != nil {
		d.fail(err)
	}
	if a.Rk, err = crypto.VerificationKeyFromBytes(crypto.SpendAuth, rk); err != nil {
		d.fail(errors.Wrap(err, "rk"))
	}
	return a
}

func (d *decoder) trailer() (Flags, tree.Anchor) {
	var fb [1]byte
	var anchor tree.Anchor
	d.read(fb[:])
	d.read(anchor[:])
	if d.err != nil {
		return Flags{}, anchor
	}
	flags, err := FlagsFromByte(fb[0])
	if err != nil {
		d.fail(err)
	}
	if _, err := anchor.Element(); err != nil {
		d.fail(errors.New("non-canonical anchor"))
	}
	return flags, anchor
}

func (d *decoder) valueBalance() int64 {
	var bz [8]byte
	d.read(bz[:])
	return int64(binary.LittleEndian.Uint64(bz[:]))
}

func (d *decoder) done() {
	if d.err == nil && d.r.Len() != 0 {
		d.fail(errors.New("trailing bytes"))
	}
}

// DecodeAuthorized parses an encoding produced by Encode. Points and field
// elements are checked for canonical form; signatures and the proof are not
// verified.
func DecodeAuthorized(bz []byte) (*Authorized, error) {
	d := &decoder{r: bytes.NewReader(bz)}
	n := d.header()
	if d.err != nil {
		return nil, d.err
	}
	if n > len(bz)/ActionSize {
		return nil, errors.Wrap(types.ErrValidation, "action count exceeds encoding length")
	}
	actions := make([]Action, n)
	sigs := make([]crypto.Signature, n)
	for i := 0; i < n; i++ {
		actions[i] = d.action()
		d.read(sigs[i][:])
	}
	flags, anchor := d.trailer()

	var l [4]byte
	d.read(l[:])
	plen := binary.LittleEndian.Uint32(l[:])
	if d.err == nil && uint64(plen) > uint64(d.r.Len()) {
		d.fail(errors.New("proof length exceeds encoding"))
	}
	var proof []byte
	if d.err == nil {
		proof = make([]byte, plen)
		d.read(proof)
	}
	vb := d.valueBalance()
	var bindingSig crypto.Signature
	d.read(bindingSig[:])
	d.done()
	if d.err != nil {
		return nil, d.err
	}

	b, err := newBundle(actions, flags, vb, anchor)
	if err != nil {
		return nil, err
	}
	return &Authorized{Bundle: b, proof: proof, spendAuthSigs: sigs, bindingSig: bindingSig}, nil
}

func decodeEffects(bz []byte) (Bundle, error) {
	d := &decoder{r: bytes.NewReader(bz)}
	n := d.header()
	if d.err != nil {
		return Bundle{}, d.err
	}
	if n > len(bz)/(ActionSize-crypto.SignatureSize) {
		return Bundle{}, errors.Wrap(types.ErrValidation, "action count exceeds encoding length")
	}
	actions := make([]Action, n)
	for i := 0; i < n; i++ {
		actions[i] = d.action()
	}
	flags, anchor := d.trailer()
	vb := d.valueBalance()
	d.done()
	if d.err != nil {
		return Bundle{}, d.err
	}
	return newBundle(actions, flags, vb, anchor)
}
