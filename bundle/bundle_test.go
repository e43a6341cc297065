package bundle_test

import (
	crand "crypto/rand"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/kysee/orchard/builder"
	"github.com/kysee/orchard/bundle"
	"github.com/kysee/orchard/crypto"
	"github.com/kysee/orchard/tree"
	"github.com/kysee/orchard/types"
)

const testDepth = 4

var allEnabled = bundle.Flags{SpendsEnabled: true, OutputsEnabled: true}

// stubProver records the statement it was asked to prove.
type stubProver struct {
	fail bool
	pub  types.PublicInputs
}

func (p *stubProver) Prove(witnesses []types.ActionWitness, pub types.PublicInputs) ([]byte, error) {
	if p.fail {
		return nil, errors.New("backend unavailable")
	}
	p.pub = pub
	return []byte{0xde, 0xad, 0xbe, 0xef}, nil
}

type spendFixture struct {
	sk     *types.SpendingKey
	note   *types.Note
	path   *tree.MerklePath
	anchor tree.Anchor
}

func newSpend(t *testing.T, value uint64) *spendFixture {
	sk, err := types.NewSpendingKey(crand.Reader)
	require.NoError(t, err)
	rho, err := types.RandomNullifier(crand.Reader)
	require.NoError(t, err)
	note, err := types.NewRandomNote(crand.Reader, sk.FullViewingKey().Address(0), value, rho)
	require.NoError(t, err)
	cm, err := note.Commitment()
	require.NoError(t, err)

	tr := tree.New(testDepth)
	var e fr.Element
	_, _ = e.SetRandom()
	_, err = tr.Append(e)
	require.NoError(t, err)
	pos, err := tr.Append(cm.Element())
	require.NoError(t, err)
	path, err := tr.Path(pos)
	require.NoError(t, err)
	return &spendFixture{sk: sk, note: note, path: path, anchor: tr.Root()}
}

// newUnauthorized spends 10 and pays 7 to a fresh address, padded to two Actions.
func newUnauthorized(t *testing.T) (*bundle.Unauthorized, *spendFixture) {
	s := newSpend(t, 10)
	to, err := types.NewSpendingKey(crand.Reader)
	require.NoError(t, err)

	b := builder.NewBuilder(allEnabled, s.anchor, builder.WithTreeDepth(testDepth), builder.WithMinActions(2))
	require.NoError(t, b.AddSpend(s.sk.FullViewingKey(), s.note, s.path))
	require.NoError(t, b.AddOutput(s.sk.FullViewingKey().OutgoingViewingKey(), to.FullViewingKey().Address(0), 7, nil))
	u, err := b.Build(crand.Reader)
	require.NoError(t, err)
	return u, s
}

func TestFlagsByte(t *testing.T) {
	for b := byte(0); b < 4; b++ {
		f, err := bundle.FlagsFromByte(b)
		require.NoError(t, err)
		require.Equal(t, b, f.Byte())
	}
	_, err := bundle.FlagsFromByte(0x04)
	require.True(t, errors.Is(err, types.ErrValidation))
}

func TestAuthorizationStates(t *testing.T) {
	u, s := newUnauthorized(t)
	require.Equal(t, 2, u.NumActions())
	require.Equal(t, int64(-3), u.ValueBalance())

	prover := &stubProver{}
	proven, err := u.Prove(prover)
	require.NoError(t, err)
	require.Len(t, prover.pub.Actions, 2)
	require.Equal(t, int64(-3), prover.pub.ValueBalance)
	for i, inst := range prover.pub.Actions {
		require.Equal(t, u.Action(i).Nf, inst.Nf)
		require.Equal(t, u.Anchor(), inst.Anchor)
	}

	sighash := proven.Commitment()
	partial, err := proven.PrepareSign(crand.Reader, sighash)
	require.NoError(t, err)

	// only the real spend is left for the owner to sign
	require.Len(t, partial.MissingSignatures(), 1)
	_, err = partial.Finalize()
	require.True(t, errors.Is(err, types.ErrMissingSignatures))

	other, err := types.NewSpendingKey(crand.Reader)
	require.NoError(t, err)
	n, err := partial.Sign(crand.Reader, other.SpendAuthorizingKey())
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = partial.Sign(crand.Reader, s.sk.SpendAuthorizingKey())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, partial.MissingSignatures())

	auth, err := partial.Finalize()
	require.NoError(t, err)
	for i := 0; i < auth.NumActions(); i++ {
		a := auth.Action(i)
		require.NoError(t, a.Rk.Verify(sighash[:], auth.SpendAuthSignature(i)))
	}
	bsig := auth.BindingSignature()
	require.NoError(t, auth.BindingValidatingKey().Verify(sighash[:], bsig))
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, auth.Proof())
}

func TestProveFailureIsRetryable(t *testing.T) {
	u, _ := newUnauthorized(t)
	_, err := u.Prove(&stubProver{fail: true})
	require.True(t, errors.Is(err, types.ErrProving))

	_, err = u.Prove(&stubProver{})
	require.NoError(t, err)
}

func TestAppendSignature(t *testing.T) {
	u, s := newUnauthorized(t)
	proven, err := u.Prove(&stubProver{})
	require.NoError(t, err)
	sighash := proven.Commitment()
	partial, err := proven.PrepareSign(crand.Reader, sighash)
	require.NoError(t, err)

	missing := partial.MissingSignatures()
	require.Len(t, missing, 1)
	i := missing[0]

	// signature under the wrong message
	alpha, err := partial.Alpha(i)
	require.NoError(t, err)
	rsk := s.sk.SpendAuthorizingKey().Randomize(alpha)
	bad, err := rsk.Sign(crand.Reader, []byte("another message"))
	require.NoError(t, err)
	err = partial.AppendSignature(i, bad)
	var sigErr *types.SignatureError
	require.True(t, errors.As(err, &sigErr))
	require.Equal(t, i, sigErr.Index)
	require.True(t, errors.Is(err, types.ErrSignatureInvalid))
	require.Len(t, partial.MissingSignatures(), 1)

	good, err := rsk.Sign(crand.Reader, sighash[:])
	require.NoError(t, err)
	require.NoError(t, partial.AppendSignature(i, good))
	_, err = partial.Finalize()
	require.NoError(t, err)

	require.True(t, errors.Is(partial.AppendSignature(5, good), types.ErrValidation))
	_, err = partial.Alpha(5)
	require.True(t, errors.Is(err, types.ErrValidation))
	_, err = partial.Alpha(-1)
	require.True(t, errors.Is(err, types.ErrValidation))
}

func TestSignRejectsMissingKey(t *testing.T) {
	u, _ := newUnauthorized(t)
	proven, err := u.Prove(&stubProver{})
	require.NoError(t, err)
	partial, err := proven.PrepareSign(crand.Reader, proven.Commitment())
	require.NoError(t, err)

	n, err := partial.Sign(crand.Reader, nil)
	require.True(t, errors.Is(err, types.ErrValidation))
	require.Zero(t, n)
	require.Len(t, partial.MissingSignatures(), 1)
}

func TestApplySignatures(t *testing.T) {
	u, s := newUnauthorized(t)
	auth, err := u.ApplySignatures(crand.Reader, &stubProver{}, u.Commitment(), s.sk.SpendAuthorizingKey())
	require.NoError(t, err)
	require.Equal(t, u.Commitment(), auth.Commitment())

	_, err = u.ApplySignatures(crand.Reader, &stubProver{}, u.Commitment())
	require.True(t, errors.Is(err, types.ErrMissingSignatures))
}

func TestCommitmentExcludesAuthorization(t *testing.T) {
	u, s := newUnauthorized(t)
	a1, err := u.ApplySignatures(crand.Reader, &stubProver{}, u.Commitment(), s.sk.SpendAuthorizingKey())
	require.NoError(t, err)
	a2, err := u.ApplySignatures(crand.Reader, &stubProver{}, u.Commitment(), s.sk.SpendAuthorizingKey())
	require.NoError(t, err)

	require.Equal(t, a1.Commitment(), a2.Commitment())
	// fresh signing randomness
	require.NotEqual(t, a1.AuthorizingCommitment(), a2.AuthorizingCommitment())
}

func TestEncodeDecodeAuthorized(t *testing.T) {
	u, s := newUnauthorized(t)
	auth, err := u.ApplySignatures(crand.Reader, &stubProver{}, u.Commitment(), s.sk.SpendAuthorizingKey())
	require.NoError(t, err)

	bz := auth.Encode()
	dec, err := bundle.DecodeAuthorized(bz)
	require.NoError(t, err)
	require.Equal(t, bz, dec.Encode())
	require.Equal(t, auth.Commitment(), dec.Commitment())
	require.Equal(t, auth.AuthorizingCommitment(), dec.AuthorizingCommitment())
	require.Equal(t, auth.Nullifiers(), dec.Nullifiers())

	_, err = bundle.DecodeAuthorized(bz[:len(bz)-1])
	require.True(t, errors.Is(err, types.ErrValidation))
	_, err = bundle.DecodeAuthorized(append(append([]byte(nil), bz...), 0))
	require.True(t, errors.Is(err, types.ErrValidation))

	// a nullifier outside the field is not canonical
	bad := append([]byte(nil), bz...)
	for j := 0; j < 32; j++ {
		bad[bundle.ActionOffset(0)+bundle.OffsetNf+j] = 0xff
	}
	_, err = bundle.DecodeAuthorized(bad)
	require.True(t, errors.Is(err, types.ErrValidation))

	bad = append([]byte(nil), bz...)
	bad[0] = bundle.EncodingVersion + 1
	_, err = bundle.DecodeAuthorized(bad)
	require.True(t, errors.Is(err, types.ErrValidation))
}

func TestPartialRLPRoundTrip(t *testing.T) {
	u, s := newUnauthorized(t)
	proven, err := u.Prove(&stubProver{})
	require.NoError(t, err)
	partial, err := proven.PrepareSign(crand.Reader, proven.Commitment())
	require.NoError(t, err)

	bz, err := partial.MarshalRLP()
	require.NoError(t, err)
	dec, err := bundle.DecodePartial(bz)
	require.NoError(t, err)
	require.Equal(t, partial.MissingSignatures(), dec.MissingSignatures())
	require.Equal(t, partial.SigHash(), dec.SigHash())
	require.Equal(t, partial.Commitment(), dec.Commitment())

	// the remote signer completes the bundle
	n, err := dec.Sign(crand.Reader, s.sk.SpendAuthorizingKey())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	auth, err := dec.Finalize()
	require.NoError(t, err)
	require.Equal(t, proven.Proof(), auth.Proof())

	_, err = bundle.DecodePartial(bz[:len(bz)-3])
	require.True(t, errors.Is(err, types.ErrValidation))
}

func TestNewUnauthorizedRejectsImbalance(t *testing.T) {
	u, _ := newUnauthorized(t)
	witnesses := u.Witnesses()
	spendAuth := make([]bundle.SpendAuth, u.NumActions())
	bsk := types.ZeroTrapdoor()
	for i := range witnesses {
		spendAuth[i] = bundle.SpendAuth{Alpha: witnesses[i].Alpha}
		bsk = bsk.Add(witnesses[i].Rcv)
	}

	_, err := bundle.NewUnauthorized(u.Actions(), u.Flags(), u.ValueBalance(), u.Anchor(), witnesses, spendAuth, bsk)
	require.NoError(t, err)

	_, err = bundle.NewUnauthorized(u.Actions(), u.Flags(), u.ValueBalance()+1, u.Anchor(), witnesses, spendAuth, bsk)
	require.True(t, errors.Is(err, types.ErrValidation))

	extra, err := types.RandomTrapdoor(crand.Reader)
	require.NoError(t, err)
	_, err = bundle.NewUnauthorized(u.Actions(), u.Flags(), u.ValueBalance(), u.Anchor(), witnesses, spendAuth, bsk.Add(extra))
	require.True(t, errors.Is(err, types.ErrValidation))

	_, err = bundle.NewUnauthorized(nil, u.Flags(), 0, u.Anchor(), nil, nil, bsk)
	require.True(t, errors.Is(err, types.ErrValidation))
}

func TestActionOutputCarriesRho(t *testing.T) {
	u, _ := newUnauthorized(t)
	a := u.Action(0)
	out := a.Output()
	require.Equal(t, a.Nf, out.Rho)
	require.Equal(t, a.Cmx, out.Cmx)
	require.Equal(t, crypto.PointSize, len(a.Epk))

	// Output works on the Action value directly
	require.Equal(t, out, u.Action(0).Output())
}
