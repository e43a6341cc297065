package types

import (
	crand "crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func sealTestOutput(t *testing.T, ovk *OutgoingViewingKey, n *Note, memo Memo, rho Nullifier) *ShieldedOutput {
	rcv, err := RandomTrapdoor(crand.Reader)
	require.NoError(t, err)
	cv := CommitValue(NetValue(n.Value(), 0), rcv)
	cmx, err := n.Commitment()
	require.NoError(t, err)

	ne := NewNoteEncryption(ovk, n, memo)
	enc, err := ne.EncryptNotePlaintext()
	require.NoError(t, err)
	out, err := ne.EncryptOutgoingPlaintext(crand.Reader, cv, cmx)
	require.NoError(t, err)

	return &ShieldedOutput{
		Rho:           rho,
		Cmx:           cmx,
		Epk:           ne.EphemeralKey(),
		CvNet:         cv,
		EncCiphertext: enc,
		OutCiphertext: out,
	}
}

func TestNoteEncryptionRoundTrip(t *testing.T) {
	sender := newTestKey(t).FullViewingKey()
	recipient := newTestKey(t).FullViewingKey()
	addr := recipient.Address(3)
	n := newTestNote(t, addr, 1234)
	memo, err := MemoFromBytes([]byte("thanks for lunch"))
	require.NoError(t, err)

	so := sealTestOutput(t, sender.OutgoingViewingKey(), n, memo, n.Rho())

	got, gotAddr, gotMemo, err := TryNoteDecryption(recipient.IncomingViewingKey(), so)
	require.NoError(t, err)
	require.True(t, gotAddr.Equal(addr))
	require.Equal(t, memo, gotMemo)
	require.Equal(t, n.Value(), got.Value())
	require.Equal(t, n.Rho(), got.Rho())
	require.Equal(t, n.RSeed(), got.RSeed())
	require.Equal(t, encodePlaintext(n, &memo), encodePlaintext(got, &gotMemo))

	// sender side recovery
	rec, recAddr, recMemo, err := TryOutputRecovery(sender.OutgoingViewingKey(), so)
	require.NoError(t, err)
	require.True(t, recAddr.Equal(addr))
	require.Equal(t, memo, recMemo)
	require.Equal(t, n.RSeed(), rec.RSeed())
}

func TestDecryptionWithWrongKeyFails(t *testing.T) {
	recipient := newTestKey(t).FullViewingKey()
	n := newTestNote(t, recipient.Address(0), 99)
	so := sealTestOutput(t, nil, n, Memo{}, n.Rho())

	stranger := newTestKey(t).FullViewingKey()
	for i := 0; i < 3; i++ {
		_, _, _, err := TryNoteDecryption(stranger.IncomingViewingKey(), so)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	}

	// no ovk means nobody can recover from the out ciphertext
	_, _, _, err := TryOutputRecovery(recipient.OutgoingViewingKey(), so)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptionBindsPublicData(t *testing.T) {
	recipient := newTestKey(t).FullViewingKey()
	n := newTestNote(t, recipient.Address(0), 7)
	ivk := recipient.IncomingViewingKey()

	so := sealTestOutput(t, nil, n, Memo{}, n.Rho())
	_, _, _, err := TryNoteDecryption(ivk, so)
	require.NoError(t, err)

	wrongRho := *so
	wrongRho.Rho, err = RandomNullifier(crand.Reader)
	require.NoError(t, err)
	_, _, _, err = TryNoteDecryption(ivk, &wrongRho)
	require.ErrorIs(t, err, ErrDecryptionFailed)

	wrongCm := *so
	wrongCm.Cmx[31] ^= 0x01
	_, _, _, err = TryNoteDecryption(ivk, &wrongCm)
	require.ErrorIs(t, err, ErrDecryptionFailed)

	tampered := *so
	tampered.EncCiphertext[10] ^= 0x01
	_, _, _, err = TryNoteDecryption(ivk, &tampered)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestCiphertextSizes(t *testing.T) {
	require.Equal(t, 596, NotePlaintextSize)
	require.Equal(t, 612, EncCiphertextSize)
	require.Equal(t, 80, OutCiphertextSize)

	_, err := MemoFromBytes(make([]byte, MemoSize+1))
	require.ErrorIs(t, err, ErrValidation)
}
