package wallet

import (
	crand "crypto/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/kysee/orchard/circuit"
	"github.com/kysee/orchard/node"
	"github.com/kysee/orchard/types"
	"github.com/kysee/orchard/verifier"
)

const testDepth = 4

type acceptAll struct{}

func (acceptAll) Prove([]types.ActionWitness, types.PublicInputs) ([]byte, error) {
	return []byte("proof"), nil
}

func (acceptAll) Verify([]byte, types.PublicInputs) error { return nil }

func newWallet(t *testing.T) *Wallet {
	w, err := New(crand.Reader)
	require.NoError(t, err)
	return w
}

func TestSyncAndTransfer(t *testing.T) {
	l, err := node.NewLedger(testDepth, verifier.New(acceptAll{}))
	require.NoError(t, err)
	alice, bob := newWallet(t), newWallet(t)

	for _, v := range []uint64{40, 25} {
		_, err := l.Mint(crand.Reader, alice.Address(), v)
		require.NoError(t, err)
	}
	_, err = l.Mint(crand.Reader, bob.Address(), 3)
	require.NoError(t, err)

	n, err := alice.Sync(l)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, uint64(65), alice.Balance())

	memo, err := types.MemoFromBytes([]byte("rent"))
	require.NoError(t, err)
	auth, err := alice.Transfer(crand.Reader, l, acceptAll{}, bob.Address(), 50, 2, &memo)
	require.NoError(t, err)
	require.Equal(t, int64(2), -auth.ValueBalance())
	require.NoError(t, l.SubmitBundle(auth))

	_, err = alice.Sync(l)
	require.NoError(t, err)
	require.Equal(t, uint64(13), alice.Balance())
	require.Len(t, alice.Notes(), 1)

	_, err = bob.Sync(l)
	require.NoError(t, err)
	require.Equal(t, uint64(53), bob.Balance())

	// syncing again finds nothing new
	n, err = bob.Sync(l)
	require.NoError(t, err)
	require.Zero(t, n)

	// the sender recovers what it paid
	ovk := alice.fvk.OutgoingViewingKey()
	recovered := 0
	for i := 0; i < auth.NumActions(); i++ {
		a := auth.Action(i)
		note, addr, m, err := types.TryOutputRecovery(ovk, a.Output())
		if err != nil {
			require.True(t, errors.Is(err, types.ErrDecryptionFailed))
			continue
		}
		if addr.Equal(bob.Address()) {
			require.Equal(t, uint64(50), note.Value().Uint64())
			require.Equal(t, memo, m)
		}
		recovered++
	}
	require.Equal(t, 2, recovered)
}

func TestTransferInsufficientFunds(t *testing.T) {
	l, err := node.NewLedger(testDepth, verifier.New(acceptAll{}))
	require.NoError(t, err)
	alice := newWallet(t)
	_, err = l.Mint(crand.Reader, alice.Address(), 10)
	require.NoError(t, err)
	_, err = alice.Sync(l)
	require.NoError(t, err)

	_, err = alice.Transfer(crand.Reader, l, acceptAll{}, newWallet(t).Address(), 10, 1, nil)
	require.True(t, errors.Is(err, types.ErrValidation))
	_, err = alice.Transfer(crand.Reader, l, acceptAll{}, newWallet(t).Address(), ^uint64(0), 1, nil)
	require.True(t, errors.Is(err, types.ErrValidation))
}

func TestTransferWithProofs(t *testing.T) {
	if testing.Short() {
		t.Skip("plonk setup")
	}
	ps, err := circuit.Setup(testDepth)
	require.NoError(t, err)
	l, err := node.NewLedger(testDepth, verifier.New(ps))
	require.NoError(t, err)
	alice, bob := newWallet(t), newWallet(t)

	_, err = l.Mint(crand.Reader, alice.Address(), 100)
	require.NoError(t, err)
	_, err = alice.Sync(l)
	require.NoError(t, err)

	auth, err := alice.Transfer(crand.Reader, l, ps, bob.Address(), 30, 1, nil)
	require.NoError(t, err)
	require.NoError(t, l.SubmitBundle(auth))
	require.True(t, errors.Is(l.SubmitBundle(auth), types.ErrDoubleSpend))

	_, err = alice.Sync(l)
	require.NoError(t, err)
	_, err = bob.Sync(l)
	require.NoError(t, err)
	require.Equal(t, uint64(69), alice.Balance())
	require.Equal(t, uint64(30), bob.Balance())

	// bob spends the received note right away
	auth, err = bob.Transfer(crand.Reader, l, ps, alice.Address(), 30, 0, nil)
	require.NoError(t, err)
	require.NoError(t, l.SubmitBundle(auth))
	_, err = bob.Sync(l)
	require.NoError(t, err)
	require.Zero(t, bob.Balance())
}
