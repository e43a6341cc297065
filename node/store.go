package node

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/kysee/orchard/tree"
	"github.com/kysee/orchard/types"
)

var (
	bucketNullifiers = []byte("nullifiers")
	bucketOutputs    = []byte("outputs_by_position")
	bucketAnchors    = []byte("anchors")
)

// Store persists ledger state in a bbolt file. Every committed bundle is
// written in a single transaction.
type Store struct {
	db *bolt.DB
}

// storedOutput is the rlp form of an Output.
type storedOutput struct {
	Rho           [32]byte
	Cmx           [32]byte
	Epk           [32]byte
	CvNet         [32]byte
	EncCiphertext [types.EncCiphertextSize]byte
	OutCiphertext [types.OutCiphertextSize]byte
}

func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path required")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bbolt")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNullifiers, bucketOutputs, bucketAnchors} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return errors.Wrapf(err, "create bucket %s", string(b))
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func positionKey(pos uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], pos)
	return k[:]
}

// commit writes the effects of one accepted bundle, or of a mint when nfs
// is empty.
func (s *Store) commit(nfs []types.Nullifier, outs []Output, anchor tree.Anchor) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		nb := tx.Bucket(bucketNullifiers)
		for _, nf := range nfs {
			if err := nb.Put(nf[:], []byte{1}); err != nil {
				return err
			}
		}
		ob := tx.Bucket(bucketOutputs)
		for i := range outs {
			o := &outs[i]
			bz, err := rlp.EncodeToBytes(&storedOutput{
				Rho:           o.Rho,
				Cmx:           o.Cmx,
				Epk:           o.Epk,
				CvNet:         o.CvNet.Bytes(),
				EncCiphertext: o.EncCiphertext,
				OutCiphertext: o.OutCiphertext,
			})
			if err != nil {
				return errors.Wrap(err, "encoding output")
			}
			if err := ob.Put(positionKey(o.Position), bz); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketAnchors).Put(anchor[:], []byte{1})
	})
}

type snapshot struct {
	nullifiers []types.Nullifier
	outputs    []Output
	anchors    []tree.Anchor
}

// load reads everything back; outputs come in position order.
func (s *Store) load() (*snapshot, error) {
	snap := &snapshot{}
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketNullifiers).ForEach(func(k, _ []byte) error {
			var nf types.Nullifier
			if len(k) != len(nf) {
				return errors.Errorf("corrupt nullifier key of %d bytes", len(k))
			}
			copy(nf[:], k)
			snap.nullifiers = append(snap.nullifiers, nf)
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketAnchors).ForEach(func(k, _ []byte) error {
			var a tree.Anchor
			if len(k) != len(a) {
				return errors.Errorf("corrupt anchor key of %d bytes", len(k))
			}
			copy(a[:], k)
			snap.anchors = append(snap.anchors, a)
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketOutputs).ForEach(func(k, v []byte) error {
			if len(k) != 4 {
				return errors.Errorf("corrupt output key of %d bytes", len(k))
			}
			var so storedOutput
			if err := rlp.DecodeBytes(v, &so); err != nil {
				return errors.Wrap(err, "decoding output")
			}
			cv, err := types.ValueCommitmentFromBytes(so.CvNet)
			if err != nil {
				return err
			}
			snap.outputs = append(snap.outputs, Output{
				Position: binary.BigEndian.Uint32(k),
				ShieldedOutput: types.ShieldedOutput{
					Rho:           so.Rho,
					Cmx:           so.Cmx,
					Epk:           so.Epk,
					CvNet:         cv,
					EncCiphertext: so.EncCiphertext,
					OutCiphertext: so.OutCiphertext,
				},
			})
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "loading ledger state")
	}
	return snap, nil
}
