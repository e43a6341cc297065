package circuit

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/constraint/solver"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/consensys/gnark/test/unsafekzg"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/kysee/orchard/types"
	"github.com/kysee/orchard/utils"
)

const (
	ccsFile = "action.ccs"
	pkFile  = "action.pk"
	vkFile  = "action.vk"
)

// ProvingSystem holds the compiled Action circuit and its PLONK keys. A
// system loaded without a proving key can only verify.
type ProvingSystem struct {
	depth int
	ccs   constraint.ConstraintSystem
	pk    plonk.ProvingKey
	vk    plonk.VerifyingKey
}

func Compile(depth int) (constraint.ConstraintSystem, error) {
	cc := &ActionCircuit{AuthPath: make([]frontend.Variable, depth)}
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, cc, frontend.IgnoreUnconstrainedInputs())
	if err != nil {
		return nil, errors.Wrap(err, "compiling action circuit")
	}
	return ccs, nil
}

// Setup compiles the circuit for a tree of the given depth and runs the
// PLONK setup.
func Setup(depth int) (*ProvingSystem, error) {
	log := utils.Logger("circuit")
	start := time.Now()

	ccs, err := Compile(depth)
	if err != nil {
		return nil, err
	}

	// todo: load a ceremony SRS instead of generating one locally
	srs, srsLagrange, err := unsafekzg.NewSRS(ccs)
	if err != nil {
		return nil, errors.Wrap(err, "generating SRS")
	}
	pk, vk, err := plonk.Setup(ccs, srs, srsLagrange)
	if err != nil {
		return nil, errors.Wrap(err, "plonk setup")
	}

	log.Info().Int("depth", depth).Int("constraints", ccs.GetNbConstraints()).
		Dur("elapsed", time.Since(start)).Msg("action circuit ready")
	return &ProvingSystem{depth: depth, ccs: ccs, pk: pk, vk: vk}, nil
}

func (ps *ProvingSystem) Depth() int { return ps.depth }

func (ps *ProvingSystem) VerifyingKey() plonk.VerifyingKey { return ps.vk }

// Prove produces one proof per Action, concatenated as
// u32 count || (u32 len || proof)*. Actions are proved in parallel.
func (ps *ProvingSystem) Prove(witnesses []types.ActionWitness, pub types.PublicInputs) ([]byte, error) {
	if ps.pk == nil {
		return nil, errors.Wrap(types.ErrProving, "no proving key loaded")
	}
	if len(witnesses) != len(pub.Actions) || len(witnesses) == 0 {
		return nil, errors.Wrapf(types.ErrProving, "%d witnesses for %d actions", len(witnesses), len(pub.Actions))
	}
	log := utils.Logger("prover")
	start := time.Now()

	proofs := make([][]byte, len(witnesses))
	var g errgroup.Group
	for i := range witnesses {
		g.Go(func() error {
			bz, err := ps.proveAction(&witnesses[i], &pub.Actions[i], pub.ValueBalance)
			if err != nil {
				return errors.Wrapf(err, "action %d", i)
			}
			proofs[i] = bz
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("proving failed")
		return nil, err
	}

	buf := bytes.NewBuffer(nil)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(proofs)))
	for _, p := range proofs {
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(p)))
		buf.Write(p)
	}
	log.Debug().Int("actions", len(proofs)).Dur("elapsed", time.Since(start)).Msg("bundle proved")
	return buf.Bytes(), nil
}

func (ps *ProvingSystem) proveAction(w *types.ActionWitness, inst *types.Instance, vb int64) ([]byte, error) {
	if w.Path == nil || w.Path.Depth() != ps.depth {
		return nil, errors.Wrap(types.ErrProving, "authentication path depth does not match the circuit")
	}
	assignment, err := Assign(w, inst, vb)
	if err != nil {
		return nil, errors.Wrap(types.ErrProving, "assigning witness")
	}
	wtn, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, errors.Wrap(types.ErrProving, "building witness")
	}
	// solver errors quote witness values, keep them out of the returned error
	proof, err := plonk.Prove(ps.ccs, ps.pk, wtn,
		backend.WithSolverOptions(solver.WithLogger(utils.Logger("solver"))))
	if err != nil {
		return nil, errors.Wrap(types.ErrProving, "witness does not satisfy the action relation")
	}
	buf := bytes.NewBuffer(nil)
	if _, err := proof.WriteTo(buf); err != nil {
		return nil, errors.Wrap(types.ErrProving, err.Error())
	}
	return buf.Bytes(), nil
}

// Verify checks an aggregate proof against the public inputs. Any
// malformation or rejection is ErrProofInvalid.
func (ps *ProvingSystem) Verify(proof []byte, pub types.PublicInputs) error {
	proofs, err := splitProofs(proof)
	if err != nil {
		return errors.Wrap(types.ErrProofInvalid, err.Error())
	}
	if len(proofs) != len(pub.Actions) {
		return errors.Wrapf(types.ErrProofInvalid, "%d proofs for %d actions", len(proofs), len(pub.Actions))
	}
	for i, bz := range proofs {
		if err := ps.verifyAction(bz, &pub.Actions[i], pub.ValueBalance); err != nil {
			return errors.Wrapf(types.ErrProofInvalid, "action %d: %v", i, err)
		}
	}
	return nil
}

func (ps *ProvingSystem) verifyAction(bz []byte, inst *types.Instance, vb int64) error {
	proof := plonk.NewProof(ecc.BN254)
	n, err := proof.ReadFrom(bytes.NewReader(bz))
	if err != nil {
		return err
	}
	if n != int64(len(bz)) {
		return errors.New("trailing proof bytes")
	}
	assignment, err := assignPublic(inst, vb, ps.depth)
	if err != nil {
		return err
	}
	pubWtn, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return err
	}
	return plonk.Verify(proof, ps.vk, pubWtn)
}

func splitProofs(bz []byte) ([][]byte, error) {
	r := bytes.NewReader(bz)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errors.New("missing proof count")
	}
	if uint64(count) > uint64(len(bz)) {
		return nil, errors.New("proof count out of range")
	}
	proofs := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, errors.New("missing proof length")
		}
		if uint64(l) > uint64(r.Len()) {
			return nil, errors.New("proof length out of range")
		}
		p := make([]byte, l)
		_, _ = io.ReadFull(r, p)
		proofs = append(proofs, p)
	}
	if r.Len() != 0 {
		return nil, errors.New("trailing bytes after proofs")
	}
	return proofs, nil
}

// WriteKeys stores the constraint system and both keys under dir.
func (ps *ProvingSystem) WriteKeys(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	items := []struct {
		name string
		w    io.WriterTo
	}{{ccsFile, ps.ccs}, {pkFile, ps.pk}, {vkFile, ps.vk}}
	for _, it := range items {
		if it.w == nil {
			continue
		}
		if err := writeFile(filepath.Join(dir, it.name), it.w); err != nil {
			return errors.Wrapf(err, "writing %s", it.name)
		}
	}
	return nil
}

func writeFile(path string, w io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = w.WriteTo(f)
	return err
}

func readFile(path string, r io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = r.ReadFrom(f)
	return err
}

// Load reads keys written by WriteKeys. Without a proving key on disk the
// returned system can verify only.
func Load(dir string, depth int) (*ProvingSystem, error) {
	ps := &ProvingSystem{depth: depth}

	vk := plonk.NewVerifyingKey(ecc.BN254)
	if err := readFile(filepath.Join(dir, vkFile), vk); err != nil {
		return nil, errors.Wrap(err, "reading verifying key")
	}
	ps.vk = vk

	if _, err := os.Stat(filepath.Join(dir, pkFile)); err == nil {
		ccs := plonk.NewCS(ecc.BN254)
		if err := readFile(filepath.Join(dir, ccsFile), ccs); err != nil {
			return nil, errors.Wrap(err, "reading constraint system")
		}
		pk := plonk.NewProvingKey(ecc.BN254)
		if err := readFile(filepath.Join(dir, pkFile), pk); err != nil {
			return nil, errors.Wrap(err, "reading proving key")
		}
		ps.ccs, ps.pk = ccs, pk
	}
	return ps, nil
}

// ExportSolidity writes a Solidity verifier for single Action proofs.
func (ps *ProvingSystem) ExportSolidity(w io.Writer) error {
	return ps.vk.ExportSolidity(w)
}
