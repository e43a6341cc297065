package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/kysee/orchard/circuit"
	"github.com/kysee/orchard/tree"
	"github.com/kysee/orchard/utils"
)

func main() {
	depth := flag.Int("depth", tree.DefaultDepth, "note commitment tree depth compiled into the circuit")
	out := flag.String("out", "keys", "output directory for action.ccs, action.pk and action.vk")
	solidity := flag.Bool("solidity", false, "also write PlonkVerifier.sol")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *depth < 1 || *depth > 32 {
		_, _ = fmt.Fprintf(os.Stderr, "invalid depth %d: must be in [1, 32]\n", *depth)
		os.Exit(2)
	}
	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	utils.SetLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger())
	log := utils.Logger("setup")

	ps, err := circuit.Setup(*depth)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
		os.Exit(1)
	}
	if err := ps.WriteKeys(*out); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "writing keys failed: %v\n", err)
		os.Exit(1)
	}
	log.Info().Str("dir", *out).Msg("keys written")

	if *solidity {
		var buf bytes.Buffer
		if err := ps.ExportSolidity(&buf); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "solidity export failed: %v\n", err)
			os.Exit(1)
		}
		path := filepath.Join(*out, "PlonkVerifier.sol")
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "writing %s failed: %v\n", path, err)
			os.Exit(1)
		}
		log.Info().Str("path", path).Msg("solidity verifier generated")
	}
}
