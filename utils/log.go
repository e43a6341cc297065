package utils

import (
	"os"
	"sync"

	gnark_logger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

var (
	logMtx     sync.RWMutex
	baseLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
			Level(zerolog.InfoLevel).
			With().Timestamp().Logger()
)

// Logger returns the process logger tagged with module.
func Logger(module string) zerolog.Logger {
	logMtx.RLock()
	defer logMtx.RUnlock()
	return baseLogger.With().Str("module", module).Logger()
}

// SetLogger replaces the process logger. The gnark compiler and solver
// log through the same sink.
func SetLogger(l zerolog.Logger) {
	logMtx.Lock()
	defer logMtx.Unlock()
	baseLogger = l
	gnark_logger.Set(l)
}

func DisableLogging() {
	SetLogger(zerolog.Nop())
	gnark_logger.Disable()
}
