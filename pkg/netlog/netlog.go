// Package netlog provides a zap-backed logger for the packet-rate hot paths
// (DHCP sniffing, TFTP transfers) where the reflection-based logrus field API
// used by pkg/logger is measurably more expensive per call.
package netlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin rename so call sites depend on this package rather than
// on zap directly.
type Logger = zap.Logger

// New builds a production-style zap logger. debug enables development mode
// (console encoding, caller info, debug level).
func New(name string, debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.OutputPaths = []string{"stdout"}

	l, err := cfg.Build()
	if err != nil {
		// Fall back to a minimal logger rather than fail startup over
		// logging configuration.
		l = zap.NewNop()
		_, _ = os.Stderr.WriteString("netlog: falling back to noop logger: " + err.Error() + "\n")
	}
	return l.Named(name)
}
