// Package log provides structured debug logging for memwrapper using zap.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// L is the package logger. It is a no-op unless enabled with Set.
var L = NewNop()

// Set swaps the package logger: enabled installs a development logger
// writing to stderr, disabled restores the no-op logger.
func Set(enabled bool) {
	if enabled {
		L = New(true)
	} else {
		L = NewNop()
	}
}

// New creates a new logger instance.
func New(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// fall back to no-op if config fails
		logger = zap.NewNop()
	}
	return logger
}

// NewNop creates a no-op logger.
func NewNop() *zap.Logger {
	return zap.NewNop()
}

// Hex formats an address as a hex string for logging.
func Hex(addr uintptr) string {
	const digits = "0123456789abcdef"
	if addr == 0 {
		return "0x0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for addr > 0 {
		i--
		buf[i] = digits[addr&0xf]
		addr >>= 4
	}
	return "0x" + string(buf[i:])
}

// Addr creates an address field.
func Addr(name string, addr uintptr) zap.Field {
	return zap.String(name, Hex(addr))
}

// Size creates a size field.
func Size(size int) zap.Field {
	return zap.Int("size", size)
}
