// Package logging builds the zap logger used across gitswitch.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger writing to w. Verbose enables debug output
// with caller information; otherwise only warnings and errors are shown.
func New(w io.Writer, verbose bool) *zap.Logger {
	if w == nil {
		w = os.Stderr
	}

	level := zapcore.WarnLevel
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	if verbose {
		level = zapcore.DebugLevel
		encCfg.TimeKey = "T"
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(w),
		level,
	)
	opts := []zap.Option{}
	if verbose {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...)
}

// MaskToken keeps enough of a token to tell tokens apart in logs.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****"
}
