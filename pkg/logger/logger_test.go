package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCallerAttribution(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	orig := GlobalLogger
	GlobalLogger = &Logger{sugar: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()}
	defer func() { GlobalLogger = orig }()

	Info("formatted %d", 1)
	Error("formatted err")
	Infow("structured", "k", "v")
	Errorw("structured err", "k", "v")
	Debugw("structured dbg", "k", "v")

	entries := logs.All()
	require.Len(t, entries, 5)
	for _, e := range entries {
		require.True(t, e.Caller.Defined, "no caller recorded for %q", e.Message)
		assert.True(t, strings.HasSuffix(e.Caller.File, "logger_test.go"),
			"%q attributed to %s", e.Message, e.Caller.File)
	}
}
