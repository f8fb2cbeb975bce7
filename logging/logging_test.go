package logging_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/h2rpc/grpcore/logging"
)

func TestNopDiscardsEverything(t *testing.T) {
	l := logging.Nop()
	require.NotNil(t, l)
	require.NotPanics(t, func() { l.Info("ignored") })
}

func TestForCallNamesAndTagsTheLogger(t *testing.T) {
	base := logging.Nop()
	child := logging.ForCall(base, "/pkg.Service/Method")
	require.NotNil(t, child)
	require.NotPanics(t, func() { child.Info("call event") })
}

func TestNewHonorsLevel(t *testing.T) {
	l, err := logging.New(zapcore.WarnLevel, true)
	require.NoError(t, err)
	require.False(t, l.Core().Enabled(zapcore.InfoLevel))
	require.True(t, l.Core().Enabled(zapcore.WarnLevel))
}
