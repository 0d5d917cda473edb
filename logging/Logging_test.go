package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, format := range []string{JSON, Console} {
		logger, err := New("debug", format)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	}

	logger, err := New("nonsense", JSON)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = New("info", "xml")
	assert.Error(t, err)
}

func TestZapWriter(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	w := ZapFactory(zap.New(core))("learner")

	w.Write(map[string]float64{"q_loss": 1.5, "alpha": 0.2})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "learner", entries[0].LoggerName)
	assert.Equal(t, map[string]interface{}{"q_loss": 1.5, "alpha": 0.2},
		entries[0].ContextMap())
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Write(map[string]float64{"a": 1}) })
}
