package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultLoggerIsSilent(t *testing.T) {
	require.NotNil(t, GetLogger())
	assert.NotPanics(t, func() {
		Info("тест", zap.String("k", "v"))
		Debug("тест")
		Warn("тест")
		Error("тест")
	})
}

func TestInitWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.json.log")
	require.NoError(t, Init(Options{Level: "debug", File: path}))
	t.Cleanup(func() { _ = Init(Options{}) })

	Info("запись", zap.String("pair", "btc_idr"))
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pair":"btc_idr"`)
	assert.Contains(t, string(data), "запись")
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(Options{Level: "loud"})
	assert.Error(t, err)
}
