package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.RateLimit.Calls)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 10*time.Second, cfg.Exchange.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.Cache.TickerTTL)
	assert.Equal(t, 10*time.Second, cfg.Cache.DepthTTL)
	assert.Equal(t, 5, cfg.Analysis.MaxConcurrent)
	assert.InDelta(t, 0.15, cfg.Recommendation.Threshold, 1e-12)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
exchange:
  base_url: https://example.org
rate_limit:
  calls: 20
recommendation:
  threshold: 0.2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("RATE_LIMIT_CALLS", "7")
	t.Setenv("CACHE_TTL_DEPTH", "5s")
	t.Setenv("REQUEST_TIMEOUT", "3")
	t.Setenv("WATCH_PAIRS", "btcidr, ethidr")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.org", cfg.Exchange.BaseURL)
	assert.Equal(t, 7, cfg.RateLimit.Calls)
	assert.Equal(t, 5*time.Second, cfg.Cache.DepthTTL)
	assert.Equal(t, 3*time.Second, cfg.Exchange.RequestTimeout)
	assert.InDelta(t, 0.2, cfg.Recommendation.Threshold, 1e-12)
	assert.Equal(t, []string{"btcidr", "ethidr"}, cfg.Scheduler.Pairs)
	// значения, отсутствующие в файле, остаются по умолчанию
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSignalWeightsEnv(t *testing.T) {
	t.Setenv("SIGNAL_WEIGHTS", "rsi=0.5, bandarmology=0.5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"rsi": 0.5, "bandarmology": 0.5}, cfg.Recommendation.Weights)
}

func TestWeightsMustSumToOne(t *testing.T) {
	t.Setenv("SIGNAL_WEIGHTS", "rsi=0.5,macd=0.2")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "сумма весов")
}

func TestValidateWeights(t *testing.T) {
	assert.NoError(t, ValidateWeights(DefaultWeights()))
	assert.NoError(t, ValidateWeights(map[string]float64{"rsi": 0.3333333, "macd": 0.6666667}))
	assert.Error(t, ValidateWeights(map[string]float64{"rsi": 0.9}))
	assert.Error(t, ValidateWeights(map[string]float64{"rsi": 1.5, "macd": -0.5}))
}

func TestValidateWeightsRejectsUnknownSignal(t *testing.T) {
	err := ValidateWeights(map[string]float64{"rsl": 0.1, "bandarmology": 0.9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rsl")

	// atr используется только для оценки риска
	assert.Error(t, ValidateWeights(map[string]float64{"atr": 0.5, "rsi": 0.5}))

	t.Setenv("SIGNAL_WEIGHTS", "rsl=0.5,bandarmology=0.5")
	_, err = Load("")
	assert.Error(t, err)
}

func TestSignalNamesSorted(t *testing.T) {
	names := SignalNames()
	assert.Len(t, names, len(DefaultWeights()))
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, "momentum")
}

func TestWaitTimeoutMustFitFetchTimeout(t *testing.T) {
	cfg := Defaults()
	assert.LessOrEqual(t, cfg.RateLimit.WaitTimeout+cfg.Exchange.RequestTimeout, cfg.Cache.FetchTimeout)

	t.Setenv("RATE_LIMIT_WAIT", "40s")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch_timeout")

	t.Setenv("CACHE_FETCH_TIMEOUT", "1m")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Cache.FetchTimeout)

	// при fail_fast ожидания токена нет
	t.Setenv("CACHE_FETCH_TIMEOUT", "")
	t.Setenv("RATE_LIMIT_POLICY", "fail_fast")
	_, err = Load("")
	assert.NoError(t, err)
}

func TestParseWeightsErrors(t *testing.T) {
	_, err := ParseWeights("rsi")
	assert.Error(t, err)

	_, err = ParseWeights("rsi=abc")
	assert.Error(t, err)

	_, err = ParseWeights(" , ")
	assert.Error(t, err)
}

func TestFormatWeightsSorted(t *testing.T) {
	s := FormatWeights(map[string]float64{"macd": 0.4, "bandarmology": 0.6})
	assert.Equal(t, "bandarmology=0.6,macd=0.4", s)
}

func TestInvalidPolicyRejected(t *testing.T) {
	t.Setenv("RATE_LIMIT_POLICY", "drop")

	_, err := Load("")
	assert.Error(t, err)
}

func TestInvalidDurationEnv(t *testing.T) {
	t.Setenv("CACHE_MAX_STALE", "soon")

	_, err := Load("")
	assert.Error(t, err)
}

func TestFileWeightsReplaceDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
recommendation:
  weights:
    rsi: 0.4
    bandarmology: 0.6
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"rsi": 0.4, "bandarmology": 0.6}, cfg.Recommendation.Weights)
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultWeights(), cfg.Recommendation.Weights)
	assert.Equal(t, []int{5, 20}, cfg.Analysis.Bandarmology.Bands)
}
