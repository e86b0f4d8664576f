package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
environment: test
engine:
  symbols: [BTCUSDT, ETHUSDT, SOLUSDT]
  evaluation_interval: 90s
rules:
  default:
    min_score_threshold: 0.5
  symbols:
    ETHUSDT:
      min_score_threshold: 0.62
      class: extended_hold
    SOLUSDT:
      confluence_ratio: 1.7
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, 90*time.Second, cfg.Engine.EvaluationInterval)
	assert.Equal(t, 5*time.Second, cfg.Engine.MonitorInterval)
	assert.Equal(t, "sql", cfg.Ledger.Backend)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 0.66, cfg.Rules.Default.ConfluenceRatio)
}

func TestParseRejectsMissingSymbols(t *testing.T) {
	_, err := Parse([]byte("environment: test\n"))
	require.Error(t, err)
}

func TestParseCrossChecks(t *testing.T) {
	_, err := Parse([]byte("engine:\n  symbols: [BTCUSDT]\nledger:\n  backend: clickhouse\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clickhouse.host")
}

func TestSnapshotPerSymbolOverrides(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	snap := BuildSnapshot(cfg, 1, time.Unix(0, 0))

	btc, err := snap.Rules("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.5, btc.MinScoreThreshold)
	assert.Equal(t, ClassDefault, btc.Class)
	assert.Len(t, btc.Indicators, len(DefaultIndicators()))
	assert.Equal(t, 3, btc.PrimaryCount())

	eth, err := snap.Rules("ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.62, eth.MinScoreThreshold)
	assert.Equal(t, ClassExtendedHold, eth.Class)
	assert.Equal(t, 720, eth.TTL.ExtendedHoldMinutes)
	// default untouched by the override
	assert.Equal(t, 0.5, btc.MinScoreThreshold)

	_, err = snap.Rules("SOLUSDT")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRulesInvalid))
	assert.Contains(t, snap.Invalid(), "SOLUSDT")
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, snap.Symbols())

	_, err = snap.Rules("XRPUSDT")
	assert.ErrorIs(t, err, ErrRulesInvalid)
}

func TestSymbolRulesValidate(t *testing.T) {
	r := NewSymbolRules()
	require.NoError(t, r.Validate())

	bad := NewSymbolRules()
	bad.MaxScoreThreshold = bad.MinScoreThreshold
	assert.Error(t, bad.Validate())

	bad = NewSymbolRules()
	bad.Confidence.Max = bad.Confidence.Min
	assert.Error(t, bad.Validate())

	bad = NewSymbolRules()
	for i := range bad.Indicators {
		bad.Indicators[i].Role = RoleSecondary
	}
	assert.Error(t, bad.Validate())

	bad = NewSymbolRules()
	bad.TTL.Buckets = []TTLBucket{{MinMultiplier: 1, Minutes: 15}, {MinMultiplier: 1.5, Minutes: 60}}
	assert.Error(t, bad.Validate())

	bad = NewSymbolRules()
	bad.Indicators = append(bad.Indicators, bad.Indicators[0])
	assert.Error(t, bad.Validate())
}

func TestSnapshotStoreSwapIsVersioned(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	store := NewSnapshotStore(cfg, "")
	first := store.Current()
	assert.Equal(t, int64(1), first.Version)

	cfg2, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	cfg2.Rules.Default.MinScoreThreshold = 0.55
	second := store.Swap(cfg2)

	assert.Equal(t, int64(2), second.Version)
	old, _ := first.Rules("BTCUSDT")
	cur, _ := store.Current().Rules("BTCUSDT")
	assert.Equal(t, 0.5, old.MinScoreThreshold)
	assert.Equal(t, 0.55, cur.MinScoreThreshold)

	_, err = store.Reload()
	assert.Error(t, err)
	assert.Same(t, second, store.Current())
}

func TestLoadWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  symbols: [BTCUSDT]\n"), 0o600))

	t.Setenv("SIGNALFLOW_SYMBOLS", "ethusdt, BTCUSDT ,")
	t.Setenv("SIGNALFLOW_HTTP_PORT", "9090")

	cfg, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ethusdt", "BTCUSDT"}, cfg.Engine.Symbols)
	assert.Equal(t, 9090, cfg.Server.Port)
}
