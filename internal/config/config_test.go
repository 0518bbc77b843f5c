package config_test

import (
	"DSCEngine/internal/config"
	"DSCEngine/internal/core"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registry = `
collateral_tokens:
  - symbol: WETH
    decimals: 18
  - symbol: WBTC
    decimals: 8
price_feeds:
  - ETH/USD
  - BTC/USD
risk:
  liquidation_bonus: 5
  min_health_factor: "1.5"
`

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("DSC_HTTP_ADDR", ":18080")
	t.Setenv("DSC_PERSIST_FLUSH_TIMEOUT", "25ms")
	t.Setenv("DSC_CORS_ORIGINS", "https://app.example,https://ops.example")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":18080", cfg.HTTPAddr)
	assert.Equal(t, 25*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, 3*time.Hour, cfg.MaxPriceAge)
	assert.Equal(t, 50, cfg.PersistBatchSize)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, []string{"https://app.example", "https://ops.example"}, cfg.CORSOrigins)
	assert.NotEqual(t, uuid.Nil, cfg.EngineUUID())
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Setenv("DSC_ENGINE_ID", "not-a-uuid")
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_RejectsZeroBatch(t *testing.T) {
	t.Setenv("DSC_PERSIST_BATCH_SIZE", "0")
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_RejectsUnknownLogFormat(t *testing.T) {
	t.Setenv("DSC_LOG_FORMAT", "xml")
	_, err := config.Load()
	assert.ErrorContains(t, err, "LOG_FORMAT")
}

func TestCollateralFile_EngineConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collateral.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registry), 0o600))

	f, err := config.LoadCollateral(path)
	require.NoError(t, err)

	id := uuid.New()
	cfg, err := f.EngineConfig(id, time.Hour, 10)
	require.NoError(t, err)

	assert.Equal(t, id, cfg.EngineID)
	assert.Equal(t, []core.CollateralToken{{Symbol: "WETH", Decimals: 18}, {Symbol: "WBTC", Decimals: 8}}, cfg.CollateralTokens)
	assert.Equal(t, []string{"ETH/USD", "BTC/USD"}, cfg.PriceFeeds)
	assert.Equal(t, uint64(50), cfg.System.LiquidationThreshold)
	assert.Equal(t, uint64(5), cfg.System.LiquidationBonus)
	assert.Equal(t, "1500000000000000000", cfg.System.MinHealthFactor.Dec())
	assert.Equal(t, map[string]uint8{"WETH": 18, "WBTC": 8}, f.Decimals())
}

func TestCollateralFile_LengthMismatch(t *testing.T) {
	f, err := config.ParseCollateral([]byte(`
collateral_tokens:
  - symbol: WETH
    decimals: 18
price_feeds: [ETH/USD, BTC/USD]
`))
	require.NoError(t, err)

	_, err = f.EngineConfig(uuid.New(), time.Hour, 10)
	require.ErrorIs(t, err, core.ErrConfigMismatch)
	assert.Equal(t, core.KindConfigMismatch, core.KindOf(err))
}

func TestCollateralFile_InvalidRisk(t *testing.T) {
	f, err := config.ParseCollateral([]byte(`
collateral_tokens: [{symbol: WETH, decimals: 18}]
price_feeds: [ETH/USD]
risk: {liquidation_bonus: 100}
`))
	require.NoError(t, err)
	_, err = f.EngineConfig(uuid.New(), time.Hour, 10)
	require.Error(t, err)
}

func TestCollateralFile_DecimalsOutOfRange(t *testing.T) {
	f, err := config.ParseCollateral([]byte(`
collateral_tokens: [{symbol: WIDE, decimals: 80}]
price_feeds: [WIDE/USD]
`))
	require.NoError(t, err)
	_, err = f.EngineConfig(uuid.New(), time.Hour, 10)
	assert.ErrorContains(t, err, "decimals 80")
}

func TestParseCollateral_UnknownKey(t *testing.T) {
	_, err := config.ParseCollateral([]byte("collateral: []\n"))
	require.Error(t, err)
}

func TestTokenEntry_Allocations(t *testing.T) {
	holder := uuid.New()
	f, err := config.ParseCollateral([]byte(`
collateral_tokens:
  - symbol: WETH
    decimals: 18
    genesis:
      "` + holder.String() + `": "5000000000000000000"
price_feeds: [ETH/USD]
`))
	require.NoError(t, err)

	alloc, err := f.CollateralTokens[0].Allocations()
	require.NoError(t, err)
	require.Contains(t, alloc, holder)
	assert.Equal(t, "5000000000000000000", alloc[holder].Dec())

	bad := config.TokenEntry{Symbol: "WETH", Genesis: map[string]string{"nobody": "1"}}
	_, err = bad.Allocations()
	require.Error(t, err)

	bad = config.TokenEntry{Symbol: "WETH", Genesis: map[string]string{holder.String(): "-1"}}
	_, err = bad.Allocations()
	require.Error(t, err)
}
