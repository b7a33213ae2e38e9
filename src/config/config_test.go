package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keeper-oracle/src/models"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestShippedDefaultConfig(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "config", "default.yaml"))
	require.NoError(t, err)

	cfg, err := Parse(data, mapLookup(nil))
	require.NoError(t, err)
	assert.Equal(t, "keeper-oracle", cfg.Name)
	assert.Len(t, cfg.EnabledFeeds(), 3)
	assert.Equal(t, 900.0, *cfg.Feeds[0].StartupWindowSec)
	assert.Equal(t, "volume_weighted", cfg.Aggregator.Method)
	assert.Equal(t, 20, cfg.Keeper.Bots["oracle_update"].RunIntervalSeconds)
	assert.Equal(t, "CRON_TZ=UTC 0 0 * * *", cfg.Keeper.Bots["savings"].Schedule)
	assert.Equal(t, 3, cfg.Keeper.Bots["savings"].MaxAttempts)
	assert.Equal(t, 600, cfg.Keeper.Bots["announcer_rewards"].RunIntervalSeconds)
	assert.Empty(t, cfg.Keeper.VetoBounds)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("name: test\n"), nil)
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, 50051, cfg.GrpcPort)
	assert.Equal(t, "sqlite", cfg.Storage.DBType)
	assert.Equal(t, "@hourly", cfg.Storage.CleanupSchedule)
	require.Len(t, cfg.Feeds, 3)
	for _, f := range cfg.Feeds {
		assert.Equal(t, []string{DefaultPair}, f.Pairs)
		assert.Equal(t, 5.0, f.WindowSec)
		assert.Equal(t, 10.0, *f.MinNotional)
	}
	assert.Equal(t, 2, cfg.Aggregator.MinValidFeeds)
	assert.Equal(t, 15.0, cfg.Rates.PollSeconds)
	assert.Equal(t, 21600, cfg.Keeper.Bots["stability_fee_transfer"].RunIntervalSeconds)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RPC_URL":                         "http://rpc:9000",
		"PRIVATE_KEY":                     "deadbeef",
		"FEE_PER_COST":                    "12",
		"PRICE_UPDATE_THRESHOLD_BPS":      "25.5",
		"ANNOUNCER_PENALIZE_RUN_INTERVAL": "120",
	}
	cfg, err := Parse([]byte("keeper:\n  rpc_url: http://ignored\n"), mapLookup(env))
	require.NoError(t, err)

	assert.Equal(t, "http://rpc:9000", cfg.Keeper.RPCURL)
	assert.Equal(t, "deadbeef", cfg.Keeper.PrivateKey)
	assert.Equal(t, int64(12), cfg.Keeper.FeePerCost)
	assert.Equal(t, 25.5, cfg.Keeper.PriceUpdateThresholdBps)
	assert.Equal(t, models.MBotConfig{RunIntervalSeconds: 120, ContinueDelaySeconds: 10}, cfg.Keeper.Bots["announcer_penalize"])
}

func TestApplyEnvSchedulesAndRewards(t *testing.T) {
	hash := "0x" + strings.Repeat("ab", 32)
	env := map[string]string{
		"SAVINGS_SCHEDULE":                     "CRON_TZ=UTC 30 6 * * *",
		"SAVINGS_MAX_ATTEMPTS":                 "5",
		"ANNOUNCER_REWARDS_TARGET_PUZZLE_HASH": hash,
	}
	cfg, err := Parse([]byte("name: x\n"), mapLookup(env))
	require.NoError(t, err)

	assert.Equal(t, "CRON_TZ=UTC 30 6 * * *", cfg.Keeper.Bots["savings"].Schedule)
	assert.Equal(t, 5, cfg.Keeper.Bots["savings"].MaxAttempts)
	assert.Equal(t, 86400, cfg.Keeper.Bots["savings"].RunIntervalSeconds)
	assert.Equal(t, hash, cfg.Keeper.RewardsTargetPuzzleHash)
}

func TestVetoBoundsParse(t *testing.T) {
	cfg, err := Parse([]byte("keeper:\n  veto_bounds:\n    3: {min: 5}\n    7: {min: 1, max: 9}\n"), nil)
	require.NoError(t, err)

	require.Len(t, cfg.Keeper.VetoBounds, 2)
	assert.Equal(t, int64(5), *cfg.Keeper.VetoBounds[3].Min)
	assert.Nil(t, cfg.Keeper.VetoBounds[3].Max)
	assert.Equal(t, int64(9), *cfg.Keeper.VetoBounds[7].Max)
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	_, err := Parse([]byte("name: x\n"), mapLookup(map[string]string{"FEE_PER_COST": "cheap"}))
	assert.Error(t, err)

	_, err = Parse([]byte("name: x\n"), mapLookup(map[string]string{"SURPLUS_START_CONTINUE_DELAY": "soon"}))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"bad port":          "port: 80\n",
		"unknown exchange":  "feeds:\n  - {name: x, exchange: binance, enabled: true, pairs: [XCH-USDT]}\n",
		"duplicate feed":    "feeds:\n  - {name: a, exchange: okx, enabled: true, pairs: [XCH-USDT]}\n  - {name: a, exchange: gate, enabled: true, pairs: [XCH-USDT]}\n",
		"no pairs":          "feeds:\n  - {name: a, exchange: okx, enabled: true}\n  - {name: b, exchange: gate, enabled: true, pairs: [XCH-USDT]}\n",
		"negative notional": "feeds:\n  - {name: a, exchange: okx, enabled: true, pairs: [XCH-USDT], min_notional: -1}\n  - {name: b, exchange: gate, enabled: true, pairs: [XCH-USDT]}\n",
		"too few feeds":     "feeds:\n  - {name: a, exchange: okx, enabled: true, pairs: [XCH-USDT]}\n",
		"bad method":        "aggregator: {method: mode}\n",
		"unknown bot":       "keeper:\n  bots:\n    moon_landing: {run_interval_seconds: 1, continue_delay_seconds: 1}\n",
		"postgres no dsn":   "storage: {enabled: true, db_type: postgres}\n",
		"bad schedule":      "keeper:\n  bots:\n    savings: {schedule: \"every tuesday\"}\n",
		"short target hash": "keeper:\n  rewards_target_puzzle_hash: \"0xabcd\"\n",
		"inverted bounds":   "keeper:\n  veto_bounds:\n    3: {min: 10, max: 5}\n",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc), nil)
		assert.Error(t, err, name)
	}
}

func TestReadDotEnv(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.env")
	second := filepath.Join(dir, "second.env")
	require.NoError(t, os.WriteFile(first, []byte("PRIVATE_KEY=abc\n"), 0600))
	require.NoError(t, os.WriteFile(second, []byte("PRIVATE_KEY=ignored\nRPC_URL=http://x\n"), 0600))

	values, err := ReadDotEnv(filepath.Join(dir, "missing.env"), first, second)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"PRIVATE_KEY": "abc", "RPC_URL": "http://x"}, values)
}

func TestUpdateFeedParametersAndSave(t *testing.T) {
	cfg, err := Parse([]byte("name: test\n"), mapLookup(map[string]string{"PRIVATE_KEY": "secret"}))
	require.NoError(t, err)

	window := 30.0
	require.NoError(t, cfg.UpdateFeedParameters("OKX", models.MFeedParameters{WindowSec: &window}))
	assert.Error(t, cfg.UpdateFeedParameters("Binance", models.MFeedParameters{WindowSec: &window}))

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	reloaded, err := Parse(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, 30.0, reloaded.Feeds[0].WindowSec)
	assert.Equal(t, "OKX", reloaded.Feeds[0].Name)
	assert.Empty(t, reloaded.Keeper.PrivateKey)
}
