package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"keeper-oracle/src/aggregator"
	datasource "keeper-oracle/src/data_source"
	"keeper-oracle/src/data_source/gate"
	"keeper-oracle/src/data_source/kucoin"
	"keeper-oracle/src/data_source/okx"
	"keeper-oracle/src/helpers"
	"keeper-oracle/src/keeper"
	"keeper-oracle/src/models"
	"keeper-oracle/src/rates"
	"keeper-oracle/src/storage"
	"keeper-oracle/src/utils"
)

// DefaultPair is the market every default feed follows.
const DefaultPair = "XCH-USDT"

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods. A Config is
// a snapshot: Reload returns a new one instead of mutating a running instance.
type Config struct {
	*models.MConfig

	mu sync.Mutex
}

// -----------------------------------------------------------------------------

// NewConfig reads the YAML file, applies the environment (process env first,
// then .env next to the config file and in the working directory), fills
// defaults and validates the result.
func NewConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	dotenv, err := ReadDotEnv(".env", filepath.Join(filepath.Dir(configPath), ".env"))
	if err != nil {
		return nil, err
	}
	return Parse(data, EnvLookup(dotenv))
}

// Reload builds a fresh snapshot from configPath.
func Reload(configPath string) (*Config, error) {
	return NewConfig(configPath)
}

// Parse builds a validated Config from YAML and an environment lookup.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	if lookup != nil {
		if err := config.ApplyEnv(lookup); err != nil {
			return nil, err
		}
	}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// -----------------------------------------------------------------------------
// Environment
// -----------------------------------------------------------------------------

// ReadDotEnv merges the .env files that exist; earlier paths win.
func ReadDotEnv(paths ...string) (map[string]string, error) {
	out := make(map[string]string)
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		values, err := godotenv.Read(p)
		if err != nil {
			return nil, helpers.NewConfigurationError("failed to read "+p, err)
		}
		for k, v := range values {
			if _, seen := out[k]; !seen {
				out[k] = v
			}
		}
	}
	return out, nil
}

// EnvLookup resolves a variable from the process environment, then from file.
func EnvLookup(file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}

// ApplyEnv overrides keeper settings and secrets from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	k := &c.Keeper
	if v, ok := lookup("RPC_URL"); ok && v != "" {
		k.RPCURL = v
	}
	if v, ok := lookup("PRIVATE_KEY"); ok {
		k.PrivateKey = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("FEE_PER_COST"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return helpers.NewConfigurationError("FEE_PER_COST must be an integer", err)
		}
		k.FeePerCost = n
	}
	if v, ok := lookup("PRICE_UPDATE_THRESHOLD_BPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return helpers.NewConfigurationError("PRICE_UPDATE_THRESHOLD_BPS must be a number", err)
		}
		k.PriceUpdateThresholdBps = f
	}

	if v, ok := lookup("ANNOUNCER_REWARDS_TARGET_PUZZLE_HASH"); ok && v != "" {
		k.RewardsTargetPuzzleHash = v
	}

	// <BOT>_RUN_INTERVAL, <BOT>_CONTINUE_DELAY, <BOT>_MAX_ATTEMPTS and
	// <BOT>_SCHEDULE, e.g. ANNOUNCER_PENALIZE_RUN_INTERVAL
	for _, name := range keeper.Names() {
		prefix := strings.ToUpper(name)
		bot := k.Bots[name]
		changed := false
		if v, ok := lookup(prefix + "_SCHEDULE"); ok && v != "" {
			bot.Schedule = v
			changed = true
		}
		for suffix, field := range map[string]*int{
			"_RUN_INTERVAL":   &bot.RunIntervalSeconds,
			"_CONTINUE_DELAY": &bot.ContinueDelaySeconds,
			"_MAX_ATTEMPTS":   &bot.MaxAttempts,
		} {
			v, ok := lookup(prefix + suffix)
			if !ok || v == "" {
				continue
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return helpers.NewConfigurationError(prefix+suffix+" must be an integer", err)
			}
			*field = n
			changed = true
		}
		if changed {
			if k.Bots == nil {
				k.Bots = make(map[string]models.MBotConfig)
			}
			k.Bots[name] = bot
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Defaults
// -----------------------------------------------------------------------------

// DefaultFeeds follows XCH-USDT on every supported exchange.
func DefaultFeeds() []models.MFeedConfig {
	return []models.MFeedConfig{
		{Name: okx.Exchange, Exchange: "okx", Enabled: true, Pairs: []string{DefaultPair}},
		{Name: gate.Exchange, Exchange: "gate", Enabled: true, Pairs: []string{DefaultPair}},
		{Name: kucoin.Exchange, Exchange: "kucoin", Enabled: true, Pairs: []string{DefaultPair}},
	}
}

// ApplyDefaults fills every unset setting.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "keeper-oracle"
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8090
	}
	if c.GrpcHost == "" {
		c.GrpcHost = "127.0.0.1"
	}
	if c.GrpcPort == 0 {
		c.GrpcPort = 50051
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}

	if c.Storage.DBType == "" {
		c.Storage.DBType = "sqlite"
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		c.Storage.DBPath = "keeper-oracle.db"
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = utils.DefaultRetentionDays
	}
	if c.Storage.CleanupSchedule == "" {
		c.Storage.CleanupSchedule = storage.DefaultCleanupSchedule
	}

	if c.Network.RequestTimeout == 0 {
		c.Network.RequestTimeout = 10
	}

	if len(c.Feeds) == 0 {
		c.Feeds = DefaultFeeds()
	}
	for i := range c.Feeds {
		c.Feeds[i] = datasource.ApplyFeedDefaults(c.Feeds[i])
	}

	c.Aggregator = aggregator.ApplyDefaults(c.Aggregator)
	c.Rates = rates.ApplyDefaults(c.Rates)

	if c.Keeper.RequestsPerSecond == 0 {
		c.Keeper.RequestsPerSecond = 5
	}
	c.Keeper.Bots = keeper.ApplyDefaults(c.Keeper.Bots)
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

// Validate performs configuration validation after defaults were applied.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort <= 1024 || c.GrpcPort > 65535 {
		return fmt.Errorf("invalid grpc port number: %d (must be between 1025 and 65535)", c.GrpcPort)
	}

	if c.Storage.Enabled {
		switch c.Storage.DBType {
		case "sqlite":
			if c.Storage.DBPath == "" {
				return fmt.Errorf("database path cannot be empty for sqlite")
			}
		case "postgres":
			if c.Storage.DBConnectionString == "" {
				return fmt.Errorf("connection string cannot be empty for postgres")
			}
		default:
			return fmt.Errorf("unknown database type %q", c.Storage.DBType)
		}
		if c.Storage.RetentionDays <= 0 {
			return fmt.Errorf("retention days must be greater than 0")
		}
	}

	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if err := c.validateFeeds(); err != nil {
		return err
	}
	if err := aggregator.Validate(c.Aggregator); err != nil {
		return err
	}
	if enabled := len(c.EnabledFeeds()); enabled < c.Aggregator.MinValidFeeds {
		return fmt.Errorf("%d enabled feeds cannot satisfy min_valid_feeds %d", enabled, c.Aggregator.MinValidFeeds)
	}

	if c.Rates.PollSeconds <= 0 || c.Rates.BaseDelaySeconds <= 0 || c.Rates.MaxDelaySeconds < c.Rates.BaseDelaySeconds {
		return fmt.Errorf("invalid rate fetcher timing")
	}
	if c.Rates.Multiplier < 1 {
		return fmt.Errorf("rate backoff multiplier must be >= 1, got %v", c.Rates.Multiplier)
	}

	return c.validateKeeper()
}

func (c *Config) validateFeeds() error {
	seen := make(map[string]bool)
	for i, f := range c.Feeds {
		if f.Name == "" {
			return fmt.Errorf("feed %d must have a name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate feed name %q", f.Name)
		}
		seen[f.Name] = true

		switch f.Exchange {
		case "okx", "gate", "kucoin":
		default:
			return fmt.Errorf("feed '%s': unknown exchange %q", f.Name, f.Exchange)
		}
		if len(f.Pairs) == 0 {
			return fmt.Errorf("feed '%s' must have at least one pair", f.Name)
		}
		if !(f.WindowSec > 0) {
			return fmt.Errorf("feed '%s': window_sec must be > 0", f.Name)
		}
		if f.StartupWindowSec != nil && *f.StartupWindowSec < 0 {
			return fmt.Errorf("feed '%s': startup_window_sec cannot be negative", f.Name)
		}
		if f.MinNotional != nil && *f.MinNotional < 0 {
			return fmt.Errorf("feed '%s': min_notional cannot be negative", f.Name)
		}
	}
	return nil
}

func (c *Config) validateKeeper() error {
	k := c.Keeper
	if k.FeePerCost < 0 {
		return fmt.Errorf("fee_per_cost cannot be negative")
	}
	if k.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative")
	}
	if k.PriceUpdateThresholdBps < 0 {
		return fmt.Errorf("price_update_threshold_bps cannot be negative")
	}
	known := make(map[string]bool)
	for _, name := range keeper.Names() {
		known[name] = true
	}
	for name, bot := range k.Bots {
		if !known[name] {
			return fmt.Errorf("unknown bot %q", name)
		}
		if bot.RunIntervalSeconds <= 0 || bot.ContinueDelaySeconds <= 0 {
			return fmt.Errorf("bot %s: run interval and continue delay must be > 0", name)
		}
		if bot.Schedule != "" {
			if _, err := keeper.ParseSchedule(bot.Schedule); err != nil {
				return fmt.Errorf("bot %s: %w", name, err)
			}
		}
	}

	if h := strings.TrimPrefix(k.RewardsTargetPuzzleHash, "0x"); h != "" {
		if b, err := hex.DecodeString(h); err != nil || len(b) != 32 {
			return fmt.Errorf("rewards_target_puzzle_hash must be 32 hex-encoded bytes")
		}
	}
	for index, bounds := range k.VetoBounds {
		if bounds.Min != nil && bounds.Max != nil && *bounds.Min > *bounds.Max {
			return fmt.Errorf("veto_bounds[%d]: min %d above max %d", index, *bounds.Min, *bounds.Max)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// EnabledFeeds returns the feeds to start.
func (c *Config) EnabledFeeds() []models.MFeedConfig {
	var out []models.MFeedConfig
	for _, f := range c.Feeds {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}

// UpdateFeedParameters records a hot parameter change so that Save persists it.
func (c *Config) UpdateFeedParameters(name string, params models.MFeedParameters) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Feeds {
		if c.Feeds[i].Name != name {
			continue
		}
		if params.WindowSec != nil {
			c.Feeds[i].WindowSec = *params.WindowSec
		}
		if params.StartupWindowSec != nil {
			v := *params.StartupWindowSec
			c.Feeds[i].StartupWindowSec = &v
		}
		if params.MinNotional != nil {
			v := *params.MinNotional
			c.Feeds[i].MinNotional = &v
		}
		return nil
	}
	return fmt.Errorf("%w: %s", datasource.ErrSourceNotFound, name)
}

// Save persists the current configuration to the specified YAML file path.
// Secrets are never written.
func (c *Config) Save(configPath string) error {
	c.mu.Lock()
	data, err := yaml.Marshal(c.MConfig)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}
	return nil
}
