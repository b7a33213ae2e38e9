package models

// MConfig Structure
type MConfig struct {
	Name       string            `yaml:"name"`
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port"`
	LogLevel   string            `yaml:"log_level"`
	LogFormat  string            `yaml:"log_format"` // "json" or "console"
	GrpcHost   string            `yaml:"grpc_host"`
	GrpcPort   int               `yaml:"grpc_port"`
	Storage    MStorageConfig    `yaml:"storage"`
	Network    MNetworkConfig    `yaml:"network"`
	Feeds      []MFeedConfig     `yaml:"feeds"`
	Aggregator MAggregatorConfig `yaml:"aggregator"`
	Rates      MRatesConfig      `yaml:"rates"`
	Keeper     MKeeperConfig     `yaml:"keeper"`
}

type MStorageConfig struct {
	Enabled            bool   `yaml:"enabled"`
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	RetentionDays      int    `yaml:"retention_days"`
	CleanupSchedule    string `yaml:"cleanup_schedule"` // cron spec, e.g. "@hourly"
}

type MNetworkConfig struct {
	RequestTimeout int    `yaml:"timeout"`
	MaxRetries     int    `yaml:"retries"`
	UserAgent      string `yaml:"user_agent"`
}

// MFeedConfig describes one exchange feed.
type MFeedConfig struct {
	Name             string   `yaml:"name"`
	Exchange         string   `yaml:"exchange"` // okx, gate, kucoin
	Enabled          bool     `yaml:"enabled"`
	URL              string   `yaml:"url"`
	RestURL          string   `yaml:"rest_url"` // kucoin bullet endpoint base
	Pairs            []string `yaml:"pairs"`
	WindowSec        float64  `yaml:"window_sec"`
	StartupWindowSec *float64 `yaml:"startup_window_sec"` // nil -> default, 0 disables
	MinNotional      *float64 `yaml:"min_notional"`
}

type MAggregatorConfig struct {
	MinValidFeeds           int     `yaml:"min_valid_feeds" json:"min_valid_feeds"`
	Method                  string  `yaml:"method" json:"method"`
	MaxSingleFeedWeight     float64 `yaml:"max_single_feed_weight" json:"max_single_feed_weight"`
	VolumeSpikeThreshold    float64 `yaml:"volume_spike_threshold" json:"volume_spike_threshold"`
	VolumeHistoryLength     int     `yaml:"volume_history_length" json:"volume_history_length"`
	PriceDeviationThreshold float64 `yaml:"price_deviation_threshold" json:"price_deviation_threshold"`
	IntervalSeconds         int     `yaml:"interval_seconds" json:"interval_seconds"`
}

type MRatesConfig struct {
	URL              string  `yaml:"url"`
	TimeoutSeconds   int     `yaml:"timeout_seconds"`
	PollSeconds      float64 `yaml:"poll_seconds"`
	BaseDelaySeconds float64 `yaml:"base_delay_seconds"`
	MaxDelaySeconds  float64 `yaml:"max_delay_seconds"`
	Multiplier       float64 `yaml:"multiplier"`
}

// MKeeperConfig configures the keeper bots. RewardsTargetPuzzleHash receives
// announcer rewards (empty leaves the choice to the server); VetoBounds maps a
// statute index to the values accepted without a veto.
type MKeeperConfig struct {
	RPCURL                  string                 `yaml:"rpc_url"`
	PrivateKey              string                 `yaml:"-"` // env only
	FeePerCost              int64                  `yaml:"fee_per_cost"`
	RequestsPerSecond       float64                `yaml:"requests_per_second"`
	PriceUpdateThresholdBps float64                `yaml:"price_update_threshold_bps"`
	MetricsAddr             string                 `yaml:"metrics_addr"` // bot process /metrics, empty disables
	RewardsTargetPuzzleHash string                 `yaml:"rewards_target_puzzle_hash"`
	VetoBounds              map[int]MStatuteBounds `yaml:"veto_bounds"`
	Bots                    map[string]MBotConfig  `yaml:"bots"`
}

// MStatuteBounds is the range of statute values the keeper accepts without
// vetoing. A nil bound is open.
type MStatuteBounds struct {
	Min *int64 `yaml:"min"`
	Max *int64 `yaml:"max"`
}

// MBotConfig sets when a bot runs. Schedule is a cron expression (CRON_TZ=
// prefix allowed); when set the bot runs on it instead of every run interval
// and a failed run is retried after the continue delay, MaxAttempts times in all.
type MBotConfig struct {
	RunIntervalSeconds   int    `yaml:"run_interval_seconds"`
	ContinueDelaySeconds int    `yaml:"continue_delay_seconds"`
	Schedule             string `yaml:"schedule,omitempty"`
	MaxAttempts          int    `yaml:"max_attempts,omitempty"`
}

// LoggerSettings exposes the log level and format to the logger package.
func (c *MConfig) LoggerSettings() (string, string) {
	return c.LogLevel, c.LogFormat
}
