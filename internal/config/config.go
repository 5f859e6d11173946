// Package config loads steamwatch configuration from an optional file,
// STEAMWATCH_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// STEAMWATCH_STEAM_API_KEY or STEAMWATCH_SCHEDULER_INTERVAL.
const EnvPrefix = "STEAMWATCH"

// Config represents the complete application configuration
type Config struct {
	Steam     SteamConfig     `mapstructure:"steam"`
	Collector CollectorConfig `mapstructure:"collector"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Watchlist WatchlistConfig `mapstructure:"watchlist"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Status    StatusConfig    `mapstructure:"status"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SteamConfig holds Steam API configuration
type SteamConfig struct {
	StoreURL    string        `mapstructure:"store_url"`
	StatsURL    string        `mapstructure:"stats_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CountryCode string        `mapstructure:"country_code"`
	Language    string        `mapstructure:"language"`
	UserAgent   string        `mapstructure:"user_agent"`
}

// CollectorConfig holds per-cycle fetch pacing
type CollectorConfig struct {
	ItemDelay   time.Duration `mapstructure:"item_delay"`
	Concurrency int           `mapstructure:"concurrency"`
}

// SchedulerConfig holds loop timing
type SchedulerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	MaxCycles int           `mapstructure:"max_cycles"`
}

// WatchlistConfig locates the watchlist document
type WatchlistConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig holds view document locations
type StorageConfig struct {
	DataDir       string `mapstructure:"data_dir"`
	SnapshotFile  string `mapstructure:"snapshot_file"`
	DiscountsFile string `mapstructure:"discounts_file"`
	PlayersFile   string `mapstructure:"players_file"`
}

// MonitorConfig holds sale alert configuration
type MonitorConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MinDiscount int           `mapstructure:"min_discount"`
	TopK        int           `mapstructure:"top_k"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// RedisConfig holds the cycle event stream configuration
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Stream  string `mapstructure:"stream"`
	MaxLen  int64  `mapstructure:"max_len"`
}

// StatusConfig holds the status HTTP endpoint configuration
type StatusConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NewFlagSet defines the command-line surface.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "Path to configuration file (optional)")
	fs.String("watchlist", "config/games_watchlist.json", "Path to the watchlist document")
	fs.Int("interval", 300, "Seconds to wait between cycles")
	fs.String("steam-api-key", "", "Steam Web API key (optional)")
	fs.String("data-dir", "data/steam", "Directory the view documents are written to")
	fs.Bool("once", false, "Run a single cycle and exit")
	return fs
}

// Load reads configuration from file, environment variables and flags.
// path may be empty, in which case only defaults, environment and flags
// apply. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"watchlist.path":   "watchlist",
		"steam.api_key":    "steam-api-key",
		"storage.data_dir": "data-dir",
	}
	for key, name := range bindings {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}

	// --interval is in seconds while the config key is a duration.
	if flags.Changed("interval") {
		secs, err := flags.GetInt("interval")
		if err != nil {
			return fmt.Errorf("invalid --interval: %w", err)
		}
		v.Set("scheduler.interval", time.Duration(secs)*time.Second)
	}
	if flags.Changed("once") {
		once, err := flags.GetBool("once")
		if err != nil {
			return fmt.Errorf("invalid --once: %w", err)
		}
		if once {
			v.Set("scheduler.max_cycles", 1)
		}
	}
	return nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Steam defaults
	v.SetDefault("steam.store_url", "https://store.steampowered.com/api")
	v.SetDefault("steam.stats_url", "https://api.steampowered.com")
	v.SetDefault("steam.api_key", "")
	v.SetDefault("steam.timeout", "10s")
	v.SetDefault("steam.country_code", "us")
	v.SetDefault("steam.language", "english")
	v.SetDefault("steam.user_agent", "Mozilla/5.0 (compatible; SteamMonitor/1.0)")

	// Collector defaults
	v.SetDefault("collector.item_delay", "2s")
	v.SetDefault("collector.concurrency", 1)

	// Scheduler defaults
	v.SetDefault("scheduler.interval", "300s")
	v.SetDefault("scheduler.max_cycles", 0)

	// Watchlist defaults
	v.SetDefault("watchlist.path", "config/games_watchlist.json")

	// Storage defaults
	v.SetDefault("storage.data_dir", "data/steam")
	v.SetDefault("storage.snapshot_file", "latest_games.json")
	v.SetDefault("storage.discounts_file", "discounts.json")
	v.SetDefault("storage.players_file", "player_stats.json")

	// Monitor defaults
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.min_discount", 10)
	v.SetDefault("monitor.top_k", 10)
	v.SetDefault("monitor.cooldown", "24h")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.stream", "steamwatch.cycles")
	v.SetDefault("redis.max_len", 1000)

	// Status defaults
	v.SetDefault("status.listen_addr", "")
	v.SetDefault("status.allowed_origins", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Steam config
	if c.Steam.StoreURL == "" {
		return fmt.Errorf("steam.store_url is required")
	}
	if c.Steam.StatsURL == "" {
		return fmt.Errorf("steam.stats_url is required")
	}
	if c.Steam.Timeout <= 0 {
		return fmt.Errorf("steam.timeout must be positive")
	}

	// Validate Collector config
	if c.Collector.ItemDelay < 0 {
		return fmt.Errorf("collector.item_delay must not be negative")
	}
	if c.Collector.Concurrency < 1 || c.Collector.Concurrency > 16 {
		return fmt.Errorf("collector.concurrency must be between 1 and 16")
	}

	// Validate Scheduler config
	if c.Scheduler.Interval < time.Second {
		return fmt.Errorf("scheduler.interval must be at least 1 second")
	}
	if c.Scheduler.MaxCycles < 0 {
		return fmt.Errorf("scheduler.max_cycles must not be negative")
	}

	// Validate paths
	if c.Watchlist.Path == "" {
		return fmt.Errorf("watchlist.path is required")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}

	// Validate Monitor config
	if c.Monitor.MinDiscount < 0 || c.Monitor.MinDiscount > 100 {
		return fmt.Errorf("monitor.min_discount must be between 0 and 100")
	}
	if c.Monitor.TopK < 0 {
		return fmt.Errorf("monitor.top_k must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Redis config
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis is enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
