package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	OCDS     OCDSConfig     `yaml:"ocds" mapstructure:"ocds"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Events   EventsConfig   `yaml:"events" mapstructure:"events"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OCDSConfig configures the eTenders OCDS release API and bulk-file host.
type OCDSConfig struct {
	APIBaseURL       string `yaml:"api_base_url" mapstructure:"api_base_url"`
	DataBaseURL      string `yaml:"data_base_url" mapstructure:"data_base_url"`
	APITimeoutSecs   int    `yaml:"api_timeout_secs" mapstructure:"api_timeout_secs"`
	FileTimeoutSecs  int    `yaml:"file_timeout_secs" mapstructure:"file_timeout_secs"`
	PageSize         int    `yaml:"page_size" mapstructure:"page_size"`
	MaxRetries       int    `yaml:"max_retries" mapstructure:"max_retries"`
	RateLimitPerSec  int    `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	BackfillMaxPages int    `yaml:"backfill_max_pages" mapstructure:"backfill_max_pages"`
	FileCharset      string `yaml:"file_charset" mapstructure:"file_charset"`
}

// APITimeout returns the release API request timeout.
func (c OCDSConfig) APITimeout() time.Duration {
	return time.Duration(c.APITimeoutSecs) * time.Second
}

// FileTimeout returns the remote bulk-file download timeout.
func (c OCDSConfig) FileTimeout() time.Duration {
	return time.Duration(c.FileTimeoutSecs) * time.Second
}

// IngestConfig configures run bookkeeping and the cached match score.
type IngestConfig struct {
	StaleAfterMins int   `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	CacheScore     bool  `yaml:"cache_score" mapstructure:"cache_score"`
	CacheProfileID int64 `yaml:"cache_profile_id" mapstructure:"cache_profile_id"`
}

// StaleAfter returns how long a run may stay open before the sweep closes it.
func (c IngestConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMins) * time.Minute
}

// ScheduleConfig holds cron specs for the scheduler.
type ScheduleConfig struct {
	IngestCron string `yaml:"ingest_cron" mapstructure:"ingest_cron"`
	SweepCron  string `yaml:"sweep_cron" mapstructure:"sweep_cron"`
}

// EventsConfig configures Redis pub/sub event publishing.
type EventsConfig struct {
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	Channel  string `yaml:"channel" mapstructure:"channel"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. An empty path looks
// for an optional config.yaml in the working directory; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("TENDERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "tenders.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("ocds.api_base_url", "https://ocds-api.etenders.gov.za/api")
	v.SetDefault("ocds.data_base_url", "https://data.etenders.gov.za")
	v.SetDefault("ocds.api_timeout_secs", 30)
	v.SetDefault("ocds.file_timeout_secs", 60)
	v.SetDefault("ocds.page_size", 100)
	v.SetDefault("ocds.max_retries", 3)
	v.SetDefault("ocds.rate_limit_per_sec", 5)
	v.SetDefault("ocds.user_agent", "tenders-cli/1.0")
	v.SetDefault("ocds.backfill_max_pages", 0)
	v.SetDefault("ocds.file_charset", "")
	v.SetDefault("ingest.stale_after_mins", 120)
	v.SetDefault("ingest.cache_score", true)
	v.SetDefault("ingest.cache_profile_id", 0)
	v.SetDefault("schedule.ingest_cron", "0 2 * * *")
	v.SetDefault("schedule.sweep_cron", "@every 15m")
	v.SetDefault("events.redis_url", "")
	v.SetDefault("events.channel", "tenders.events")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "ingest", "schedule" and "serve".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		problems = append(problems, "store.driver must be postgres or sqlite")
	}

	switch mode {
	case "ingest":
	case "schedule":
		if c.Schedule.IngestCron == "" {
			problems = append(problems, "schedule.ingest_cron is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.OCDS.APIBaseURL == "" {
		problems = append(problems, "ocds.api_base_url is required")
	}
	if c.OCDS.PageSize < 1 || c.OCDS.PageSize > 1000 {
		problems = append(problems, "ocds.page_size must be between 1 and 1000")
	}
	if c.OCDS.APITimeoutSecs <= 0 || c.OCDS.FileTimeoutSecs <= 0 {
		problems = append(problems, "ocds timeouts must be > 0")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
