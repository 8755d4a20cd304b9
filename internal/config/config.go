package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	// ContainerDir is where downloaded rule files live, named <list>.json.
	ContainerDir string `envconfig:"CONTAINER_DIR" required:"true"`

	// Expiration is the age after which a downloaded block list is stale.
	Expiration time.Duration `envconfig:"BLOCKLIST_EXPIRATION" default:"24h"`
	// ExpireDivisor divides Expiration to obtain the periodic update check interval.
	ExpireDivisor float64 `envconfig:"EXPIRE_DIVISOR" default:"4320"`
	// KeepFactor relaxes the on-disk removal window relative to Expiration.
	KeepFactor float64 `envconfig:"DOWNLOAD_KEEP_FACTOR" default:"1"`

	UserDownloadsMax    int `envconfig:"USER_DOWNLOADS_MAX" default:"5"`
	UpdaterDownloadsMax int `envconfig:"UPDATER_DOWNLOADS_MAX" default:"5"`
	UserHistoryMax      int `envconfig:"USER_HISTORY_MAX" default:"5"`
	DownloadCounterMax  int `envconfig:"DOWNLOAD_COUNTER_MAX" default:"4"`

	StateBackend string `envconfig:"STATE_BACKEND" default:"bolt"`
	StatePath    string `envconfig:"STATE_PATH" default:"state.db"`

	// Identity reported to the list servers as request query parameters.
	AddonName  string `envconfig:"ADDON_NAME" default:"abpkit"`
	AddonVer   string `envconfig:"ADDON_VERSION" default:"0.1"`
	AppName    string `envconfig:"APPLICATION" default:"blocklistd"`
	AppVersion string `envconfig:"APPLICATION_VERSION" default:"dev"`
	Platform   string `envconfig:"PLATFORM" default:"webkit"`
	PlatformV  string `envconfig:"PLATFORM_VERSION" default:"1.0"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := os.MkdirAll(cfg.ContainerDir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating container dir: %w", err)
	}

	return &cfg, nil
}

// UpdatePeriod is how often the automatic updater checks for expiration.
func (c *Config) UpdatePeriod() time.Duration {
	div := c.ExpireDivisor
	if div <= 0 {
		div = 1
	}

	return time.Duration(float64(c.Expiration) / div)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
