package config

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Configuration keys, shared between flag registration and Load.
const (
	KeyListenAddress  = "listen-address"
	KeyNamespace      = "namespace"
	KeyKubeconfig     = "kubeconfig"
	KeyMaxRetries     = "max-retries"
	KeyBackoffInitial = "backoff-initial"
	KeyBackoffMax     = "backoff-max"
	KeyBackoffReset   = "backoff-reset"
	KeyJournalPath    = "journal-path"
	KeyLogLevel       = "log-level"
)

// EnvPrefix is the prefix for environment variable overrides,
// e.g. PODWATCH_LISTEN_ADDRESS.
const EnvPrefix = "PODWATCH"

// Config holds all configuration for the process.
type Config struct {
	ListenAddress  string
	Namespace      string
	Kubeconfig     string
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffReset   time.Duration
	JournalPath    string
	LogLevel       logrus.Level
}

// SetDefaults registers fallback values with viper.
func SetDefaults() {
	viper.SetDefault(KeyListenAddress, ":8080")
	viper.SetDefault(KeyNamespace, "")
	viper.SetDefault(KeyKubeconfig, "")
	viper.SetDefault(KeyMaxRetries, 0)
	viper.SetDefault(KeyBackoffInitial, time.Second)
	viper.SetDefault(KeyBackoffMax, 30*time.Second)
	viper.SetDefault(KeyBackoffReset, time.Minute)
	viper.SetDefault(KeyJournalPath, "")
	viper.SetDefault(KeyLogLevel, "info")
}

// Load populates a Config from viper (bound flags plus PODWATCH_* environment
// variables) and logs a summary. Invalid values fall back with a warning
// rather than failing startup.
func Load() *Config {
	level, err := logrus.ParseLevel(viper.GetString(KeyLogLevel))
	if err != nil {
		logrus.WithError(err).Warnf("config: invalid value for %s, using info", KeyLogLevel)
		level = logrus.InfoLevel
	}

	cfg := &Config{
		ListenAddress:  viper.GetString(KeyListenAddress),
		Namespace:      viper.GetString(KeyNamespace),
		Kubeconfig:     viper.GetString(KeyKubeconfig),
		MaxRetries:     viper.GetInt(KeyMaxRetries),
		BackoffInitial: viper.GetDuration(KeyBackoffInitial),
		BackoffMax:     viper.GetDuration(KeyBackoffMax),
		BackoffReset:   viper.GetDuration(KeyBackoffReset),
		JournalPath:    viper.GetString(KeyJournalPath),
		LogLevel:       level,
	}

	logrus.WithFields(logrus.Fields{
		"listen_address":  cfg.ListenAddress,
		"namespace":       cfg.Namespace,
		"max_retries":     cfg.MaxRetries,
		"backoff_initial": cfg.BackoffInitial.String(),
		"backoff_max":     cfg.BackoffMax.String(),
		"backoff_reset":   cfg.BackoffReset.String(),
		"journal_path":    cfg.JournalPath,
	}).Info("config: loaded configuration")

	return cfg
}
