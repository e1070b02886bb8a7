package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"
)

// Config is the daemon configuration. Values come from the YAML file,
// then TOKEND_* environment variables, then command line flags.
type Config struct {
	Listen        string  `yaml:"listen"`
	Network       string  `yaml:"network_id"`
	JournalPath   string  `yaml:"journal_path"`
	CreatorKey    string  `yaml:"creator_key"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	LogLevel      string  `yaml:"log_level"`
	Explorer      bool    `yaml:"explorer"`

	Token struct {
		Name        string `yaml:"name"`
		Symbol      string `yaml:"symbol"`
		TotalSupply uint64 `yaml:"total_supply"`
	} `yaml:"token"`

	TLS struct {
		Cert string `yaml:"cert"`
		Key  string `yaml:"key"`
	} `yaml:"tls"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Listen:        ":8080",
		Network:       "local",
		JournalPath:   "ledger.db",
		CreatorKey:    "creator.pem",
		RatePerSecond: 5,
		Burst:         10,
		LogLevel:      "info",
		Explorer:      true,
	}
}

// LoadConfig reads path over the defaults. A missing file is not an error
// when path is empty.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from TOKEND_* variables.
func (c *Config) ApplyEnv() error {
	c.Listen = getEnv("TOKEND_LISTEN", c.Listen)
	c.Network = getEnv("TOKEND_NETWORK_ID", c.Network)
	c.JournalPath = getEnv("TOKEND_JOURNAL_PATH", c.JournalPath)
	c.CreatorKey = getEnv("TOKEND_CREATOR_KEY", c.CreatorKey)
	c.LogLevel = getEnv("TOKEND_LOG_LEVEL", c.LogLevel)

	if v := os.Getenv("TOKEND_RATE_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TOKEND_RATE_PER_SECOND: %w", err)
		}
		c.RatePerSecond = f
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.Network == "" {
		return errors.New("network_id is required")
	}
	if c.JournalPath == "" || c.CreatorKey == "" {
		return errors.New("journal_path and creator_key are required")
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return errors.New("tls.cert and tls.key must be set together")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// NewLogger builds the production zap logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// LoadTLSConfig loads the TLS configuration with certificates
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificates: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return tlsConfig, nil
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
