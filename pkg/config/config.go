package config

// Package config provides a reusable loader for Nodalync configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"nodalync/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a Nodalync node. It
// mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id" json:"id"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Economics struct {
		SynthesisFeeBP   uint64 `mapstructure:"synthesis_fee_bp" json:"synthesis_fee_bp"`
		DefaultPrice     uint64 `mapstructure:"default_price" json:"default_price"`
		RateLimitPerSec  float64 `mapstructure:"rate_limit_per_sec" json:"rate_limit_per_sec"`
		RateLimitBurst   float64 `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`
	} `mapstructure:"economics" json:"economics"`

	Settlement struct {
		BatchThreshold int `mapstructure:"batch_threshold" json:"batch_threshold"`
		FlushIntervalS int `mapstructure:"flush_interval_s" json:"flush_interval_s"`
	} `mapstructure:"settlement" json:"settlement"`

	Storage struct {
		DBPath      string `mapstructure:"db_path" json:"db_path"`
		CacheMaxMB  int    `mapstructure:"cache_max_mb" json:"cache_max_mb"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the NODALYNC_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("NODALYNC_ENV", ""))
}
