// Package config loads the engine's tunables (page-pool size, replacer K,
// write-proxy cadence) from a YAML file.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// EngineConfig mirrors the shape the engine is configured with: a storage
// section (where the pool file lives, how big it is) and a replacer section
// (the K in LRU-K).
type EngineConfig struct {
	Storage struct {
		DataFile string `mapstructure:"data_file"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"storage"`
	Replacer struct {
		K int `mapstructure:"k"`
	} `mapstructure:"replacer"`
	Proxy struct {
		IdleWaitMS int `mapstructure:"idle_wait_ms"`
	} `mapstructure:"proxy"`
}

// Defaults returns the configuration the engine uses when no file is
// supplied, matching the numbers used throughout the component design.
func Defaults() EngineConfig {
	var cfg EngineConfig
	cfg.Storage.DataFile = "engine.db"
	cfg.Storage.PoolSize = 64
	cfg.Replacer.K = 2
	cfg.Proxy.IdleWaitMS = 1
	return cfg
}

// LoadConfig reads path as YAML and unmarshals it into an EngineConfig,
// starting from Defaults() so a partial file only overrides what it sets.
func LoadConfig(path string) (*EngineConfig, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return &cfg, nil
}
