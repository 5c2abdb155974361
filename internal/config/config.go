// Package config loads this module's configuration surface with Viper, the
// way the teacher repo's engine/actors/config.go builds its singleton
// *viper.Viper with defaults.
package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

// CapabilityPrice is one entry of the capability_pricing configuration list.
type CapabilityPrice struct {
	CapabilityID     string `mapstructure:"capability_id"`
	Price            string `mapstructure:"price"`
	Currency         string `mapstructure:"currency"`
	LightningAddress string `mapstructure:"lightning_address"`
}

// Config is the resolved configuration for either a client or a server
// instance of the bridge. Both roles share one shape; unused fields for a
// given role are simply left at their zero value.
type Config struct {
	v *viper.Viper
}

var (
	once sync.Once
	cfg  *Config
)

// MakeOrGetConfig returns the process-wide config singleton, creating it on
// first call, mirroring the teacher's MakeOrGetConfig/SetConfig pattern.
func MakeOrGetConfig() *Config {
	once.Do(func() {
		v := viper.New()
		setDefaults(v)
		cfg = &Config{v: v}
	})
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("relays", []string{"wss://relay.damus.io", "wss://nos.lol"})
	v.SetDefault("encryption_mode", "OPTIONAL")
	v.SetDefault("is_public_server", false)
	v.SetDefault("allowed_public_keys", []string{})
	v.SetDefault("server_info.name", "")
	v.SetDefault("server_info.description", "")
	v.SetDefault("session_idle_timeout_seconds", 300)
	v.SetDefault("relay_backoff_initial_seconds", 1)
	v.SetDefault("relay_backoff_max_seconds", 30)
	v.SetDefault("relay_backoff_max_attempts", 5)
}

// BindEnv wires environment variable lookups for the cmd/ wrappers without
// letting the core packages read the environment themselves.
func (c *Config) BindEnv(key, env string) error {
	return c.v.BindEnv(key, env)
}

func (c *Config) SetConfigFile(path string) { c.v.SetConfigFile(path) }

func (c *Config) ReadInConfig() error {
	if err := c.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) GetString(key string) string        { return c.v.GetString(key) }
func (c *Config) GetStringSlice(key string) []string { return c.v.GetStringSlice(key) }
func (c *Config) GetBool(key string) bool            { return c.v.GetBool(key) }
func (c *Config) GetInt(key string) int              { return c.v.GetInt(key) }
func (c *Config) Set(key string, value interface{})  { c.v.Set(key, value) }

// CapabilityPricing unmarshals the capability_pricing list.
func (c *Config) CapabilityPricing() ([]CapabilityPrice, error) {
	var prices []CapabilityPrice
	if err := c.v.UnmarshalKey("capability_pricing", &prices); err != nil {
		return nil, fmt.Errorf("config: capability_pricing: %w", err)
	}
	return prices, nil
}
