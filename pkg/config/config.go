// Package config resolves service settings from an optional config file and
// the environment. Keys are lower-case and dotted; "kafka.brokers" is read
// from KAFKA_BROKERS.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	v *viper.Viper
}

// New returns a Config with defaults applied under the environment.
func New(defaults map[string]any) *Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return &Config{v: v}
}

// ReadFile merges the settings in path. An empty path is ignored.
func (c *Config) ReadFile(path string) error {
	if path == "" {
		return nil
	}
	c.v.SetConfigFile(path)
	if err := c.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Viper exposes the underlying instance, e.g. to bind command flags.
func (c *Config) Viper() *viper.Viper {
	return c.v
}

func (c *Config) String(key string) string {
	return strings.TrimSpace(c.v.GetString(key))
}

func (c *Config) Int(key string) int {
	return c.v.GetInt(key)
}

func (c *Config) Bool(key string) bool {
	return c.v.GetBool(key)
}

func (c *Config) Duration(key string) time.Duration {
	return c.v.GetDuration(key)
}

// Strings splits a comma separated value.
func (c *Config) Strings(key string) []string {
	var out []string
	for _, s := range strings.Split(c.String(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Require fails naming every key that resolves to an empty value.
func (c *Config) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if c.String(k) == "" {
			missing = append(missing, strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(k)))
		}
	}
	if len(missing) > 0 {
		return errors.New(strings.Join(missing, ", ") + " required")
	}
	return nil
}
