// Package config loads settings for `jsonsync serve` from a YAML file,
// JSONSYNC_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/jsonsync/internal/mark"
)

// EnvPrefix prefixes every environment override, e.g. JSONSYNC_LISTEN or
// JSONSYNC_REDIS_ADDR.
const EnvPrefix = "JSONSYNC"

// Config is everything a serving replica needs.
type Config struct {
	// Listen is the HTTP address for /ws, /doc, /patch and /metrics.
	Listen string `mapstructure:"listen"`

	// Machine pins the replica id as dot-separated uint32 words. Empty
	// draws a random id.
	Machine string `mapstructure:"machine"`

	// Name labels the replica in logs and the journal.
	Name string `mapstructure:"name"`

	// Initial is a JSON file holding the starting content. Every replica
	// of a document must start from the same content.
	Initial string `mapstructure:"initial"`

	// Peers are websocket URLs to dial at startup.
	Peers []string `mapstructure:"peers"`

	MDNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		Service  string `mapstructure:"service"`
		Instance string `mapstructure:"instance"`
	} `mapstructure:"mdns"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		Channel  string `mapstructure:"channel"`
	} `mapstructure:"redis"`

	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`

	Journal struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"journal"`

	Log struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"log"`
}

// flagKeys maps serve flag names onto config keys.
var flagKeys = map[string]string{
	"listen":        "listen",
	"machine":       "machine",
	"name":          "name",
	"initial":       "initial",
	"peer":          "peers",
	"mdns":          "mdns.enabled",
	"redis":         "redis.addr",
	"redis-channel": "redis.channel",
	"kafka":         "kafka.brokers",
	"kafka-topic":   "kafka.topic",
	"journal":       "journal.path",
	"log-level":     "log.level",
	"pretty":        "log.pretty",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":7420")
	v.SetDefault("machine", "")
	v.SetDefault("name", "")
	v.SetDefault("initial", "")
	v.SetDefault("peers", []string{})
	v.SetDefault("mdns.enabled", false)
	v.SetDefault("mdns.service", "_jsonsync._tcp")
	v.SetDefault("mdns.instance", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.channel", "jsonsync")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "jsonsync")
	v.SetDefault("journal.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads path (or jsonsync.yaml from ./config or the working
// directory when path is empty), applies environment overrides and then
// any flag in fs the user actually set.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("jsonsync")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag --%s: %w", name, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot run.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen address is required")
	}
	if _, err := c.MachineID(); err != nil {
		return err
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("config: kafka.topic is required with kafka.brokers")
	}
	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		return errors.New("config: redis.channel is required with redis.addr")
	}
	return nil
}

// MachineID parses Machine. It returns nil when no id is pinned.
func (c *Config) MachineID() (mark.ReplicaID, error) {
	return ParseMachine(c.Machine)
}

// ParseMachine parses "1.2.3.4" into a replica id.
func ParseMachine(s string) (mark.ReplicaID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ".")
	id := make(mark.ReplicaID, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: machine %q: word %d: %w", s, i, err)
		}
		id[i] = uint32(n)
	}
	return id, nil
}
