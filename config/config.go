// Package config loads settings from defaults, an optional YAML file,
// ADVNET_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "ADVNET"

// Config global config
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Connect ConnectConfig `mapstructure:"connect"`
	Resolve ResolveConfig `mapstructure:"resolve"`
	Client  ClientConfig  `mapstructure:"client"`
	Server  ServerConfig  `mapstructure:"server"`
	Daytime DaytimeConfig `mapstructure:"daytime"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type ConnectConfig struct {
	// socket, uring or ring
	Backend string `mapstructure:"backend"`
	// queue depth for the io_uring backends
	RingEntries uint32 `mapstructure:"ring_entries"`
}

type ResolveConfig struct {
	// system or dns
	Mode       string   `mapstructure:"mode"`
	Nameserver string   `mapstructure:"nameserver"`
	Order      []string `mapstructure:"order"`
}

type ClientConfig struct {
	// Responses longer than this many bytes are truncated.
	ResponseLimit int  `mapstructure:"response_limit"`
	ReadChunk     int  `mapstructure:"read_chunk"`
	NoWait        bool `mapstructure:"no_wait"`
}

type ServerConfig struct {
	Backlog int `mapstructure:"backlog"`
	Buffer  int `mapstructure:"buffer"`
}

type DaytimeConfig struct {
	Format string `mapstructure:"format"`
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("connect.backend", "socket")
	v.SetDefault("connect.ring_entries", 32)
	v.SetDefault("resolve.mode", "system")
	v.SetDefault("resolve.nameserver", "")
	v.SetDefault("resolve.order", []string{"ip6", "ip4"})
	v.SetDefault("client.response_limit", 160)
	v.SetDefault("client.read_chunk", 80)
	v.SetDefault("client.no_wait", false)
	v.SetDefault("server.backlog", 10)
	v.SetDefault("server.buffer", 160)
	v.SetDefault("daytime.format", "%a %b %e %H:%M:%S %Y")

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, if given, and decodes the merged settings.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return Decode(v)
}

// Decode decodes and validates the current settings of v.
func Decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Connect.Backend {
	case "socket", "uring", "ring":
	default:
		return errors.Errorf("connect.backend: unknown backend %q", c.Connect.Backend)
	}
	switch c.Resolve.Mode {
	case "system", "dns":
	default:
		return errors.Errorf("resolve.mode: unknown mode %q", c.Resolve.Mode)
	}
	if c.Client.ResponseLimit <= 0 {
		return errors.Errorf("client.response_limit must be positive, got %d", c.Client.ResponseLimit)
	}
	if c.Client.ReadChunk <= 0 {
		return errors.Errorf("client.read_chunk must be positive, got %d", c.Client.ReadChunk)
	}
	if c.Server.Backlog <= 0 {
		return errors.Errorf("server.backlog must be positive, got %d", c.Server.Backlog)
	}
	if c.Server.Buffer <= 0 {
		return errors.Errorf("server.buffer must be positive, got %d", c.Server.Buffer)
	}
	return nil
}

// Watch calls onChange with the re-decoded config whenever the config file
// changes. Decode errors go to onError. It does nothing without a file.
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c, err := Decode(v)
		if err != nil {
			onError(errors.Wrapf(err, "reload %s", e.Name))
			return
		}
		onChange(c)
	})
	v.WatchConfig()
}
