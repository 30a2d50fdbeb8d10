package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete rolodex configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Raft    RaftConfig    `mapstructure:"raft" yaml:"raft"`
	Gateway GatewayConfig `mapstructure:"gateway" yaml:"gateway"`
	Locks   LocksConfig   `mapstructure:"locks" yaml:"locks"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig controls the listeners
type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr" yaml:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr" yaml:"grpc_addr"`
	// AllowedOrigins lists the browser origins accepted on /ws; empty allows any
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// StoreConfig selects and tunes the record store
type StoreConfig struct {
	// Driver is one of "memory", "bolt", "sqlite", "raft"
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Path is the database file for bolt and sqlite
	Path string `mapstructure:"path" yaml:"path"`
	// Timeout bounds every store round-trip
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// CASAttempts bounds re-reads after a lost compare-and-set
	CASAttempts int `mapstructure:"cas_attempts" yaml:"cas_attempts"`
}

// RaftConfig is used when store.driver is "raft"
type RaftConfig struct {
	// NodeID is a UUID; one is generated when empty
	NodeID    string `mapstructure:"node_id" yaml:"node_id"`
	BindAddr  string `mapstructure:"bind_addr" yaml:"bind_addr"`
	DataDir   string `mapstructure:"data_dir" yaml:"data_dir"`
	Bootstrap bool   `mapstructure:"bootstrap" yaml:"bootstrap"`
}

// GatewayConfig tunes the real-time channel
type GatewayConfig struct {
	OutboundBuffer  int     `mapstructure:"outbound_buffer" yaml:"outbound_buffer"`
	EventsPerSecond float64 `mapstructure:"events_per_second" yaml:"events_per_second"`
	EventBurst      int     `mapstructure:"event_burst" yaml:"event_burst"`
	// VerifyRelays checks update/delete notifications against the store before relaying
	VerifyRelays bool `mapstructure:"verify_relays" yaml:"verify_relays"`
}

// LocksConfig controls the stale lock reaper
type LocksConfig struct {
	// MaxAge releases locks older than this (0 = never)
	MaxAge       time.Duration `mapstructure:"max_age" yaml:"max_age"`
	ReapInterval time.Duration `mapstructure:"reap_interval" yaml:"reap_interval"`
}

type AuthConfig struct {
	Users []User `mapstructure:"users" yaml:"users"`
}

type User struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// Default returns a Config with every default filled in
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: ":5000",
			GRPCAddr: ":9000",
		},
		Store: StoreConfig{
			Driver:      "memory",
			Path:        "./data/rolodex.db",
			Timeout:     5 * time.Second,
			CASAttempts: 8,
		},
		Raft: RaftConfig{
			BindAddr: "127.0.0.1:7000",
			DataDir:  "./data/raft",
		},
		Gateway: GatewayConfig{
			OutboundBuffer:  64,
			EventsPerSecond: 20,
			EventBurst:      40,
		},
		Locks: LocksConfig{
			ReapInterval: time.Minute,
		},
		Auth: AuthConfig{
			Users: []User{
				{Username: "user1", Password: "user1"},
				{Username: "user2", Password: "user2"},
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers every key on v so env vars and flags can override them
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("server.http_addr", defaults.Server.HTTPAddr)
	v.SetDefault("server.grpc_addr", defaults.Server.GRPCAddr)
	v.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	v.SetDefault("store.driver", defaults.Store.Driver)
	v.SetDefault("store.path", defaults.Store.Path)
	v.SetDefault("store.timeout", defaults.Store.Timeout)
	v.SetDefault("store.cas_attempts", defaults.Store.CASAttempts)

	v.SetDefault("raft.node_id", defaults.Raft.NodeID)
	v.SetDefault("raft.bind_addr", defaults.Raft.BindAddr)
	v.SetDefault("raft.data_dir", defaults.Raft.DataDir)
	v.SetDefault("raft.bootstrap", defaults.Raft.Bootstrap)

	v.SetDefault("gateway.outbound_buffer", defaults.Gateway.OutboundBuffer)
	v.SetDefault("gateway.events_per_second", defaults.Gateway.EventsPerSecond)
	v.SetDefault("gateway.event_burst", defaults.Gateway.EventBurst)
	v.SetDefault("gateway.verify_relays", defaults.Gateway.VerifyRelays)

	v.SetDefault("locks.max_age", defaults.Locks.MaxAge)
	v.SetDefault("locks.reap_interval", defaults.Locks.ReapInterval)

	users := make([]map[string]any, 0, len(defaults.Auth.Users))
	for _, u := range defaults.Auth.Users {
		users = append(users, map[string]any{"username": u.Username, "password": u.Password})
	}
	v.SetDefault("auth.users", users)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.json", defaults.Logging.JSON)
}

// Init points v at the config file and environment.
// An explicit file must exist; the default rolodex.yaml is optional.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("rolodex")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
	}

	// ROLODEX_STORE_DRIVER for store.driver
	v.SetEnvPrefix("ROLODEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return err
		}
	}
	return nil
}

// Load reads the configuration from v into a Config and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigDir returns the per-user config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rolodex")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rolodex"
	}
	return filepath.Join(home, ".config", "rolodex")
}
