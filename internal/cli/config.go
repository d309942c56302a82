package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/roach88/optimist/internal/collection"
)

// RedisURLEnv supplies realtime.url when neither the file nor a flag sets it.
const RedisURLEnv = "OPTIMIST_REDIS_URL"

// Remote kinds.
const (
	RemoteMemory = "memory"
	RemoteSQLite = "sqlite"
)

// Realtime kinds.
const (
	RealtimeNone   = "none"
	RealtimeMemory = "memory"
	RealtimeRedis  = "redis"
)

// Config is the CLI configuration file.
//
// Example:
//
//	collection: todos
//	client_id: laptop
//	remote:
//	  kind: sqlite
//	  path: ./optimist.db
//	realtime:
//	  kind: redis
//	  url: redis://localhost:6379/0
//	  prefix: optimist
//	stale_time: 30s
//	prune: true
//	metrics_addr: 127.0.0.1:9090
type Config struct {
	Collection  string         `yaml:"collection"`
	ClientID    string         `yaml:"client_id"`
	Remote      RemoteConfig   `yaml:"remote"`
	Realtime    RealtimeConfig `yaml:"realtime"`
	StaleTime   time.Duration  `yaml:"stale_time"`
	Prune       bool           `yaml:"prune"`
	MetricsAddr string         `yaml:"metrics_addr"`
}

// RemoteConfig selects the authoritative store.
type RemoteConfig struct {
	Kind string `yaml:"kind"` // "memory" | "sqlite"
	Path string `yaml:"path"` // SQLite database, required for sqlite
}

// RealtimeConfig selects the realtime transport.
type RealtimeConfig struct {
	Kind   string `yaml:"kind"` // "none" | "memory" | "redis"
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Collection: collection.TodoName,
		Remote:     RemoteConfig{Kind: RemoteMemory},
		Realtime:   RealtimeConfig{Kind: RealtimeNone},
		StaleTime:  30 * time.Second,
	}
}

// LoadConfig reads the YAML file at path over DefaultConfig. An empty path
// yields the defaults. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.finish()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.finish()
}

// finish applies environment fallbacks and validates the result.
func (c *Config) finish() error {
	if c.Realtime.URL == "" {
		c.Realtime.URL = os.Getenv(RedisURLEnv)
	}
	return c.Validate()
}

// Validate checks that the configuration names known backends.
func (c *Config) Validate() error {
	switch c.Collection {
	case collection.TodoName, collection.PostName:
	default:
		return fmt.Errorf("unknown collection %q: must be %s or %s", c.Collection, collection.TodoName, collection.PostName)
	}

	switch c.Remote.Kind {
	case RemoteMemory:
	case RemoteSQLite:
		if c.Remote.Path == "" {
			return fmt.Errorf("remote.path is required for the sqlite remote")
		}
	default:
		return fmt.Errorf("unknown remote kind %q", c.Remote.Kind)
	}

	switch c.Realtime.Kind {
	case "", RealtimeNone, RealtimeMemory:
	case RealtimeRedis:
		if c.Realtime.URL == "" {
			return fmt.Errorf("realtime.url (or %s) is required for the redis transport", RedisURLEnv)
		}
	default:
		return fmt.Errorf("unknown realtime kind %q", c.Realtime.Kind)
	}

	if c.StaleTime < 0 {
		return fmt.Errorf("stale_time must not be negative")
	}
	return nil
}

// configFlags are the per-command overrides of Config values.
type configFlags struct {
	collection string
	clientID   string
	db         string
	redisURL   string
	staleTime  time.Duration
	prune      bool
}

// register adds the override flags to cmd.
func (f *configFlags) register(cmd *cobra.Command) {
	f.bind(cmd.Flags())
}

// registerPersistent adds the override flags to cmd and its subcommands.
func (f *configFlags) registerPersistent(cmd *cobra.Command) {
	f.bind(cmd.PersistentFlags())
}

func (f *configFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.collection, "collection", "", "collection to use (todos|posts)")
	fs.StringVar(&f.clientID, "client-id", "", "client id for echo suppression")
	fs.StringVar(&f.db, "db", "", "SQLite database; selects the sqlite remote")
	fs.StringVar(&f.redisURL, "redis", "", "Redis URL; selects the redis realtime transport")
	fs.DurationVar(&f.staleTime, "stale-time", 0, "how long fetched data stays fresh")
	fs.BoolVar(&f.prune, "prune", false, "drop records the server no longer returns")
}

// apply copies every flag the user set onto cfg.
func (f *configFlags) apply(cmd *cobra.Command, cfg *Config) error {
	flags := cmd.Flags()
	if flags.Changed("collection") {
		cfg.Collection = f.collection
	}
	if flags.Changed("client-id") {
		cfg.ClientID = f.clientID
	}
	if flags.Changed("db") {
		cfg.Remote = RemoteConfig{Kind: RemoteSQLite, Path: f.db}
	}
	if flags.Changed("redis") {
		cfg.Realtime.Kind = RealtimeRedis
		cfg.Realtime.URL = f.redisURL
	}
	if flags.Changed("stale-time") {
		cfg.StaleTime = f.staleTime
	}
	if flags.Changed("prune") {
		cfg.Prune = f.prune
	}
	return cfg.Validate()
}
