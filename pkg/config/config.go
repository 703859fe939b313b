// Package config holds the process-wide configuration of the Contentful cache.
//
// Configuration is read once at startup from a YAML file and environment
// variables. Components receive the parts they need by value.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/contentful-cache/pkg/logging"
)

// Cache store backends.
const (
	StoreRedis   = "redis"
	StoreLevelDB = "leveldb"
	StoreMemory  = "memory"
)

// DefaultBypassParameter is the query parameter that skips the routing cache.
const DefaultBypassParameter = "ignore-contentful-routing-cache"

var (
	// ErrMissingCredentials is returned when space id or access token are not set.
	ErrMissingCredentials = errors.New("contentful space id and access token are required")

	// ErrInvalidRouting is returned when slug or controller field are empty.
	ErrInvalidRouting = errors.New("routing_field and controller_field must not be empty")

	// ErrUnknownStore is returned for an unsupported caching.store value.
	ErrUnknownStore = errors.New("unknown cache store")

	ErrInvalidLogLevel = errors.New("unknown log level")
)

// Routing describes which content types are reachable by URL and how.
type Routing struct {
	// RoutableTypes lists the content type ids that take part in routing, in
	// the order they are tried.
	RoutableTypes []string `yaml:"routable_types"`

	// SlugField is the field holding the URL path of an entry.
	SlugField string `yaml:"routing_field"`

	// ControllerField is the field naming the handler of an entry.
	ControllerField string `yaml:"controller_field"`

	// DefaultTags are attached to every cached entry.
	DefaultTags []string `yaml:"default_tags"`
}

// IsRoutable reports whether entries of the content type can be routed to.
func (r Routing) IsRoutable(contentTypeID string) bool {
	for _, t := range r.RoutableTypes {
		if t == contentTypeID {
			return true
		}
	}
	return false
}

// ContentCaching configures the entry and id list caches.
type ContentCaching struct {
	// CacheTime is the TTL of cached content. 0 keeps items forever.
	CacheTime time.Duration `yaml:"cache_time"`
}

// RoutingCaching configures the per-path routing cache.
type RoutingCaching struct {
	CacheTime       time.Duration `yaml:"cache_time"`
	BypassParameter string        `yaml:"parameter_against_routing_cache"`
}

// Caching configures the cache store and invalidation behavior.
type Caching struct {
	Content ContentCaching `yaml:"content"`
	Routing RoutingCaching `yaml:"routing"`

	// CompleteClearOnWebhook clears the whole store on every reset webhook.
	CompleteClearOnWebhook bool `yaml:"complete_clear_on_webhook"`

	// CollectionConsumer lists cache keys deleted on every reset webhook.
	CollectionConsumer []string `yaml:"collection_consumer"`

	Store string `yaml:"store"`

	// RedisURL is a redis:// or rediss:// URL, or a bare host:port.
	RedisURL    string `yaml:"redis_url"`
	LevelDBPath string `yaml:"leveldb_path"`
}

// Contentful holds the upstream API credentials.
type Contentful struct {
	SpaceID     string `yaml:"space_id"`
	AccessToken string `yaml:"access_token"`
	Environment string `yaml:"environment"`
	BaseURL     string `yaml:"base_url"`
	UserAgent   string `yaml:"user_agent"`
}

// Warmer configures the startup cache warm-up.
type Warmer struct {
	Enabled          bool   `yaml:"enabled"`
	QueryStoragePath string `yaml:"query_storage_path"`

	// Concurrency is the number of queries replayed in parallel.
	Concurrency int `yaml:"concurrency"`
}

// Server configures the HTTP listener.
type Server struct {
	Port int `yaml:"port"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the complete process configuration.
type Config struct {
	Routing `yaml:",inline"`

	IncludeLevel  int    `yaml:"include_level"`
	DefaultLocale string `yaml:"default_locale"`
	Preview       bool   `yaml:"preview"`

	Caching    Caching    `yaml:"caching"`
	Contentful Contentful `yaml:"contentful"`
	Warmer     Warmer     `yaml:"warmer"`
	Server     Server     `yaml:"server"`
	Log        Log        `yaml:"log"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		Routing: Routing{
			SlugField:       "slug",
			ControllerField: "controller",
		},
		IncludeLevel:  10,
		DefaultLocale: "en-US",
		Caching: Caching{
			Routing:  RoutingCaching{BypassParameter: DefaultBypassParameter},
			Store:    StoreRedis,
			RedisURL: "localhost:6379",
		},
		Contentful: Contentful{
			Environment: "master",
			UserAgent:   "contentful-cache/0.1.0",
		},
		Warmer: Warmer{QueryStoragePath: "queries.db", Concurrency: 4},
		Server: Server{Port: 8080},
		Log:    Log{Level: "info"},
	}
}

// Load reads a YAML configuration file on top of the defaults. An empty path
// returns the defaults.
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}

	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set("CONTENTFUL_SPACE_ID", &c.Contentful.SpaceID)
	set("CONTENTFUL_ACCESS_TOKEN", &c.Contentful.AccessToken)
	set("CONTENTFUL_ENVIRONMENT", &c.Contentful.Environment)
	set("REDIS_URL", &c.Caching.RedisURL)
	set("LOG_LEVEL", &c.Log.Level)

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks the configuration for required values.
func (c *Config) Validate() error {
	if c.Contentful.SpaceID == "" || c.Contentful.AccessToken == "" {
		return ErrMissingCredentials
	}
	if strings.TrimSpace(c.SlugField) == "" || strings.TrimSpace(c.ControllerField) == "" {
		return ErrInvalidRouting
	}
	switch c.Caching.Store {
	case StoreRedis, StoreLevelDB, StoreMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStore, c.Caching.Store)
	}
	if !logging.ValidLevel(logging.LogLevel(c.Log.Level)) {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
	if c.Caching.Content.CacheTime < 0 || c.Caching.Routing.CacheTime < 0 {
		return errors.New("cache_time must not be negative")
	}
	return nil
}
