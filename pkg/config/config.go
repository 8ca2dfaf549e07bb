package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/protocol"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PARLEY_"

// Driver names.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
)

// Config is the runtime configuration of a parley process.
type Config struct {
	WorkflowID   string        `mapstructure:"workflow_id"`
	FlowName     string        `mapstructure:"flow_name"`
	LogLevel     string        `mapstructure:"log_level"`
	LogFormat    string        `mapstructure:"log_format"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	Engine    protocol.Config `mapstructure:"engine"`
	Store     StoreConfig     `mapstructure:"store"`
	Transport TransportConfig `mapstructure:"transport"`
	Redis     RedisConfig     `mapstructure:"redis"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

// StoreConfig selects and tunes the checkpoint store.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`

	// EncryptionKey is a base64 AES-256 key. Empty disables sealing.
	EncryptionKey string   `mapstructure:"encryption_key"`
	FallbackKeys  []string `mapstructure:"fallback_keys"`
	MaskPatterns  []string `mapstructure:"mask_patterns"`
}

// TransportConfig selects and tunes the bus.
type TransportConfig struct {
	Driver    string        `mapstructure:"driver"`
	Consumer  string        `mapstructure:"consumer"`
	Block     time.Duration `mapstructure:"block"`
	BatchSize int           `mapstructure:"batch_size"`

	// MaxLen caps each Redis stream. Zero keeps every entry.
	MaxLen int64 `mapstructure:"max_len"`
}

// RedisConfig is shared by the Redis store, locker and transport.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// HTTPConfig configures the inspection server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		FlowName:     "default",
		LogLevel:     "info",
		LogFormat:    "text",
		PollInterval: 200 * time.Millisecond,
		Engine:       protocol.DefaultConfig(),
		Store: StoreConfig{
			Driver: DriverMemory,
			Path:   filepath.Join(".parley", "checkpoints"),
		},
		Transport: TransportConfig{
			Driver:    DriverMemory,
			Consumer:  "default",
			BatchSize: 100,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Prefix:  "parley:",
			LockTTL: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// envKeys maps environment variables to their dotted configuration path.
var envKeys = map[string]string{
	"WORKFLOW_ID":           "workflow_id",
	"FLOW_NAME":             "flow_name",
	"LOG_LEVEL":             "log_level",
	"LOG_FORMAT":            "log_format",
	"POLL_INTERVAL":         "poll_interval",
	"ENGINE_RECEIVE_WINDOW": "engine.receive_window",
	"STORE_DRIVER":          "store.driver",
	"STORE_PATH":            "store.path",
	"STORE_ENCRYPTION_KEY":  "store.encryption_key",
	"STORE_FALLBACK_KEYS":   "store.fallback_keys",
	"STORE_MASK_PATTERNS":   "store.mask_patterns",
	"TRANSPORT_DRIVER":      "transport.driver",
	"TRANSPORT_CONSUMER":    "transport.consumer",
	"TRANSPORT_BLOCK":       "transport.block",
	"TRANSPORT_BATCH_SIZE":  "transport.batch_size",
	"TRANSPORT_MAX_LEN":     "transport.max_len",
	"REDIS_ADDR":            "redis.addr",
	"REDIS_PASSWORD":        "redis.password",
	"REDIS_DB":              "redis.db",
	"REDIS_PREFIX":          "redis.prefix",
	"REDIS_TTL":             "redis.ttl",
	"REDIS_LOCK_TTL":        "redis.lock_ttl",
	"HTTP_ADDR":             "http.addr",
}

// Load reads a YAML, JSON or TOML file over the defaults, then applies PARLEY_* environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	raw := map[string]any{}
	if path != "" {
		var err error
		raw, err = readFile(path)
		if err != nil {
			return Config{}, err
		}
	}
	applyEnv(raw, os.LookupEnv)

	cfg := Default()
	if err := decode(raw, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	raw := map[string]any{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &raw)
	case ".toml":
		_, err = toml.Decode(string(data), &raw)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return raw, nil
}

func applyEnv(raw map[string]any, lookup func(string) (string, bool)) {
	for env, key := range envKeys {
		val, ok := lookup(EnvPrefix + env)
		if !ok {
			continue
		}
		parts := strings.Split(key, ".")
		m := raw
		for _, p := range parts[:len(parts)-1] {
			sub, ok := m[p].(map[string]any)
			if !ok {
				sub = map[string]any{}
				m[p] = sub
			}
			m = sub
		}
		m[parts[len(parts)-1]] = val
	}
}

func decode(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	switch c.Store.Driver {
	case DriverMemory, DriverRedis:
	case DriverFile:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the file driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	switch c.Transport.Driver {
	case DriverMemory, DriverRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown transport driver %q", c.Transport.Driver))
	}
	if (c.Store.Driver == DriverRedis || c.Transport.Driver == DriverRedis) && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when a redis driver is selected"))
	}
	if _, _, err := c.Store.Keys(); err != nil {
		errs = append(errs, err)
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	return errors.Join(errs...)
}

// Keys decodes the encryption keys. Both results are nil when sealing is disabled.
func (s StoreConfig) Keys() ([]byte, [][]byte, error) {
	if s.EncryptionKey == "" {
		return nil, nil, nil
	}
	active, err := decodeKey(s.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("store.encryption_key: %w", err)
	}
	var fallback [][]byte
	for i, k := range s.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("store.fallback_keys[%d]: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
