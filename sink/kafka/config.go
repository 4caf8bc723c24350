package kafka

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"conveyor/internal/discovery"
)

// EncodeFunc turns the caller's value into payload bytes for the wire.
type EncodeFunc func(value any) ([]byte, error)

type CoordinationCfg struct {
	Endpoints []string      `koanf:"endpoints"`
	Prefix    string        `koanf:"prefix"`
	Backoff   time.Duration `koanf:"backoff"`
}

type Config struct {
	Topic string `koanf:"topic"`

	Coordination CoordinationCfg `koanf:"coordination"`

	// RequiredAcks is 0, 1 or -1; nil (unset) means wait for all ISRs.
	RequiredAcks   *int16 `koanf:"required_acks"`
	MaxRequestSize int    `koanf:"max_request_size"` // bytes per produce request
	MaxInFlight    int64  `koanf:"max_in_flight"`    // unresolved sends bound
	SuppressDone   bool   `koanf:"suppress_done"`    // skip the completion sentinel

	Version  string `koanf:"version"`
	TLSEn    bool   `koanf:"tls_enabled"`
	SASLUser string `koanf:"sasl_user"`
	SASLPass string `koanf:"sasl_pass"`

	ClientOptions map[string]string `koanf:"client_options"`

	// Encode is supplied at construction, never from YAML.
	Encode EncodeFunc `koanf:"-"`
}

func (c Config) locator() *discovery.Locator {
	return &discovery.Locator{
		Endpoints: c.Coordination.Endpoints,
		Prefix:    c.Coordination.Prefix,
		Backoff:   c.Coordination.Backoff,
	}
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `CONVEYOR_SINK__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("sink schema_version %q not supported (want v1)", sv)
	}

	_ = k.Load(env.Provider("CONVEYOR_SINK__", "__", nil), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 1_000_000
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = 10_000
	}
	if c.Coordination.Backoff == 0 {
		c.Coordination.Backoff = discovery.DefaultBackoff
	}
	if c.Version == "" {
		c.Version = "3.6.0"
	}
}
