package kafka

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"conveyor/internal/assign"
	"conveyor/internal/discovery"
	"conveyor/internal/fault"
)

const (
	ResetEarliest = "earliest"
	ResetLatest   = "latest"
)

type CoordinationCfg struct {
	Endpoints []string      `koanf:"endpoints"`
	Prefix    string        `koanf:"prefix"`
	Backoff   time.Duration `koanf:"backoff"` // sleep between discovery retries
}

type PeersCfg struct {
	N   int `koanf:"n"` // exact worker count
	Min int `koanf:"min"`
	Max int `koanf:"max"`
}

type Config struct {
	Topic   string `koanf:"topic"`
	GroupID string `koanf:"group_id"`
	Slot    int    `koanf:"slot"` // this worker's ordinal among peers

	Coordination CoordinationCfg `koanf:"coordination"`

	Partition    string           `koanf:"partition"` // optional fixed-partition pin
	Peers        PeersCfg         `koanf:"peers"`
	OffsetReset  string           `koanf:"offset_reset"`  // earliest|latest
	StartOffsets map[string]int64 `koanf:"start_offsets"` // partition id -> first offset

	BatchTimeout  time.Duration `koanf:"batch_timeout"`
	ReceiveBuffer int           `koanf:"receive_buffer"` // max buffered records per fetch
	WrapMeta      bool          `koanf:"wrap_with_meta"`

	Version  string `koanf:"version"`
	TLSEn    bool   `koanf:"tls_enabled"`
	SASLUser string `koanf:"sasl_user"`
	SASLPass string `koanf:"sasl_pass"`

	// ClientOptions passes opaque client knobs straight to the driver.
	ClientOptions map[string]string `koanf:"client_options"`
}

// Policy translates the pin/peer-count settings into an assignment policy.
func (c Config) Policy() (assign.Policy, error) {
	pol := assign.Policy{
		NPeers:   c.Peers.N,
		MinPeers: c.Peers.Min,
		MaxPeers: c.Peers.Max,
	}
	if c.Partition != "" {
		pin, err := strconv.ParseInt(c.Partition, 10, 32)
		if err != nil {
			return pol, fault.New(fault.Config, "partition pin %q is not an integer", c.Partition)
		}
		pol.Pinned, pol.PinPartition = true, int32(pin)
	}
	return pol, nil
}

// startOffsetFor looks up an explicit start offset for partition p.
func (c Config) startOffsetFor(p int32) (int64, bool) {
	off, ok := c.StartOffsets[strconv.FormatInt(int64(p), 10)]
	return off, ok
}

func (c Config) locator() *discovery.Locator {
	return &discovery.Locator{
		Endpoints: c.Coordination.Endpoints,
		Prefix:    c.Coordination.Prefix,
		Backoff:   c.Coordination.Backoff,
	}
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadConfig merges YAML (if present) with env-vars
// (prefix `CONVEYOR_SOURCE__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("source schema_version %q not supported (want v1)", sv)
	}

	_ = k.Load(env.Provider("CONVEYOR_SOURCE__", "__", nil), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config) {
	if c.OffsetReset == "" {
		c.OffsetReset = ResetLatest
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 50 * time.Millisecond
	}
	if c.ReceiveBuffer == 0 {
		c.ReceiveBuffer = 1000
	}
	if c.Coordination.Backoff == 0 {
		c.Coordination.Backoff = discovery.DefaultBackoff
	}
	if c.Version == "" {
		c.Version = "3.6.0"
	}
}
