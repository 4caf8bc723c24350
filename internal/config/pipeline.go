package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"conveyor/internal/spec"
)

const SupportedSchema = "v1"

// LoadJobSpec parses a job YAML, validates schema_version, and returns the
// parsed spec plus absolute paths to the source and kafka-sink configs (empty
// when unset).
func LoadJobSpec(path string) (spec.File, string, string, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, "", "", err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, "", "", err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, "", "", fmt.Errorf("job schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	dir := filepath.Dir(path)
	return cfg, absolve(dir, cfg.Source.Config), absolve(dir, cfg.SinkConfigs.Kafka), nil
}

func absolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
