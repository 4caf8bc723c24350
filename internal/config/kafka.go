package config

import (
	sinkcfg "conveyor/sink/kafka"
	srccfg "conveyor/source/kafka"
)

// LoadSourceConfig delegates to the Kafka source loader while centralizing
// loader entrypoints under internal/config.
func LoadSourceConfig(path string) (srccfg.Config, error) {
	return srccfg.LoadConfig(path)
}

// LoadSinkConfig does the same for the Kafka sink.
func LoadSinkConfig(path string) (sinkcfg.Config, error) {
	return sinkcfg.LoadConfig(path)
}
