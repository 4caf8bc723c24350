package engine

import (
	"fmt"

	"conveyor/internal/pipeline"
	"conveyor/internal/telemetry"
)

type Config struct {
	MetricsPort int
	JobYml      string
}

func Bootstrap(cfg Config) (*Engine, error) {
	// 1. task loop
	runner, err := pipeline.Compile(cfg.JobYml)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	// 2. metrics
	telemetry.Expose(cfg.MetricsPort)

	return &Engine{runner: runner}, nil
}
