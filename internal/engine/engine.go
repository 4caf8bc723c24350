package engine

import (
	"context"

	"conveyor/internal/pipeline"
)

type Engine struct {
	runner *pipeline.Runner
}

// Run drives the task loop until the source drains or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.runner.Run(ctx)
}
