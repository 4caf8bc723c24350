package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"conveyor/internal/engine"
	"conveyor/internal/logging"
)

func main() {
	jobYml := flag.String("job", "job.yml", "path to the job spec")
	metricsPort := flag.Int("metrics-port", 9100, "prometheus listen port")
	flag.Parse()

	logging.InitFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(engine.Config{
		MetricsPort: *metricsPort,
		JobYml:      *jobYml,
	})
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	if err := e.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("connector: %v", err)
	}
}
