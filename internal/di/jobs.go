package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/config"
	"github.com/aristath/convictiond/internal/scheduler"
)

// RegisterJobs builds the scheduler over the container's services. Each job
// closure resolves "now" at run time, not at wiring time.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	jobs := scheduler.Jobs{
		Scan: func(ctx context.Context) error {
			_, err := container.ScanService.Run(ctx, time.Now().UTC())
			return err
		},
		Monitor: func(ctx context.Context) error {
			return container.MonitorService.Run(ctx, time.Now().UTC())
		},
		Reconcile: func(ctx context.Context) error {
			_, err := container.Reconciler.Run(ctx)
			return err
		},
		Maintenance: func(ctx context.Context) error {
			return container.Maintenance.Run(ctx)
		},
	}

	sched, err := scheduler.New(cfg.Schedule, jobs, log)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}
	container.Scheduler = sched
	return nil
}
