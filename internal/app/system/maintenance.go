package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/token_engine/internal/app/metrics"
	"github.com/R3E-Network/token_engine/internal/logging"
)

// Job is one periodic housekeeping task.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Maintenance runs jobs on a cron schedule.
type Maintenance struct {
	schedule string
	jobs     []Job
	log      *logging.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

var _ Service = (*Maintenance)(nil)

// NewMaintenance validates schedule and returns a stopped runner.
func NewMaintenance(schedule string, log *logging.Logger, jobs ...Job) (*Maintenance, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	if log == nil {
		log = logging.NewDefault("maintenance")
	}
	return &Maintenance{schedule: schedule, jobs: jobs, log: log}, nil
}

// Name implements Service.
func (m *Maintenance) Name() string { return "maintenance" }

// Start schedules the jobs.
func (m *Maintenance) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return fmt.Errorf("maintenance already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(m.schedule, func() { m.RunOnce(runCtx) }); err != nil {
		cancel()
		return err
	}
	c.Start()

	m.cron = c
	m.cancel = cancel
	m.log.WithFields(map[string]interface{}{
		"schedule": m.schedule,
		"jobs":     len(m.jobs),
	}).Info("Maintenance scheduled")
	return nil
}

// Stop waits for a running pass to finish or ctx to expire.
func (m *Maintenance) Stop(ctx context.Context) error {
	m.mu.Lock()
	c, cancel := m.cron, m.cancel
	m.cron, m.cancel = nil, nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}

	done := c.Stop()
	select {
	case <-done.Done():
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// RunOnce executes every job sequentially. A failing job does not stop the pass.
func (m *Maintenance) RunOnce(ctx context.Context) {
	for _, job := range m.jobs {
		start := time.Now()
		err := job.Run(ctx)
		metrics.RecordMaintenance(job.Name, err == nil)

		entry := m.log.WithContext(ctx).WithFields(map[string]interface{}{
			"job":      job.Name,
			"duration": time.Since(start).String(),
		})
		if err != nil {
			entry.WithError(err).Warn("Maintenance job failed")
			continue
		}
		entry.Debug("Maintenance job completed")
	}
}
