package services

import (
	"context"
	"sync"
	"time"

	"github.com/ads-marketplace/deal-engine/internal/metrics"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry tracks one recurring check per posted deal.
type Registry interface {
	Schedule(dealID uuid.UUID, interval time.Duration, tick func(context.Context)) error
	Cancel(dealID uuid.UUID)
	Interval(dealID uuid.UUID) (time.Duration, bool)
}

type monitorJob struct {
	jobID    uuid.UUID
	interval time.Duration
}

// MonitorRegistry runs each deal's checks as a gocron duration job. Ticks of one deal never overlap.
type MonitorRegistry struct {
	ctx       context.Context
	scheduler gocron.Scheduler
	metrics   *metrics.Metrics
	log       *zap.Logger

	mu   sync.Mutex
	jobs map[uuid.UUID]monitorJob
}

func NewMonitorRegistry(ctx context.Context, scheduler gocron.Scheduler, m *metrics.Metrics, log *zap.Logger) *MonitorRegistry {
	return &MonitorRegistry{
		ctx:       ctx,
		scheduler: scheduler,
		metrics:   m,
		log:       log,
		jobs:      make(map[uuid.UUID]monitorJob),
	}
}

// Schedule replaces any existing loop for the deal.
func (r *MonitorRegistry) Schedule(dealID uuid.UUID, interval time.Duration, tick func(context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(dealID)

	job, err := r.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { tick(r.ctx) }),
		gocron.WithName("monitor:"+dealID.String()),
		gocron.WithTags("monitor", dealID.String()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	r.jobs[dealID] = monitorJob{jobID: job.ID(), interval: interval}
	r.metrics.ActiveMonitors.Set(float64(len(r.jobs)))
	r.log.Debug("monitor scheduled", zap.String("deal_id", dealID.String()), zap.Duration("interval", interval))
	return nil
}

// Cancel stops the deal's loop. An in-flight tick is not interrupted.
func (r *MonitorRegistry) Cancel(dealID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(dealID)
	r.metrics.ActiveMonitors.Set(float64(len(r.jobs)))
}

func (r *MonitorRegistry) Interval(dealID uuid.UUID) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[dealID]
	return j.interval, ok
}

func (r *MonitorRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *MonitorRegistry) removeLocked(dealID uuid.UUID) {
	j, ok := r.jobs[dealID]
	if !ok {
		return
	}
	delete(r.jobs, dealID)
	if err := r.scheduler.RemoveJob(j.jobID); err != nil {
		r.log.Warn("failed to remove monitor job", zap.String("deal_id", dealID.String()), zap.Error(err))
	}
}
