package services

import (
	"context"
	"time"

	"github.com/advaic/reply-gateway/internal/dispatcher"
)

const healthCheckTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type DispatcherStats interface {
	Stats() dispatcher.Snapshot
}

type HealthReport struct {
	Status     string              `json:"status"`
	Postgres   string              `json:"postgres"`
	Redis      string              `json:"redis"`
	Dispatcher dispatcher.Snapshot `json:"dispatcher"`
	CheckedAt  time.Time           `json:"checked_at"`
}

func (r *HealthReport) Healthy() bool {
	return r.Status == "ok"
}

type HealthService struct {
	db         Pinger
	redis      Pinger
	dispatcher DispatcherStats
}

func NewHealthService(db, redis Pinger, d DispatcherStats) *HealthService {
	return &HealthService{db: db, redis: redis, dispatcher: d}
}

// Get checks the backing stores. A degraded dispatcher does not make the
// service unhealthy, it is only reported.
func (s *HealthService) Get(ctx context.Context) *HealthReport {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), healthCheckTimeout)
	defer cancel()

	report := &HealthReport{
		Status:    "ok",
		Postgres:  check(ctx, s.db),
		Redis:     check(ctx, s.redis),
		CheckedAt: time.Now().UTC(),
	}
	if s.dispatcher != nil {
		report.Dispatcher = s.dispatcher.Stats()
	}
	if report.Postgres != "ok" || report.Redis != "ok" {
		report.Status = "degraded"
	}
	return report
}

func check(ctx context.Context, p Pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}
