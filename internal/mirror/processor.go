package mirror

import (
	"context"
	"fmt"

	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/internal/queue"
	"github.com/advaic/reply-gateway/pkg/logger"
	"github.com/advaic/reply-gateway/pkg/prom"
)

type Writer interface {
	Apply(ctx context.Context, job model.MirrorJob) (bool, error)
}

// Deduper remembers applied jobs.
type Deduper interface {
	IsDone(ctx context.Context, key string) (bool, error)
	MarkDone(ctx context.Context, key string) error
}

// Processor applies mirror jobs read from the stream.
type Processor struct {
	writer Writer
	dedup  Deduper
}

func NewProcessor(writer Writer, dedup Deduper) *Processor {
	return &Processor{writer: writer, dedup: dedup}
}

func (p *Processor) GetType() string {
	return jobType
}

func (p *Processor) Process(ctx context.Context, d *queue.Delivery) error {
	var job Job
	if err := d.Decode(&job); err != nil || !validJob(job) {
		// a malformed entry will never succeed, acknowledge it
		prom.IncMirrorJob("invalid")
		logger.Error("invalid mirror job", "id", d.ID, "error", err)
		return nil
	}

	key := "mirror:" + job.Key()
	if done, err := p.dedup.IsDone(ctx, key); err != nil {
		logger.Warn("mirror dedup check failed", "key", key, "error", err)
	} else if done {
		prom.IncMirrorJob("duplicate")
		return nil
	}

	matched, err := p.writer.Apply(ctx, job)
	if err != nil {
		prom.IncMirrorJob("failed")
		return fmt.Errorf("apply mirror job %s: %w", job.Key(), err)
	}

	if err := p.dedup.MarkDone(ctx, key); err != nil {
		logger.Warn("mirror dedup mark failed", "key", key, "error", err)
	}

	if !matched {
		prom.IncMirrorJob("no_row")
		logger.Debug("no mirror row for message", "external_message_id", job.ExternalMessageID)
		return nil
	}
	prom.IncMirrorJob("applied")
	logger.Info("mirror updated", "external_message_id", job.ExternalMessageID, "action", string(job.Action), "deliveries", d.Deliveries)
	return nil
}

func validJob(job Job) bool {
	if job.ExternalMessageID == "" {
		return false
	}
	return job.Action == model.MirrorApproved || job.Action == model.MirrorRejected
}
