package mirror

import (
	"context"
	"time"

	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/pkg/logger"
	"github.com/advaic/reply-gateway/pkg/prom"
	"github.com/advaic/reply-gateway/pkg/worker"
)

const (
	publishTimeout = 5 * time.Second
	metaJobType    = "type"
	jobType        = "mirror"
)

type Job = model.MirrorJob

// Sink is where jobs end up, usually the mirror stream.
type Sink interface {
	PublishJSON(ctx context.Context, v any, metadata map[string]string) (string, error)
}

// AsyncPublisher hands mirror jobs to a worker pool so the caller never waits
// on the stream. Jobs that do not fit into the buffer are dropped.
type AsyncPublisher struct {
	pool *worker.WorkerManager
	sink Sink
}

func NewAsyncPublisher(sink Sink, workers, buffer int) *AsyncPublisher {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 1024
	}
	p := &AsyncPublisher{
		pool: worker.NewWorkerManager(buffer, workers, nil),
		sink: sink,
	}
	p.pool.SetWorker(p.work)
	return p
}

// Start runs the pool until Close.
func (p *AsyncPublisher) Start() {
	go p.pool.Start()
}

func (p *AsyncPublisher) Close() {
	p.pool.Exit()
}

func (p *AsyncPublisher) Publish(job Job) {
	if !p.pool.TryEnqueue(job) {
		prom.IncMirrorJob("dropped")
		logger.Warn("mirror job dropped", "external_message_id", job.ExternalMessageID, "action", string(job.Action))
	}
}

func (p *AsyncPublisher) Pending() int64 {
	return p.pool.GetUnreadCount()
}

func (p *AsyncPublisher) work(workerIndex int, v interface{}) {
	job, ok := v.(Job)
	if !ok {
		logger.Error("invalid mirror job type", "worker", workerIndex)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if _, err := p.sink.PublishJSON(ctx, job, map[string]string{metaJobType: jobType}); err != nil {
		prom.IncMirrorJob("publish_failed")
		logger.Warn("mirror job publish failed", "external_message_id", job.ExternalMessageID, "error", err)
		return
	}
	prom.IncMirrorJob("published")
}
