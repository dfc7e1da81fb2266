package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/advaic/reply-gateway/internal/queue"
	"github.com/advaic/reply-gateway/pkg/logger"
	"github.com/advaic/reply-gateway/pkg/prom"
	"github.com/advaic/reply-gateway/pkg/redis"
	"github.com/advaic/reply-gateway/pkg/worker"
)

const ProcessingTimeout = time.Second * 5
const HealthInterval = time.Second * 30
const MetricsInterval = time.Second * 30
const ShutdownTimeout = time.Minute

// HighLagThreshold is the pending count above which the health check warns.
const HighLagThreshold = 10_000

// MetaType is the stream metadata key used to route an entry to its processor.
const MetaType = "type"

// Processor handles one kind of stream entry.
type Processor interface {
	Process(ctx context.Context, d *queue.Delivery) error
	GetType() string
}

type Options struct {
	Queue      queue.Config
	Consumers  int
	Workers    int
	BufferSize int
}

// Service reads stream entries with a set of consumers and hands them to a
// worker pool, waiting for each result so the entry is acked or left pending.
type Service struct {
	adapter    redis.RedisAdapter
	options    Options
	queues     []*queue.Queue
	processors map[string]Processor
	metrics    *ServiceMetrics
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	worker     *worker.WorkerManager
}

func NewService(adapter redis.RedisAdapter, options Options) *Service {
	if options.Consumers <= 0 {
		options.Consumers = 1
	}
	if options.Workers <= 0 {
		options.Workers = 4
	}
	if options.BufferSize <= 0 {
		options.BufferSize = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		adapter:    adapter,
		options:    options,
		processors: make(map[string]Processor),
		metrics:    NewServiceMetrics(),
		ctx:        ctx,
		cancel:     cancel,
		worker:     worker.NewWorkerManager(options.BufferSize, options.Workers, nil),
	}
}

// RegisterProcessor registers a processor for its type.
func (s *Service) RegisterProcessor(p Processor) {
	s.processors[p.GetType()] = p
	logger.Info("Registered processor", "type", p.GetType())
}

func (s *Service) Metrics() *ServiceMetrics {
	return s.metrics
}

func (s *Service) Start() error {
	logger.Info("Starting Processor Service...", "stream", s.options.Queue.Stream)

	s.worker.SetWorker(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker.Start()
	}()

	for i := 0; i < s.options.Consumers; i++ {
		cfg := s.options.Queue
		cfg.ConsumerName = fmt.Sprintf("%s-instance-%d", cfg.ConsumerName, i)

		q, err := queue.New(s.adapter, cfg)
		if err != nil {
			return fmt.Errorf("failed to create queue %d: %w", i, err)
		}
		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}

		s.queues = append(s.queues, q)
		logger.Info("Started consumer instance", "instance", i)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("Processor Service started", "consumers", len(s.queues), "workers", s.options.Workers)
	return nil
}

func (s *Service) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) reportMetrics() {
	stats := s.metrics.GetStats()
	logger.Info("Metrics", "total_processed", stats.Processed, "total_failed", stats.Failed, "rate_per_second", stats.RatePerSecond, "avg_duration_ms", stats.AvgDuration.Milliseconds(), "uptime_seconds", stats.Uptime.Seconds())

	if len(s.queues) == 0 {
		return
	}
	// all consumers share one stream and group
	if qStats, err := s.queues[0].Stats(s.ctx); err == nil {
		logger.Info("Queue stats", "stream", s.options.Queue.Stream, "length", qStats.Length, "pending", qStats.Pending, "consumers", qStats.Consumers)
	}
}

func (s *Service) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CheckHealth(s.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

// CheckHealth pings redis and warns about a lagging stream. It reports
// whether the service is healthy.
func (s *Service) CheckHealth(ctx context.Context) bool {
	if err := s.adapter.Ping(ctx); err != nil {
		logger.Error("HEALTH CHECK FAILED: Redis connection error", "error", err)
		return false
	}

	if len(s.queues) > 0 {
		stats, err := s.queues[0].Stats(ctx)
		if err != nil {
			logger.Warn("HEALTH CHECK WARNING: Queue stats unavailable", "error", err)
		} else {
			prom.SetMirrorPending(s.options.Queue.Stream, stats.Pending)
			if stats.Pending > HighLagThreshold {
				logger.Warn("HEALTH CHECK WARNING: Queue has high lag", "pending_messages", stats.Pending)
			}
		}
	}

	logger.Debug("HEALTH CHECK: OK - Service healthy")
	return true
}

func (s *Service) Stop() {
	logger.Info("Shutting down Processor Service...")

	s.cancel()

	stopChan := make(chan struct{}, len(s.queues))
	for i, q := range s.queues {
		go func(index int, q *queue.Queue) {
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("Error stopping queue", "queue", index, "error", err)
			}
			stopChan <- struct{}{}
		}(i, q)
	}

	for range s.queues {
		select {
		case <-stopChan:
		case <-time.After(ShutdownTimeout + 5*time.Second):
			logger.Warn("Timeout waiting for queues to stop")
		}
	}

	s.worker.Exit()
	s.wg.Wait()

	s.reportMetrics()
	logger.Info("Processor Service stopped")
}

type job struct {
	delivery   *queue.Delivery
	resultChan chan error
	ctx        context.Context
}

// messageHandler hands the entry to the pool and blocks until a worker
// reports back or the context expires.
func (s *Service) messageHandler(ctx context.Context, d *queue.Delivery) error {
	resultChan := make(chan error, 1)

	jobCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout+time.Second)
	defer cancel()

	if !s.worker.TryEnqueue(&job{delivery: d, resultChan: resultChan, ctx: jobCtx}) {
		return fmt.Errorf("worker pool is full")
	}

	select {
	case err := <-resultChan:
		return err
	case <-jobCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process entry: %w", jobCtx.Err())
	}
}

func (s *Service) resolve(d *queue.Delivery) Processor {
	if p, ok := s.processors[d.Metadata[MetaType]]; ok {
		return p
	}
	if len(s.processors) == 1 {
		for _, p := range s.processors {
			return p
		}
	}
	return nil
}

func (s *Service) workerHandler(workerIndex int, v interface{}) {
	j, ok := v.(*job)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}

	select {
	case <-j.ctx.Done():
		logger.Warn("Job context cancelled before processing started", "worker", workerIndex)
		return
	default:
	}

	start := time.Now()
	var resultErr error

	p := s.resolve(j.delivery)
	if p == nil {
		// an unknown type will not succeed on retry, ack it
		logger.Warn("No processor found", "worker", workerIndex, "type", j.delivery.Metadata[MetaType], "id", j.delivery.ID)
		s.metrics.RecordFailure()
	} else if err := p.Process(j.ctx, j.delivery); err != nil {
		s.metrics.RecordFailure()
		logger.Error("Failed to process entry", "worker", workerIndex, "type", p.GetType(), "id", j.delivery.ID, "error", err)
		resultErr = err
	} else {
		s.metrics.RecordSuccess(time.Since(start))
	}

	select {
	case j.resultChan <- resultErr:
	case <-j.ctx.Done():
		logger.Warn("Context cancelled while sending result", "worker", workerIndex)
	}
}
