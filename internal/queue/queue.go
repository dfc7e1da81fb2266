package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/advaic/reply-gateway/pkg/logger"
	"github.com/advaic/reply-gateway/pkg/redis"
)

const (
	fieldData     = "data"
	fieldTime     = "published_at"
	metaPrefix    = "meta_"
	deadSuffix    = ":dead"
	pendingWindow = 100
)

var ErrNoHandler = errors.New("queue handler is required")

// Delivery is one stream entry handed to a consumer.
type Delivery struct {
	ID          string
	Data        []byte
	Metadata    map[string]string
	PublishedAt time.Time
	// Deliveries counts how often the entry was handed out, including this time.
	Deliveries int64
}

// Decode unmarshals the JSON payload into v.
func (d *Delivery) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Handler processes one delivery. A nil error acknowledges it; any error
// leaves it pending so it is redelivered after the visibility timeout.
type Handler func(ctx context.Context, d *Delivery) error

type Config struct {
	Stream            string
	ConsumerGroup     string
	ConsumerName      string
	MaxDeliveries     int64
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDeadLetter  bool
}

// Producer appends entries to a stream without consuming it.
type Producer struct {
	adapter redis.RedisAdapter
	stream  string
	maxLen  int64
}

func NewProducer(adapter redis.RedisAdapter, stream string, maxLen int64) *Producer {
	return &Producer{adapter: adapter, stream: stream, maxLen: maxLen}
}

type Queue struct {
	*Producer
	adapter redis.RedisAdapter
	config  Config
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

type Stats struct {
	Length    int64
	Pending   int64
	Consumers int64
}

func New(adapter redis.RedisAdapter, config Config) (*Queue, error) {
	if config.Stream == "" {
		return nil, fmt.Errorf("queue stream name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxDeliveries <= 0 {
		config.MaxDeliveries = 5
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		Producer: NewProducer(adapter, config.Stream, config.MaxLen),
		adapter:  adapter,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
	}

	err := adapter.XGroupCreateMkStream(ctx, config.Stream, config.ConsumerGroup, "0")
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		cancel()
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return q, nil
}

func (p *Producer) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	values := map[string]interface{}{
		fieldData: string(data),
		fieldTime: time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range metadata {
		values[metaPrefix+k] = v
	}

	id, err := p.adapter.XAdd(ctx, p.stream, values)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.stream, err)
	}

	if p.maxLen > 0 {
		if err := p.adapter.XTrimApprox(ctx, p.stream, p.maxLen); err != nil {
			logger.Warn("stream trim failed", "stream", p.stream, "error", err)
		}
	}
	return id, nil
}

func (p *Producer) PublishJSON(ctx context.Context, v any, metadata map[string]string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return p.Publish(ctx, data, metadata)
}

// Consume starts the polling loop in the background.
func (q *Queue) Consume(handler Handler) error {
	if handler == nil {
		return ErrNoHandler
	}
	q.handler = handler
	q.wg.Add(1)
	go q.loop()
	return nil
}

func (q *Queue) loop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.readNew()
			q.reclaimStuck()
		}
	}
}

func (q *Queue) readNew() {
	entries, err := q.adapter.XReadGroup(q.ctx, q.config.ConsumerGroup, q.config.ConsumerName, q.config.Stream, ">", q.config.BatchSize, -1)
	if err != nil {
		if !errors.Is(err, redis.NilError) && q.ctx.Err() == nil {
			logger.Warn("stream read failed", "stream", q.config.Stream, "error", err)
		}
		return
	}

	for _, entry := range entries {
		d := ToDelivery(entry)
		d.Deliveries = 1
		q.handle(d)
	}
}

func (q *Queue) reclaimStuck() {
	pending, err := q.adapter.XPendingExt(q.ctx, q.config.Stream, q.config.ConsumerGroup, "-", "+", pendingWindow)
	if err != nil || len(pending) == 0 {
		return
	}

	counts := make(map[string]int64, len(pending))
	var ids []string
	for _, p := range pending {
		if p.Idle >= q.config.VisibilityTimeout {
			ids = append(ids, p.ID)
			counts[p.ID] = p.RetryCount
		}
	}
	if len(ids) == 0 {
		return
	}

	entries, err := q.adapter.XClaim(q.ctx, q.config.Stream, q.config.ConsumerGroup, q.config.ConsumerName, q.config.VisibilityTimeout, ids...)
	if err != nil {
		logger.Warn("stream claim failed", "stream", q.config.Stream, "error", err)
		return
	}

	for _, entry := range entries {
		d := ToDelivery(entry)
		d.Deliveries = counts[entry.ID] + 1
		q.handle(d)
	}
}

func (q *Queue) handle(d *Delivery) {
	if d.Deliveries > q.config.MaxDeliveries {
		logger.Error("giving up on stream entry", "stream", q.config.Stream, "id", d.ID, "deliveries", d.Deliveries)
		q.deadLetter(d)
		_ = q.ack(d.ID)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.handler(ctx, d); err != nil {
		logger.Warn("stream entry failed", "stream", q.config.Stream, "id", d.ID, "deliveries", d.Deliveries, "error", err)
		return
	}
	if err := q.ack(d.ID); err != nil {
		logger.Warn("stream ack failed", "stream", q.config.Stream, "id", d.ID, "error", err)
	}
}

func (q *Queue) ack(id string) error {
	return q.adapter.XAck(q.ctx, q.config.Stream, q.config.ConsumerGroup, id)
}

func (q *Queue) deadLetter(d *Delivery) {
	if !q.config.EnableDeadLetter {
		return
	}

	values := map[string]interface{}{
		fieldData:     string(d.Data),
		"original_id": d.ID,
		"deliveries":  d.Deliveries,
		"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range d.Metadata {
		values[metaPrefix+k] = v
	}

	if _, err := q.adapter.XAdd(q.ctx, q.config.Stream+deadSuffix, values); err != nil {
		logger.Error("dead letter write failed", "stream", q.config.Stream, "id", d.ID, "error", err)
	}
}

// ToDelivery decodes a raw stream entry.
func ToDelivery(entry redis.StreamMessage) *Delivery {
	d := &Delivery{
		ID:       entry.ID,
		Metadata: make(map[string]string),
	}

	for k, v := range entry.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch {
		case k == fieldData:
			d.Data = []byte(s)
		case k == fieldTime:
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				d.PublishedAt = ts
			}
		case strings.HasPrefix(k, metaPrefix):
			d.Metadata[strings.TrimPrefix(k, metaPrefix)] = s
		}
	}
	return d
}

// Stop ends the polling loop and waits for the in-flight batch.
func (q *Queue) Stop(timeout time.Duration) error {
	q.once.Do(q.cancel)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for queue %s to stop", q.config.Stream)
	}
}

func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	length, err := q.adapter.XLen(ctx, q.config.Stream)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Length: length}
	pending, err := q.adapter.XPending(ctx, q.config.Stream, q.config.ConsumerGroup)
	if err == nil && pending != nil {
		stats.Pending = pending.Count
		stats.Consumers = int64(len(pending.Consumers))
	}
	return stats, nil
}
