package feed

import (
	"context"
	"time"

	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/internal/queue"
	"github.com/advaic/reply-gateway/pkg/logger"
	"github.com/advaic/reply-gateway/pkg/redis"
)

const (
	metaAgent    = "agent_id"
	scanBatch    = 200
	maxScanPages = 10
	// StartCursor reads the feed from the beginning of the retained window.
	StartCursor = "0-0"
)

// Publisher appends row-change events to the feed stream.
type Publisher struct {
	producer *queue.Producer
}

func NewPublisher(adapter redis.RedisAdapter, stream string, maxLen int64) *Publisher {
	return &Publisher{producer: queue.NewProducer(adapter, stream, maxLen)}
}

// Publish never fails the caller; the feed is an invalidation hint only.
func (p *Publisher) Publish(ctx context.Context, c model.Change) {
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	if _, err := p.producer.PublishJSON(ctx, c, map[string]string{metaAgent: c.AgentID}); err != nil {
		logger.Warn("change feed publish failed", "table", c.Table, "id", c.RowID, "error", err)
	}
}

type Reader struct {
	adapter redis.RedisAdapter
	stream  string
}

func NewReader(adapter redis.RedisAdapter, stream string) *Reader {
	return &Reader{adapter: adapter, stream: stream}
}

// Since returns up to limit events of one agent published after cursor,
// together with the cursor to pass on the next call.
func (r *Reader) Since(ctx context.Context, agentID, cursor string, limit int) ([]model.Change, string, error) {
	if cursor == "" {
		cursor = StartCursor
	}
	if limit <= 0 || limit > scanBatch {
		limit = scanBatch
	}

	changes := make([]model.Change, 0)
	next := cursor
	for page := 0; page < maxScanPages && len(changes) < limit; page++ {
		entries, err := r.adapter.XRead(ctx, r.stream, next, scanBatch, -1)
		if err != nil {
			if err == redis.NilError {
				break
			}
			return nil, cursor, err
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			d := queue.ToDelivery(entry)
			next = d.ID
			if d.Metadata[metaAgent] != agentID {
				continue
			}

			var c model.Change
			if err := d.Decode(&c); err != nil {
				logger.Warn("skipping malformed change event", "id", d.ID, "error", err)
				continue
			}
			c.Cursor = d.ID
			changes = append(changes, c)
			if len(changes) == limit {
				break
			}
		}
	}
	return changes, next, nil
}
