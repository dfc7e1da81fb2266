package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/advaic/reply-gateway/internal/queue"
	"github.com/advaic/reply-gateway/pkg/redis"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	kind string
	mu   sync.Mutex
	ids  []string
	err  error
}

func (p *recordingProcessor) GetType() string { return p.kind }

func (p *recordingProcessor) Process(_ context.Context, d *queue.Delivery) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, d.ID)
	return p.err
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

func setupService(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter, *Service) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	svc := NewService(adapter, Options{
		Queue: queue.Config{
			Stream:            "jobs",
			ConsumerGroup:     "workers",
			ConsumerName:      "test",
			MaxDeliveries:     3,
			VisibilityTimeout: 5 * time.Second,
			PollInterval:      20 * time.Millisecond,
			BatchSize:         10,
		},
		Consumers: 2,
		Workers:   2,
	})
	return mr, adapter, svc
}

func TestService_RoutesByType(t *testing.T) {
	_, adapter, svc := setupService(t)
	mirror := &recordingProcessor{kind: "mirror"}
	other := &recordingProcessor{kind: "other"}
	svc.RegisterProcessor(mirror)
	svc.RegisterProcessor(other)

	require.NoError(t, svc.Start())
	defer svc.Stop()

	producer := queue.NewProducer(adapter, "jobs", 0)
	_, err := producer.PublishJSON(context.Background(), map[string]string{"a": "1"}, map[string]string{MetaType: "mirror"})
	require.NoError(t, err)
	_, err = producer.PublishJSON(context.Background(), map[string]string{"a": "2"}, map[string]string{MetaType: "other"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return mirror.count() == 1 && other.count() == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(2), svc.Metrics().GetStats().Processed)
}

func TestService_UnknownTypeIsAcked(t *testing.T) {
	_, adapter, svc := setupService(t)
	svc.RegisterProcessor(&recordingProcessor{kind: "mirror"})
	svc.RegisterProcessor(&recordingProcessor{kind: "other"})

	require.NoError(t, svc.Start())
	defer svc.Stop()

	producer := queue.NewProducer(adapter, "jobs", 0)
	_, err := producer.PublishJSON(context.Background(), map[string]string{}, map[string]string{MetaType: "nope"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return svc.Metrics().GetStats().Failed == 1
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		pending, err := adapter.XPending(context.Background(), "jobs", "workers")
		return err == nil && pending.Count == 0
	}, time.Second, 20*time.Millisecond)
}

func TestService_FailureLeavesEntryPending(t *testing.T) {
	_, adapter, svc := setupService(t)
	p := &recordingProcessor{kind: "mirror", err: errors.New("db down")}
	svc.RegisterProcessor(p)

	require.NoError(t, svc.Start())
	defer svc.Stop()

	producer := queue.NewProducer(adapter, "jobs", 0)
	_, err := producer.PublishJSON(context.Background(), map[string]string{}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return p.count() >= 1 }, 2*time.Second, 20*time.Millisecond)

	pending, err := adapter.XPending(context.Background(), "jobs", "workers")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
}

func TestService_CheckHealth(t *testing.T) {
	mr, _, svc := setupService(t)

	assert.True(t, svc.CheckHealth(context.Background()))

	mr.Close()
	assert.False(t, svc.CheckHealth(context.Background()))
}

func TestServiceMetrics(t *testing.T) {
	m := NewServiceMetrics()
	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(30 * time.Millisecond)
	m.RecordFailure()

	stats := m.GetStats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, 20*time.Millisecond, stats.AvgDuration)

	m.Reset()
	assert.Zero(t, m.GetStats().Processed)
}
