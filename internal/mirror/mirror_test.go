package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu    sync.Mutex
	jobs  []Job
	metas []map[string]string
	err   error
}

func (s *fakeSink) PublishJSON(_ context.Context, v any, metadata map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.jobs = append(s.jobs, v.(Job))
	s.metas = append(s.metas, metadata)
	return "1-0", nil
}

func (s *fakeSink) published() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}

type fakeWriter struct {
	calls   int
	matched bool
	err     error
}

func (w *fakeWriter) Apply(_ context.Context, _ model.MirrorJob) (bool, error) {
	w.calls++
	return w.matched, w.err
}

type fakeDeduper struct {
	done map[string]bool
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{done: map[string]bool{}}
}

func (d *fakeDeduper) IsDone(_ context.Context, key string) (bool, error) {
	return d.done[key], nil
}

func (d *fakeDeduper) MarkDone(_ context.Context, key string) error {
	d.done[key] = true
	return nil
}

func delivery(t *testing.T, job Job) *queue.Delivery {
	data, err := json.Marshal(job)
	require.NoError(t, err)
	return &queue.Delivery{ID: "1-0", Data: data, Deliveries: 1}
}

func TestAsyncPublisher_PublishesInBackground(t *testing.T) {
	sink := &fakeSink{}
	p := NewAsyncPublisher(sink, 2, 10)
	p.Start()
	defer p.Close()

	job := Job{ExternalMessageID: "g-1", Action: model.MirrorApproved, At: time.Now().UTC()}
	p.Publish(job)

	require.Eventually(t, func() bool { return len(sink.published()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "g-1", sink.published()[0].ExternalMessageID)
	sink.mu.Lock()
	assert.Equal(t, "mirror", sink.metas[0]["type"])
	sink.mu.Unlock()
}

func TestAsyncPublisher_DropsWhenFull(t *testing.T) {
	sink := &fakeSink{}
	// not started, so nothing drains the buffer
	p := NewAsyncPublisher(sink, 1, 1)

	p.Publish(Job{ExternalMessageID: "g-1", Action: model.MirrorApproved})
	p.Publish(Job{ExternalMessageID: "g-2", Action: model.MirrorApproved})

	assert.Equal(t, int64(1), p.Pending())
}

func TestAsyncPublisher_SinkErrorIsSwallowed(t *testing.T) {
	sink := &fakeSink{err: errors.New("redis down")}
	p := NewAsyncPublisher(sink, 1, 4)
	p.Start()
	defer p.Close()

	assert.NotPanics(t, func() {
		p.Publish(Job{ExternalMessageID: "g-1", Action: model.MirrorRejected})
	})
	require.Eventually(t, func() bool { return p.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sink.published())
}

func TestProcessor_AppliesOnce(t *testing.T) {
	writer := &fakeWriter{matched: true}
	proc := NewProcessor(writer, newFakeDeduper())
	d := delivery(t, Job{ExternalMessageID: "g-1", Action: model.MirrorApproved})

	require.NoError(t, proc.Process(context.Background(), d))
	require.NoError(t, proc.Process(context.Background(), d))

	assert.Equal(t, 1, writer.calls)
	assert.Equal(t, "mirror", proc.GetType())
}

func TestProcessor_NoRowIsAcknowledged(t *testing.T) {
	writer := &fakeWriter{matched: false}
	dedup := newFakeDeduper()
	proc := NewProcessor(writer, dedup)

	err := proc.Process(context.Background(), delivery(t, Job{ExternalMessageID: "g-1", Action: model.MirrorRejected}))

	require.NoError(t, err)
	assert.True(t, dedup.done["mirror:g-1:rejected"])
}

func TestProcessor_WriteErrorKeepsEntryPending(t *testing.T) {
	writer := &fakeWriter{err: errors.New("db gone")}
	dedup := newFakeDeduper()
	proc := NewProcessor(writer, dedup)

	err := proc.Process(context.Background(), delivery(t, Job{ExternalMessageID: "g-1", Action: model.MirrorApproved}))

	require.Error(t, err)
	assert.Empty(t, dedup.done)
}

func TestProcessor_InvalidJobsAreAcknowledged(t *testing.T) {
	writer := &fakeWriter{}
	proc := NewProcessor(writer, newFakeDeduper())

	tests := []struct {
		name string
		d    *queue.Delivery
	}{
		{"bad json", &queue.Delivery{ID: "1-0", Data: []byte("{")}},
		{"missing id", delivery(t, Job{Action: model.MirrorApproved})},
		{"unknown action", delivery(t, Job{ExternalMessageID: "g-1", Action: "archived"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, proc.Process(context.Background(), tt.d))
		})
	}
	assert.Zero(t, writer.calls)
}
