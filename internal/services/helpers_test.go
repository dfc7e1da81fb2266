package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/advaic/reply-gateway/internal/dispatcher"
	"github.com/advaic/reply-gateway/internal/idempotency"
	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/internal/repository"
	"github.com/advaic/reply-gateway/pkg/pg"
	"github.com/advaic/reply-gateway/pkg/redis"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Send(ctx context.Context, req *dispatcher.SendRequest) (dispatcher.Outcome, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(dispatcher.Outcome), args.Error(1)
}

type recordingMirror struct {
	mu   sync.Mutex
	jobs []model.MirrorJob
}

func (r *recordingMirror) Publish(job model.MirrorJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

type recordingChanges struct {
	mu      sync.Mutex
	changes []model.Change
}

func (r *recordingChanges) Publish(_ context.Context, c model.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

type flow struct {
	svc      *ApprovalService
	leadSvc  *LeadService
	messages *repository.MessageRepository
	leads    *repository.LeadRepository
	dispatch *MockDispatcher
	mirror   *recordingMirror
	changes  *recordingChanges
	mr       *miniredis.Miniredis
}

const (
	agentID      = "agent-1"
	otherAgentID = "agent-2"
	leadID       = "L1"
)

func setupFlow(t *testing.T) *flow {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&repository.MessageEntity{}, &repository.LeadEntity{}))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	store := pg.New(db, db)
	f := &flow{
		messages: repository.NewMessageRepository(store),
		leads:    repository.NewLeadRepository(store),
		dispatch: new(MockDispatcher),
		mirror:   &recordingMirror{},
		changes:  &recordingChanges{},
		mr:       mr,
	}
	guard := idempotency.NewGuard(adapter, idempotency.DefaultConfig())
	f.svc = NewApprovalService(f.messages, f.leads, f.dispatch, guard, f.mirror, f.changes, 2*time.Minute)
	f.leadSvc = NewLeadService(f.leads, f.changes)

	_, err = f.leads.Create(context.Background(), &model.Lead{
		ID:          leadID,
		AgentID:     agentID,
		Name:        "Erika Muster",
		Email:       "erika@example.com",
		InquiryType: "Besichtigung Altbauwohnung",
	})
	require.NoError(t, err)
	return f
}

func (f *flow) seed(t *testing.T, id string, mutate ...func(*model.Message)) *model.Message {
	t.Helper()
	msg := &model.Message{
		ID:               id,
		LeadID:           leadID,
		AgentID:          agentID,
		Sender:           model.SenderAssistant,
		Text:             "Hallo!",
		Timestamp:        time.Now().UTC(),
		ApprovalRequired: true,
		VisibleToAgent:   true,
		SendStatus:       model.SendStatusPtr(model.SendStatusPending),
	}
	for _, fn := range mutate {
		fn(msg)
	}
	created, err := f.messages.Create(context.Background(), msg)
	require.NoError(t, err)
	return created
}

func (f *flow) load(t *testing.T, id string) *model.Message {
	t.Helper()
	msg, err := f.messages.GetOwned(context.Background(), agentID, id)
	require.NoError(t, err)
	return msg
}

func (f *flow) queueIDs(t *testing.T) []string {
	t.Helper()
	items, err := f.svc.Queue(context.Background(), agentID)
	require.NoError(t, err)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
