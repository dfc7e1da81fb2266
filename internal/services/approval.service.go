package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/advaic/reply-gateway/internal/dispatcher"
	"github.com/advaic/reply-gateway/internal/idempotency"
	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/internal/reconcile"
	"github.com/advaic/reply-gateway/internal/repository"
	"github.com/advaic/reply-gateway/pkg/logger"
	"github.com/advaic/reply-gateway/pkg/prom"
)

type MessageRepository interface {
	ListApprovalQueue(ctx context.Context, f model.QueueFilter) ([]*model.QueueItem, error)
	GetOwned(ctx context.Context, agentID, id string) (*model.Message, error)
	Claim(ctx context.Context, agentID, id string, now, staleBefore time.Time) error
	ReleaseClaim(ctx context.Context, agentID, id string, previous *model.SendStatus) error
	MarkApproved(ctx context.Context, agentID, id string, text *string, now time.Time) error
	MarkFailed(ctx context.Context, agentID, id, reason string) error
	MarkRejected(ctx context.Context, agentID, id string, now, staleBefore time.Time) error
	UpdateAttachments(ctx context.Context, agentID, id string, previous, next model.Attachments, staleBefore time.Time) error
}

type LeadRepository interface {
	GetOwned(ctx context.Context, agentID, id string) (*model.Lead, error)
	ToggleEscalated(ctx context.Context, agentID, id string) (bool, error)
	SetStatus(ctx context.Context, agentID, id string, status model.LeadStatus) error
	SetFollowups(ctx context.Context, agentID, id string, u model.FollowupUpdate) error
}

type Dispatcher interface {
	Send(ctx context.Context, req *dispatcher.SendRequest) (dispatcher.Outcome, error)
}

type SendGuard interface {
	Acquire(ctx context.Context, key string) (*idempotency.Ticket, error)
	MarkSent(ctx context.Context, t *idempotency.Ticket) error
	Release(ctx context.Context, t *idempotency.Ticket) error
}

type ChangePublisher interface {
	Publish(ctx context.Context, c model.Change)
}

type MirrorPublisher interface {
	Publish(job model.MirrorJob)
}

const (
	actionApprove     = "approve"
	actionEditApprove = "edit_approve"
	actionReject      = "reject"
)

type ApprovalService struct {
	messages    MessageRepository
	leads       LeadRepository
	dispatcher  Dispatcher
	guard       SendGuard
	mirror      MirrorPublisher
	changes     ChangePublisher
	sendLockTTL time.Duration
	now         func() time.Time
}

// NewApprovalService wires the approval pipeline. mirror and changes may be nil.
func NewApprovalService(messages MessageRepository, leads LeadRepository, d Dispatcher, guard SendGuard, mirror MirrorPublisher, changes ChangePublisher, sendLockTTL time.Duration) *ApprovalService {
	if sendLockTTL <= 0 {
		sendLockTTL = 2 * time.Minute
	}
	return &ApprovalService{
		messages:    messages,
		leads:       leads,
		dispatcher:  d,
		guard:       guard,
		mirror:      mirror,
		changes:     changes,
		sendLockTTL: sendLockTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Queue lists the drafts the agent may still act on, newest first.
func (s *ApprovalService) Queue(ctx context.Context, agentID string) ([]*model.QueueItem, error) {
	if agentID == "" {
		return nil, ErrNotLoggedIn
	}
	items, err := s.messages.ListApprovalQueue(ctx, model.QueueFilter{AgentID: agentID})
	if err != nil {
		return nil, fmt.Errorf("list approval queue: %w", err)
	}
	return items, nil
}

// QueuePage returns one window of the approval queue, newest first.
func (s *ApprovalService) QueuePage(ctx context.Context, agentID string, limit, offset int) (*model.QueuePage, error) {
	if agentID == "" {
		return nil, ErrNotLoggedIn
	}
	f := model.QueueFilter{AgentID: agentID, Limit: limit, Offset: offset}
	limit, offset = f.Window()

	items, err := s.messages.ListApprovalQueue(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list approval queue: %w", err)
	}
	page := &model.QueuePage{Items: items, Limit: limit, Offset: offset}
	if page.Items == nil {
		page.Items = []*model.QueueItem{}
	}
	if len(items) == limit {
		next, err := s.messages.ListApprovalQueue(ctx, model.QueueFilter{AgentID: agentID, Limit: 1, Offset: offset + limit})
		if err != nil {
			return nil, fmt.Errorf("list approval queue: %w", err)
		}
		page.HasMore = len(next) > 0
	}
	return page, nil
}

func (s *ApprovalService) Approve(ctx context.Context, agentID, messageID string) (dispatcher.Outcome, error) {
	outcome, err := s.approve(ctx, agentID, messageID, nil)
	prom.IncApprovalAction(actionApprove, outcomeLabel(outcome, err))
	return outcome, err
}

// EditAndApprove replaces the drafted text before sending. Empty text is
// refused before anything is read or written.
func (s *ApprovalService) EditAndApprove(ctx context.Context, agentID, messageID, text string) (dispatcher.Outcome, error) {
	trimmed := strings.TrimSpace(text)
	if agentID != "" && trimmed == "" {
		prom.IncApprovalAction(actionEditApprove, "invalid")
		return "", ErrEmptyText
	}
	outcome, err := s.approve(ctx, agentID, messageID, &trimmed)
	prom.IncApprovalAction(actionEditApprove, outcomeLabel(outcome, err))
	return outcome, err
}

func (s *ApprovalService) approve(ctx context.Context, agentID, messageID string, text *string) (dispatcher.Outcome, error) {
	if agentID == "" {
		return "", ErrNotLoggedIn
	}

	msg, err := s.messages.GetOwned(ctx, agentID, messageID)
	if err != nil {
		return "", mapRepoError(err)
	}

	now := s.now()
	if !msg.ApprovalRequired {
		if msg.IsDelivered() {
			return dispatcher.OutcomeAlreadySent, nil
		}
		return "", ErrNotActionable
	}
	if msg.IsSending(now, s.sendLockTTL) {
		return "", ErrAlreadySending
	}
	if msg.SendStatusValue() == model.SendStatusSent {
		// delivered, but the approval was never recorded
		s.repairSent(ctx, agentID, msg.ID, now)
		return dispatcher.OutcomeAlreadySent, nil
	}

	lead, err := s.leads.GetOwned(ctx, agentID, msg.LeadID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("load lead: %w", err)
	}
	if lead == nil || strings.TrimSpace(lead.Email) == "" {
		return "", ErrLeadMissing
	}

	ticket, err := s.guard.Acquire(ctx, msg.ID)
	switch {
	case errors.Is(err, idempotency.ErrAlreadySent):
		// the send went out but the row was never updated
		s.repairSent(ctx, agentID, msg.ID, now)
		return dispatcher.OutcomeAlreadySent, nil
	case errors.Is(err, idempotency.ErrInProgress):
		return "", ErrAlreadySending
	case err != nil:
		logger.Warn("send guard unavailable, relying on row claim", "message_id", msg.ID, "error", err)
	}

	if err := s.messages.Claim(ctx, agentID, msg.ID, now, now.Add(-s.sendLockTTL)); err != nil {
		s.release(ctx, ticket)
		if errors.Is(err, repository.ErrConcurrentUpdate) {
			return "", ErrAlreadySending
		}
		return "", fmt.Errorf("claim message: %w", err)
	}

	body := msg.Text
	if text != nil {
		body = *text
	}
	req := &dispatcher.SendRequest{
		ID:          msg.ID,
		LeadID:      msg.LeadID,
		ThreadID:    lead.ThreadID,
		To:          lead.Email,
		Subject:     lead.ReplySubject(),
		Text:        body,
		Attachments: msg.Attachments,
	}
	outcome, sendErr := s.dispatcher.Send(ctx, req)

	// the send cannot be taken back, so bookkeeping outlives the request
	bctx := context.WithoutCancel(ctx)

	if sendErr != nil {
		if err := s.messages.MarkFailed(bctx, agentID, msg.ID, sendErr.Error()); err != nil {
			logger.Error("failed to record send failure", "message_id", msg.ID, "error", err)
		}
		s.release(bctx, ticket)
		logger.Warn("dispatch failed", "message_id", msg.ID, "error", sendErr)
		return "", fmt.Errorf("%w: %v", ErrDispatchFailed, sendErr)
	}

	if outcome == dispatcher.OutcomeLocked {
		if err := s.messages.ReleaseClaim(bctx, agentID, msg.ID, msg.SendStatus); err != nil {
			logger.Error("failed to release claim", "message_id", msg.ID, "error", err)
		}
		s.release(bctx, ticket)
		return "", ErrAlreadySending
	}

	if err := s.messages.MarkApproved(bctx, agentID, msg.ID, text, s.now()); err != nil {
		// sent but not recorded; the processed marker turns the next attempt into a repair
		logger.Error("message sent but status update failed", "message_id", msg.ID, "outcome", string(outcome), "error", err)
	}
	if ticket != nil {
		if err := s.guard.MarkSent(bctx, ticket); err != nil {
			logger.Warn("failed to mark send as done", "message_id", msg.ID, "error", err)
		}
	}

	s.afterDecision(bctx, msg, model.MirrorApproved)
	logger.Info("message approved", "message_id", msg.ID, "lead_id", msg.LeadID, "outcome", string(outcome), "edited", text != nil)
	return outcome, nil
}

// Reject takes a draft out of the queue without sending it.
func (s *ApprovalService) Reject(ctx context.Context, agentID, messageID string) error {
	err := s.reject(ctx, agentID, messageID)
	prom.IncApprovalAction(actionReject, outcomeLabel("rejected", err))
	return err
}

func (s *ApprovalService) reject(ctx context.Context, agentID, messageID string) error {
	if agentID == "" {
		return ErrNotLoggedIn
	}

	msg, err := s.messages.GetOwned(ctx, agentID, messageID)
	if err != nil {
		return mapRepoError(err)
	}
	if !msg.ApprovalRequired {
		if msg.Status != nil && *msg.Status == model.MessageStatusRejected {
			return nil
		}
		return ErrNotActionable
	}

	now := s.now()
	if msg.IsSending(now, s.sendLockTTL) {
		return ErrAlreadySending
	}
	if err := s.messages.MarkRejected(ctx, agentID, msg.ID, now, now.Add(-s.sendLockTTL)); err != nil {
		if errors.Is(err, repository.ErrConcurrentUpdate) {
			return ErrAlreadySending
		}
		return fmt.Errorf("reject message: %w", err)
	}

	s.afterDecision(ctx, msg, model.MirrorRejected)
	logger.Info("message rejected", "message_id", msg.ID, "lead_id", msg.LeadID)
	return nil
}

// BulkResult is the state of the queue after a bulk approval. Errors holds
// the ids that could not be put on the board, with their row message.
type BulkResult struct {
	Approved []string          `json:"approved"`
	Rows     []reconcile.Row   `json:"rows"`
	Errors   map[string]string `json:"errors"`
}

// BulkApprove approves the given drafts one after another. A failing draft
// stays on the board with its own error and does not stop the others.
func (s *ApprovalService) BulkApprove(ctx context.Context, agentID string, ids []string) (*BulkResult, error) {
	items, err := s.Queue(ctx, agentID)
	if err != nil {
		return nil, err
	}

	board := reconcile.NewBoard(items, UserMessage)
	var missing []string
	for _, id := range ids {
		if _, ok := board.Get(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		// drafts further down the queue than the first page
		older, err := s.messages.ListApprovalQueue(ctx, model.QueueFilter{AgentID: agentID, IDs: missing})
		if err != nil {
			return nil, fmt.Errorf("list approval queue: %w", err)
		}
		board = reconcile.NewBoard(append(items, older...), UserMessage)
	}

	result := &BulkResult{Approved: []string{}, Errors: map[string]string{}}
	for _, id := range ids {
		if err := board.Begin(id); err != nil {
			if errors.Is(err, reconcile.ErrUnknownRow) {
				s.approveOffBoard(ctx, agentID, id, result)
			}
			continue
		}
		_, err := s.Approve(ctx, agentID, id)
		board.Resolve(id, err)
		if err == nil {
			result.Approved = append(result.Approved, id)
		}
	}

	result.Rows = board.Visible()
	return result, nil
}

// approveOffBoard reports why a requested id is not in the queue. Drafts that
// were delivered without their approval being recorded are repaired.
func (s *ApprovalService) approveOffBoard(ctx context.Context, agentID, id string, result *BulkResult) {
	if _, seen := result.Errors[id]; seen || slices.Contains(result.Approved, id) {
		return
	}
	msg, err := s.messages.GetOwned(ctx, agentID, id)
	switch {
	case err != nil:
		err = mapRepoError(err)
	case msg.ApprovalRequired && msg.SendStatusValue() == model.SendStatusSent:
		if _, err = s.Approve(ctx, agentID, id); err == nil {
			result.Approved = append(result.Approved, id)
			return
		}
	case msg.IsSending(s.now(), s.sendLockTTL):
		err = ErrAlreadySending
	default:
		err = ErrNotActionable
	}
	result.Errors[id] = UserMessage(err)
}

// repairSent records the approval of a draft that was delivered earlier. The
// stored text is kept since nothing was sent on this call.
func (s *ApprovalService) repairSent(ctx context.Context, agentID, id string, now time.Time) {
	logger.Warn("draft already delivered, repairing row", "message_id", id)
	if err := s.messages.MarkApproved(ctx, agentID, id, nil, now); err != nil {
		logger.Error("failed to repair sent draft", "message_id", id, "error", err)
	}
}

func (s *ApprovalService) release(ctx context.Context, t *idempotency.Ticket) {
	if t == nil {
		return
	}
	_ = s.guard.Release(ctx, t)
}

func (s *ApprovalService) afterDecision(ctx context.Context, msg *model.Message, action model.MirrorAction) {
	now := s.now()
	if s.mirror != nil && msg.ExternalMessageID != nil && *msg.ExternalMessageID != "" {
		s.mirror.Publish(model.MirrorJob{ExternalMessageID: *msg.ExternalMessageID, Action: action, At: now})
	}
	if s.changes != nil {
		s.changes.Publish(ctx, model.Change{
			Table:   model.TableMessages,
			Type:    model.ChangeUpdate,
			RowID:   msg.ID,
			LeadID:  msg.LeadID,
			AgentID: msg.AgentID,
			At:      now,
		})
	}
}

func mapRepoError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func outcomeLabel(outcome dispatcher.Outcome, err error) string {
	switch {
	case err == nil:
		return string(outcome)
	case errors.Is(err, ErrAlreadySending):
		return "already_sending"
	case errors.Is(err, ErrDispatchFailed):
		return "dispatch_failed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
