package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/advaic/reply-gateway/internal/dispatcher"
	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sendFor(id string) any {
	return mock.MatchedBy(func(r *dispatcher.SendRequest) bool { return r.ID == id })
}

func TestApprovalService_ApproveSuccess(t *testing.T) {
	f := setupFlow(t)
	f.seed(t, "m1", func(m *model.Message) { m.ExternalMessageID = strPtr("gmail-1") })
	f.dispatch.On("Send", mock.Anything, sendFor("m1")).Return(dispatcher.OutcomeSent, nil).Once()

	outcome, err := f.svc.Approve(context.Background(), agentID, "m1")
	require.NoError(t, err)
	assert.Equal(t, dispatcher.OutcomeSent, outcome)

	msg := f.load(t, "m1")
	assert.False(t, msg.ApprovalRequired)
	require.NotNil(t, msg.Status)
	assert.Equal(t, model.MessageStatusApproved, *msg.Status)
	assert.Equal(t, model.SendStatusSent, msg.SendStatusValue())
	assert.NotNil(t, msg.ApprovedAt)
	assert.NotContains(t, f.queueIDs(t), "m1")

	req := f.dispatch.Calls[0].Arguments.Get(1).(*dispatcher.SendRequest)
	assert.Equal(t, "erika@example.com", req.To)
	assert.Equal(t, "Re: Besichtigung Altbauwohnung", req.Subject)
	assert.Equal(t, "Hallo!", req.Text)

	require.Len(t, f.mirror.jobs, 1)
	assert.Equal(t, model.MirrorApproved, f.mirror.jobs[0].Action)
	require.Len(t, f.changes.changes, 1)
	assert.Equal(t, "m1", f.changes.changes[0].RowID)

	assert.True(t, f.mr.Exists("send:done:m1"))
	assert.False(t, f.mr.Exists("send:lock:m1"))
	f.dispatch.AssertExpectations(t)
}

func TestApprovalService_ApproveTwiceSendsOnce(t *testing.T) {
	f := setupFlow(t)
	f.seed(t, "m1")
	f.dispatch.On("Send", mock.Anything, sendFor("m1")).Return(dispatcher.OutcomeSent, nil).Once()

	_, err := f.svc.Approve(context.Background(), agentID, "m1")
	require.NoError(t, err)

	outcome, err := f.svc.Approve(context.Background(), agentID, "m1")
	require.NoError(t, err)
	assert.Equal(t, dispatcher.OutcomeAlreadySent, outcome)

	f.dispatch.AssertNumberOfCalls(t, "Send", 1)
	assert.Equal(t, model.SendStatusSent, f.load(t, "m1").SendStatusValue())
}

func TestApprovalService_ApproveWhileInFlight(t *testing.T) {
	f := setupFlow(t)
	f.seed(t, "m1")

	var second error
	f.dispatch.On("Send", mock.Anything, sendFor("m1")).
		Run(func(args mock.Arguments) {
			// a second tab clicks while the first send is on the wire
			_, second = f.svc.Approve(context.Background(), agentID, "m1")
		}).
		Return(dispatcher.OutcomeSent, nil).Once()

	_, err := f.svc.Approve(context.Background(), agentID, "m1")
	require.NoError(t, err)

	assert.ErrorIs(t, second, ErrAlreadySending)
	f.dispatch.AssertNumberOfCalls(t, "Send", 1)
	assert.Equal(t, model.SendStatusSent, f.load(t, "m1").SendStatusValue())
}

func TestApprovalService_ApproveLockedByGuard(t *testing.T) {
	f := setupFlow(t)
	f.seed(t, "m1")
	require.NoError(t, f.mr.Set("send:lock:m1", "other-attempt"))

	_, err := f.svc.Approve(context.Background(), agentID, "m1")

	assert.ErrorIs(t, err, ErrAlreadySending)
	f.dispatch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	assert.Equal(t, model.SendStatusPending, f.load(t, "m1").SendStatusValue())
}

func TestApprovalService_DispatcherReportsLocked(t *testing.T) {
	f := setupFlow(t)
	f.seed(t, "m1")
	f.dispatch.On("Send", mock.Anything, sendFor("m1")).Return(dispatcher.OutcomeLocked, nil).Once()

	_, err := f.svc.Approve(context.Background(), agentID, "m1")

	require.ErrorIs(t, err, ErrAlreadySending)
	assert.Contains(t, UserMessage(err), "wird bereits gesendet")
	msg := f.load(t, "m1")
	assert.True(t, msg.ApprovalRequired)
	assert.Equal(t, model.SendStatusPending, msg.SendStatusValue())
	assert.Nil(t, msg.SendLockedAt)
	assert.Contains(t, f.queueIDs(t), "m1")
	assert.False(t, f.mr.Exists("send:lock:m1"))
}

func TestApprovalService_DispatcherAlreadySent(t *testing.T) {
	f := setupFlow(t)
	f.seed(t, "m1")
	f.dispatch.On("Send", mock.Anything, sendFor("m1")).Return(dispatcher.OutcomeAlreadySent, nil).Once()

	outcome, err := f.svc.Approve(context.Background(), agentID, "m1")

	require.NoError(t, err)
	assert.Equal(t, dispatcher.OutcomeAlreadySent, outcome)
	assert.False(t, f.load(t, "m1").ApprovalRequired)
}

func TestApprovalService_DispatchFailureRollsBack(t *testing.T) {
	f := setupFlow(t)
	f.seed(t, "m1")
	f.dispatch.On("Send", mock.Anything, sendFor("m1")).
		Return(dispatcher.Outcome(""), &dispatcher.DispatchError{StatusCode: 500, Message: "smtp down"}).Once()

	_, err := f.svc.Approve(context.Background(), agentID, "m1")

	require.ErrorIs(t, err, ErrDispatchFailed)
	msg := f.load(t, "m1")
	assert.True(t, msg.ApprovalRequired)
	assert.Equal(t, model.SendStatusFailed, msg.SendStatusValue())
	require.NotNil(t, msg.SendError)
	assert.Contains(t, *msg.SendError, "smtp down")
	assert.Contains(t, f.queueIDs(t), "m1")
	assert.False(t, f.mr.Exists("send:lock:m1"))
	assert.False(t, f.mr.Exists("send:done:m1"))
	assert.Empty(t, f.mirror.jobs)

	// the agent can retry a failed draft
	f.dispatch.On("Send", mock.Anything, sendFor("m1")).Return(dispatcher.OutcomeSent, nil).Once()
	_, err = f.svc.Approve(context.Background(), agentID, "m1")
	require.NoError(t, err)
	assert.False(t, f.load(t, "m1").ApprovalRequired)
}

func TestApprovalService_ProcessedMarkerRepairsRow(t *testing.T) {
	f := setupFlow(t)
	f.seed(t, "m1")
	require.NoError(t, f.mr.Set("send:done:m1", "1"))

	outcome, err := f.svc.Approve(context.Background(), agentID, "m1")

	require.NoError(t, err)
	assert.Equal(t, dispatcher.OutcomeAlreadySent, outcome)
	f.dispatch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	assert.False(t, f.load(t, "m1").ApprovalRequired)
}

func TestApprovalService_SentButUnrecordedIsRepaired(t *testing.T) {
	f := setupFlow(t)
	sentAt := time.Now().UTC().Add(-time.Hour)
	f.seed(t, "m1", func(m *model.Message) {
		m.SendStatus = model.SendStatusPtr(model.SendStatusSent)
		m.SentAt = &sentAt
	})

	outcome, err := f.svc.Approve(context.Background(), agentID, "m1")

	require.NoError(t, err)
	assert.Equal(t, dispatcher.OutcomeAlreadySent, outcome)
	f.dispatch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	msg := f.load(t, "m1")
	assert.False(t, msg.ApprovalRequired)
	require.NotNil(t, msg.Status)
	assert.Equal(t, model.MessageStatusApproved, *msg.Status)
	assert.Equal(t, "Hallo!", msg.Text)

	// the repaired row answers like any delivered draft
	outcome, err = f.svc.Approve(context.Background(), agentID, "m1")
	require.NoError(t, err)
	assert.Equal(t, dispatcher.OutcomeAlreadySent, outcome)
}

func TestApprovalService_StaleClaimIsTakenOver(t *testing.T) {
	f := setupFlow(t)
	locked := time.Now().UTC().Add(-10 * time.Minute)
	f.seed(t, "m1", func(m *model.Message) {
		m.SendStatus = model.SendStatusPtr(model.SendStatusSending)
		m.SendLockedAt = &locked
	})
	f.dispatch.On("Send", mock.Anything, sendFor("m1")).Return(dispatcher.OutcomeSent, nil).Once()

	_, err := f.svc.Approve(context.Background(), agentID, "m1")

	require.NoError(t, err)
	assert.Equal(t, model.SendStatusSent, f.load(t, "m1").SendStatusValue())
}

func TestApprovalService_OwnershipIsNotFound(t *testing.T) {
	f := setupFlow(t)
	f.seed(t, "m1")

	_, err := f.svc.Approve(context.Background(), otherAgentID, "m1")
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.svc.Reject(context.Background(), otherAgentID, "m1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.EditAndApprove(context.Background(), otherAgentID, "m1", "Neu")
	assert.ErrorIs(t, err, ErrNotFound)

	msg := f.load(t, "m1")
	assert.True(t, msg.ApprovalRequired)
	assert.Equal(t, model.SendStatusPending, msg.SendStatusValue())
	f.dispatch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestApprovalService_NotLoggedIn(t *testing.T) {
	f := setupFlow(t)
	f.seed(t, "m1")

	_, err := f.svc.Queue(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	_, err = f.svc.Approve(context.Background(), "", "m1")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	_, err = f.svc.EditAndApprove(context.Background(), "", "m1", "")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.ErrorIs(t, f.svc.Reject(context.Background(), "", "m1"), ErrNotLoggedIn)
	assert.Equal(t, "Nicht eingeloggt.", UserMessage(err))
}

func TestApprovalService_LeadWithoutEmail(t *testing.T) {
	f := setupFlow(t)
	_, err := f.leads.Create(context.Background(), &model.Lead{ID: "L2", AgentID: agentID, Name: "Ohne Mail"})
	require.NoError(t, err)
	f.seed(t, "m1", func(m *model.Message) { m.LeadID = "L2" })
	f.seed(t, "m2", func(m *model.Message) { m.LeadID = "missing" })

	_, err = f.svc.Approve(context.Background(), agentID, "m1")
	assert.ErrorIs(t, err, ErrLeadMissing)
	_, err = f.svc.Approve(context.Background(), agentID, "m2")
	assert.ErrorIs(t, err, ErrLeadMissing)

	f.dispatch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	assert.Equal(t, model.SendStatusPending, f.load(t, "m1").SendStatusValue())
}

func TestApprovalService_EditAndApprove(t *testing.T) {
	t.Run("empty text never dispatches", func(t *testing.T) {
		f := setupFlow(t)
		f.seed(t, "m2")

		for _, text := range []string{"", "   ", "\n\t"} {
			_, err := f.svc.EditAndApprove(context.Background(), agentID, "m2", text)
			require.ErrorIs(t, err, ErrEmptyText)
			assert.Equal(t, "Text darf nicht leer sein.", UserMessage(err))
		}

		msg := f.load(t, "m2")
		assert.Equal(t, "Hallo!", msg.Text)
		assert.True(t, msg.ApprovalRequired)
		f.dispatch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("edited text is sent and stored", func(t *testing.T) {
		f := setupFlow(t)
		f.seed(t, "m2")
		f.dispatch.On("Send", mock.Anything, mock.MatchedBy(func(r *dispatcher.SendRequest) bool {
			return r.ID == "m2" && r.Text == "Guten Tag, gerne am Freitag."
		})).Return(dispatcher.OutcomeSent, nil).Once()

		_, err := f.svc.EditAndApprove(context.Background(), agentID, "m2", "  Guten Tag, gerne am Freitag.  ")
		require.NoError(t, err)

		msg := f.load(t, "m2")
		assert.Equal(t, "Guten Tag, gerne am Freitag.", msg.Text)
		assert.False(t, msg.ApprovalRequired)
		f.dispatch.AssertExpectations(t)
	})

	t.Run("processed marker keeps the stored text", func(t *testing.T) {
		f := setupFlow(t)
		f.seed(t, "m2")
		require.NoError(t, f.mr.Set("send:done:m2", "1"))

		outcome, err := f.svc.EditAndApprove(context.Background(), agentID, "m2", "Nie versendet")
		require.NoError(t, err)
		assert.Equal(t, dispatcher.OutcomeAlreadySent, outcome)

		msg := f.load(t, "m2")
		assert.Equal(t, "Hallo!", msg.Text)
		assert.False(t, msg.ApprovalRequired)
		f.dispatch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})
}

func TestApprovalService_Reject(t *testing.T) {
	f := setupFlow(t)
	f.seed(t, "m3", func(m *model.Message) { m.ExternalMessageID = strPtr("gmail-3") })

	require.NoError(t, f.svc.Reject(context.Background(), agentID, "m3"))

	msg := f.load(t, "m3")
	assert.False(t, msg.ApprovalRequired)
	require.NotNil(t, msg.Status)
	assert.Equal(t, model.MessageStatusRejected, *msg.Status)
	assert.NotNil(t, msg.RejectedAt)
	assert.NotContains(t, f.queueIDs(t), "m3")
	require.Len(t, f.mirror.jobs, 1)
	assert.Equal(t, model.MirrorRejected, f.mirror.jobs[0].Action)

	// rejecting again is a no-op, approving a rejected draft is refused
	require.NoError(t, f.svc.Reject(context.Background(), agentID, "m3"))
	_, err := f.svc.Approve(context.Background(), agentID, "m3")
	assert.ErrorIs(t, err, ErrNotActionable)

	f.dispatch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestApprovalService_RejectWhileSending(t *testing.T) {
	f := setupFlow(t)
	now := time.Now().UTC()
	f.seed(t, "m1", func(m *model.Message) {
		m.SendStatus = model.SendStatusPtr(model.SendStatusSending)
		m.SendLockedAt = &now
	})

	err := f.svc.Reject(context.Background(), agentID, "m1")

	assert.ErrorIs(t, err, ErrAlreadySending)
	assert.True(t, f.load(t, "m1").ApprovalRequired)
}

func TestApprovalService_BulkApprove(t *testing.T) {
	f := setupFlow(t)
	base := time.Now().UTC()
	f.seed(t, "a", func(m *model.Message) { m.Timestamp = base.Add(-3 * time.Minute) })
	f.seed(t, "b", func(m *model.Message) { m.Timestamp = base.Add(-2 * time.Minute) })
	f.seed(t, "c", func(m *model.Message) { m.Timestamp = base.Add(-time.Minute) })

	f.dispatch.On("Send", mock.Anything, sendFor("a")).Return(dispatcher.OutcomeSent, nil).Once()
	f.dispatch.On("Send", mock.Anything, sendFor("b")).Return(dispatcher.Outcome(""), errors.New("timeout")).Once()

	result, err := f.svc.BulkApprove(context.Background(), agentID, []string{"a", "b", "unknown"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, result.Approved)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "c", result.Rows[0].Item.ID)
	assert.Equal(t, reconcile.StateIdle, result.Rows[0].State)
	assert.Equal(t, "b", result.Rows[1].Item.ID)
	assert.Equal(t, reconcile.StateFailed, result.Rows[1].State)
	assert.Equal(t, "Senden fehlgeschlagen. Bitte erneut versuchen.", result.Rows[1].Error)

	assert.Equal(t, map[string]string{"unknown": "Nachricht nicht gefunden."}, result.Errors)

	assert.ElementsMatch(t, []string{"b", "c"}, f.queueIDs(t))
}

func TestApprovalService_BulkApproveBeyondFirstPage(t *testing.T) {
	f := setupFlow(t)
	base := time.Now().UTC().Add(-24 * time.Hour)
	for i := 0; i <= 200; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		f.seed(t, fmt.Sprintf("m%03d", i), func(m *model.Message) { m.Timestamp = at })
	}
	f.seed(t, "done", func(m *model.Message) {
		m.SendStatus = model.SendStatusPtr(model.SendStatusSent)
		m.Timestamp = base
	})
	f.seed(t, "rejected", func(m *model.Message) { m.ApprovalRequired = false })
	require.NotContains(t, f.queueIDs(t), "m000")

	f.dispatch.On("Send", mock.Anything, sendFor("m000")).Return(dispatcher.OutcomeSent, nil).Once()

	result, err := f.svc.BulkApprove(context.Background(), agentID, []string{"m000", "done", "rejected"})
	require.NoError(t, err)

	assert.Equal(t, []string{"m000", "done"}, result.Approved)
	assert.Equal(t, map[string]string{"rejected": UserMessage(ErrNotActionable)}, result.Errors)
	assert.False(t, f.load(t, "m000").ApprovalRequired)
	assert.False(t, f.load(t, "done").ApprovalRequired)
	f.dispatch.AssertExpectations(t)
}

func TestApprovalService_QueuePage(t *testing.T) {
	f := setupFlow(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		f.seed(t, fmt.Sprintf("m%d", i), func(m *model.Message) { m.Timestamp = at })
	}
	ctx := context.Background()

	page, err := f.svc.QueuePage(ctx, agentID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "m4", page.Items[0].ID)
	assert.True(t, page.HasMore)

	page, err = f.svc.QueuePage(ctx, agentID, 2, 4)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "m0", page.Items[0].ID)
	assert.False(t, page.HasMore)

	page, err = f.svc.QueuePage(ctx, agentID, 0, -3)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultQueueLimit, page.Limit)
	assert.Equal(t, 0, page.Offset)
	assert.Len(t, page.Items, 5)
	assert.False(t, page.HasMore)

	_, err = f.svc.QueuePage(ctx, "", 10, 0)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestLeadService_EscalationLeavesMessagesAlone(t *testing.T) {
	f := setupFlow(t)
	f.seed(t, "m1")

	escalated, err := f.leadSvc.ToggleEscalation(context.Background(), agentID, leadID)
	require.NoError(t, err)
	assert.True(t, escalated)

	lead, err := f.leads.GetOwned(context.Background(), agentID, leadID)
	require.NoError(t, err)
	assert.True(t, lead.Escalated)

	msg := f.load(t, "m1")
	assert.True(t, msg.ApprovalRequired)
	assert.Equal(t, model.SendStatusPending, msg.SendStatusValue())

	escalated, err = f.leadSvc.ToggleEscalation(context.Background(), agentID, leadID)
	require.NoError(t, err)
	assert.False(t, escalated)

	_, err = f.leadSvc.ToggleEscalation(context.Background(), otherAgentID, leadID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func strPtr(s string) *string {
	return &s
}
