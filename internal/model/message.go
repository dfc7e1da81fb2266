package model

import (
	"time"
)

// Sender is the role that authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAgent     Sender = "agent"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

// SendStatus tracks a message through the send pipeline. A nil *SendStatus
// means the message never entered the pipeline.
type SendStatus string

const (
	SendStatusPending SendStatus = "pending"
	SendStatusSending SendStatus = "sending"
	SendStatusSent    SendStatus = "sent"
	SendStatusFailed  SendStatus = "failed"
)

// MessageStatus is the agent decision recorded on a drafted message.
type MessageStatus string

const (
	MessageStatusApproved MessageStatus = "approved"
	MessageStatusRejected MessageStatus = "rejected"
)

type Message struct {
	ID               string         `json:"id"`
	LeadID           string         `json:"lead_id"`
	AgentID          string         `json:"agent_id"`
	Sender           Sender         `json:"sender"`
	Text             string         `json:"text"`
	Timestamp        time.Time      `json:"timestamp"`
	ApprovalRequired bool           `json:"approval_required"`
	SendStatus       *SendStatus    `json:"send_status"`
	SendError        *string        `json:"send_error,omitempty"`
	SentAt           *time.Time     `json:"sent_at,omitempty"`
	SendLockedAt     *time.Time     `json:"send_locked_at,omitempty"`
	VisibleToAgent   bool           `json:"visible_to_agent"`
	Attachments      Attachments    `json:"attachments"`
	Status           *MessageStatus `json:"status,omitempty"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`
	RejectedAt       *time.Time     `json:"rejected_at,omitempty"`
	// ExternalMessageID is the provider id of the mail this draft answers,
	// the key of the ingestion mirror rows.
	ExternalMessageID *string `json:"gmail_message_id,omitempty"`
}

// SendStatusValue returns the send status or "" when the message is outside the pipeline.
func (m *Message) SendStatusValue() SendStatus {
	if m.SendStatus == nil {
		return ""
	}
	return *m.SendStatus
}

// IsSending reports whether a send attempt claimed the message less than lockTTL ago.
// Older claims are considered abandoned.
func (m *Message) IsSending(now time.Time, lockTTL time.Duration) bool {
	if m.SendStatusValue() != SendStatusSending {
		return false
	}
	if m.SendLockedAt == nil {
		return true
	}
	return now.Sub(*m.SendLockedAt) < lockTTL
}

// IsDelivered reports whether the message already left the approval flow through a send.
func (m *Message) IsDelivered() bool {
	return m.SendStatusValue() == SendStatusSent ||
		(m.Status != nil && *m.Status == MessageStatusApproved)
}

// Actionable mirrors the approval queue predicate for a single row.
func (m *Message) Actionable() bool {
	if !m.ApprovalRequired || !m.VisibleToAgent {
		return false
	}
	if m.Sender != SenderAssistant && m.Sender != SenderSystem {
		return false
	}
	switch m.SendStatusValue() {
	case SendStatusPending, SendStatusFailed:
		return true
	}
	return false
}

// QueueItem is one row of the approval queue.
type QueueItem struct {
	*Message
	LeadName string `json:"lead_name,omitempty"`
}

const (
	DefaultQueueLimit = 200
	MaxQueueLimit     = 1000
)

// QueueFilter selects the approval queue of one agent.
type QueueFilter struct {
	AgentID string
	// IDs restricts the queue to these drafts; Limit and Offset are ignored then.
	IDs    []string
	Limit  int
	Offset int
}

// Window returns the effective page bounds of the filter.
func (f QueueFilter) Window() (limit, offset int) {
	if len(f.IDs) > 0 {
		return len(f.IDs), 0
	}
	limit = f.Limit
	switch {
	case limit <= 0:
		limit = DefaultQueueLimit
	case limit > MaxQueueLimit:
		limit = MaxQueueLimit
	}
	return limit, max(f.Offset, 0)
}

// QueuePage is one page of the approval queue. HasMore is set when older
// drafts follow the page.
type QueuePage struct {
	Items   []*QueueItem `json:"items"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	HasMore bool         `json:"has_more"`
}

func SendStatusPtr(s SendStatus) *SendStatus {
	return &s
}

func MessageStatusPtr(s MessageStatus) *MessageStatus {
	return &s
}
