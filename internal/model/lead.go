package model

import "time"

type FollowupStatus string

const (
	FollowupActive FollowupStatus = "active"
	FollowupPaused FollowupStatus = "paused"
)

type Lead struct {
	ID               string          `json:"id"`
	AgentID          string          `json:"agent_id"`
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	InquiryType      string          `json:"inquiry_type,omitempty"`
	Priority         Priority        `json:"priority"`
	Status           LeadStatus      `json:"status"`
	Escalated        bool            `json:"escalated"`
	MessageCount     int             `json:"message_count"`
	LastMessageAt    *time.Time      `json:"last_message_at,omitempty"`
	ThreadID         *string         `json:"gmail_thread_id,omitempty"`
	FollowupsEnabled bool            `json:"followups_enabled"`
	FollowupStatus   *FollowupStatus `json:"followup_status,omitempty"`
	FollowupNextAt   *time.Time      `json:"followup_next_at,omitempty"`
	FollowupStage    int             `json:"followup_stage"`
}

const fallbackSubject = "Re: Ihre Anfrage"

// ReplySubject is the subject line used for replies to this lead.
func (l *Lead) ReplySubject() string {
	if l == nil || l.InquiryType == "" {
		return fallbackSubject
	}
	return "Re: " + l.InquiryType
}

// FollowupUpdate is the follow-up state written when an agent toggles follow-ups.
type FollowupUpdate struct {
	Enabled bool
	Status  FollowupStatus
	// ClearNextAt drops the scheduled next follow-up.
	ClearNextAt bool
}

func NewFollowupUpdate(enabled bool) FollowupUpdate {
	if enabled {
		return FollowupUpdate{Enabled: true, Status: FollowupActive}
	}
	return FollowupUpdate{Enabled: false, Status: FollowupPaused, ClearNextAt: true}
}
