package repository

import (
	"time"

	"github.com/advaic/reply-gateway/internal/model"
)

type LeadEntity struct {
	ID               string     `db:"id"                gorm:"primaryKey;column:id"`
	AgentID          string     `db:"agent_id"          gorm:"column:agent_id;not null;index"`
	Name             string     `db:"name"              gorm:"column:name;not null;default:''"`
	Email            string     `db:"email"             gorm:"column:email;not null;default:''"`
	InquiryType      string     `db:"inquiry_type"      gorm:"column:inquiry_type;not null;default:''"`
	Priority         string     `db:"priority"          gorm:"column:priority;not null;default:'normal'"`
	Status           string     `db:"status"            gorm:"column:status;not null;default:'open'"`
	Escalated        bool       `db:"escalated"         gorm:"column:escalated;not null;default:false"`
	MessageCount     int        `db:"message_count"     gorm:"column:message_count;not null;default:0"`
	LastMessageAt    *time.Time `db:"last_message_at"   gorm:"column:last_message_at"`
	ThreadID         *string    `db:"gmail_thread_id"   gorm:"column:gmail_thread_id"`
	FollowupsEnabled bool       `db:"followups_enabled" gorm:"column:followups_enabled;not null;default:false"`
	FollowupStatus   *string    `db:"followup_status"   gorm:"column:followup_status"`
	FollowupNextAt   *time.Time `db:"followup_next_at"  gorm:"column:followup_next_at"`
	FollowupStage    int        `db:"followup_stage"    gorm:"column:followup_stage;not null;default:0"`
}

func (LeadEntity) TableName() string {
	return "leads"
}

func toLeadEntity(m *model.Lead) *LeadEntity {
	if m == nil {
		return nil
	}
	e := &LeadEntity{
		ID:               m.ID,
		AgentID:          m.AgentID,
		Name:             m.Name,
		Email:            m.Email,
		InquiryType:      m.InquiryType,
		Priority:         string(m.Priority),
		Status:           string(m.Status),
		Escalated:        m.Escalated,
		MessageCount:     m.MessageCount,
		LastMessageAt:    m.LastMessageAt,
		ThreadID:         m.ThreadID,
		FollowupsEnabled: m.FollowupsEnabled,
		FollowupNextAt:   m.FollowupNextAt,
		FollowupStage:    m.FollowupStage,
	}
	if m.FollowupStatus != nil {
		s := string(*m.FollowupStatus)
		e.FollowupStatus = &s
	}
	return e
}

func toLeadModel(e *LeadEntity) *model.Lead {
	if e == nil {
		return nil
	}
	m := &model.Lead{
		ID:               e.ID,
		AgentID:          e.AgentID,
		Name:             e.Name,
		Email:            e.Email,
		InquiryType:      e.InquiryType,
		Priority:         model.Priority(e.Priority),
		Status:           model.LeadStatus(e.Status),
		Escalated:        e.Escalated,
		MessageCount:     e.MessageCount,
		LastMessageAt:    e.LastMessageAt,
		ThreadID:         e.ThreadID,
		FollowupsEnabled: e.FollowupsEnabled,
		FollowupNextAt:   e.FollowupNextAt,
		FollowupStage:    e.FollowupStage,
	}
	if e.FollowupStatus != nil {
		s := model.FollowupStatus(*e.FollowupStatus)
		m.FollowupStatus = &s
	}
	return m
}
