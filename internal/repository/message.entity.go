package repository

import (
	"time"

	"github.com/advaic/reply-gateway/internal/model"
)

type MessageEntity struct {
	ID                string            `db:"id"                gorm:"primaryKey;column:id"`
	LeadID            string            `db:"lead_id"           gorm:"column:lead_id;not null;index"`
	AgentID           string            `db:"agent_id"          gorm:"column:agent_id;not null;index"`
	Sender            string            `db:"sender"            gorm:"column:sender;not null"`
	Text              string            `db:"text"              gorm:"column:text;not null;default:''"`
	Timestamp         time.Time         `db:"timestamp"         gorm:"column:timestamp;not null"`
	ApprovalRequired  bool              `db:"approval_required" gorm:"column:approval_required;not null;default:false"`
	SendStatus        *string           `db:"send_status"       gorm:"column:send_status"`
	SendError         *string           `db:"send_error"        gorm:"column:send_error"`
	SentAt            *time.Time        `db:"sent_at"           gorm:"column:sent_at"`
	SendLockedAt      *time.Time        `db:"send_locked_at"    gorm:"column:send_locked_at"`
	VisibleToAgent    bool              `db:"visible_to_agent"  gorm:"column:visible_to_agent;not null"`
	Attachments       model.Attachments `db:"attachments"       gorm:"column:attachments;type:jsonb"`
	Status            *string           `db:"status"            gorm:"column:status"`
	ApprovedAt        *time.Time        `db:"approved_at"       gorm:"column:approved_at"`
	RejectedAt        *time.Time        `db:"rejected_at"       gorm:"column:rejected_at"`
	ExternalMessageID *string           `db:"gmail_message_id"  gorm:"column:gmail_message_id"`
}

func (MessageEntity) TableName() string {
	return "messages"
}

// queueRow is a message joined with the display name of its lead.
type queueRow struct {
	MessageEntity `gorm:"embedded"`
	LeadName      *string `gorm:"column:lead_name"`
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	e := &MessageEntity{
		ID:                m.ID,
		LeadID:            m.LeadID,
		AgentID:           m.AgentID,
		Sender:            string(m.Sender),
		Text:              m.Text,
		Timestamp:         m.Timestamp,
		ApprovalRequired:  m.ApprovalRequired,
		SendError:         m.SendError,
		SentAt:            m.SentAt,
		SendLockedAt:      m.SendLockedAt,
		VisibleToAgent:    m.VisibleToAgent,
		Attachments:       m.Attachments,
		ApprovedAt:        m.ApprovedAt,
		RejectedAt:        m.RejectedAt,
		ExternalMessageID: m.ExternalMessageID,
	}
	if m.SendStatus != nil {
		s := string(*m.SendStatus)
		e.SendStatus = &s
	}
	if m.Status != nil {
		s := string(*m.Status)
		e.Status = &s
	}
	return e
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	m := &model.Message{
		ID:                e.ID,
		LeadID:            e.LeadID,
		AgentID:           e.AgentID,
		Sender:            model.Sender(e.Sender),
		Text:              e.Text,
		Timestamp:         e.Timestamp,
		ApprovalRequired:  e.ApprovalRequired,
		SendError:         e.SendError,
		SentAt:            e.SentAt,
		SendLockedAt:      e.SendLockedAt,
		VisibleToAgent:    e.VisibleToAgent,
		Attachments:       e.Attachments,
		ApprovedAt:        e.ApprovedAt,
		RejectedAt:        e.RejectedAt,
		ExternalMessageID: e.ExternalMessageID,
	}
	if e.SendStatus != nil {
		m.SendStatus = model.SendStatusPtr(model.SendStatus(*e.SendStatus))
	}
	if e.Status != nil {
		m.Status = model.MessageStatusPtr(model.MessageStatus(*e.Status))
	}
	return m
}

func toQueueItems(rows []*queueRow) []*model.QueueItem {
	items := make([]*model.QueueItem, 0, len(rows))
	for _, row := range rows {
		item := &model.QueueItem{Message: toMessageModel(&row.MessageEntity)}
		if row.LeadName != nil {
			item.LeadName = *row.LeadName
		}
		items = append(items, item)
	}
	return items
}
