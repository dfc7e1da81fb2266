package repository

import (
	"context"
	"errors"
	"time"

	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a row does not exist or belongs to another agent.
	ErrNotFound = errors.New("record not found")
	// ErrConcurrentUpdate is returned when a conditional update matched no row
	// because another writer changed it first.
	ErrConcurrentUpdate = errors.New("concurrent update detected")
)

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	entity := toMessageEntity(msg)
	if entity.ID == "" {
		entity.ID = pg.NewID()
	}
	if entity.Timestamp.IsZero() {
		entity.Timestamp = time.Now().UTC()
	}

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toMessageModel(entity), nil
}

// ListApprovalQueue returns the drafts the agent can still act on, newest first.
func (r *MessageRepository) ListApprovalQueue(ctx context.Context, f model.QueueFilter) ([]*model.QueueItem, error) {
	limit, offset := f.Window()

	q := r.Read(ctx).Table("messages AS m")
	if len(f.IDs) > 0 {
		q = q.Where("m.id IN ?", f.IDs)
	}

	var rows []*queueRow
	err := q.
		Select("m.*, l.name AS lead_name").
		Joins("LEFT JOIN leads AS l ON l.id = m.lead_id AND l.agent_id = m.agent_id").
		Where("m.agent_id = ?", f.AgentID).
		Where("m.visible_to_agent = ?", true).
		Where("m.approval_required = ?", true).
		Where("m.sender IN ?", []string{string(model.SenderAssistant), string(model.SenderSystem)}).
		Where("m.send_status IN ?", []string{string(model.SendStatusPending), string(model.SendStatusFailed)}).
		Order(clause.OrderByColumn{Column: clause.Column{Table: "m", Name: "timestamp"}, Desc: true}).
		Limit(limit).
		Offset(offset).
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}

	return toQueueItems(rows), nil
}

// GetOwned loads a message scoped by owner. Foreign rows are reported as ErrNotFound.
func (r *MessageRepository) GetOwned(ctx context.Context, agentID, id string) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).
		Where("id = ? AND agent_id = ?", id, agentID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toMessageModel(&entity), nil
}

// Claim moves an actionable draft into the sending state. Claims older than
// staleBefore are considered abandoned and can be taken over.
func (r *MessageRepository) Claim(ctx context.Context, agentID, id string, now, staleBefore time.Time) error {
	result := r.Write(ctx).
		Model(&MessageEntity{}).
		Where("id = ? AND agent_id = ? AND approval_required = ?", id, agentID, true).
		Where("(send_status IS NULL OR send_status IN ? OR (send_status = ? AND send_locked_at < ?))",
			[]string{string(model.SendStatusPending), string(model.SendStatusFailed)},
			string(model.SendStatusSending), staleBefore).
		Updates(map[string]any{
			"send_status":    string(model.SendStatusSending),
			"send_locked_at": now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// ReleaseClaim puts a claimed row back to the send status it had before the claim.
func (r *MessageRepository) ReleaseClaim(ctx context.Context, agentID, id string, previous *model.SendStatus) error {
	var status any
	if previous != nil {
		status = string(*previous)
	}
	return r.Write(ctx).
		Model(&MessageEntity{}).
		Where("id = ? AND agent_id = ? AND send_status = ?", id, agentID, string(model.SendStatusSending)).
		Updates(map[string]any{
			"send_status":    status,
			"send_locked_at": nil,
		}).
		Error
}

// MarkApproved records a successful send. A non-nil text replaces the drafted body.
func (r *MessageRepository) MarkApproved(ctx context.Context, agentID, id string, text *string, now time.Time) error {
	values := map[string]any{
		"approval_required": false,
		"status":            string(model.MessageStatusApproved),
		"approved_at":       now,
		"send_status":       string(model.SendStatusSent),
		"sent_at":           now,
		"send_locked_at":    nil,
		"send_error":        nil,
	}
	if text != nil {
		values["text"] = *text
	}

	result := r.Write(ctx).
		Model(&MessageEntity{}).
		Where("id = ? AND agent_id = ?", id, agentID).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a failed send. The draft stays in the approval queue.
func (r *MessageRepository) MarkFailed(ctx context.Context, agentID, id, reason string) error {
	return r.Write(ctx).
		Model(&MessageEntity{}).
		Where("id = ? AND agent_id = ?", id, agentID).
		Updates(map[string]any{
			"send_status":    string(model.SendStatusFailed),
			"send_error":     reason,
			"send_locked_at": nil,
		}).
		Error
}

// MarkRejected removes a draft from the queue without sending it. Drafts with
// a fresh claim are left alone.
func (r *MessageRepository) MarkRejected(ctx context.Context, agentID, id string, now, staleBefore time.Time) error {
	result := r.Write(ctx).
		Model(&MessageEntity{}).
		Where("id = ? AND agent_id = ? AND approval_required = ?", id, agentID, true).
		Where("(send_status IS NULL OR send_status <> ? OR send_locked_at < ?)",
			string(model.SendStatusSending), staleBefore).
		Updates(map[string]any{
			"approval_required": false,
			"status":            string(model.MessageStatusRejected),
			"rejected_at":       now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// UpdateAttachments replaces the attachment list of a draft still awaiting
// approval. The write only lands while the stored list still equals previous
// and no fresh send claim holds the row; otherwise ErrConcurrentUpdate.
func (r *MessageRepository) UpdateAttachments(ctx context.Context, agentID, id string, previous, next model.Attachments, staleBefore time.Time) error {
	q := r.Write(ctx).
		Model(&MessageEntity{}).
		Where("id = ? AND agent_id = ? AND approval_required = ?", id, agentID, true).
		Where("(send_status IS NULL OR send_status <> ? OR send_locked_at < ?)",
			string(model.SendStatusSending), staleBefore)
	if len(previous) == 0 {
		q = q.Where("(attachments IS NULL OR attachments = ? OR attachments = ?)", previous, "null")
	} else {
		q = q.Where("attachments = ?", previous)
	}

	result := q.Update("attachments", next)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	err := r.Write(ctx).
		Model(&MessageEntity{}).
		Where("id = ? AND agent_id = ?", id, agentID).
		Count(&count).
		Error
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConcurrentUpdate
}
