package repository

import (
	"context"
	"errors"

	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/pkg/logger"
	"github.com/advaic/reply-gateway/pkg/pg"
	"gorm.io/gorm"
)

const normalizeBatchSize = 500

type LeadRepository struct {
	*pg.DB
}

func NewLeadRepository(db *pg.DB) *LeadRepository {
	return &LeadRepository{
		db,
	}
}

func (r *LeadRepository) Create(ctx context.Context, lead *model.Lead) (*model.Lead, error) {
	entity := toLeadEntity(lead)
	if entity.ID == "" {
		entity.ID = pg.NewID()
	}
	if entity.Status == "" {
		entity.Status = string(model.LeadStatusOpen)
	}
	if entity.Priority == "" {
		entity.Priority = string(model.PriorityNormal)
	}

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toLeadModel(entity), nil
}

func (r *LeadRepository) GetOwned(ctx context.Context, agentID, id string) (*model.Lead, error) {
	var entity LeadEntity
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
	return toLeadModel(&entity), nil
}

// ToggleEscalated flips the escalation flag and returns the stored value.
func (r *LeadRepository) ToggleEscalated(ctx context.Context, agentID, id string) (bool, error) {
	var escalated bool
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		result := r.Write(ctx).
			Model(&LeadEntity{}).
			Where("id = ? AND agent_id = ?", id, agentID).
			Update("escalated", gorm.Expr("NOT escalated"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		var entity LeadEntity
		if err := r.Write(ctx).Select("escalated").Where("id = ?", id).First(&entity).Error; err != nil {
			return err
		}
		escalated = entity.Escalated
		return nil
	})
	return escalated, err
}

func (r *LeadRepository) SetStatus(ctx context.Context, agentID, id string, status model.LeadStatus) error {
	result := r.Write(ctx).
		Model(&LeadEntity{}).
		Where("id = ? AND agent_id = ?", id, agentID).
		Update("status", string(status))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *LeadRepository) SetFollowups(ctx context.Context, agentID, id string, u model.FollowupUpdate) error {
	values := map[string]any{
		"followups_enabled": u.Enabled,
		"followup_status":   string(u.Status),
	}
	if u.ClearNextAt {
		values["followup_next_at"] = nil
	}

	result := r.Write(ctx).
		Model(&LeadEntity{}).
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

// NormalizeResult summarizes a legacy vocabulary migration.
type NormalizeResult struct {
	Scanned int
	Updated int
	Skipped []string
}

// NormalizeLegacy rewrites lead status and priority values stored in legacy
// encodings to their canonical form. Rows with unrecognized values are left
// untouched and reported by id.
func (r *LeadRepository) NormalizeLegacy(ctx context.Context) (NormalizeResult, error) {
	var res NormalizeResult
	var batch []*LeadEntity

	err := r.Read(ctx).
		Model(&LeadEntity{}).
		Select("id", "status", "priority").
		Where("status NOT IN ? OR priority NOT IN ?",
			[]string{string(model.LeadStatusOpen), string(model.LeadStatusClosed)},
			[]string{string(model.PriorityLow), string(model.PriorityNormal), string(model.PriorityHigh)}).
		FindInBatches(&batch, normalizeBatchSize, func(tx *gorm.DB, _ int) error {
			for _, row := range batch {
				res.Scanned++

				status, err := model.NormalizeLeadStatus(row.Status)
				if err != nil {
					logger.Warn("skipping lead with unknown status", "lead_id", row.ID, "status", row.Status)
					res.Skipped = append(res.Skipped, row.ID)
					continue
				}
				priority, err := model.NormalizePriority(row.Priority)
				if err != nil {
					logger.Warn("skipping lead with unknown priority", "lead_id", row.ID, "priority", row.Priority)
					res.Skipped = append(res.Skipped, row.ID)
					continue
				}

				err = r.Write(ctx).
					Model(&LeadEntity{}).
					Where("id = ?", row.ID).
					Updates(map[string]any{"status": string(status), "priority": string(priority)}).
					Error
				if err != nil {
					return err
				}
				res.Updated++
			}
			return nil
		}).Error

	return res, err
}
