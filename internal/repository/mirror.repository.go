package repository

import (
	"context"
	"fmt"

	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/pkg/pg"
)

type MirrorRepository struct {
	*pg.DB
}

func NewMirrorRepository(db *pg.DB) *MirrorRepository {
	return &MirrorRepository{
		db,
	}
}

// Apply stamps the decision onto the mirror row. It reports whether a row
// matched; a missing mirror row is not an error.
func (r *MirrorRepository) Apply(ctx context.Context, job model.MirrorJob) (bool, error) {
	values := map[string]any{"status": string(job.Action)}
	switch job.Action {
	case model.MirrorApproved:
		values["approved_at"] = job.At
	case model.MirrorRejected:
		values["rejected_at"] = job.At
	default:
		return false, fmt.Errorf("unknown mirror action %q", job.Action)
	}

	result := r.Write(ctx).
		Model(&MirrorEntity{}).
		Where("gmail_message_id = ?", job.ExternalMessageID).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
