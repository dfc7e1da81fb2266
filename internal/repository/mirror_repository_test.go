package repository

import (
	"context"
	"testing"
	"time"

	"github.com/advaic/reply-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirrorRepository_Apply(t *testing.T) {
	tdb := setupTestDB(t)
	repo := NewMirrorRepository(tdb.DB)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, tdb.rawDB.Create(&MirrorEntity{ExternalMessageID: "gm-1", Status: "pending"}).Error)

	ok, err := repo.Apply(ctx, model.MirrorJob{ExternalMessageID: "gm-1", Action: model.MirrorApproved, At: now})
	require.NoError(t, err)
	assert.True(t, ok)

	var row MirrorEntity
	require.NoError(t, tdb.rawDB.First(&row, "gmail_message_id = ?", "gm-1").Error)
	assert.Equal(t, "approved", row.Status)
	assert.NotNil(t, row.ApprovedAt)

	ok, err = repo.Apply(ctx, model.MirrorJob{ExternalMessageID: "gm-missing", Action: model.MirrorRejected, At: now})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.Apply(ctx, model.MirrorJob{ExternalMessageID: "gm-1", Action: "sent"})
	assert.Error(t, err)
}
