package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/internal/repository"
	"github.com/advaic/reply-gateway/internal/storage"
	"github.com/advaic/reply-gateway/pkg/logger"
)

const (
	MinPreviewTTL = time.Minute
	MaxPreviewTTL = 10 * time.Minute

	MaxAttachmentSize = 20 << 20

	attachmentKind = "messages"

	// attempts to write the attachment list when another upload races us
	attachmentWriteAttempts = 3
)

type Preview struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AttachmentPreview is the preview of one attachment of a message. Error is
// set instead of URL when signing failed.
type AttachmentPreview struct {
	model.Attachment
	URL       string     `json:"url,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type AttachmentService struct {
	store       storage.Store
	messages    MessageRepository
	bucket      string
	ttl         time.Duration
	sendLockTTL time.Duration
	now         func() time.Time
}

func NewAttachmentService(store storage.Store, messages MessageRepository, bucket string, ttl, sendLockTTL time.Duration) *AttachmentService {
	if sendLockTTL <= 0 {
		sendLockTTL = 2 * time.Minute
	}
	return &AttachmentService{
		store:       store,
		messages:    messages,
		bucket:      bucket,
		ttl:         ClampPreviewTTL(ttl),
		sendLockTTL: sendLockTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ClampPreviewTTL keeps signed links between one and ten minutes.
func ClampPreviewTTL(ttl time.Duration) time.Duration {
	if ttl < MinPreviewTTL {
		return MinPreviewTTL
	}
	if ttl > MaxPreviewTTL {
		return MaxPreviewTTL
	}
	return ttl
}

// Preview signs a short-lived link for an object under the agent's prefix.
func (s *AttachmentService) Preview(ctx context.Context, agentID, bucket, path string) (*Preview, error) {
	if agentID == "" {
		return nil, ErrNotLoggedIn
	}
	if err := storage.ValidatePath(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAttachmentPath, err)
	}
	if !storage.OwnedBy(path, agentID) {
		return nil, ErrNotFound
	}
	if bucket == "" {
		bucket = s.bucket
	}
	return s.sign(ctx, bucket, path)
}

// PreviewMessage signs every attachment of a message. A failing attachment
// gets its own error text and does not fail the others.
func (s *AttachmentService) PreviewMessage(ctx context.Context, agentID, messageID string) ([]AttachmentPreview, error) {
	if agentID == "" {
		return nil, ErrNotLoggedIn
	}
	msg, err := s.messages.GetOwned(ctx, agentID, messageID)
	if err != nil {
		return nil, mapRepoError(err)
	}

	out := make([]AttachmentPreview, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		p := AttachmentPreview{Attachment: att}
		preview, err := s.previewStored(ctx, att)
		if err != nil {
			logger.Warn("attachment preview failed", "message_id", msg.ID, "path", att.Path, "error", err)
			p.Error = UserMessage(ErrPreviewUnavailable)
		} else {
			p.URL = preview.URL
			p.ExpiresAt = &preview.ExpiresAt
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *AttachmentService) previewStored(ctx context.Context, att model.Attachment) (*Preview, error) {
	if err := storage.ValidatePath(att.Path); err != nil {
		return nil, err
	}
	bucket := att.Bucket
	if bucket == "" {
		bucket = s.bucket
	}
	return s.sign(ctx, bucket, att.Path)
}

func (s *AttachmentService) sign(ctx context.Context, bucket, path string) (*Preview, error) {
	url, err := s.store.CreateSignedURL(ctx, bucket, path, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPreviewUnavailable, err)
	}
	return &Preview{URL: url, ExpiresAt: s.now().Add(s.ttl)}, nil
}

// Upload stores a file and appends its descriptor to a draft awaiting approval.
// Drafts with a send in flight are refused.
func (s *AttachmentService) Upload(ctx context.Context, agentID, messageID, name, mime string, data []byte) (*model.Attachment, error) {
	if agentID == "" {
		return nil, ErrNotLoggedIn
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidAttachmentPath)
	}
	if len(data) > MaxAttachmentSize {
		return nil, ErrAttachmentTooLarge
	}

	msg, err := s.loadDraft(ctx, agentID, messageID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(mime) == "" {
		mime = "application/octet-stream"
	}
	att := model.Attachment{
		Bucket: s.bucket,
		Path:   storage.BuildPath(agentID, attachmentKind, msg.ID, name, s.now()),
		Name:   name,
		Mime:   mime,
		Size:   int64(len(data)),
	}

	if err := s.store.Upload(ctx, att.Bucket, att.Path, att.Mime, data); err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}

	err = s.editAttachments(ctx, agentID, msg, func(current model.Attachments) (model.Attachments, error) {
		return append(append(model.Attachments{}, current...), att), nil
	})
	if err != nil {
		if rmErr := s.store.Remove(context.WithoutCancel(ctx), att.Bucket, []string{att.Path}); rmErr != nil {
			logger.Warn("failed to remove orphaned upload", "path", att.Path, "error", rmErr)
		}
		return nil, err
	}

	logger.Info("attachment uploaded", "message_id", msg.ID, "path", att.Path, "size", att.Size)
	return &att, nil
}

// Remove drops an attachment from a draft and deletes the stored object.
func (s *AttachmentService) Remove(ctx context.Context, agentID, messageID, path string) error {
	if agentID == "" {
		return ErrNotLoggedIn
	}
	if err := storage.ValidatePath(path); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAttachmentPath, err)
	}

	msg, err := s.loadDraft(ctx, agentID, messageID)
	if err != nil {
		return err
	}

	var removed model.Attachment
	err = s.editAttachments(ctx, agentID, msg, func(current model.Attachments) (model.Attachments, error) {
		att, ok := current.Find(path)
		if !ok {
			return nil, ErrNotFound
		}
		removed = att
		rest, _ := current.Without(path)
		return rest, nil
	})
	if err != nil {
		return err
	}

	bucket := removed.Bucket
	if bucket == "" {
		bucket = s.bucket
	}
	if err := s.store.Remove(ctx, bucket, []string{path}); err != nil {
		var se *storage.StorageError
		if errors.As(err, &se) {
			logger.Warn("stored object not removed", "path", path, "status", se.StatusCode, "error", err)
		} else {
			logger.Warn("stored object not removed", "path", path, "error", err)
		}
	}
	return nil
}

// loadDraft returns a draft whose attachments may still change.
func (s *AttachmentService) loadDraft(ctx context.Context, agentID, messageID string) (*model.Message, error) {
	msg, err := s.messages.GetOwned(ctx, agentID, messageID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if !msg.ApprovalRequired {
		return nil, ErrNotActionable
	}
	if msg.IsSending(s.now(), s.sendLockTTL) {
		return nil, ErrAlreadySending
	}
	return msg, nil
}

// editAttachments writes edit(current) only while the stored list is still
// current. A lost race reloads the draft and edits again.
func (s *AttachmentService) editAttachments(ctx context.Context, agentID string, msg *model.Message, edit func(model.Attachments) (model.Attachments, error)) error {
	for attempt := 1; ; attempt++ {
		next, err := edit(msg.Attachments)
		if err != nil {
			return err
		}

		err = s.messages.UpdateAttachments(ctx, agentID, msg.ID, msg.Attachments, next, s.now().Add(-s.sendLockTTL))
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrConcurrentUpdate) {
			return mapRepoError(err)
		}
		if attempt == attachmentWriteAttempts {
			return fmt.Errorf("update attachments: %w", err)
		}

		// a send claimed the row or another edit landed first
		if msg, err = s.loadDraft(ctx, agentID, msg.ID); err != nil {
			return err
		}
	}
}
