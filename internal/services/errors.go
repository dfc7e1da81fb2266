package services

import (
	"errors"

	"github.com/advaic/reply-gateway/internal/auth"
	"github.com/advaic/reply-gateway/internal/reconcile"
	"github.com/advaic/reply-gateway/internal/repository"
	"github.com/advaic/reply-gateway/internal/storage"
)

var (
	ErrNotLoggedIn           = errors.New("not logged in")
	ErrNotFound              = errors.New("not found")
	ErrEmptyText             = errors.New("text must not be empty")
	ErrLeadMissing           = errors.New("lead missing or without email")
	ErrAlreadySending        = errors.New("message is already being sent")
	ErrNotActionable         = errors.New("message no longer awaits approval")
	ErrDispatchFailed        = errors.New("dispatch failed")
	ErrInvalidAttachmentPath = errors.New("invalid attachment path")
	ErrAttachmentTooLarge    = errors.New("attachment too large")
	ErrPreviewUnavailable    = errors.New("preview unavailable")
	ErrInvalidStatus         = errors.New("invalid lead status")
)

// UserMessage turns an error into the text shown next to the affected row.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotLoggedIn):
		return auth.NotLoggedIn
	case errors.Is(err, ErrNotFound), errors.Is(err, repository.ErrNotFound), errors.Is(err, reconcile.ErrUnknownRow):
		return "Nachricht nicht gefunden."
	case errors.Is(err, ErrEmptyText):
		return "Text darf nicht leer sein."
	case errors.Is(err, ErrLeadMissing):
		return "Lead fehlt oder hat keine E-Mail-Adresse."
	case errors.Is(err, ErrAlreadySending), errors.Is(err, reconcile.ErrRowPending):
		return "Diese Nachricht wird bereits gesendet. Bitte kurz warten und die Seite neu laden."
	case errors.Is(err, ErrNotActionable):
		return "Diese Nachricht wartet nicht mehr auf Freigabe."
	case errors.Is(err, ErrDispatchFailed):
		return "Senden fehlgeschlagen. Bitte erneut versuchen."
	case errors.Is(err, ErrInvalidAttachmentPath), errors.Is(err, storage.ErrInvalidPath):
		return "Ungültiger Anhang."
	case errors.Is(err, ErrAttachmentTooLarge):
		return "Anhang ist zu groß."
	case errors.Is(err, ErrPreviewUnavailable):
		return "Vorschau nicht verfügbar."
	case errors.Is(err, ErrInvalidStatus):
		return "Unbekannter Status."
	default:
		return "Unerwarteter Fehler. Bitte erneut versuchen."
	}
}
