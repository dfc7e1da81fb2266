package handlers

import (
	"errors"
	"strconv"

	"github.com/advaic/reply-gateway/internal/services"
	xhttp "github.com/advaic/reply-gateway/pkg/http"
	"github.com/advaic/reply-gateway/pkg/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeServiceError maps the service error taxonomy to a status code and the
// text shown next to the affected row.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	status := statusFor(err)
	if status == xhttp.StatusInternalServerError {
		logger.Error("request failed", "path", string(ctx.Path()), "error", err)
	}
	xhttp.WriteJSON(ctx, status, errorResponse{Error: services.UserMessage(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotLoggedIn):
		return xhttp.StatusUnauthorized
	case errors.Is(err, services.ErrNotFound):
		return xhttp.StatusNotFound
	case errors.Is(err, services.ErrEmptyText),
		errors.Is(err, services.ErrLeadMissing),
		errors.Is(err, services.ErrInvalidAttachmentPath),
		errors.Is(err, services.ErrAttachmentTooLarge),
		errors.Is(err, services.ErrInvalidStatus):
		return xhttp.StatusUnprocessableEntity
	case errors.Is(err, services.ErrAlreadySending), errors.Is(err, services.ErrNotActionable):
		return xhttp.StatusConflict
	case errors.Is(err, services.ErrDispatchFailed), errors.Is(err, services.ErrPreviewUnavailable):
		return xhttp.StatusBadGateway
	default:
		return xhttp.StatusInternalServerError
	}
}

func pathParam(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func queryInt(ctx *xhttp.RequestCtx, key string, def int) int {
	if v := query(ctx, key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func authed(mw xhttp.MiddlewareFunc, h xhttp.RequestHandler) xhttp.RequestHandler {
	if mw == nil {
		return h
	}
	return mw(h)
}
