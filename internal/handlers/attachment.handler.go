package handlers

import (
	"context"
	"io"

	"github.com/advaic/reply-gateway/internal/auth"
	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/internal/services"
	xhttp "github.com/advaic/reply-gateway/pkg/http"
	"github.com/fasthttp/router"
)

type AttachmentService interface {
	Preview(ctx context.Context, agentID, bucket, path string) (*services.Preview, error)
	PreviewMessage(ctx context.Context, agentID, messageID string) ([]services.AttachmentPreview, error)
	Upload(ctx context.Context, agentID, messageID, name, mime string, data []byte) (*model.Attachment, error)
	Remove(ctx context.Context, agentID, messageID, path string) error
}

type AttachmentHandler struct {
	svc AttachmentService
}

func NewAttachmentHandler(svc AttachmentService) *AttachmentHandler {
	return &AttachmentHandler{svc: svc}
}

func RegisterAttachmentRoutes(g *router.Group, h *AttachmentHandler, mw xhttp.MiddlewareFunc) {
	g.GET("/attachments/preview", authed(mw, h.Preview))
	g.GET("/approvals/{id}/attachments/previews", authed(mw, h.PreviewMessage))
	g.POST("/approvals/{id}/attachments", authed(mw, h.Upload))
	g.DELETE("/approvals/{id}/attachments", authed(mw, h.Remove))
}

type previewsResponse struct {
	Items []services.AttachmentPreview `json:"items"`
}

func (h *AttachmentHandler) Preview(ctx *xhttp.RequestCtx) {
	preview, err := h.svc.Preview(ctx, auth.AgentID(ctx), query(ctx, "bucket"), query(ctx, "path"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.Response.Header.Set("Cache-Control", "no-store")
	xhttp.WriteJSON(ctx, xhttp.StatusOK, preview)
}

func (h *AttachmentHandler) PreviewMessage(ctx *xhttp.RequestCtx) {
	items, err := h.svc.PreviewMessage(ctx, auth.AgentID(ctx), pathParam(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.Response.Header.Set("Cache-Control", "no-store")
	xhttp.WriteJSON(ctx, xhttp.StatusOK, previewsResponse{Items: items})
}

func (h *AttachmentHandler) Upload(ctx *xhttp.RequestCtx) {
	fh, err := ctx.FormFile("file")
	if err != nil {
		xhttp.WriteError(ctx, xhttp.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	if fh.Size > services.MaxAttachmentSize {
		writeServiceError(ctx, services.ErrAttachmentTooLarge)
		return
	}

	f, err := fh.Open()
	if err != nil {
		xhttp.WriteError(ctx, xhttp.StatusBadRequest, "unreadable file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, services.MaxAttachmentSize+1))
	if err != nil {
		xhttp.WriteError(ctx, xhttp.StatusBadRequest, "unreadable file")
		return
	}

	att, err := h.svc.Upload(ctx, auth.AgentID(ctx), pathParam(ctx, "id"), fh.Filename, fh.Header.Get("Content-Type"), data)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	xhttp.WriteJSON(ctx, xhttp.StatusCreated, att)
}

func (h *AttachmentHandler) Remove(ctx *xhttp.RequestCtx) {
	if err := h.svc.Remove(ctx, auth.AgentID(ctx), pathParam(ctx, "id"), query(ctx, "path")); err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.SetStatusCode(xhttp.StatusNoContent)
}
