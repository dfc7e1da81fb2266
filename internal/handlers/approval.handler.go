package handlers

import (
	"context"

	"github.com/advaic/reply-gateway/internal/auth"
	"github.com/advaic/reply-gateway/internal/dispatcher"
	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/internal/services"
	xhttp "github.com/advaic/reply-gateway/pkg/http"
	"github.com/fasthttp/router"
)

type ApprovalService interface {
	QueuePage(ctx context.Context, agentID string, limit, offset int) (*model.QueuePage, error)
	Approve(ctx context.Context, agentID, messageID string) (dispatcher.Outcome, error)
	EditAndApprove(ctx context.Context, agentID, messageID, text string) (dispatcher.Outcome, error)
	Reject(ctx context.Context, agentID, messageID string) error
	BulkApprove(ctx context.Context, agentID string, ids []string) (*services.BulkResult, error)
}

type ApprovalHandler struct {
	svc ApprovalService
}

func NewApprovalHandler(svc ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{svc: svc}
}

func RegisterApprovalRoutes(g *router.Group, h *ApprovalHandler, mw xhttp.MiddlewareFunc) {
	g.GET("/approvals", authed(mw, h.Queue))
	g.POST("/approvals/bulk-approve", authed(mw, h.BulkApprove))
	g.POST("/approvals/{id}/approve", authed(mw, h.Approve))
	g.POST("/approvals/{id}/edit-approve", authed(mw, h.EditAndApprove))
	g.POST("/approvals/{id}/reject", authed(mw, h.Reject))
}

type editRequest struct {
	Text string `json:"text"`
}

type bulkRequest struct {
	IDs []string `json:"ids"`
}

type actionResponse struct {
	ID      string             `json:"id"`
	Outcome dispatcher.Outcome `json:"outcome,omitempty"`
	Status  string             `json:"status"`
}

// Queue serves one page of the approval queue; ?limit= and ?offset= move the window.
func (h *ApprovalHandler) Queue(ctx *xhttp.RequestCtx) {
	page, err := h.svc.QueuePage(ctx, auth.AgentID(ctx), queryInt(ctx, "limit", model.DefaultQueueLimit), queryInt(ctx, "offset", 0))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	xhttp.WriteJSON(ctx, xhttp.StatusOK, page)
}

func (h *ApprovalHandler) Approve(ctx *xhttp.RequestCtx) {
	id := pathParam(ctx, "id")
	outcome, err := h.svc.Approve(ctx, auth.AgentID(ctx), id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	xhttp.WriteJSON(ctx, xhttp.StatusOK, actionResponse{ID: id, Outcome: outcome, Status: string(model.MessageStatusApproved)})
}

func (h *ApprovalHandler) EditAndApprove(ctx *xhttp.RequestCtx) {
	var req editRequest
	if err := xhttp.ReadJSON(ctx, &req); err != nil {
		xhttp.WriteError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	id := pathParam(ctx, "id")
	outcome, err := h.svc.EditAndApprove(ctx, auth.AgentID(ctx), id, req.Text)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	xhttp.WriteJSON(ctx, xhttp.StatusOK, actionResponse{ID: id, Outcome: outcome, Status: string(model.MessageStatusApproved)})
}

func (h *ApprovalHandler) Reject(ctx *xhttp.RequestCtx) {
	id := pathParam(ctx, "id")
	if err := h.svc.Reject(ctx, auth.AgentID(ctx), id); err != nil {
		writeServiceError(ctx, err)
		return
	}
	xhttp.WriteJSON(ctx, xhttp.StatusOK, actionResponse{ID: id, Status: string(model.MessageStatusRejected)})
}

func (h *ApprovalHandler) BulkApprove(ctx *xhttp.RequestCtx) {
	var req bulkRequest
	if err := xhttp.ReadJSON(ctx, &req); err != nil {
		xhttp.WriteError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.IDs) == 0 {
		xhttp.WriteError(ctx, xhttp.StatusBadRequest, "ids must not be empty")
		return
	}
	result, err := h.svc.BulkApprove(ctx, auth.AgentID(ctx), req.IDs)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	xhttp.WriteJSON(ctx, xhttp.StatusOK, result)
}
