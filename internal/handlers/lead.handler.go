package handlers

import (
	"context"

	"github.com/advaic/reply-gateway/internal/auth"
	"github.com/advaic/reply-gateway/internal/model"
	xhttp "github.com/advaic/reply-gateway/pkg/http"
	"github.com/fasthttp/router"
)

type LeadService interface {
	ToggleEscalation(ctx context.Context, agentID, leadID string) (bool, error)
	SetStatus(ctx context.Context, agentID, leadID, raw string) (model.LeadStatus, error)
	SetFollowups(ctx context.Context, agentID, leadID string, enabled bool) (model.FollowupUpdate, error)
}

type LeadHandler struct {
	svc LeadService
}

func NewLeadHandler(svc LeadService) *LeadHandler {
	return &LeadHandler{svc: svc}
}

func RegisterLeadRoutes(g *router.Group, h *LeadHandler, mw xhttp.MiddlewareFunc) {
	g.POST("/leads/{id}/escalate", authed(mw, h.ToggleEscalation))
	g.POST("/leads/{id}/status", authed(mw, h.SetStatus))
	g.POST("/leads/{id}/followups", authed(mw, h.SetFollowups))
}

type escalationResponse struct {
	ID        string `json:"id"`
	Escalated bool   `json:"escalated"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type statusResponse struct {
	ID     string           `json:"id"`
	Status model.LeadStatus `json:"status"`
}

type followupsRequest struct {
	Enabled *bool `json:"enabled"`
}

type followupsResponse struct {
	ID               string               `json:"id"`
	FollowupsEnabled bool                 `json:"followups_enabled"`
	FollowupStatus   model.FollowupStatus `json:"followup_status"`
}

func (h *LeadHandler) ToggleEscalation(ctx *xhttp.RequestCtx) {
	id := pathParam(ctx, "id")
	escalated, err := h.svc.ToggleEscalation(ctx, auth.AgentID(ctx), id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	xhttp.WriteJSON(ctx, xhttp.StatusOK, escalationResponse{ID: id, Escalated: escalated})
}

func (h *LeadHandler) SetStatus(ctx *xhttp.RequestCtx) {
	var req statusRequest
	if err := xhttp.ReadJSON(ctx, &req); err != nil {
		xhttp.WriteError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	id := pathParam(ctx, "id")
	status, err := h.svc.SetStatus(ctx, auth.AgentID(ctx), id, req.Status)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	xhttp.WriteJSON(ctx, xhttp.StatusOK, statusResponse{ID: id, Status: status})
}

func (h *LeadHandler) SetFollowups(ctx *xhttp.RequestCtx) {
	var req followupsRequest
	if err := xhttp.ReadJSON(ctx, &req); err != nil {
		xhttp.WriteError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Enabled == nil {
		xhttp.WriteError(ctx, xhttp.StatusBadRequest, "enabled is required")
		return
	}
	id := pathParam(ctx, "id")
	u, err := h.svc.SetFollowups(ctx, auth.AgentID(ctx), id, *req.Enabled)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	xhttp.WriteJSON(ctx, xhttp.StatusOK, followupsResponse{ID: id, FollowupsEnabled: u.Enabled, FollowupStatus: u.Status})
}
