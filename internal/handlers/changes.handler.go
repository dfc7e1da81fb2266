package handlers

import (
	"context"

	"github.com/advaic/reply-gateway/internal/auth"
	"github.com/advaic/reply-gateway/internal/model"
	xhttp "github.com/advaic/reply-gateway/pkg/http"
	"github.com/advaic/reply-gateway/pkg/logger"
	"github.com/fasthttp/router"
)

const defaultChangesLimit = 100

type ChangeReader interface {
	Since(ctx context.Context, agentID, cursor string, limit int) ([]model.Change, string, error)
}

type ChangesHandler struct {
	reader ChangeReader
}

func NewChangesHandler(reader ChangeReader) *ChangesHandler {
	return &ChangesHandler{reader: reader}
}

func RegisterChangesRoutes(g *router.Group, h *ChangesHandler, mw xhttp.MiddlewareFunc) {
	g.GET("/changes", authed(mw, h.Since))
}

type changesResponse struct {
	Items  []model.Change `json:"items"`
	Cursor string         `json:"cursor"`
}

// Since returns change hints after the given cursor. A failing feed answers
// with an empty page so clients fall back to refetching.
func (h *ChangesHandler) Since(ctx *xhttp.RequestCtx) {
	agentID := auth.AgentID(ctx)
	if agentID == "" {
		xhttp.WriteError(ctx, xhttp.StatusUnauthorized, auth.NotLoggedIn)
		return
	}

	cursor := query(ctx, "since")
	items, next, err := h.reader.Since(ctx, agentID, cursor, queryInt(ctx, "limit", defaultChangesLimit))
	if err != nil {
		logger.Warn("change feed read failed", "agent_id", agentID, "error", err)
		items, next = nil, cursor
	}
	if items == nil {
		items = []model.Change{}
	}
	xhttp.WriteJSON(ctx, xhttp.StatusOK, changesResponse{Items: items, Cursor: next})
}
