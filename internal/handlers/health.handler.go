package handlers

import (
	"context"

	"github.com/advaic/reply-gateway/internal/services"
	xhttp "github.com/advaic/reply-gateway/pkg/http"
	"github.com/fasthttp/router"
)

type HealthService interface {
	Get(ctx context.Context) *services.HealthReport
}

type HealthHandler struct {
	svc HealthService
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(svc HealthService) *HealthHandler {
	return &HealthHandler{svc: svc}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	report := h.svc.Get(ctx)
	status := xhttp.StatusOK
	if !report.Healthy() {
		status = xhttp.StatusServiceUnavailable
	}
	xhttp.WriteJSON(ctx, status, report)
}
