package main

import (
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SendRequest mirrors the payload the gateway posts for one approved reply.
type SendRequest struct {
	ID          string           `json:"id" binding:"required"`
	LeadID      string           `json:"lead_id"`
	ThreadID    *string          `json:"gmail_thread_id"`
	To          string           `json:"to" binding:"required"`
	Subject     string           `json:"subject"`
	Text        string           `json:"text"`
	Attachments []map[string]any `json:"attachments"`
}

type SendResponse struct {
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	MessageID  string    `json:"message_id"`
	MailerID   string    `json:"mailer_id"`
	ReceivedAt time.Time `json:"received_at"`
}

const (
	statusSent        = "sent"
	statusAlreadySent = "already_sent"
	statusLocked      = "locked_or_in_progress"
)

type sendState int

const (
	stateInFlight sendState = iota + 1
	stateSent
)

// MockDispatcher simulates the mail dispatcher. It keeps per-message state so
// repeated requests see the same answers the real service gives.
type MockDispatcher struct {
	successRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	secret      string
	mailerID    string

	mu    sync.Mutex
	rng   *rand.Rand
	state map[string]sendState
}

func NewMockDispatcher(successRate float64, minDelay, maxDelay time.Duration, secret string) *MockDispatcher {
	return &MockDispatcher{
		successRate: successRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		secret:      secret,
		mailerID:    "MOCK_MAILER_" + uuid.New().String()[:8],
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		state:       make(map[string]sendState),
	}
}

// begin claims id for sending and reports the status to return when the
// claim is refused.
func (m *MockDispatcher) begin(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state[id] {
	case stateSent:
		return statusAlreadySent, false
	case stateInFlight:
		return statusLocked, false
	}
	m.state[id] = stateInFlight
	return "", true
}

func (m *MockDispatcher) finish(id string, sent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sent {
		m.state[id] = stateSent
		return
	}
	delete(m.state, id)
}

func (m *MockDispatcher) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockDispatcher) shouldSucceed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() < m.successRate
}

func (m *MockDispatcher) authorized(header string) bool {
	if m.secret == "" {
		return true
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	return ok && token == m.secret
}

type Handler struct {
	dispatcher *MockDispatcher
}

func NewHandler(d *MockDispatcher) *Handler {
	return &Handler{dispatcher: d}
}

// Send handles one send request.
func (h *Handler) Send(c *gin.Context) {
	if !h.dispatcher.authorized(c.GetHeader("Authorization")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request",
			"details": err.Error(),
		})
		return
	}

	resp := SendResponse{
		MessageID:  req.ID,
		MailerID:   h.dispatcher.mailerID,
		ReceivedAt: time.Now().UTC(),
	}

	if status, ok := h.dispatcher.begin(req.ID); !ok {
		log.Info().Str("message_id", req.ID).Str("status", status).Msg("Duplicate send request")
		resp.Status = status
		c.JSON(http.StatusOK, resp)
		return
	}

	delay := h.dispatcher.randomDelay()
	time.Sleep(delay)

	if !h.dispatcher.shouldSucceed() {
		h.dispatcher.finish(req.ID, false)
		log.Warn().Str("message_id", req.ID).Str("to", req.To).Dur("delay", delay).Msg("Mail delivery failed")
		resp.Error = "smtp relay rejected the message"
		c.JSON(http.StatusBadGateway, resp)
		return
	}

	h.dispatcher.finish(req.ID, true)
	log.Info().
		Str("message_id", req.ID).
		Str("to", req.To).
		Int("attachments", len(req.Attachments)).
		Dur("delay", delay).
		Msg("Mail sent")
	resp.Status = statusSent
	c.JSON(http.StatusOK, resp)
}

// UpdateConfig changes the success rate at runtime.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		SuccessRate *float64 `json:"success_rate"`
	}
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request",
			"details": err.Error(),
		})
		return
	}

	h.dispatcher.mu.Lock()
	if config.SuccessRate != nil && *config.SuccessRate >= 0 && *config.SuccessRate <= 1 {
		h.dispatcher.successRate = *config.SuccessRate
		log.Info().Float64("rate", *config.SuccessRate).Msg("Updated success rate")
	}
	rate := h.dispatcher.successRate
	h.dispatcher.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"success_rate": rate})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"mailer_id": h.dispatcher.mailerID,
		"timestamp": time.Now().UTC(),
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/send", handler.Send)
		v1.PUT("/config", handler.UpdateConfig)
	}
	router.GET("/health", handler.HealthCheck)

	return router
}
