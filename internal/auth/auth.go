package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

var (
	ErrNoToken      = errors.New("no access token")
	ErrInvalidToken = errors.New("invalid access token")
)

// Identity is the authenticated agent behind a request.
type Identity struct {
	AgentID string
	Email   string
}

type Resolver interface {
	Resolve(ctx context.Context, accessToken string) (*Identity, error)
}

// SupabaseResolver validates access tokens against the hosted auth service.
type SupabaseResolver struct {
	baseURL string
	anonKey string
	timeout time.Duration
	client  *fasthttp.Client
}

func NewSupabaseResolver(baseURL, anonKey string, timeout time.Duration) *SupabaseResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SupabaseResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (r *SupabaseResolver) Resolve(ctx context.Context, accessToken string) (*Identity, error) {
	if accessToken == "" {
		return nil, ErrNoToken
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.baseURL + "/auth/v1/user")
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("apikey", r.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(r.timeout)
	}
	if err := r.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("auth request failed: %w", err)
	}

	switch code := resp.StatusCode(); {
	case code == fasthttp.StatusUnauthorized || code == fasthttp.StatusForbidden:
		return nil, ErrInvalidToken
	case code != fasthttp.StatusOK:
		return nil, fmt.Errorf("auth service answered %d: %s", code, resp.Body())
	}

	var user userResponse
	if err := json.Unmarshal(resp.Body(), &user); err != nil {
		return nil, fmt.Errorf("decode auth user: %w", err)
	}
	if user.ID == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{AgentID: user.ID, Email: user.Email}, nil
}
