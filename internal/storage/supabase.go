package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// StorageError is a non-success answer of the storage REST API.
type StorageError struct {
	StatusCode int
	Message    string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (status %d): %s", e.StatusCode, e.Message)
}

type SupabaseStore struct {
	baseURL    string
	serviceKey string
	timeout    time.Duration
	client     *fasthttp.Client
}

func NewSupabaseStore(baseURL, serviceKey string, timeout time.Duration) (*SupabaseStore, error) {
	if baseURL == "" {
		return nil, errors.New("storage url is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SupabaseStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		timeout:    timeout,
		client: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}, nil
}

func (s *SupabaseStore) objectURL(kind, bucket, p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	u := s.baseURL + "/storage/v1/object/"
	if kind != "" {
		u += kind + "/"
	}
	return u + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}

func (s *SupabaseStore) Upload(ctx context.Context, bucket, p, contentType string, data []byte) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.do(ctx, fasthttp.MethodPost, s.objectURL("", bucket, p), contentType, data, map[string]string{"x-upsert": "false"})
	return err
}

func (s *SupabaseStore) Remove(ctx context.Context, bucket string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return err
	}
	_, err = s.do(ctx, fasthttp.MethodDelete, s.baseURL+"/storage/v1/object/"+url.PathEscape(bucket), "application/json", body, nil)
	return err
}

type signResponse struct {
	SignedURL string `json:"signedURL"`
}

func (s *SupabaseStore) CreateSignedURL(ctx context.Context, bucket, p string, ttl time.Duration) (string, error) {
	body, err := json.Marshal(map[string]int64{"expiresIn": int64(ttl / time.Second)})
	if err != nil {
		return "", err
	}
	resp, err := s.do(ctx, fasthttp.MethodPost, s.objectURL("sign", bucket, p), "application/json", body, nil)
	if err != nil {
		return "", err
	}

	var signed signResponse
	if err := json.Unmarshal(resp, &signed); err != nil {
		return "", fmt.Errorf("decode signed url: %w", err)
	}
	if signed.SignedURL == "" {
		return "", errors.New("storage returned an empty signed url")
	}
	if strings.HasPrefix(signed.SignedURL, "http") {
		return signed.SignedURL, nil
	}
	return s.baseURL + "/storage/v1" + signed.SignedURL, nil
}

func (s *SupabaseStore) do(ctx context.Context, method, uri, contentType string, body []byte, headers map[string]string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.SetContentType(contentType)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.timeout)
	}
	if err := s.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("storage request failed: %w", err)
	}

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, &StorageError{StatusCode: code, Message: string(resp.Body())}
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}
