package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func send(t *testing.T, router *gin.Engine, auth, body string) (int, SendResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/send", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp SendResponse
	if w.Code != http.StatusBadRequest && w.Code != http.StatusUnauthorized {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w.Code, resp
}

const body = `{"id":"m1","lead_id":"L1","to":"erika@example.com","subject":"Re: Besichtigung","text":"Hallo!"}`

func TestSend_SentThenAlreadySent(t *testing.T) {
	router := SetupRouter(NewHandler(NewMockDispatcher(1, 0, 0, "s3cret")))

	code, resp := send(t, router, "Bearer s3cret", body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, statusSent, resp.Status)
	assert.Equal(t, "m1", resp.MessageID)

	code, resp = send(t, router, "Bearer s3cret", body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, statusAlreadySent, resp.Status)
}

func TestSend_InFlightIsLocked(t *testing.T) {
	d := NewMockDispatcher(1, 0, 0, "")
	router := SetupRouter(NewHandler(d))

	_, ok := d.begin("m1")
	require.True(t, ok)

	code, resp := send(t, router, "", body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, statusLocked, resp.Status)
}

func TestSend_FailureAllowsRetry(t *testing.T) {
	d := NewMockDispatcher(0, 0, 0, "")
	router := SetupRouter(NewHandler(d))

	code, resp := send(t, router, "", body)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.NotEmpty(t, resp.Error)

	d.successRate = 1
	code, resp = send(t, router, "", body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, statusSent, resp.Status)
}

func TestSend_Rejects(t *testing.T) {
	router := SetupRouter(NewHandler(NewMockDispatcher(1, 0, 0, "s3cret")))

	code, _ := send(t, router, "Bearer wrong", body)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = send(t, router, "Bearer s3cret", `{"id":"m2"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}
