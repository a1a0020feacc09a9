package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromErrorUnwrapsAppError(t *testing.T) {
	inner := NewForbiddenError(CodeForbidden, "not a participant")
	wrapped := fmt.Errorf("list history: %w", inner)

	got := FromError(wrapped)
	assert.Same(t, inner, got)
	assert.Equal(t, http.StatusForbidden, GetStatusCode(wrapped))
	assert.Equal(t, CodeForbidden, GetErrorCode(wrapped))
	assert.True(t, Is(wrapped, NewForbiddenError(CodeForbidden, "")))
}

func TestFromErrorHidesUnknownErrors(t *testing.T) {
	got := FromError(fmt.Errorf("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
	assert.Equal(t, CodeInternal, got.Code)
	assert.NotContains(t, got.Message, "password")
}

func TestErrorHandlerRendersEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/x", func(c *gin.Context) {
		_ = c.Error(NewServiceUnavailableError(CodeTransport, "message store unavailable"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CodeTransport, body.Error.Code)
	assert.Equal(t, "message store unavailable", body.Error.Message)
}

func TestRecoveryWithLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryWithLogger())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "SERVER_ERROR")
}
