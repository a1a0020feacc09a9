package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"campusconnect/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriticalFailureMakesSystemUnhealthy(t *testing.T) {
	c := NewChecker(logger.Discard(), time.Minute)
	dbErr := errors.New("connection refused")
	c.RegisterDatabaseCheck(func(context.Context) error { return dbErr })

	var reported []bool
	c.OnChange(func(healthy bool) { reported = append(reported, healthy) })

	c.RunChecks(context.Background())

	assert.False(t, c.IsSystemHealthy())
	assert.Equal(t, []bool{false}, reported)
	status := c.GetStatus()
	assert.Equal(t, StatusDown, status["database"].Status)
	assert.Equal(t, "connection refused", status["database"].Error)
}

func TestBrokerFailureOnlyDegrades(t *testing.T) {
	c := NewChecker(logger.Discard(), time.Minute)
	c.RegisterDatabaseCheck(func(context.Context) error { return nil })
	c.RegisterBrokerCheck("realtime", func(context.Context) error { return errors.New("redis down") })
	c.RegisterGaugeCheck("websocket", "connections", func() int { return 3 })

	c.RunChecks(context.Background())

	assert.True(t, c.IsSystemHealthy())
	status := c.GetStatus()
	assert.Equal(t, StatusDegraded, status["realtime"].Status)
	assert.Equal(t, "3 connections", status["websocket"].Description)
}

func TestGinHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := NewChecker(logger.Discard(), time.Minute)
	c.RegisterDatabaseCheck(func(context.Context) error { return nil })
	c.RunChecks(context.Background())

	r := gin.New()
	r.GET("/health", c.GinHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status     string               `json:"status"`
		Components map[string]Component `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Contains(t, body.Components, "database")
	assert.Contains(t, body.Components, "self")
}
