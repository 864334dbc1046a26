package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeHubStats struct {
	clients int
	scopes  int
}

func (f fakeHubStats) ClientCount() int { return f.clients }
func (f fakeHubStats) ScopeCount() int  { return f.scopes }

func TestHealthHandler_HandleReadiness(t *testing.T) {
	t.Run("healthy when the database responds", func(t *testing.T) {
		handler := NewHealthHandler(fakePinger{}, nil, "test")

		rec := httptest.NewRecorder()
		handler.HandleReadiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body.Status)
		assert.Equal(t, "healthy", body.Checks["database"].Status)
	})

	t.Run("unhealthy when the database is down", func(t *testing.T) {
		handler := NewHealthHandler(fakePinger{err: errors.New("connection refused")}, nil, "test")

		rec := httptest.NewRecorder()
		handler.HandleReadiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unhealthy", body.Status)
	})
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	handler := NewHealthHandler(fakePinger{}, fakeHubStats{clients: 7, scopes: 2}, "1.2.3")

	rec := httptest.NewRecorder()
	handler.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1.2.3", body.Version)
	require.NotNil(t, body.Realtime)
	assert.Equal(t, 7, body.Realtime.ConnectedClients)
	assert.Equal(t, 2, body.Realtime.ActiveScopes)
}

func TestHealthHandler_HandleLiveness(t *testing.T) {
	handler := NewHealthHandler(fakePinger{}, nil, "test")

	rec := httptest.NewRecorder()
	handler.HandleLiveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
