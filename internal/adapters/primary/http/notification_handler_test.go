package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	mw "github.com/plategrid/backoffice-backend/internal/adapters/primary/http/middleware"
	"github.com/plategrid/backoffice-backend/internal/core/domain"
	apperrors "github.com/plategrid/backoffice-backend/internal/core/errors"
	"github.com/plategrid/backoffice-backend/internal/core/mocks"
	"github.com/plategrid/backoffice-backend/internal/core/ports"
)

func newNotificationRouter(repo *mocks.MockNotificationRepository) chi.Router {
	logger := slog.New(slog.DiscardHandler)
	handler := NewNotificationHandler(repo, NewErrorHandler(logger), logger)

	r := chi.NewRouter()
	r.Route("/notifications", handler.RegisterRoutes)
	return r
}

func withClaims(r *http.Request, restaurantID string) *http.Request {
	ctx := context.WithValue(r.Context(), mw.StaffClaimsKey, &ports.TokenClaims{
		StaffID:      "staff-1",
		RestaurantID: restaurantID,
	})
	return r.WithContext(ctx)
}

func TestNotificationHandler_HandleList(t *testing.T) {
	t.Run("lists the caller's scope with the default limit", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		repo.On("ListByScope", mock.Anything, ports.ListNotificationsParams{
			ScopeID: "R1",
			Limit:   defaultNotificationLimit,
		}).Return([]*domain.Notification{
			{ID: "new_order:O-1:", Title: "New Order", Priority: domain.PriorityUrgent},
		}, nil)

		router := newNotificationRouter(repo)
		rec := httptest.NewRecorder()
		req := withClaims(httptest.NewRequest(http.MethodGet, "/notifications", nil), "R1")

		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{
			"data": [{"id":"new_order:O-1:","type":"","title":"New Order","message":"","priority":"urgent","createdAt":"0001-01-01T00:00:00Z","read":false}],
			"count": 1
		}`, rec.Body.String())
		repo.AssertExpectations(t)
	})

	t.Run("honors the unread filter and a custom limit", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		repo.On("ListByScope", mock.Anything, ports.ListNotificationsParams{
			ScopeID:    "R1",
			UnreadOnly: true,
			Limit:      10,
		}).Return([]*domain.Notification{}, nil)

		router := newNotificationRouter(repo)
		rec := httptest.NewRecorder()
		req := withClaims(httptest.NewRequest(http.MethodGet, "/notifications?unread=true&limit=10", nil), "R1")

		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		repo.AssertExpectations(t)
	})

	t.Run("ignores an out-of-range limit", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		repo.On("ListByScope", mock.Anything, ports.ListNotificationsParams{
			ScopeID: "R1",
			Limit:   defaultNotificationLimit,
		}).Return([]*domain.Notification{}, nil)

		router := newNotificationRouter(repo)
		rec := httptest.NewRecorder()
		req := withClaims(httptest.NewRequest(http.MethodGet, "/notifications?limit=9999", nil), "R1")

		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		repo.AssertExpectations(t)
	})

	t.Run("rejects requests without verified claims", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		router := newNotificationRouter(repo)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notifications", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		repo.AssertNotCalled(t, "ListByScope", mock.Anything, mock.Anything)
	})
}

func TestNotificationHandler_HandleMarkRead(t *testing.T) {
	t.Run("marks a notification read in the caller's scope", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		repo.On("MarkRead", mock.Anything, "R1", "new_order:O-1:").Return(nil)

		router := newNotificationRouter(repo)
		rec := httptest.NewRecorder()
		req := withClaims(httptest.NewRequest(http.MethodPatch, "/notifications/new_order:O-1:/read", nil), "R1")

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		repo.AssertExpectations(t)
	})

	t.Run("returns 404 for an unknown notification", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		repo.On("MarkRead", mock.Anything, "R1", "missing").Return(apperrors.ErrNotFound)

		router := newNotificationRouter(repo)
		rec := httptest.NewRecorder()
		req := withClaims(httptest.NewRequest(http.MethodPatch, "/notifications/missing/read", nil), "R1")

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
