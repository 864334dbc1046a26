package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	mw "github.com/plategrid/backoffice-backend/internal/adapters/primary/http/middleware"
	apperrors "github.com/plategrid/backoffice-backend/internal/core/errors"
	"github.com/plategrid/backoffice-backend/internal/core/ports"
)

const defaultNotificationLimit = 50

// NotificationHandler serves the durable notification listing the staff
// client polls when the push channel is down.
type NotificationHandler struct {
	repo         ports.NotificationRepository
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(
	repo ports.NotificationRepository,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *NotificationHandler {
	return &NotificationHandler{
		repo:         repo,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// RegisterRoutes registers notification routes on the router.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Patch("/{id}/read", h.HandleMarkRead)
}

// HandleList lists notifications for the caller's restaurant scope.
func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	claims, ok := mw.ClaimsFromContext(r.Context())
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrUnauthorized)
		return
	}

	params := ports.ListNotificationsParams{
		ScopeID:    claims.RestaurantID,
		UnreadOnly: r.URL.Query().Get("unread") == "true",
		Limit:      defaultNotificationLimit,
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit <= 200 {
			params.Limit = limit
		}
	}

	notifications, err := h.repo.ListByScope(r.Context(), params)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteList(w, notifications)
}

// HandleMarkRead marks one notification as read.
func (h *NotificationHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := mw.ClaimsFromContext(r.Context())
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(apperrors.ErrNotFound, "notification id is required"))
		return
	}

	if err := h.repo.MarkRead(r.Context(), claims.RestaurantID, id); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteNoContent(w)
}
