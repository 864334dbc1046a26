package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/plategrid/backoffice-backend/internal/core/domain"
)

// NotificationLister is the poll-fallback read path: a durable
// notification listing served outside the broker.
type NotificationLister interface {
	List(ctx context.Context, unreadOnly bool) ([]domain.Notification, error)
}

// HTTPNotificationLister reads the back-office notification endpoint.
type HTTPNotificationLister struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ NotificationLister = (*HTTPNotificationLister)(nil)

// NewHTTPNotificationLister creates a lister for the given API base URL.
func NewHTTPNotificationLister(baseURL, token string, client *http.Client) *HTTPNotificationLister {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPNotificationLister{
		baseURL: baseURL,
		token:   token,
		client:  client,
	}
}

type listResponse struct {
	Data  []domain.Notification `json:"data"`
	Count int                   `json:"count"`
}

// List fetches the latest notifications for the caller's scope.
func (l *HTTPNotificationLister) List(ctx context.Context, unreadOnly bool) ([]domain.Notification, error) {
	url := l.baseURL + "/api/v1/notifications"
	if unreadOnly {
		url += "?unread=true"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+l.token)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("notification listing returned status %d", resp.StatusCode)
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}
