package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plategrid/backoffice-backend/internal/core/domain"
	apperrors "github.com/plategrid/backoffice-backend/internal/core/errors"
	"github.com/plategrid/backoffice-backend/internal/core/ports"
)

// NotificationRepository is the secondary adapter persisting derived
// notifications. The poll fallback reads from here, so a notification
// written by the relay survives a client's push outage.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

var _ ports.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// Create persists a derived notification. The deterministic ID makes the
// insert idempotent: replaying the same event upserts, never duplicates.
// A re-fired notification comes back unread so the poll fallback
// resurfaces it.
func (r *NotificationRepository) Create(ctx context.Context, scopeID string, n *domain.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (id, scope_id, type, title, message, priority, data, created_at, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
		ON CONFLICT (id) DO UPDATE
		SET message = EXCLUDED.message, created_at = EXCLUDED.created_at, read = false`,
		n.ID, scopeID, string(n.Type), n.Title, n.Message, string(n.Priority), data, n.CreatedAt,
	)
	return err
}

// ListByScope returns the most recent notifications for a restaurant scope.
func (r *NotificationRepository) ListByScope(ctx context.Context, params ports.ListNotificationsParams) ([]*domain.Notification, error) {
	query := `
		SELECT id, type, title, message, priority, data, created_at, read
		FROM notifications
		WHERE scope_id = $1`
	if params.UnreadOnly {
		query += ` AND read = false`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, params.ScopeID, params.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]*domain.Notification, 0)
	for rows.Next() {
		var (
			n        domain.Notification
			typ      string
			priority string
			data     []byte
		)
		if err := rows.Scan(&n.ID, &typ, &n.Title, &n.Message, &priority, &data, &n.CreatedAt, &n.Read); err != nil {
			return nil, err
		}
		n.Type = domain.EventType(typ)
		n.Priority = domain.Priority(priority)
		if len(data) > 0 {
			var decoded interface{}
			if err := json.Unmarshal(data, &decoded); err == nil {
				n.Data = decoded
			}
		}
		notifications = append(notifications, &n)
	}

	return notifications, rows.Err()
}

// MarkRead marks a notification as read within its scope.
func (r *NotificationRepository) MarkRead(ctx context.Context, scopeID, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET read = true
		WHERE id = $1 AND scope_id = $2`,
		id, scopeID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
