package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"beacon/internal/model"
)

// NotificationStore persists the per-user inbox. Rows are created once per
// delivery event and mutated only to set read_at.
type NotificationStore struct {
	db *DB
}

func NewNotificationStore(db *DB) *NotificationStore { return &NotificationStore{db: db} }

type notificationRow struct {
	ID          string         `db:"id"`
	WorkspaceID string         `db:"workspace_id"`
	UserID      string         `db:"user_id"`
	Type        string         `db:"type"`
	Title       string         `db:"title"`
	Body        sql.NullString `db:"body"`
	Data        sql.NullString `db:"data"`
	CreatedAt   string         `db:"created_at"`
	ReadAt      sql.NullString `db:"read_at"`
}

func (r notificationRow) toModel() (model.Notification, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return model.Notification{}, err
	}
	m := model.Notification{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		UserID:      r.UserID,
		Type:        model.NotificationType(r.Type),
		Title:       r.Title,
		CreatedAt:   createdAt,
	}
	if r.Body.Valid {
		m.Body = &r.Body.String
	}
	if r.Data.Valid && r.Data.String != "" {
		m.Data = json.RawMessage(r.Data.String)
	}
	if r.ReadAt.Valid {
		t, err := parseTime(r.ReadAt.String)
		if err != nil {
			return model.Notification{}, err
		}
		m.ReadAt = &t
	}
	return m, nil
}

func (s *NotificationStore) Insert(ctx context.Context, m model.Notification) error {
	var data any
	if len(m.Data) > 0 {
		data = string(m.Data)
	}
	_, err := s.db.sq.ExecContext(ctx,
		`INSERT INTO notifications(id, workspace_id, user_id, type, title, body, data, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		m.ID, m.WorkspaceID, m.UserID, string(m.Type), m.Title, nullable(m.Body), data, formatTime(m.CreatedAt),
	)
	return err
}

// ListForUser returns notifications newest first. limit must already be
// clamped by the caller; unreadOnly restricts to read_at IS NULL.
func (s *NotificationStore) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	q := `SELECT * FROM notifications WHERE user_id = ?`
	if unreadOnly {
		q += ` AND read_at IS NULL`
	}
	q += ` ORDER BY created_at DESC LIMIT ?`

	var rows []notificationRow
	if err := s.db.sq.SelectContext(ctx, &rows, q, userID, limit); err != nil {
		return nil, err
	}
	out := make([]model.Notification, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// MarkRead sets read_at for one notification owned by userID. Re-marking an
// already-read row still counts as found.
func (s *NotificationStore) MarkRead(ctx context.Context, userID, id string, at time.Time) (model.Notification, error) {
	_, err := s.db.sq.ExecContext(ctx,
		`UPDATE notifications SET read_at = ? WHERE id = ? AND user_id = ? AND read_at IS NULL`,
		formatTime(at), id, userID)
	if err != nil {
		return model.Notification{}, err
	}

	var row notificationRow
	err = s.db.sq.GetContext(ctx, &row,
		`SELECT * FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Notification{}, ErrNotFound
	}
	if err != nil {
		return model.Notification{}, err
	}
	return row.toModel()
}

// MarkAllRead bulk-sets read_at for every unread notification owned by userID
// and returns how many rows were affected.
func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := s.db.sq.ExecContext(ctx,
		`UPDATE notifications SET read_at = ? WHERE user_id = ? AND read_at IS NULL`,
		formatTime(at), userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *NotificationStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.sq.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read_at IS NULL`, userID)
	return n, err
}
