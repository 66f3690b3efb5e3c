package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"beacon/internal/model"
)

// ReminderStore persists reminder rows. Rows are never deleted; lifecycle
// changes go through Transition so the scheduled -> delivered/cancelled
// direction is enforced at the SQL level.
type ReminderStore struct {
	db *DB
}

func NewReminderStore(db *DB) *ReminderStore { return &ReminderStore{db: db} }

type reminderRow struct {
	ID          string         `db:"id"`
	WorkspaceID string         `db:"workspace_id"`
	UserID      string         `db:"user_id"`
	TaskID      sql.NullString `db:"task_id"`
	EventID     sql.NullString `db:"event_id"`
	RemindAt    string         `db:"remind_at"`
	Label       sql.NullString `db:"label"`
	Status      string         `db:"status"`
	CreatedAt   string         `db:"created_at"`
	DeliveredAt sql.NullString `db:"delivered_at"`
}

func (r reminderRow) toModel() (model.Reminder, error) {
	remindAt, err := parseTime(r.RemindAt)
	if err != nil {
		return model.Reminder{}, err
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return model.Reminder{}, err
	}
	m := model.Reminder{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		UserID:      r.UserID,
		RemindAt:    remindAt,
		Status:      model.ReminderStatus(r.Status),
		CreatedAt:   createdAt,
	}
	if r.TaskID.Valid {
		m.TaskID = &r.TaskID.String
	}
	if r.EventID.Valid {
		m.EventID = &r.EventID.String
	}
	if r.Label.Valid {
		m.Label = &r.Label.String
	}
	if r.DeliveredAt.Valid {
		t, err := parseTime(r.DeliveredAt.String)
		if err != nil {
			return model.Reminder{}, err
		}
		m.DeliveredAt = &t
	}
	return m, nil
}

func (s *ReminderStore) Insert(ctx context.Context, m model.Reminder) error {
	_, err := s.db.sq.ExecContext(ctx,
		`INSERT INTO reminders(id, workspace_id, user_id, task_id, event_id, remind_at, label, status, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		m.ID, m.WorkspaceID, m.UserID, nullable(m.TaskID), nullable(m.EventID),
		formatTime(m.RemindAt), nullable(m.Label), string(m.Status), formatTime(m.CreatedAt),
	)
	return err
}

func (s *ReminderStore) Get(ctx context.Context, id string) (model.Reminder, error) {
	var row reminderRow
	err := s.db.sq.GetContext(ctx, &row, `SELECT * FROM reminders WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reminder{}, ErrNotFound
	}
	if err != nil {
		return model.Reminder{}, err
	}
	return row.toModel()
}

// GetForUser looks a reminder up with an ownership constraint. A reminder that
// exists but belongs to someone else is reported as not found.
func (s *ReminderStore) GetForUser(ctx context.Context, userID, id string) (model.Reminder, error) {
	var row reminderRow
	err := s.db.sq.GetContext(ctx, &row,
		`SELECT * FROM reminders WHERE id = ? AND user_id = ?`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reminder{}, ErrNotFound
	}
	if err != nil {
		return model.Reminder{}, err
	}
	return row.toModel()
}

// ListScheduled returns the user's scheduled reminders in a workspace, soonest first.
func (s *ReminderStore) ListScheduled(ctx context.Context, userID, workspaceID string) ([]model.Reminder, error) {
	var rows []reminderRow
	err := s.db.sq.SelectContext(ctx, &rows,
		`SELECT * FROM reminders
		 WHERE user_id = ? AND workspace_id = ? AND status = ?
		 ORDER BY remind_at ASC`,
		userID, workspaceID, string(model.ReminderScheduled))
	if err != nil {
		return nil, err
	}
	out := make([]model.Reminder, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Transition flips status from -> to in one conditional update and reports
// whether a row actually changed. deliveredAt is only written when non-nil.
func (s *ReminderStore) Transition(ctx context.Context, id string, from, to model.ReminderStatus, deliveredAt *time.Time) (bool, error) {
	var delivered any
	if deliveredAt != nil {
		delivered = formatTime(*deliveredAt)
	}
	res, err := s.db.sq.ExecContext(ctx,
		`UPDATE reminders
		 SET status = ?, delivered_at = COALESCE(?, delivered_at)
		 WHERE id = ? AND status = ?`,
		string(to), delivered, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullable(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
