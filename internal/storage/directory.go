package storage

import (
	"context"
	"database/sql"
	"errors"
)

// DirectoryStore holds the collaborator state this subsystem consults but does
// not own: users, workspace memberships, and task/event titles. The owning
// CRUD services write these tables; beacon only reads them at runtime. The
// Upsert/Add helpers exist for fixtures and for embedding deployments.
type DirectoryStore struct {
	db *DB
}

func NewDirectoryStore(db *DB) *DirectoryStore { return &DirectoryStore{db: db} }

func (s *DirectoryStore) UpsertUser(ctx context.Context, id, email, name string) error {
	_, err := s.db.sq.ExecContext(ctx,
		`INSERT INTO users(id, email, name) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET email = excluded.email, name = excluded.name`,
		id, email, name)
	return err
}

func (s *DirectoryStore) UserExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.sq.GetContext(ctx, &n, `SELECT COUNT(*) FROM users WHERE id = ?`, id)
	return n > 0, err
}

func (s *DirectoryStore) AddMember(ctx context.Context, workspaceID, userID, role string) error {
	if role == "" {
		role = "member"
	}
	_, err := s.db.sq.ExecContext(ctx,
		`INSERT INTO workspace_members(workspace_id, user_id, role) VALUES(?,?,?)
		 ON CONFLICT(workspace_id, user_id) DO UPDATE SET role = excluded.role`,
		workspaceID, userID, role)
	return err
}

func (s *DirectoryStore) RemoveMember(ctx context.Context, workspaceID, userID string) error {
	_, err := s.db.sq.ExecContext(ctx,
		`DELETE FROM workspace_members WHERE workspace_id = ? AND user_id = ?`,
		workspaceID, userID)
	return err
}

func (s *DirectoryStore) HasMembership(ctx context.Context, userID, workspaceID string) (bool, error) {
	var n int
	err := s.db.sq.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM workspace_members WHERE workspace_id = ? AND user_id = ?`,
		workspaceID, userID)
	return n > 0, err
}

func (s *DirectoryStore) UpsertTask(ctx context.Context, id, workspaceID, title string) error {
	_, err := s.db.sq.ExecContext(ctx,
		`INSERT INTO tasks(id, workspace_id, title) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title`,
		id, workspaceID, title)
	return err
}

func (s *DirectoryStore) TaskTitle(ctx context.Context, id string) (string, error) {
	var title string
	err := s.db.sq.GetContext(ctx, &title, `SELECT title FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return title, err
}

func (s *DirectoryStore) UpsertEvent(ctx context.Context, id, workspaceID, title string) error {
	_, err := s.db.sq.ExecContext(ctx,
		`INSERT INTO events(id, workspace_id, title) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title`,
		id, workspaceID, title)
	return err
}

func (s *DirectoryStore) EventTitle(ctx context.Context, id string) (string, error) {
	var title string
	err := s.db.sq.GetContext(ctx, &title, `SELECT title FROM events WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return title, err
}
