// Package directory answers questions about state this system consults but
// does not own: which user a credential belongs to, which workspaces they are
// a member of, and display titles for reminder targets. Token issuance lives
// with the login service; this side only verifies.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"beacon/internal/storage"
	"beacon/pkg/logx"
)

// ErrUnauthorized reports a credential that failed verification or resolved
// to a user this deployment does not know.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the resolved owner of a verified credential.
type Identity struct {
	UserID string
	Email  string
}

// Claims is the accepted token shape: standard registered claims plus the
// planner's userId/email fields.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
}

type Service struct {
	store *storage.DirectoryStore
	log   logx.Logger

	mu     sync.RWMutex
	secret []byte
}

func New(store *storage.DirectoryStore, secret string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, secret: []byte(secret), log: log}
}

// ApplySecret swaps the verification secret on config reload. In-flight
// resolutions keep the secret they started with.
func (s *Service) ApplySecret(secret string) {
	s.mu.Lock()
	s.secret = []byte(secret)
	s.mu.Unlock()
}

func (s *Service) signingSecret() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secret
}

// Resolve verifies a bearer token and maps it to a known user. Any parse,
// signature, expiry, or unknown-user failure collapses into ErrUnauthorized;
// the distinction is logged, not leaked to the caller.
func (s *Service) Resolve(ctx context.Context, token string) (Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingSecret(), nil
	})
	if err != nil || !parsed.Valid {
		s.log.Debug("token rejected", logx.Err(err))
		return Identity{}, ErrUnauthorized
	}
	if claims.UserID == "" {
		return Identity{}, ErrUnauthorized
	}

	known, err := s.store.UserExists(ctx, claims.UserID)
	if err != nil {
		return Identity{}, fmt.Errorf("user lookup: %w", err)
	}
	if !known {
		s.log.Debug("token for unknown user", logx.String("user", claims.UserID))
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

// IssueToken signs a token for userID. Used by fixtures and the embedding
// deployments that run without a separate login service.
func (s *Service) IssueToken(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
		Email:  email,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.signingSecret())
}

// HasMembership reports whether userID belongs to workspaceID.
func (s *Service) HasMembership(ctx context.Context, userID, workspaceID string) (bool, error) {
	return s.store.HasMembership(ctx, userID, workspaceID)
}

// TaskTitle returns the display title of a task, storage.ErrNotFound when it
// no longer exists.
func (s *Service) TaskTitle(ctx context.Context, taskID string) (string, error) {
	return s.store.TaskTitle(ctx, taskID)
}

// EventTitle is TaskTitle for calendar events.
func (s *Service) EventTitle(ctx context.Context, eventID string) (string, error) {
	return s.store.EventTitle(ctx, eventID)
}
