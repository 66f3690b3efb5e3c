package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"beacon/internal/directory"
	"beacon/pkg/logx"
)

// Authenticator resolves a bearer credential to an identity during the
// handshake.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (directory.Identity, error)
}

// MembershipChecker gates workspace room joins.
type MembershipChecker interface {
	HasMembership(ctx context.Context, userID, workspaceID string) (bool, error)
}

// Server owns the websocket endpoint: handshake auth, the per-connection
// read loop, and room commands. Everything else goes through the Registry.
type Server struct {
	mu  sync.Mutex
	cfg Config

	reg     *Registry
	auth    Authenticator
	members MembershipChecker
	log     logx.Logger
}

func NewServer(cfg Config, reg *Registry, auth Authenticator, members MembershipChecker, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg.withDefaults(), reg: reg, auth: auth, members: members, log: log}
}

// Apply swaps the live config. Existing connections keep the buffer they were
// created with; rate limits and origins apply to new connections.
func (s *Server) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Server) snapshotCfg() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// HandleWS upgrades one websocket connection. Credential failures are
// rejected before the upgrade; the client never gets a socket to talk on.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	cfg := s.snapshotCfg()

	ident, err := s.auth.Resolve(r.Context(), bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: cfg.AllowOrigins,
	})
	if err != nil {
		return
	}

	c := newConn(uuid.NewString(), ident.UserID, ws, cfg.SendBuffer)
	s.reg.add(c)
	s.reg.join(c.ID, UserRoom(ident.UserID))
	s.log.Info("ws connected", logx.String("conn", c.ID), logx.String("user", ident.UserID))

	defer func() {
		c.close()
		s.reg.remove(c.ID)
		_ = ws.Close(websocket.StatusNormalClosure, "bye")
		s.log.Info("ws disconnected",
			logx.String("conn", c.ID),
			logx.String("user", ident.UserID),
			logx.Uint64("dropped", c.Dropped()))
	}()

	go c.writeLoop(r.Context(), cfg.WriteTimeout, s.log)

	limiter := rate.NewLimiter(rate.Limit(cfg.MsgRate), cfg.MsgBurst)
	for {
		var msg inboundMsg
		if err := wsjson.Read(r.Context(), ws, &msg); err != nil {
			return
		}
		if !limiter.Allow() {
			c.trySend(Envelope{Event: eventError, Data: map[string]string{"message": "rate limited"}})
			continue
		}
		s.handleMsg(r.Context(), c, msg)
	}
}

func (s *Server) handleMsg(ctx context.Context, c *Conn, msg inboundMsg) {
	switch msg.Type {
	case msgJoinWorkspace:
		s.joinWorkspace(ctx, c, msg.WorkspaceID)
	case msgLeaveWorkspace:
		if msg.WorkspaceID == "" {
			c.trySend(Envelope{Event: eventError, Data: map[string]string{"message": "workspaceId required"}})
			return
		}
		s.reg.leave(c.ID, WorkspaceRoom(msg.WorkspaceID))
		c.trySend(Envelope{Event: eventWorkspaceLeft, Data: map[string]string{"workspaceId": msg.WorkspaceID}})
	default:
		c.trySend(Envelope{Event: eventError, Data: map[string]string{"message": "unknown message type: " + msg.Type}})
	}
}

// joinWorkspace verifies membership before admitting the connection to the
// workspace room. Failures answer with a structured reply and leave the
// connection open.
func (s *Server) joinWorkspace(ctx context.Context, c *Conn, workspaceID string) {
	if workspaceID == "" {
		c.trySend(Envelope{Event: eventWorkspaceJoinFailed, Data: map[string]string{
			"reason": "workspaceId required",
		}})
		return
	}
	ok, err := s.members.HasMembership(ctx, c.UserID, workspaceID)
	if err != nil {
		s.log.Warn("membership check failed",
			logx.String("user", c.UserID),
			logx.String("workspace", workspaceID),
			logx.Err(err))
		c.trySend(Envelope{Event: eventWorkspaceJoinFailed, Data: map[string]string{
			"workspaceId": workspaceID,
			"reason":      "membership check failed",
		}})
		return
	}
	if !ok {
		c.trySend(Envelope{Event: eventWorkspaceJoinFailed, Data: map[string]string{
			"workspaceId": workspaceID,
			"reason":      ErrForbidden.Error(),
		}})
		return
	}
	s.reg.join(c.ID, WorkspaceRoom(workspaceID))
	c.trySend(Envelope{Event: eventWorkspaceJoined, Data: map[string]string{"workspaceId": workspaceID}})
}

// bearerToken pulls the credential from the Authorization header, falling
// back to a token query parameter for browser clients that cannot set
// headers on a websocket upgrade.
func bearerToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if strings.HasPrefix(authz, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
