// Package realtime tracks live websocket connections, their authenticated
// identity, and their room memberships, and exposes the broadcast primitive
// the rest of the system fans out through. Room state lives only inside the
// Registry; producers go through Emit methods and never see room internals.
package realtime

import (
	"errors"
	"time"
)

// ErrForbidden reports a workspace join attempt without an active membership.
var ErrForbidden = errors.New("not a workspace member")

type Config struct {
	// SendBuffer is the per-connection outbound queue depth. A connection
	// whose buffer is full drops messages rather than stalling a broadcast.
	SendBuffer int
	// MsgRate / MsgBurst bound inbound messages per connection.
	MsgRate  float64
	MsgBurst int
	// AllowOrigins is the cross-origin allowlist for browser clients. Empty
	// means same-origin only.
	AllowOrigins []string
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.MsgRate <= 0 {
		c.MsgRate = 10
	}
	if c.MsgBurst <= 0 {
		c.MsgBurst = 20
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Envelope is the outbound wire frame: an event name plus its payload.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// inboundMsg is what clients may send after the handshake.
type inboundMsg struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

// Inbound message types.
const (
	msgJoinWorkspace  = "join:workspace"
	msgLeaveWorkspace = "leave:workspace"
)

// Wire event names. These are contract: clients key their handlers on them.
const (
	EventNotificationNew = "notification:new"

	EventTaskCreated = "task:created"
	EventTaskUpdated = "task:updated"
	EventTaskDeleted = "task:deleted"

	EventCalCreated = "event:created"
	EventCalUpdated = "event:updated"
	EventCalDeleted = "event:deleted"

	EventTimeBlockCreated = "time-block:created"
	EventTimeBlockUpdated = "time-block:updated"
	EventTimeBlockDeleted = "time-block:deleted"

	EventCommentCreated = "comment:created"

	EventMemberJoined  = "member:joined"
	EventMemberUpdated = "member:updated"
	EventMemberLeft    = "member:left"

	eventWorkspaceJoined     = "workspace:joined"
	eventWorkspaceJoinFailed = "workspace:join-failed"
	eventWorkspaceLeft       = "workspace:left"
	eventError               = "error"
)

// UserRoom is the per-user room every authenticated connection joins.
func UserRoom(userID string) string { return "user:" + userID }

// WorkspaceRoom is the membership-gated per-workspace room.
func WorkspaceRoom(workspaceID string) string { return "workspace:" + workspaceID }
