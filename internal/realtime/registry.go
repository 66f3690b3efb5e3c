package realtime

import (
	"sync"

	"beacon/pkg/logx"
)

// Registry is the single owner of connection and room state. Connections are
// indexed by id; rooms are sets of connection ids. All mutation happens
// through its methods under one lock, and broadcasts snapshot the membership
// before sending so the lock is never held across socket writes.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	rooms map[string]map[string]struct{}
	// joined mirrors rooms from the connection side for O(rooms-of-conn)
	// cleanup on disconnect.
	joined map[string]map[string]struct{}

	log logx.Logger
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		conns:  map[string]*Conn{},
		rooms:  map[string]map[string]struct{}{},
		joined: map[string]map[string]struct{}{},
		log:    log,
	}
}

func (r *Registry) add(c *Conn) {
	r.mu.Lock()
	r.conns[c.ID] = c
	r.joined[c.ID] = map[string]struct{}{}
	r.mu.Unlock()
}

// remove drops the connection from every room and forgets it.
func (r *Registry) remove(connID string) {
	r.mu.Lock()
	for room := range r.joined[connID] {
		delete(r.rooms[room], connID)
		if len(r.rooms[room]) == 0 {
			delete(r.rooms, room)
		}
	}
	delete(r.joined, connID)
	delete(r.conns, connID)
	r.mu.Unlock()
}

func (r *Registry) join(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return
	}
	if r.rooms[room] == nil {
		r.rooms[room] = map[string]struct{}{}
	}
	r.rooms[room][connID] = struct{}{}
	r.joined[connID][room] = struct{}{}
}

func (r *Registry) leave(connID, room string) {
	r.mu.Lock()
	delete(r.rooms[room], connID)
	if len(r.rooms[room]) == 0 {
		delete(r.rooms, room)
	}
	delete(r.joined[connID], room)
	r.mu.Unlock()
}

// EmitToRoom fans one event out to every connection currently in the room.
// Sends are non-blocking; overflowing connections drop the message.
func (r *Registry) EmitToRoom(room, event string, data any) {
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		if c, ok := r.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	env := Envelope{Event: event, Data: data}
	for _, c := range targets {
		if !c.trySend(env) {
			r.log.Debug("fanout message dropped",
				logx.String("conn", c.ID),
				logx.String("room", room),
				logx.String("event", event),
				logx.Uint64("dropped_total", c.Dropped()))
		}
	}
}

// EmitToUser reaches every live session of one user.
func (r *Registry) EmitToUser(userID, event string, data any) {
	r.EmitToRoom(UserRoom(userID), event, data)
}

// EmitToWorkspace reaches every connection that joined the workspace room.
func (r *Registry) EmitToWorkspace(workspaceID, event string, data any) {
	r.EmitToRoom(WorkspaceRoom(workspaceID), event, data)
}

// ConnCount returns the number of live connections.
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomSize returns how many connections are in a room.
func (r *Registry) RoomSize(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}
