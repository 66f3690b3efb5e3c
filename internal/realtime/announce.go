package realtime

import "beacon/internal/model"

// Announcer is the producer-facing facade over the registry. Mutation
// handlers elsewhere in the planner call these instead of spelling out event
// names and room keys at every call site.
type Announcer struct {
	reg *Registry
}

func NewAnnouncer(reg *Registry) *Announcer { return &Announcer{reg: reg} }

// NotificationNew pushes a freshly created notification to all of the
// recipient's live sessions.
func (a *Announcer) NotificationNew(userID string, n model.Notification) {
	a.reg.EmitToUser(userID, EventNotificationNew, n)
}

func (a *Announcer) TaskCreated(workspaceID string, task any) {
	a.reg.EmitToWorkspace(workspaceID, EventTaskCreated, task)
}

func (a *Announcer) TaskUpdated(workspaceID string, task any) {
	a.reg.EmitToWorkspace(workspaceID, EventTaskUpdated, task)
}

func (a *Announcer) TaskDeleted(workspaceID string, taskID string) {
	a.reg.EmitToWorkspace(workspaceID, EventTaskDeleted, map[string]string{"id": taskID})
}

func (a *Announcer) EventCreated(workspaceID string, event any) {
	a.reg.EmitToWorkspace(workspaceID, EventCalCreated, event)
}

func (a *Announcer) EventUpdated(workspaceID string, event any) {
	a.reg.EmitToWorkspace(workspaceID, EventCalUpdated, event)
}

func (a *Announcer) EventDeleted(workspaceID string, eventID string) {
	a.reg.EmitToWorkspace(workspaceID, EventCalDeleted, map[string]string{"id": eventID})
}

func (a *Announcer) TimeBlockCreated(workspaceID string, block any) {
	a.reg.EmitToWorkspace(workspaceID, EventTimeBlockCreated, block)
}

func (a *Announcer) TimeBlockUpdated(workspaceID string, block any) {
	a.reg.EmitToWorkspace(workspaceID, EventTimeBlockUpdated, block)
}

func (a *Announcer) TimeBlockDeleted(workspaceID string, blockID string) {
	a.reg.EmitToWorkspace(workspaceID, EventTimeBlockDeleted, map[string]string{"id": blockID})
}

func (a *Announcer) CommentCreated(workspaceID string, comment any) {
	a.reg.EmitToWorkspace(workspaceID, EventCommentCreated, comment)
}

func (a *Announcer) MemberJoined(workspaceID string, member any) {
	a.reg.EmitToWorkspace(workspaceID, EventMemberJoined, member)
}

func (a *Announcer) MemberUpdated(workspaceID string, member any) {
	a.reg.EmitToWorkspace(workspaceID, EventMemberUpdated, member)
}

func (a *Announcer) MemberLeft(workspaceID string, userID string) {
	a.reg.EmitToWorkspace(workspaceID, EventMemberLeft, map[string]string{"userId": userID})
}
