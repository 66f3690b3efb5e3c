package storage

// Package storage is the SQLite persistence layer shared by the reminder,
// notification, and queue services.
//
// It owns:
//   - Reminder rows (durable intent + lifecycle state)
//   - Notification rows (per-user inbox with read state)
//   - Delayed job rows (the durable backlog of the execution queue)
//   - Directory rows (users, workspace members, task/event titles) consulted
//     by the realtime layer and the delivery processor
//
// Stores are thin: they translate between SQL and model types and expose
// conditional-transition primitives. Business rules live in the services.
