package gevio

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// resumption is the tagged Resume(value) | Throw(error) variant design
// notes §9 calls for: the only two things a suspended task can be woken
// with.
type resumption struct {
	value any
	err   error
}

// Task is an independently schedulable unit of work with its own goroutine
// stack. Tasks transfer control to the hub via Hub.Switch and are resumed
// by reactor callbacks running in the driver task's goroutine.
type Task struct {
	id     uint64
	corrID uuid.UUID
	name   string

	hub    *Hub
	Parent *Task

	alive atomic.Bool

	resumeCh chan resumption

	// SwitchOut, if set, is invoked immediately before this task hands
	// control back to the hub. Its error (if any) is logged, never
	// propagated — spec.md §4.1.
	SwitchOut func() error
}

var taskSeq atomic.Uint64

func newTask(h *Hub, parent *Task, name string) *Task {
	t := &Task{
		id:       taskSeq.Add(1),
		corrID:   uuid.New(),
		name:     name,
		hub:      h,
		Parent:   parent,
		resumeCh: make(chan resumption, 1),
	}
	t.alive.Store(true)
	return t
}

// ID returns the task's process-local sequence number, stable for the life
// of the task.
func (t *Task) ID() uint64 { return t.id }

// Name returns the task's human-readable label, empty if unset.
func (t *Task) Name() string { return t.name }

// Alive reports whether the task has not yet finished (normally or via
// uncaught failure).
func (t *Task) Alive() bool { return t.alive.Load() }

func (t *Task) logFields() map[string]any {
	return map[string]any{"task_id": t.id, "task_uuid": t.corrID.String(), "task_name": t.name}
}
