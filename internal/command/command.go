package command

import (
	"orbit/internal/events"
)

// Command is one unit of lifecycle work triggered by a scheduled event.
// Implementations are constructed once with their dependencies and must be
// safe to execute repeatedly; per-invocation state stays on the stack.
type Command interface {
	// Name identifies the command in logs and failure alerts.
	Name() string
	Execute(ev events.Event) error
}
