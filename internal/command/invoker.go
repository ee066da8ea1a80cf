package command

import (
	"fmt"
	"sync"

	"orbit/internal/events"
	"orbit/internal/logger"
	"orbit/internal/notify"
)

// Invoker maps an event kind to the ordered list of commands that handle
// it. Each command runs isolated: a failure (error or panic) is logged,
// best-effort notified, and never stops the rest of the batch.
type Invoker struct {
	mu       sync.RWMutex
	commands map[events.Kind][]Command
	notifier notify.TextNotifier
}

func NewInvoker(n notify.TextNotifier) *Invoker {
	return &Invoker{
		commands: make(map[events.Kind][]Command),
		notifier: n,
	}
}

func (inv *Invoker) Register(kind events.Kind, cmd Command) error {
	if kind == "" {
		return fmt.Errorf("invoker: event kind is required")
	}
	if cmd == nil {
		return fmt.Errorf("invoker: command is required")
	}
	inv.mu.Lock()
	inv.commands[kind] = append(inv.commands[kind], cmd)
	inv.mu.Unlock()
	return nil
}

func (inv *Invoker) Execute(kind events.Kind, ev events.Event) {
	inv.mu.RLock()
	cmds := inv.commands[kind]
	inv.mu.RUnlock()

	for _, cmd := range cmds {
		inv.runOne(cmd, kind, ev)
	}
}

func (inv *Invoker) runOne(cmd Command, kind events.Kind, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			inv.reportFailure(cmd, kind, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := cmd.Execute(ev); err != nil {
		inv.reportFailure(cmd, kind, err)
	}
}

func (inv *Invoker) reportFailure(cmd Command, kind events.Kind, err error) {
	logger.Errorf("command %s failed for event %s: %v", cmd.Name(), kind, err)
	if inv.notifier == nil {
		return
	}
	msg := fmt.Sprintf("%s failed : %v : event %s", cmd.Name(), err, kind)
	if nerr := inv.notifier.SendText(msg); nerr != nil {
		logger.Warnf("failure alert not delivered: %v", nerr)
	}
}
