package sandbox

import (
	"time"

	"github.com/WorlesEnric/Nexus-sub001/internal/domain"
	"github.com/WorlesEnric/Nexus-sub001/internal/value"
)

// accumulator collects the ordered side-effects of a handler invocation,
// across possibly several execute/resume cycles (spec §3 invariant 3 and
// §5: effects are appended in call order within a cycle, and across cycles
// later ones are appended after earlier ones — this single accumulator,
// kept alive on the Instance between Execute and Resume, gives both for
// free).
type accumulator struct {
	stateMutations []domain.StateMutation
	events         []domain.EmittedEvent
	viewCommands   []domain.ViewCommand
	logs           []domain.LogEntry
	returnValue    value.Value
	hasReturn      bool
	suspension     *domain.Suspension
}

func newAccumulator() *accumulator {
	return &accumulator{}
}

func (a *accumulator) recordStateSet(key string, v value.Value) {
	a.stateMutations = append(a.stateMutations, domain.StateMutation{Key: key, NewValue: v})
}

func (a *accumulator) recordStateDelete(key string) {
	a.stateMutations = append(a.stateMutations, domain.StateMutation{Key: key, Deleted: true})
}

func (a *accumulator) recordEvent(name string, payload value.Value) {
	a.events = append(a.events, domain.EmittedEvent{Name: name, Payload: payload})
}

func (a *accumulator) recordView(target, command string, args value.Value) {
	a.viewCommands = append(a.viewCommands, domain.ViewCommand{TargetID: target, Command: command, Args: args})
}

func (a *accumulator) recordLog(level, message string, data value.Value) {
	a.logs = append(a.logs, domain.LogEntry{Level: level, Message: message, Data: data, Timestamp: time.Now()})
}
