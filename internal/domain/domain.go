// Package domain holds the cross-component data model of spec §3: the
// Execution Context and Execution Result envelopes that cross every
// execute/resume boundary, independent of which component (sandbox, pool,
// executor) is currently handling them.
package domain

import (
	"time"

	"github.com/WorlesEnric/Nexus-sub001/internal/capability"
	"github.com/WorlesEnric/Nexus-sub001/internal/errs"
	"github.com/WorlesEnric/Nexus-sub001/internal/value"
)

// ExecutionContext is the input to a single handler execution (spec §3).
type ExecutionContext struct {
	PanelID            string
	HandlerName        string
	StateSnapshot      value.Map
	Args               value.Value
	ScopeVariables     value.Map
	GrantedCapabilities capability.Set
	// ExtensionRegistry declares the (extension, method) pairs available to
	// ext_suspend; a call naming a pair absent here fails with
	// unknown_extension (spec §7).
	ExtensionRegistry map[ExtensionKey]bool
}

// ExtensionKey identifies a single (extension_name, method_name) pair.
type ExtensionKey struct {
	Extension string
	Method    string
}

// Status is the top-level outcome of an execution.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusSuspended Status = "suspended"
	StatusError     Status = "error"
)

// StateMutation is a (key, new_value) pair recorded in call order. A delete
// is recorded with Deleted=true and NewValue=nil (spec §9's Open Question
// is resolved in favor of a distinct delete marker, see DESIGN.md).
type StateMutation struct {
	Key      string
	NewValue value.Value
	Deleted  bool
}

// EmittedEvent is a (name, payload) pair in call order.
type EmittedEvent struct {
	Name    string
	Payload value.Value
}

// ViewCommand is a (target_id, command_name, arguments) tuple in call order.
type ViewCommand struct {
	TargetID string
	Command  string
	Args     value.Value
}

// LogEntry is one call to $log, delivered out-of-band on the result.
type LogEntry struct {
	Level     string
	Message   string
	Data      value.Value
	Timestamp time.Time
}

// Suspension describes a paused execution awaiting an external async result.
type Suspension struct {
	SuspensionID string
	Extension    string
	Method       string
	Args         value.Value
}

// Metrics is the per-execution metrics block of spec §3.
type Metrics struct {
	ExecutionDurationUs int64
	PeakMemoryBytes     int64
	HostCallCount       int64
	CompileCacheHit     bool
	CompileDurationUs   int64
}

// Result is the Execution Result envelope of spec §3.
type Result struct {
	Status        Status
	ReturnValue   value.Value
	StateMutations []StateMutation
	EmittedEvents  []EmittedEvent
	ViewCommands   []ViewCommand
	Logs           []LogEntry
	Suspension     *Suspension
	Error          *errs.Error
	Metrics        Metrics
}

// AsyncResult is the input to resume_handler: either a success value or a
// failure message, per spec §6.
type AsyncResult struct {
	Success bool
	Value   value.Value
	Message string
	Code    string
}

// RuntimeStats is the aggregation returned by get_stats() (spec §6).
type RuntimeStats struct {
	TotalExecutions            int64
	SuccessCount               int64
	ErrorCount                 int64
	SuspendedCount             int64
	TotalExecutionDurationUs   int64
	AverageExecutionDurationUs int64
	PeakMemoryBytes            int64
	CacheHits                  int64
	CacheMisses                int64
	CacheHitRate               float64
	PoolActive                 int
	PoolIdle                   int
	PoolSuspended              int
}
