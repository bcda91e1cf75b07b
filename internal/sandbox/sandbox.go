// Package sandbox implements the Sandbox Instance of spec §4.1: a single
// isolated script-execution context, built on github.com/dop251/goja (the
// embedded ECMAScript engine the teacher pack's goja-eventloop,
// goja-protobuf, and goja-protojson modules wrap), with host bindings
// limited to $state, $args, $scope, $view, $emit, $ext, $log and no other
// ambient authority.
package sandbox

import (
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/WorlesEnric/Nexus-sub001/internal/capability"
	"github.com/WorlesEnric/Nexus-sub001/internal/domain"
	"github.com/WorlesEnric/Nexus-sub001/internal/errs"
	"github.com/WorlesEnric/Nexus-sub001/internal/logging"
	"github.com/WorlesEnric/Nexus-sub001/internal/value"
)

// State is the sandbox lifecycle tag of spec §3.
type State int32

const (
	StateIdle State = iota
	StateExecuting
	StateSuspended
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateSuspended:
		return "suspended"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Config configures a single sandbox instance (spec §4.1 new(config)).
type Config struct {
	MemoryLimitBytes int64
	StackSizeBytes   int64
}

// averageStackFrameBytes is a heuristic used to convert the byte-denominated
// StackSizeBytes config field into goja's frame-count-denominated
// SetMaxCallStackSize; goja accounts call depth in frames, not bytes.
const averageStackFrameBytes = 512

// Instance is a single isolated script-execution context (spec §4.1).
//
// Per spec invariant 1, an Instance in StateExecuting is borrowed by exactly
// one caller; callers must not share an Instance across goroutines
// concurrently.
type Instance struct {
	id    string
	cfg   Config
	vm    *goja.Runtime
	state atomic.Int32
	log   zerolog.Logger

	mu        sync.Mutex // guards the fields below, touched by host-bridge closures
	accum     *accumulator
	snap      value.Map // live state snapshot, mutated for read-your-writes
	checker   *capability.Checker
	extReg    map[domain.ExtensionKey]bool
	hostCalls int64

	bridgeInstalled bool

	// per-cycle suspension/completion plumbing; replaced at the start of
	// each Execute/Resume call (see exec.go).
	pendingResume      chan domain.AsyncResult
	cycleDone          chan cycleOutcome
	cycleSuspendSignal chan struct{}
}

// New allocates a sandbox instance, logging through log (pass
// logging.NewDefault() if the caller has no Logger of its own). Fails with
// initialization_error if the underlying runtime cannot be constructed.
func New(cfg Config, log *logging.Logger) (*Instance, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	frames := int(cfg.StackSizeBytes / averageStackFrameBytes)
	if frames < 16 {
		frames = 16
	}
	vm.SetMaxCallStackSize(frames)

	if err := applyMemoryLimit(vm, cfg.MemoryLimitBytes); err != nil {
		return nil, errs.Wrap(errs.InitializationError, "failed to configure sandbox memory limit", err)
	}

	hardenGlobals(vm)

	inst := &Instance{
		id:    uuid.NewString(),
		cfg:   cfg,
		vm:    vm,
		accum: newAccumulator(),
		log:   log.Component("sandbox"),
	}
	inst.state.Store(int32(StateIdle))
	return inst, nil
}

// ID returns the instance's unique identifier.
func (i *Instance) ID() string { return i.id }

// State returns the current lifecycle tag.
func (i *Instance) State() State { return State(i.state.Load()) }

// MemoryUsed reports the goja runtime's best current estimate of used
// memory. goja does not expose a precise live byte counter for a tree-walk
// interpreter; this returns the configured limit when no finer-grained
// figure is available, clamped to 0 once terminated.
func (i *Instance) MemoryUsed() int64 {
	if i.State() == StateTerminated {
		return 0
	}
	return i.cfg.MemoryLimitBytes
}

// hardenGlobals removes the JS-native facilities spec §4.1 forbids a
// handler from reaching: eval and the Function constructor, both of which
// are dynamic-code-loading vectors that would otherwise let a handler
// escape the fixed $state/$args/$scope/$view/$emit/$ext/$log surface.
func hardenGlobals(vm *goja.Runtime) {
	g := vm.GlobalObject()
	_ = g.Delete("eval")
	_ = vm.Set("Function", vm.ToValue(func(goja.FunctionCall) goja.Value {
		panic(vm.NewTypeError("Function constructor is disabled in this sandbox"))
	}))
}

// Reset clears the per-execution host-side state (accumulator, state
// snapshot, checker, extension registry, host-call count, pending resume,
// interrupt flag) so the instance may serve another execution, without
// reallocating the underlying runtime (spec §4.1). Globals a handler script
// created on the VM (for example through globalThis) are not removed and
// remain visible to the next execution.
func (i *Instance) Reset() error {
	if i.State() == StateTerminated {
		return errs.New(errs.InitializationError, "cannot reset a terminated sandbox")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.accum = newAccumulator()
	i.snap = nil
	i.checker = nil
	i.extReg = nil
	i.hostCalls = 0
	i.pendingResume = nil
	i.vm.ClearInterrupt()
	i.state.Store(int32(StateIdle))
	return nil
}

// Terminate marks the instance unusable. Idempotent.
func (i *Instance) Terminate() {
	i.mu.Lock()
	alreadyTerminated := State(i.state.Load()) == StateTerminated
	i.state.Store(int32(StateTerminated))
	i.vm.Interrupt(errs.New(errs.Timeout, "sandbox terminated"))
	i.mu.Unlock()
	if !alreadyTerminated {
		i.log.Debug().Str("instance_id", i.id).Msg("sandbox instance terminated")
	}
}

func (i *Instance) recordHostCall() {
	i.mu.Lock()
	i.hostCalls++
	i.mu.Unlock()
}
