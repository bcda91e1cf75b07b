package sandbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/WorlesEnric/Nexus-sub001/internal/cache"
	"github.com/WorlesEnric/Nexus-sub001/internal/capability"
	"github.com/WorlesEnric/Nexus-sub001/internal/domain"
	"github.com/WorlesEnric/Nexus-sub001/internal/errs"
	"github.com/WorlesEnric/Nexus-sub001/internal/value"
)

// gracePeriod bounds how long Execute/Resume waits for a script to notice an
// interrupt before falling back to hard instance termination (spec §5:
// "if the runtime cannot interrupt, termination of the instance is required
// as a fallback").
const gracePeriod = 2 * time.Second

type cycleOutcome struct {
	value goja.Value
	err   error
}

// beginCycle installs a fresh checker/snapshot/extension registry and
// $args/$scope globals for a brand new logical invocation (spec §4.1
// execute()). It does not touch the accumulator carried over from a prior
// Reset (a fresh Instance always starts with an empty one).
func (i *Instance) beginCycle(ctx domain.ExecutionContext) error {
	i.mu.Lock()
	i.checker = capability.NewChecker(ctx.GrantedCapabilities)
	snap := make(value.Map, len(ctx.StateSnapshot))
	for k, v := range ctx.StateSnapshot {
		snap[k] = v
	}
	i.snap = snap
	i.extReg = ctx.ExtensionRegistry
	if i.extReg == nil {
		i.extReg = map[domain.ExtensionKey]bool{}
	}
	i.mu.Unlock()

	if err := i.vm.Set("$args", i.vm.ToValue(ctx.Args)); err != nil {
		return err
	}
	scopeVars := value.Value(ctx.ScopeVariables)
	if ctx.ScopeVariables == nil {
		scopeVars = value.Map{}
	}
	if err := i.vm.Set("$scope", i.vm.ToValue(scopeVars)); err != nil {
		return err
	}
	if _, err := i.vm.RunString(`try { Object.freeze($args); Object.freeze($scope); } catch (e) {}`); err != nil {
		return err
	}
	return nil
}

// Execute loads the artifact, installs the context, and runs the handler to
// completion or to a suspension point (spec §4.1).
func (i *Instance) Execute(artifact *cache.Artifact, ctx domain.ExecutionContext, timeout time.Duration) (*domain.Result, error) {
	if i.State() == StateTerminated {
		return nil, errs.New(errs.InitializationError, "cannot execute on a terminated sandbox")
	}
	if err := i.ensureBridge(); err != nil {
		return nil, errs.Wrap(errs.InitializationError, "failed to install host bridge", err)
	}
	if err := i.beginCycle(ctx); err != nil {
		return nil, errs.Wrap(errs.InitializationError, "failed to install execution context", err)
	}

	i.state.Store(int32(StateExecuting))
	i.cycleDone = make(chan cycleOutcome, 1)
	i.cycleSuspendSignal = make(chan struct{}, 1)

	start := time.Now()
	prog := artifact.Program
	go i.runScript(func() (goja.Value, error) {
		return i.vm.RunProgram(prog)
	})

	return i.waitCycle(start, timeout)
}

// Resume continues a previously-suspended execution by delivering an
// AsyncResult to the pending ext_suspend call point (spec §4.1 resume()).
func (i *Instance) Resume(async domain.AsyncResult, timeout time.Duration) (*domain.Result, error) {
	if i.State() != StateSuspended {
		return nil, errs.New(errs.UnknownSuspension, "sandbox is not in a suspended state")
	}
	i.mu.Lock()
	pending := i.pendingResume
	i.pendingResume = nil
	i.accum.suspension = nil
	i.mu.Unlock()
	if pending == nil {
		return nil, errs.New(errs.UnknownSuspension, "no pending suspension on this sandbox")
	}

	i.state.Store(int32(StateExecuting))
	i.cycleDone = make(chan cycleOutcome, 1)
	i.cycleSuspendSignal = make(chan struct{}, 1)

	start := time.Now()
	pending <- async

	return i.waitCycle(start, timeout)
}

// runScript runs fn (a goja entry point) on the calling goroutine, recovering
// any panic that escapes goja's own panic->exception translation (e.g. a Go
// runtime panic unrelated to a thrown script exception) so it never crashes
// the process, and always reports on i.cycleDone.
func (i *Instance) runScript(fn func() (goja.Value, error)) {
	var out cycleOutcome
	func() {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok {
					out.err = err
				} else {
					out.err = fmt.Errorf("sandbox: panic during execution: %v", r)
				}
			}
		}()
		out.value, out.err = fn()
	}()
	i.mu.Lock()
	done := i.cycleDone
	i.mu.Unlock()
	if done != nil {
		done <- out
	}
}

// suspendForExtension is called from the running script goroutine (inside
// hostExtSuspend) to park execution: it records the pending suspension,
// signals the waiting Execute/Resume call, and blocks until Resume delivers
// an AsyncResult. This is the module's only suspension point (spec §5).
func (i *Instance) suspendForExtension(name, method string, args value.Value) goja.Value {
	resumeCh := make(chan domain.AsyncResult, 1)
	suspID := uuid.NewString()

	i.mu.Lock()
	i.pendingResume = resumeCh
	i.accum.suspension = &domain.Suspension{SuspensionID: suspID, Extension: name, Method: method, Args: args}
	signal := i.cycleSuspendSignal
	i.mu.Unlock()

	select {
	case signal <- struct{}{}:
	default:
	}

	res := <-resumeCh
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "extension call failed"
		}
		code := errs.RuntimeError
		if res.Code != "" {
			code = errs.Code(res.Code)
		}
		i.throwHostError(errs.New(code, msg))
	}
	return i.vm.ToValue(res.Value)
}

// waitCycle waits for the current cycle to finish, suspend, or time out, and
// builds the corresponding Result.
func (i *Instance) waitCycle(start time.Time, timeout time.Duration) (*domain.Result, error) {
	select {
	case out := <-i.cycleDone:
		return i.finishCycle(start, out), nil
	case <-i.cycleSuspendSignal:
		return i.parkCycle(start), nil
	case <-time.After(timeout):
		i.vm.Interrupt(errs.New(errs.Timeout, "execution exceeded the configured time budget"))
		select {
		case out := <-i.cycleDone:
			return i.finishCycle(start, out), nil
		case <-i.cycleSuspendSignal:
			// The script reached a suspension point at essentially the same
			// instant the deadline elapsed. The deadline already passed, so
			// the caller sees a timeout rather than a suspension it would
			// have no record of resuming cleanly.
			return i.timeoutResult(start), nil
		case <-time.After(gracePeriod):
			i.Terminate()
			return i.timeoutResult(start), nil
		}
	}
}

func (i *Instance) finishCycle(start time.Time, out cycleOutcome) *domain.Result {
	elapsed := time.Since(start)
	i.mu.Lock()
	acc := i.accum
	i.mu.Unlock()

	res := &domain.Result{
		StateMutations: acc.stateMutations,
		EmittedEvents:  acc.events,
		ViewCommands:   acc.viewCommands,
		Logs:           acc.logs,
		Metrics: domain.Metrics{
			ExecutionDurationUs: elapsed.Microseconds(),
			PeakMemoryBytes:     i.MemoryUsed(),
			HostCallCount:       i.hostCalls,
		},
	}

	if out.err != nil {
		ee := convertRunError(out.err)
		res.Status = domain.StatusError
		res.Error = ee
		if ee.Code.Terminates() {
			i.Terminate()
		} else {
			i.state.Store(int32(StateIdle))
		}
		return res
	}

	res.Status = domain.StatusSuccess
	if out.value != nil && !goja.IsUndefined(out.value) {
		res.ReturnValue = out.value.Export()
		if n, err := value.Normalize(res.ReturnValue); err == nil {
			res.ReturnValue = n
		}
	}
	i.state.Store(int32(StateIdle))
	return res
}

func (i *Instance) parkCycle(start time.Time) *domain.Result {
	elapsed := time.Since(start)
	i.mu.Lock()
	acc := i.accum
	susp := acc.suspension
	i.mu.Unlock()

	i.state.Store(int32(StateSuspended))
	return &domain.Result{
		Status:         domain.StatusSuspended,
		StateMutations: acc.stateMutations,
		EmittedEvents:  acc.events,
		ViewCommands:   acc.viewCommands,
		Logs:           acc.logs,
		Suspension:     susp,
		Metrics: domain.Metrics{
			ExecutionDurationUs: elapsed.Microseconds(),
			PeakMemoryBytes:     i.MemoryUsed(),
			HostCallCount:       i.hostCalls,
		},
	}
}

func (i *Instance) timeoutResult(start time.Time) *domain.Result {
	elapsed := time.Since(start)
	i.mu.Lock()
	acc := i.accum
	i.mu.Unlock()
	i.Terminate()
	return &domain.Result{
		Status:         domain.StatusError,
		StateMutations: acc.stateMutations,
		EmittedEvents:  acc.events,
		ViewCommands:   acc.viewCommands,
		Logs:           acc.logs,
		Error:          errs.New(errs.Timeout, "execution exceeded the configured time budget"),
		Metrics: domain.Metrics{
			ExecutionDurationUs: elapsed.Microseconds(),
			PeakMemoryBytes:     i.MemoryUsed(),
			HostCallCount:       i.hostCalls,
		},
	}
}

// convertRunError translates a goja run error (an *goja.InterruptedError, an
// *goja.Exception wrapping a thrown value, or anything else) into the stable
// error envelope of spec §7.
func convertRunError(err error) *errs.Error {
	var ierr *goja.InterruptedError
	if errors.As(err, &ierr) {
		if v, ok := ierr.Value().(*errs.Error); ok {
			return v
		}
		return errs.Wrap(errs.Timeout, "execution interrupted", err)
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		if obj, ok := exc.Value().(*goja.Object); ok {
			codeVal := obj.Get("nexusCode")
			if codeVal != nil && !goja.IsUndefined(codeVal) {
				msg := ""
				if msgVal := obj.Get("message"); msgVal != nil && !goja.IsUndefined(msgVal) {
					msg = msgVal.String()
				}
				e := errs.New(errs.Code(codeVal.String()), msg)
				// NewGoError keeps the original Go error under "value"; recover
				// the required token of a capability_denied from it.
				if v := obj.Get("value"); v != nil {
					if hostErr, ok := v.Export().(*errs.Error); ok {
						e.Token = hostErr.Token
					}
				}
				return e
			}
		}
		return errs.Wrap(errs.RuntimeError, "uncaught error in handler", err)
	}

	return errs.Wrap(errs.RuntimeError, "handler execution failed", err)
}

// ensureBridge installs the fixed host-function surface exactly once.
func (i *Instance) ensureBridge() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.bridgeInstalled {
		return nil
	}
	if err := i.installHostFunctions(); err != nil {
		return err
	}
	i.bridgeInstalled = true
	return nil
}
