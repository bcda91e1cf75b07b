// Package executor implements the Executor (C6) of spec §4.6: it drives one
// logical handler invocation through the sandbox, possibly across multiple
// suspend/resume cycles, wiring together the Compilation Cache, Instance
// Pool, and Sandbox Instance and applying the state-machine spec §4.6
// diagrams (idle -> executing -> {success/error, suspended -> executing}).
package executor

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/WorlesEnric/Nexus-sub001/internal/cache"
	"github.com/WorlesEnric/Nexus-sub001/internal/capability"
	"github.com/WorlesEnric/Nexus-sub001/internal/config"
	"github.com/WorlesEnric/Nexus-sub001/internal/domain"
	"github.com/WorlesEnric/Nexus-sub001/internal/errs"
	"github.com/WorlesEnric/Nexus-sub001/internal/logging"
	"github.com/WorlesEnric/Nexus-sub001/internal/metrics"
	"github.com/WorlesEnric/Nexus-sub001/internal/pool"
	"github.com/WorlesEnric/Nexus-sub001/internal/ratewindow"
	"github.com/WorlesEnric/Nexus-sub001/internal/sandbox"
)

// denialLogRate and denialLogBurst bound how often a repeated
// capability_denied on the same token is logged: a burst of 3 immediately,
// refilling at 1 every 3 seconds, so a handler stuck in a deny-loop cannot
// flood the log while the metrics counter (unthrottled) still reflects
// every occurrence.
const (
	denialLogRate  = rate.Limit(1.0 / 3.0)
	denialLogBurst = 3
)

// Executor ties the cache, pool, and sandbox together behind the two
// operations spec §4.6 names.
type Executor struct {
	cfg         config.RuntimeConfig
	cache       *cache.Cache
	pool        *pool.Pool
	metrics     *metrics.Metrics
	log         zerolog.Logger
	denialLimit *ratewindow.Limiter
}

// New constructs an Executor. pool must already be wired to a sandbox
// factory that applies cfg's memory/stack limits (spec §4.1 new(config)).
// log must not be nil.
func New(cfg config.RuntimeConfig, c *cache.Cache, p *pool.Pool, m *metrics.Metrics, log *logging.Logger) *Executor {
	return &Executor{
		cfg:         cfg,
		cache:       c,
		pool:        p,
		metrics:     m,
		log:         log.Component("executor"),
		denialLimit: ratewindow.NewLimiter(denialLogRate, denialLogBurst),
	}
}

// Execute runs execute_handler/execute_compiled_handler (spec §4.6
// execute()): look up or compile the artifact, acquire a sandbox, install
// capabilities, run under timeoutMs (or the configured default), and branch
// on the outcome.
func (e *Executor) Execute(handlerName string, source []byte, execCtx domain.ExecutionContext, timeoutMs int64) (*domain.Result, error) {
	artifact, hit, compileDur, err := e.cache.GetOrCompile(handlerName, source)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordCompile(hit, compileDur.Microseconds())
	return e.executeArtifact(artifact, execCtx, timeoutMs, hit, compileDur)
}

// ExecuteCompiled runs execute_compiled_handler against an artifact obtained
// from a prior PrecompileHandler call.
func (e *Executor) ExecuteCompiled(artifact *cache.Artifact, execCtx domain.ExecutionContext, timeoutMs int64) (*domain.Result, error) {
	return e.executeArtifact(artifact, execCtx, timeoutMs, true, 0)
}

func (e *Executor) executeArtifact(artifact *cache.Artifact, execCtx domain.ExecutionContext, timeoutMs int64, cacheHit bool, compileDur time.Duration) (*domain.Result, error) {
	inst, err := e.pool.Acquire()
	if err != nil {
		return nil, err
	}

	timeout := e.resolveTimeout(timeoutMs)
	result, runErr := inst.Execute(artifact, execCtx, timeout)
	if runErr != nil {
		// Installation-level failure (e.g. bridge setup): the instance never
		// reached a runnable state, so it is dropped rather than released.
		inst.Terminate()
		e.pool.Release(inst)
		return nil, runErr
	}

	result.Metrics.CompileCacheHit = cacheHit
	result.Metrics.CompileDurationUs = compileDur.Microseconds()
	e.finishCycle(inst, result)
	return result, nil
}

// Resume runs resume_handler (spec §4.6 resume()): recovers the suspended
// instance, delivers the async result, and continues under a fresh timeout.
func (e *Executor) Resume(suspensionID string, async domain.AsyncResult, timeoutMs int64) (*domain.Result, error) {
	inst, err := e.pool.TakeSuspended(suspensionID)
	if err != nil {
		return nil, err
	}

	timeout := e.resolveTimeout(timeoutMs)
	result, runErr := inst.Resume(async, timeout)
	if runErr != nil {
		inst.Terminate()
		e.pool.Release(inst)
		return nil, runErr
	}

	e.finishCycle(inst, result)
	return result, nil
}

// finishCycle applies the branching spec §4.6 step 5/6 describes: a
// suspended result parks the instance under a fresh suspension id (arming a
// suspension_timeout watchdog); any other result goes to pool.Release, which
// returns the instance to idle after success or a non-terminating error and
// drops it when the error terminated it (timeout, memory_limit,
// runtime_error). It also records metrics and refreshes the pool gauges.
func (e *Executor) finishCycle(inst *sandbox.Instance, result *domain.Result) {
	switch result.Status {
	case domain.StatusSuspended:
		e.pool.ParkSuspended(inst, result.Suspension.SuspensionID)
		e.armSuspensionTimeout(result.Suspension.SuspensionID)
	default:
		e.pool.Release(inst)
	}
	e.metrics.RecordExecution(result.Status, result.Metrics)
	if result.Error != nil && result.Error.Code == errs.CapabilityDenied {
		e.metrics.RecordCapabilityDenied(capabilityDomainOf(result.Error.Token))
		if e.denialLimit.Allow(result.Error.Token) {
			e.log.Warn().Str("token", result.Error.Token).Msg("capability denied")
		}
	}
	stats := e.pool.Stats()
	e.metrics.SetPoolGauges(stats.ActiveCount, stats.IdleCount, stats.SuspendedCount)
}

// armSuspensionTimeout drops a suspended instance that is never resumed
// within suspension_timeout_ms, invalidating its suspension id so a later
// resume_handler call fails with unknown_suspension (spec §5).
func (e *Executor) armSuspensionTimeout(suspensionID string) {
	d := time.Duration(e.cfg.SuspensionTimeoutMs) * time.Millisecond
	time.AfterFunc(d, func() {
		inst, err := e.pool.TakeSuspended(suspensionID)
		if err != nil {
			return // already resumed
		}
		e.log.Warn().Str("suspension_id", suspensionID).Msg("suspension timed out, dropping instance")
		inst.Terminate()
		e.pool.Release(inst)
	})
}

func (e *Executor) resolveTimeout(timeoutMs int64) time.Duration {
	if timeoutMs <= 0 {
		timeoutMs = e.cfg.ExecutionTimeoutMs
	}
	return time.Duration(timeoutMs) * time.Millisecond
}

// Stats returns the aggregated RuntimeStats (get_stats()).
func (e *Executor) Stats() domain.RuntimeStats {
	return e.metrics.Stats()
}

// PrometheusMetrics returns the Prometheus text exposition
// (get_prometheus_metrics()).
func (e *Executor) PrometheusMetrics() (string, error) {
	return e.metrics.Gather()
}

// Shutdown releases pool resources (shutdown()).
func (e *Executor) Shutdown() {
	e.pool.Shutdown()
}

func capabilityDomainOf(token string) string {
	t, err := capability.Parse(token)
	if err != nil {
		return "unknown"
	}
	return string(t.Domain)
}
