package nexus

import (
	"github.com/rs/zerolog"

	"github.com/WorlesEnric/Nexus-sub001/internal/cache"
	"github.com/WorlesEnric/Nexus-sub001/internal/capability"
	"github.com/WorlesEnric/Nexus-sub001/internal/config"
	"github.com/WorlesEnric/Nexus-sub001/internal/domain"
	"github.com/WorlesEnric/Nexus-sub001/internal/executor"
	"github.com/WorlesEnric/Nexus-sub001/internal/infer"
	"github.com/WorlesEnric/Nexus-sub001/internal/logging"
	"github.com/WorlesEnric/Nexus-sub001/internal/metrics"
	"github.com/WorlesEnric/Nexus-sub001/internal/pool"
	"github.com/WorlesEnric/Nexus-sub001/internal/sandbox"
)

// Re-exported domain types: a caller of this module only needs to import
// the root package, never internal/domain or internal/capability directly.
type (
	ExecutionContext = domain.ExecutionContext
	ExtensionKey     = domain.ExtensionKey
	ExecutionResult  = domain.Result
	AsyncResult      = domain.AsyncResult
	RuntimeStats     = domain.RuntimeStats
	Status           = domain.Status
	CompiledArtifact = cache.Artifact
	CapabilitySet    = capability.Set
	RuntimeConfig    = config.RuntimeConfig
)

const (
	StatusSuccess   = domain.StatusSuccess
	StatusSuspended = domain.StatusSuspended
	StatusError     = domain.StatusError
)

// NewCapabilitySet parses a list of capability token strings (spec §4.4
// grammar), dropping malformed entries. Use ParseCapabilities for strict
// validation.
func NewCapabilitySet(tokens []string) CapabilitySet {
	return capability.NewSet(tokens)
}

// ParseCapabilities is like NewCapabilitySet but fails on the first
// malformed token.
func ParseCapabilities(tokens []string) (CapabilitySet, error) {
	return capability.ParseStrict(tokens)
}

// Option configures a Runtime at construction time. The zero set of options
// yields a Runtime logging to os.Stderr at info level (logging.NewDefault).
type Option func(*options)

type options struct {
	log *logging.Logger
}

// WithLogger overrides the Logger a Runtime threads into its cache, pool,
// sandbox, and executor components. Per spec §9 ("avoid hidden singletons...
// owned by the runtime instance, not by module globals"), two Runtime
// instances constructed with distinct Loggers never share log configuration.
func WithLogger(log *logging.Logger) Option {
	return func(o *options) { o.log = log }
}

// Runtime is the panel runtime core's top-level handle: one instance owns
// its own compilation cache, instance pool, metrics registry, and logger
// (spec §9, "avoid hidden singletons"). The zero value is not usable;
// construct via New.
type Runtime struct {
	cfg  config.RuntimeConfig
	exec *executor.Executor
	m    *metrics.Metrics
	p    *pool.Pool
	c    *cache.Cache
	log  zerolog.Logger
}

// New constructs a Runtime from the given configuration, applying defaults
// for zero-valued fields and validating the result (spec §4.1 new(config)).
func New(cfg config.RuntimeConfig, opts ...Option) (*Runtime, error) {
	cfg = cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{log: logging.NewDefault()}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := cache.New(cfg.MaxCacheBytes, cfg.CacheDir, cfg.MaxDiskCacheEntries, o.log)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	sandboxCfg := sandbox.Config{
		MemoryLimitBytes: cfg.MemoryLimitBytes,
		StackSizeBytes:   cfg.StackSizeBytes,
	}
	p := pool.New(pool.Config{MaxInstances: cfg.MaxInstances}, func() (*sandbox.Instance, error) {
		return sandbox.New(sandboxCfg, o.log)
	}, o.log)

	ex := executor.New(cfg, c, p, m, o.log)

	runtimeLog := o.log.Component("runtime")
	runtimeLog.Info().
		Int("max_instances", cfg.MaxInstances).
		Int64("memory_limit_bytes", cfg.MemoryLimitBytes).
		Int64("execution_timeout_ms", cfg.ExecutionTimeoutMs).
		Msg("runtime initialized")

	return &Runtime{cfg: cfg, exec: ex, m: m, p: p, c: c, log: runtimeLog}, nil
}

// ExecuteHandler runs execute_handler (spec §6): compile-or-cache-fetch the
// handler source and execute it to completion or to its first suspension
// point. timeoutMs of 0 uses the configured default.
func (r *Runtime) ExecuteHandler(handlerName string, source []byte, execCtx ExecutionContext, timeoutMs int64) (*ExecutionResult, error) {
	return r.exec.Execute(handlerName, source, execCtx, timeoutMs)
}

// PrecompileHandler runs precompile_handler (spec §6): compiles and caches
// source ahead of time, returning the reusable artifact.
func (r *Runtime) PrecompileHandler(handlerName string, source []byte) (*CompiledArtifact, error) {
	artifact, _, _, err := r.c.GetOrCompile(handlerName, source)
	return artifact, err
}

// ExecuteCompiledHandler runs execute_compiled_handler (spec §6) against an
// artifact obtained from PrecompileHandler.
func (r *Runtime) ExecuteCompiledHandler(artifact *CompiledArtifact, execCtx ExecutionContext, timeoutMs int64) (*ExecutionResult, error) {
	return r.exec.ExecuteCompiled(artifact, execCtx, timeoutMs)
}

// ResumeHandler runs resume_handler (spec §6): delivers an async result to a
// previously suspended execution and continues it. A second call with the
// same suspensionID fails with unknown_suspension (spec §8 invariant 5).
func (r *Runtime) ResumeHandler(suspensionID string, result AsyncResult, timeoutMs int64) (*ExecutionResult, error) {
	return r.exec.Resume(suspensionID, result, timeoutMs)
}

// InvalidateHandler removes a cached artifact by its fingerprint, e.g. when
// the host knows the source it corresponds to has changed.
func (r *Runtime) InvalidateHandler(fingerprint string) {
	r.c.Invalidate(fingerprint)
}

// GetStats runs get_stats (spec §6): the aggregated execution, cache, and
// pool counters.
func (r *Runtime) GetStats() RuntimeStats {
	return r.exec.Stats()
}

// GetPrometheusMetrics runs get_prometheus_metrics (spec §6): the runtime's
// metrics rendered in standard Prometheus text exposition format.
func (r *Runtime) GetPrometheusMetrics() (string, error) {
	return r.exec.PrometheusMetrics()
}

// InferCapabilities runs infer_capabilities (spec §6): a conservative,
// best-effort static scan of handler source for the capability tokens it
// appears to need. Not a security boundary (spec §9).
func (r *Runtime) InferCapabilities(source []byte) []string {
	return infer.InferCapabilities(source)
}

// Shutdown runs shutdown (spec §6): releases every idle and suspended
// sandbox instance and wakes any outstanding waiters with a shutdown error.
// It does not wait for in-flight executions; callers should drain those
// first.
func (r *Runtime) Shutdown() {
	r.exec.Shutdown()
	r.log.Info().Msg("runtime shut down")
}
