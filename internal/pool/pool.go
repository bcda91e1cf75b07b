// Package pool implements the Instance Pool of spec §4.2: a LIFO-ordered
// reservoir of idle sandbox instances, a FIFO wait queue for acquirers, and a
// separate keyed registry for instances parked awaiting resumption.
//
// The acquisition/release discipline (a condition variable bound to the
// pool's mutex, an idle slice used as a stack, waiters woken in order) is
// grounded on oriys-nova/internal/pool's functionPool: acquireGeneric's
// cond.Wait loop and takeWarmVMLocked's LIFO stack pop, adapted here from a
// per-function VM pool keyed by config hash to a single flat pool of
// interchangeable sandbox instances.
package pool

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/WorlesEnric/Nexus-sub001/internal/errs"
	"github.com/WorlesEnric/Nexus-sub001/internal/logging"
	"github.com/WorlesEnric/Nexus-sub001/internal/sandbox"
)

// Factory constructs a new sandbox instance; the pool calls it when under
// max_instances and no idle instance is available.
type Factory func() (*sandbox.Instance, error)

// Config bounds the pool's total outstanding sandboxes (spec §4.2:
// "the total outstanding sandboxes is capped by max_instances").
type Config struct {
	MaxInstances int
}

// Pool is the C2 Instance Pool. The zero value is not usable; construct via
// New.
type Pool struct {
	cfg     Config
	factory Factory
	log     zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	idle    []*sandbox.Instance          // LIFO stack of idle instances
	active  int                          // instances currently borrowed (executing)
	waiters int                          // goroutines blocked in acquire()
	total   int                          // active + idle + suspended
	closing bool
	suspended map[string]*sandbox.Instance
}

// New constructs a Pool. factory is called (without holding the pool lock)
// whenever a new instance must be created. log must not be nil.
func New(cfg Config, factory Factory, log *logging.Logger) *Pool {
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = 1
	}
	p := &Pool{
		cfg:       cfg,
		factory:   factory,
		log:       log.Component("pool"),
		suspended: make(map[string]*sandbox.Instance),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire returns an idle instance, waiting (FIFO with respect to other
// waiters) if none is available and the pool is at max_instances, or
// creating one if under cap (spec §4.2 acquire()). Instance selection among
// idle entries is LIFO (spec §4.2, "to maximize CPU-cache warmth").
func (p *Pool) Acquire() (*sandbox.Instance, error) {
	p.mu.Lock()
	for {
		if p.closing {
			p.mu.Unlock()
			return nil, errs.ErrPoolShutdown
		}
		if n := len(p.idle); n > 0 {
			inst := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.active++
			p.mu.Unlock()
			return inst, nil
		}
		if p.total < p.cfg.MaxInstances {
			p.total++
			p.active++
			p.mu.Unlock()
			inst, err := p.factory()
			if err != nil {
				p.mu.Lock()
				p.total--
				p.active--
				p.mu.Unlock()
				p.cond.Signal()
				return nil, errs.Wrap(errs.InitializationError, "failed to create sandbox instance", err)
			}
			return inst, nil
		}
		p.waiters++
		p.cond.Wait()
		p.waiters--
	}
}

// Release resets the instance and returns it to the idle stack; on reset
// failure or a terminated instance, it is dropped instead (spec §4.2
// release()). Always wakes a waiter, since a pool slot frees up either way.
func (p *Pool) Release(inst *sandbox.Instance) {
	keep := inst.State() != sandbox.StateTerminated
	if keep {
		if err := inst.Reset(); err != nil {
			keep = false
			p.log.Warn().Err(err).Str("instance_id", inst.ID()).Msg("sandbox reset failed, dropping instance")
		}
	}

	p.mu.Lock()
	p.active--
	if keep {
		p.idle = append(p.idle, inst)
	} else {
		p.total--
	}
	p.mu.Unlock()
	p.cond.Signal()
}

// ParkSuspended moves an instance from executing to suspended under a
// freshly-minted opaque identifier (spec §4.2 park_suspended()). Suspended
// instances do not occupy an idle/active slot but still count against
// max_instances via p.total, which is left untouched here.
func (p *Pool) ParkSuspended(inst *sandbox.Instance, suspensionID string) {
	p.mu.Lock()
	p.active--
	p.suspended[suspensionID] = inst
	p.mu.Unlock()
}

// TakeSuspended removes and returns the suspended instance registered under
// suspensionID (spec §4.2 take_suspended()), re-counting it as active. Errors
// with unknown_suspension if the id is not registered.
func (p *Pool) TakeSuspended(suspensionID string) (*sandbox.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.suspended[suspensionID]
	if !ok {
		return nil, errs.ErrUnknownSuspension
	}
	delete(p.suspended, suspensionID)
	p.active++
	return inst, nil
}

// dropSuspendedLocked removes every suspended instance from the registry
// without resuming it and returns them (used by Shutdown to terminate
// outstanding suspensions). Caller must hold p.mu.
func (p *Pool) dropSuspendedLocked() []*sandbox.Instance {
	instances := make([]*sandbox.Instance, 0, len(p.suspended))
	for id, inst := range p.suspended {
		instances = append(instances, inst)
		delete(p.suspended, id)
	}
	return instances
}

// Stats reports the three spec §4.2 counters.
type Stats struct {
	ActiveCount    int
	IdleCount      int
	SuspendedCount int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		ActiveCount:    p.active,
		IdleCount:      len(p.idle),
		SuspendedCount: len(p.suspended),
	}
}

// Shutdown wakes all waiters with a shutdown error and terminates every
// idle and suspended instance (spec §4.2: "On pool shutdown, all waiters are
// woken with a shutdown error and all instances are terminated"). It does
// not wait for currently-active (borrowed) instances to be released; callers
// typically drain in-flight executions before calling Shutdown.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return
	}
	p.closing = true
	idle := p.idle
	p.idle = nil
	suspended := p.dropSuspendedLocked()
	p.mu.Unlock()

	p.cond.Broadcast()

	for _, inst := range idle {
		inst.Terminate()
	}
	for _, inst := range suspended {
		inst.Terminate()
	}
	p.log.Info().Int("idle_terminated", len(idle)).Int("suspended_terminated", len(suspended)).Msg("pool shut down")
}
