package sandbox

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/WorlesEnric/Nexus-sub001/internal/capability"
	"github.com/WorlesEnric/Nexus-sub001/internal/domain"
	"github.com/WorlesEnric/Nexus-sub001/internal/errs"
	"github.com/WorlesEnric/Nexus-sub001/internal/value"
)

// bootstrapSource wires the $state, $view, and $ext bindings as native ES
// Proxy objects (goja implements Proxy/Reflect) over a small set of
// "_host" functions installed by installHostFunctions. This gives handler
// source the property-access syntax spec §4.1 describes ($state.count,
// $view.target.method(args), $ext.name.method(args)) while every actual
// effect still funnels through a single capability-checked Go function —
// the explicit-function API spec §9 sanctions is the implementation
// mechanism underneath the proxy, not a second, uncontrolled surface.
const bootstrapSource = `
(function() {
	globalThis.$state = new Proxy({}, {
		get: function(_t, prop) {
			if (typeof prop !== 'string') return undefined;
			return $state_host.get(prop);
		},
		set: function(_t, prop, val) {
			$state_host.set(prop, val);
			return true;
		},
		has: function(_t, prop) {
			return $state_host.has(prop);
		},
		deleteProperty: function(_t, prop) {
			$state_host.del(prop);
			return true;
		},
		ownKeys: function(_t) {
			return $state_host.keys();
		},
		getOwnPropertyDescriptor: function(_t, prop) {
			return { value: $state_host.get(prop), enumerable: true, configurable: true, writable: true };
		}
	});

	function makeTargetProxy(callHost) {
		return new Proxy({}, {
			get: function(_t, targetId) {
				if (typeof targetId !== 'string') return undefined;
				return new Proxy({}, {
					get: function(_t2, method) {
						if (typeof method !== 'string') return undefined;
						return function() {
							return callHost(targetId, method, Array.prototype.slice.call(arguments));
						};
					}
				});
			}
		});
	}

	globalThis.$view = makeTargetProxy(function(target, method, args) {
		return $view_host.update(target, method, args);
	});
	globalThis.$ext = makeTargetProxy(function(name, method, args) {
		return $ext_host.suspend(name, method, args);
	});

	globalThis.$emit = function(name, payload) {
		return $emit_host(name, payload);
	};
	globalThis.$log = function(level, message, data) {
		return $log_host(level, message, data);
	};
})();
`

var bootstrapProgram = goja.MustCompile("bootstrap", bootstrapSource, true)

// installHostFunctions installs the fixed _host surface once per Instance,
// on its first Execute (see ensureBridge). The closures always read the Instance's *current*
// checker/snapshot/extension registry under i.mu, so a single installation
// serves every subsequent Reset+Execute cycle without reinstalling bindings.
func (i *Instance) installHostFunctions() error {
	vm := i.vm

	stateHost := vm.NewObject()
	_ = stateHost.Set("get", vm.ToValue(func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		return i.hostStateGet(key)
	}))
	_ = stateHost.Set("set", vm.ToValue(func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		i.hostStateSet(key, exportArg(call.Argument(1)))
		return goja.Undefined()
	}))
	_ = stateHost.Set("has", vm.ToValue(func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		return vm.ToValue(i.hostStateHas(key))
	}))
	_ = stateHost.Set("del", vm.ToValue(func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		i.hostStateDelete(key)
		return goja.Undefined()
	}))
	_ = stateHost.Set("keys", vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(i.hostStateKeys())
	}))
	if err := vm.Set("$state_host", stateHost); err != nil {
		return err
	}

	viewHost := vm.NewObject()
	_ = viewHost.Set("update", vm.ToValue(func(call goja.FunctionCall) goja.Value {
		target := call.Argument(0).String()
		method := call.Argument(1).String()
		args := exportArg(call.Argument(2))
		i.hostViewUpdate(target, method, args)
		return goja.Undefined()
	}))
	if err := vm.Set("$view_host", viewHost); err != nil {
		return err
	}

	extHost := vm.NewObject()
	_ = extHost.Set("suspend", vm.ToValue(func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		method := call.Argument(1).String()
		args := exportArg(call.Argument(2))
		return i.hostExtSuspend(name, method, args)
	}))
	if err := vm.Set("$ext_host", extHost); err != nil {
		return err
	}

	if err := vm.Set("$emit_host", vm.ToValue(func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		payload := exportArg(call.Argument(1))
		i.hostEmit(name, payload)
		return goja.Undefined()
	})); err != nil {
		return err
	}

	if err := vm.Set("$log_host", vm.ToValue(func(call goja.FunctionCall) goja.Value {
		level := call.Argument(0).String()
		message := call.Argument(1).String()
		var data value.Value
		if len(call.Arguments) > 2 {
			data = exportArg(call.Argument(2))
		}
		i.hostLog(level, message, data)
		return goja.Undefined()
	})); err != nil {
		return err
	}

	if _, err := vm.RunProgram(bootstrapProgram); err != nil {
		return err
	}
	return nil
}

// exportArg converts a goja.Value argument into a normalized Value,
// tolerating values that fail to normalize by falling back to nil (a
// malformed argument should not be able to crash the host).
func exportArg(v goja.Value) value.Value {
	if v == nil || goja.IsUndefined(v) {
		return nil
	}
	exported := v.Export()
	n, err := value.Normalize(exported)
	if err != nil {
		return nil
	}
	return n
}

// throwHostError converts a stable host error into a goja Error object,
// tagging it with the envelope code as a plain property so convertRunError
// (exec.go) can read it back from the returned *goja.Exception (spec §7).
// This mirrors the teacher's own jsErrorToGRPC/jsValueToGRPCError pattern of
// inspecting thrown-object properties rather than round-tripping Go types
// through Export().
func (i *Instance) throwHostError(e *errs.Error) goja.Value {
	obj := i.vm.NewGoError(e)
	_ = obj.Set("nexusCode", string(e.Code))
	_ = obj.Set("message", e.Message)
	panic(obj)
}

func (i *Instance) throwCapabilityDenied(token string) goja.Value {
	return i.throwHostError(errs.CapabilityDeniedErr(token))
}

func (i *Instance) hostStateGet(key string) goja.Value {
	i.mu.Lock()
	checker := i.checker
	i.mu.Unlock()
	if !checker.CanReadState(key) {
		i.throwCapabilityDenied(capability.Required(capability.DomainState, capability.ActionRead, key).String())
	}
	i.recordHostCall()
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.snap[key]
	if !ok {
		return goja.Undefined()
	}
	return i.vm.ToValue(v)
}

func (i *Instance) hostStateSet(key string, v value.Value) {
	i.mu.Lock()
	checker := i.checker
	i.mu.Unlock()
	if !checker.CanWriteState(key) {
		i.throwCapabilityDenied(capability.Required(capability.DomainState, capability.ActionWrite, key).String())
	}
	i.recordHostCall()

	i.mu.Lock()
	defer i.mu.Unlock()
	if existing, ok := i.snap[key]; ok {
		if value.KindOf(existing) != value.KindOf(v) && existing != nil && v != nil {
			i.throwHostError(errs.New(errs.TypeMismatch, fmt.Sprintf(
				"state key %q declared as %s, got %s", key, value.KindOf(existing), value.KindOf(v))))
		}
	}
	if i.snap == nil {
		i.snap = value.Map{}
	}
	i.snap[key] = v
	i.accum.recordStateSet(key, v)
}

func (i *Instance) hostStateHas(key string) bool {
	i.mu.Lock()
	checker := i.checker
	i.mu.Unlock()
	if !checker.CanReadState(key) {
		i.throwCapabilityDenied(capability.Required(capability.DomainState, capability.ActionRead, key).String())
	}
	i.recordHostCall()
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.snap[key]
	return ok
}

func (i *Instance) hostStateDelete(key string) {
	i.mu.Lock()
	checker := i.checker
	i.mu.Unlock()
	if !checker.CanWriteState(key) {
		i.throwCapabilityDenied(capability.Required(capability.DomainState, capability.ActionWrite, key).String())
	}
	i.recordHostCall()
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.snap, key)
	i.accum.recordStateDelete(key)
}

func (i *Instance) hostStateKeys() []string {
	i.mu.Lock()
	checker := i.checker
	i.mu.Unlock()
	if !checker.CanListStateKeys() {
		i.throwCapabilityDenied(capability.Required(capability.DomainState, capability.ActionRead, capability.Wildcard).String())
	}
	i.recordHostCall()
	i.mu.Lock()
	defer i.mu.Unlock()
	return value.SortedKeys(i.snap)
}

func (i *Instance) hostEmit(name string, payload value.Value) {
	i.mu.Lock()
	checker := i.checker
	i.mu.Unlock()
	if !checker.CanEmitEvent(name) {
		i.throwCapabilityDenied(capability.Required(capability.DomainEvent, capability.ActionEmit, name).String())
	}
	i.recordHostCall()
	i.mu.Lock()
	defer i.mu.Unlock()
	i.accum.recordEvent(name, payload)
}

func (i *Instance) hostViewUpdate(target, command string, args value.Value) {
	i.mu.Lock()
	checker := i.checker
	i.mu.Unlock()
	if !checker.CanUpdateView(target) {
		i.throwCapabilityDenied(capability.Required(capability.DomainView, capability.ActionUpdate, target).String())
	}
	i.recordHostCall()
	i.mu.Lock()
	defer i.mu.Unlock()
	i.accum.recordView(target, command, args)
}

func (i *Instance) hostLog(level, message string, data value.Value) {
	// No capability required (spec §4.5): logging is diagnostic, not a
	// side-channel effect on state/events/view.
	i.recordHostCall()
	i.mu.Lock()
	defer i.mu.Unlock()
	i.accum.recordLog(level, message, data)
}

// hostExtSuspend checks the capability and extension registry, then either
// parks the calling goroutine awaiting resume (see exec.go) or throws
// unknown_extension/capability_denied synchronously.
func (i *Instance) hostExtSuspend(name, method string, args value.Value) goja.Value {
	i.mu.Lock()
	checker := i.checker
	reg := i.extReg
	i.mu.Unlock()

	if !checker.CanAccessExtension(name) {
		i.throwCapabilityDenied(capability.Required(capability.DomainExt, capability.Action(name), "").String())
	}
	key := domain.ExtensionKey{Extension: name, Method: method}
	if !reg[key] {
		i.throwHostError(errs.New(errs.UnknownExtension, fmt.Sprintf("extension %q method %q is not registered", name, method)))
	}
	i.recordHostCall()

	return i.suspendForExtension(name, method, args)
}
