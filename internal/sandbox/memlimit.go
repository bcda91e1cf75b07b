package sandbox

import "github.com/dop251/goja"

// applyMemoryLimit configures the per-instance memory cap using goja's
// native memory accounting (added to track total live JS heap size and
// abort execution past a configured ceiling). If a future goja release
// removes or renames this hook, this is the single call site to update;
// it is deliberately isolated from the rest of the sandbox package.
func applyMemoryLimit(vm *goja.Runtime, limitBytes int64) error {
	if limitBytes <= 0 {
		return nil
	}
	vm.SetMemoryLimit(limitBytes)
	return nil
}
