// Package nexus implements the Panel Runtime Core: a sandboxed execution
// engine for untrusted interactive-panel handler scripts. Every host side
// effect a handler performs ($state, $emit, $view, $ext, $log) is mediated
// through a capability-checked bridge, and long-running external calls
// suspend and later resume the same logical execution rather than blocking a
// sandbox thread.
//
// A caller constructs one Runtime per process (or per isolated tenant) via
// New, then drives it through ExecuteHandler/ResumeHandler. The Runtime owns
// its compilation cache, instance pool, and metrics; nothing is shared
// through package-level state.
package nexus
