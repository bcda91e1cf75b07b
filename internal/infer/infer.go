// Package infer implements infer_capabilities (spec §6): a static,
// best-effort scan of handler source for the fixed $state/$emit/$view/$ext
// call shapes, returning a conservative superset of the capability tokens
// the handler is likely to need.
//
// The scan works over source text with regular expressions rather than a
// hand-rolled goja/ast visitor. goja's AST package is not exercised anywhere
// else in the pack this module was grounded on, so there is no reference
// implementation of walking its node types to imitate; the spec explicitly
// tolerates a conservative superset and disclaims this as a non-security
// boundary (spec §9), so a regex sweep over the narrow, fixed handler syntax
// ($state.k, $state.k = v, $emit(name, ...), $view.t.m(...), $ext.n.m(...))
// meets the contract without inventing an unverifiable AST walk.
package infer

import (
	"regexp"
	"sort"

	"github.com/WorlesEnric/Nexus-sub001/internal/capability"
)

var (
	stateWrite = regexp.MustCompile(`\$state\s*\.\s*([A-Za-z_$][\w$]*)\s*=[^=]`)
	stateRead  = regexp.MustCompile(`\$state\s*\.\s*([A-Za-z_$][\w$]*)`)
	stateKeys  = regexp.MustCompile(`\$state\s*\.\s*state_keys\s*\(`)
	emitCall   = regexp.MustCompile(`\$emit\s*\(\s*["']([^"']+)["']`)
	viewCall   = regexp.MustCompile(`\$view\s*\.\s*([A-Za-z_$][\w$]*)\s*\.\s*([A-Za-z_$][\w$]*)\s*\(`)
	extCall    = regexp.MustCompile(`\$ext\s*\.\s*([A-Za-z_$][\w$]*)\s*\.\s*([A-Za-z_$][\w$]*)\s*\(`)
)

// InferCapabilities scans source and returns the set of capability tokens
// (as strings, in the grammar of spec §4.4) the handler appears to use.
// Reads and writes to the same $state key both surface as separate
// state:read:<k> / state:write:<k> tokens when both patterns are found; a
// bare property read that is also later assigned is reported as both.
func InferCapabilities(source []byte) []string {
	src := string(source)
	found := map[string]struct{}{}

	for _, m := range stateWrite.FindAllStringSubmatch(src, -1) {
		found[capability.Required(capability.DomainState, capability.ActionWrite, m[1]).String()] = struct{}{}
	}
	for _, m := range stateRead.FindAllStringSubmatch(src, -1) {
		found[capability.Required(capability.DomainState, capability.ActionRead, m[1]).String()] = struct{}{}
	}
	if stateKeys.MatchString(src) {
		found[capability.Required(capability.DomainState, capability.ActionRead, capability.Wildcard).String()] = struct{}{}
	}
	for _, m := range emitCall.FindAllStringSubmatch(src, -1) {
		found[capability.Required(capability.DomainEvent, capability.ActionEmit, m[1]).String()] = struct{}{}
	}
	for _, m := range viewCall.FindAllStringSubmatch(src, -1) {
		found[capability.Required(capability.DomainView, capability.ActionUpdate, m[1]).String()] = struct{}{}
	}
	for _, m := range extCall.FindAllStringSubmatch(src, -1) {
		found[capability.Required(capability.DomainExt, capability.Action(m[1]), "").String()] = struct{}{}
	}

	out := make([]string, 0, len(found))
	for tok := range found {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}
