package cache

import (
	"regexp"
	"strconv"

	"github.com/WorlesEnric/Nexus-sub001/internal/errs"
)

// lineColPattern matches the "Line <n>:<m>" fragment goja's parser errors
// embed in their message (e.g. "SyntaxError: foo.js: Line 3:5 Unexpected
// token"). Extraction is best-effort; spec §4.3 only requires line/column
// "when available".
var lineColPattern = regexp.MustCompile(`[Ll]ine (\d+):(\d+)`)

// compileErrorFrom wraps a goja compile-time error into the stable
// CompileError envelope, extracting a source location when the underlying
// message exposes one.
func compileErrorFrom(err error) *errs.Error {
	e := errs.Wrap(errs.CompileError, "handler source failed to compile", err)
	if m := lineColPattern.FindStringSubmatch(err.Error()); m != nil {
		line, lerr := strconv.Atoi(m[1])
		col, cerr := strconv.Atoi(m[2])
		if lerr == nil && cerr == nil {
			e.Location = &errs.SourceLocation{Line: line, Column: col}
		}
	}
	return e
}
