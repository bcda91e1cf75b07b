// Package errs defines the stable, machine-readable error codes that cross
// every boundary of the panel runtime core (see spec §7). Internal failures
// are always wrapped into one of these codes before they reach a caller;
// the underlying engine error, if any, is kept as Cause for diagnostics but
// is never the thing a caller branches on.
package errs

import "fmt"

// Code is a stable, machine-readable error discriminator.
type Code string

const (
	CompileError        Code = "compile_error"
	RuntimeError        Code = "runtime_error"
	Timeout              Code = "timeout"
	MemoryLimit          Code = "memory_limit"
	CapabilityDenied     Code = "capability_denied"
	TypeMismatch         Code = "type_mismatch"
	UnknownExtension     Code = "unknown_extension"
	UnknownSuspension    Code = "unknown_suspension"
	SuspensionTimeout    Code = "suspension_timeout"
	PoolShutdown         Code = "pool_shutdown"
	InitializationError Code = "initialization_error"
)

// Terminates reports whether an error of this code terminates the sandbox
// that produced it, per spec §7's policy table. Capability, type-mismatch,
// compile, and unknown-extension errors reset and return the sandbox to the
// pool; timeout, memory-limit, and runtime errors terminate it.
func (c Code) Terminates() bool {
	switch c {
	case Timeout, MemoryLimit, RuntimeError:
		return true
	default:
		return false
	}
}

// SourceLocation is a best-effort pointer into the offending handler source.
type SourceLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Error is the envelope every exported operation produces on failure. It
// never leaks an underlying engine error string verbatim as the primary
// message; Cause carries that, for logs only.
type Error struct {
	Code     Code
	Message  string
	Location *SourceLocation
	Snippet  string
	// Token is set for CapabilityDenied: the required capability token string.
	Token string
	Cause error
}

func (e *Error) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("%s: %s (requires %s)", e.Code, e.Message, e.Token)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error around an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CapabilityDeniedErr builds the specific CapabilityDenied variant carrying
// the required token, per spec §4.5.
func CapabilityDeniedErr(token string) *Error {
	return &Error{
		Code:    CapabilityDenied,
		Message: "host call denied: capability not granted",
		Token:   token,
	}
}

// Sentinel instances for errors.Is comparisons where no per-call detail is needed.
var (
	ErrUnknownSuspension = New(UnknownSuspension, "suspension id is unknown or already resolved")
	ErrPoolShutdown      = New(PoolShutdown, "pool is shutting down")
)

// Is implements errors.Is support by comparing codes, so a wrapped instance
// with extra fields still matches a sentinel of the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
