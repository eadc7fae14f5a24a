// Package errs defines the error-kind taxonomy shared by every RADSAT
// component: protocol framing errors, auth failures, module pipeline
// errors, memory corruption, propagator errors, and fatal init errors.
// Instance-busy rejection is not a Go error at all — internal/proxy
// reports it as a wire-level KindError frame to the rejected client,
// since the caller that needs to know is across the network, not up
// the call stack. Callers compare with errors.Is against the sentinels
// below; richer errors wrap a sentinel with fmt.Errorf's %w so the kind
// survives.
package errs

import "errors"

// Protocol-kind sentinels: malformed frame, unknown kind, oversize payload.
var (
	ErrMalformedFrame  = errors.New("errs: malformed frame")
	ErrUnknownFrameKind = errors.New("errs: unknown frame kind")
	ErrOversizePayload = errors.New("errs: oversize payload")
)

// Auth-kind sentinel.
var ErrAuthFailed = errors.New("errs: auth failed")

// Module-kind sentinels.
var (
	ErrDecodeShort      = errors.New("errs: module decode short")
	ErrSignatureInvalid = errors.New("errs: module signature invalid")
	ErrNotVerified      = errors.New("errs: module not verified")
	ErrNotEnabled       = errors.New("errs: module not enabled")
	ErrNoSuchModule     = errors.New("errs: no such module")
	ErrDuplicateModule  = errors.New("errs: duplicate module id")
)

// InterpreterFault wraps an interpreter-kind fault with a reason, per
// spec.md's InterpreterFault{reason}.
type InterpreterFault struct {
	Reason string
}

func (f *InterpreterFault) Error() string {
	return "errs: interpreter fault: " + f.Reason
}

// Memory-kind sentinel: internal, triggers scrubber escalation.
var ErrPageFaulted = errors.New("errs: page faulted")

// Propagator-kind sentinels.
var (
	ErrFuelExhausted = errors.New("errs: fuel exhausted")
	ErrCommandInvalid = errors.New("errs: command invalid")
)

// Fatal-kind sentinels: checkpoint corrupt, signer key missing,
// executive unreachable. These cause the owning process to exit
// non-zero at init.
var (
	ErrCheckpointCorrupt    = errors.New("errs: checkpoint corrupt")
	ErrSignerKeyMissing     = errors.New("errs: signer key missing")
	ErrExecutiveUnreachable = errors.New("errs: executive unreachable")
)
