package ftl

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InvariantError indicates state corruption: a double-invalidation, an
// out-of-range address, or an allocation attempted on a full block without
// first being replaced. spec.md §7 classifies these as fatal for a
// systems-language implementation; in Go most of them surface as a panic
// carrying this type (see invariant), so a recovering caller (tests, the
// harness) can identify them with errors.As instead of pattern-matching a
// string. An invalid Config passed to NewFTL and an out-of-range sector
// passed to Read or Write are instead returned as an *InvariantError
// value.
type InvariantError struct {
	msg string
}

func (e *InvariantError) Error() string { return e.msg }

func newInvariantError(format string, args ...interface{}) *InvariantError {
	return &InvariantError{msg: fmt.Sprintf(format, args...)}
}

// invariant panics with an *InvariantError if cond is false. Used at the
// boundaries spec.md §3/§4 calls out as invariants that must never be
// violated by correct callers.
func invariant(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(newInvariantError(format, args...))
	}
}

// errExhausted builds a Transient-exhaustion error: no free block, or a
// mapping temporarily withheld pending GC. Callers defer and kick GC; the
// request remains valid and is retried later.
func errExhausted(format string, args ...interface{}) error {
	return status.Errorf(codes.ResourceExhausted, format, args...)
}

// errDevice wraps a device error for verbatim propagation to the upstream
// completion callback, per spec.md §7's "the core does not retry at its
// layer".
func errDevice(cause error) error {
	if cause == nil {
		return nil
	}
	if _, ok := status.FromError(cause); ok {
		return cause
	}
	return status.Error(codes.Unavailable, cause.Error())
}

// IsExhausted reports whether err is a Transient-exhaustion error.
func IsExhausted(err error) bool {
	return status.Code(err) == codes.ResourceExhausted
}
