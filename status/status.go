// Package status interprets the return codes of remote API calls.
//
// Every call yields a ReturnCode bitmask. A code is accepted when it equals
// ReturnOK or the single tolerance the caller declares for that call (for
// example ReturnNoValue when reading a streamed value before its first
// sample). Anything else is turned into an *Error carrying the numeric code
// and the name of its lowest set bit.
package status

import (
	"fmt"
	"math/bits"
)

// ReturnCode is the bit-coded status of a remote API call. Values are
// bit-for-bit compatible with the simulator server.
type ReturnCode int32

const (
	ReturnOK              ReturnCode = 0x00
	ReturnNoValue         ReturnCode = 0x01 // input buffer doesn't contain the command's reply
	ReturnTimeout         ReturnCode = 0x02 // reply not received in time
	ReturnIllegalOpMode   ReturnCode = 0x04 // command doesn't support the operation mode
	ReturnRemoteError     ReturnCode = 0x08 // command failed on the server side
	ReturnSplitProgress   ReturnCode = 0x10 // previous split command not yet fully processed
	ReturnLocalError      ReturnCode = 0x20 // command failed on the client side (connection)
	ReturnInitializeError ReturnCode = 0x40 // client id not opened
)

// names is indexed by bit length: 0 for ReturnOK, n for the flag 1<<(n-1).
var names = [...]string{
	"ok",
	"novalue_flag",
	"timeout_flag",
	"illegal_opmode_flag",
	"remote_error_flag",
	"split_progress_flag",
	"local_error_flag",
	"initialize_error_flag",
}

// Name returns the symbolic name of c. When several bits are set the lowest
// one names the code.
func (c ReturnCode) Name() string {
	if c == ReturnOK {
		return names[0]
	}
	low := bits.TrailingZeros32(uint32(c)) + 1
	if low >= len(names) {
		return "unknown_flag"
	}
	return names[low]
}

// Has reports whether every bit of flag is set in c.
func (c ReturnCode) Has(flag ReturnCode) bool {
	return flag != ReturnOK && c&flag == flag
}

func (c ReturnCode) String() string {
	return fmt.Sprintf("%d: %s", int32(c), c.Name())
}

// Error is returned for a call whose code is neither ok nor tolerated.
type Error struct {
	Op   string
	Code ReturnCode
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("remote API return code: (%s)", e.Code)
	}
	return fmt.Sprintf("%s: remote API return code: (%s)", e.Op, e.Code)
}

// Check returns nil when code is ReturnOK or exactly tolerance, and an
// *Error otherwise.
func Check(code, tolerance ReturnCode) error {
	if code == ReturnOK || code == tolerance {
		return nil
	}
	return &Error{Code: code}
}

// Result is the outcome of one call: its return code and, on success, a
// value whose type is fixed by the call site.
type Result[T any] struct {
	Op    string
	Code  ReturnCode
	Value T
}

// OK builds a successful result.
func OK[T any](op string, v T) Result[T] {
	return Result[T]{Op: op, Code: ReturnOK, Value: v}
}

// Failed builds a result that carries no value.
func Failed[T any](op string, code ReturnCode) Result[T] {
	return Result[T]{Op: op, Code: code}
}

// Unwrap interprets r. It returns the value and true when the call
// succeeded, the zero value and false when the code equals tolerance, and an
// *Error for every other code.
func Unwrap[T any](r Result[T], tolerance ReturnCode) (T, bool, error) {
	var zero T
	switch {
	case r.Code == ReturnOK:
		return r.Value, true, nil
	case r.Code == tolerance:
		return zero, false, nil
	}
	return zero, false, &Error{Op: r.Op, Code: r.Code}
}

// Must is Unwrap without a tolerance.
func Must[T any](r Result[T]) (T, error) {
	v, _, err := Unwrap(r, ReturnOK)
	return v, err
}
