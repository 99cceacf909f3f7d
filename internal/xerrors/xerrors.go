// Package xerrors adapts the teacher runtime's standardized error
// messaging to aetherhub's own domain: instead of bounds/overflow/pointer
// categories for a memory-unsafe language runtime, the categories here
// cover the ways a distributed actor system fails -- a behavior panicking,
// a peer failing its protocol handshake, a frame that won't decode.
package xerrors

import (
	"fmt"
	"runtime"
)

// Category groups related failure codes the way the teacher's
// ErrorCategory does, trading memory/bounds/overflow for the failure
// modes of a remoting hub and actor core.
type Category string

const (
	CategorySupervision Category = "SUPERVISION"
	CategoryRemoting    Category = "REMOTING"
	CategoryProtocol    Category = "PROTOCOL"
	CategoryValidation  Category = "VALIDATION"
)

// Error is a structured error carrying a category, a stable code, a
// human-readable message, free-form context, and the caller that raised
// it -- the same shape as the teacher's StandardError.
type Error struct {
	Category Category
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// New builds an Error, recording the caller two frames up (the function
// that invoked the category-specific constructor, not New itself).
func New(category Category, code, message string, context map[string]interface{}) *Error {
	caller := "unknown"
	if pc, _, _, ok := runtime.Caller(2); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}
	return &Error{Category: category, Code: code, Message: message, Context: context, Caller: caller}
}

// BehaviorPanic wraps a recovered panic from an actor's behavior function,
// so supervision sees a typed error in the exit reason instead of a raw
// interface{} from recover().
func BehaviorPanic(actorName string, recovered interface{}) *Error {
	return New(CategorySupervision, "BEHAVIOR_PANIC",
		fmt.Sprintf("actor %s panicked: %v", actorName, recovered),
		map[string]interface{}{"actor": actorName, "recovered": recovered})
}

// HandshakeFailed reports a QUIC transport handshake that rejected its
// peer, e.g. over an incompatible protocol major version.
func HandshakeFailed(addr, reason string) *Error {
	return New(CategoryRemoting, "HANDSHAKE_FAILED",
		fmt.Sprintf("handshake with %s failed: %s", addr, reason),
		map[string]interface{}{"addr": addr, "reason": reason})
}

// MalformedFrame reports a wire frame that could not be parsed into a
// protocol version or payload envelope.
func MalformedFrame(sender, reason string) *Error {
	return New(CategoryProtocol, "MALFORMED_FRAME",
		fmt.Sprintf("malformed frame from %s: %s", sender, reason),
		map[string]interface{}{"sender": sender, "reason": reason})
}

// InvalidAddress reports an address that failed the mock network's or a
// discovery backend's format validation.
func InvalidAddress(addr, reason string) *Error {
	return New(CategoryValidation, "INVALID_ADDRESS",
		fmt.Sprintf("invalid address %q: %s", addr, reason),
		map[string]interface{}{"addr": addr, "reason": reason})
}
