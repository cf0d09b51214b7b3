package axidma

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/go-axidma/internal/bd"
	"github.com/ehrlich-b/go-axidma/internal/channel"
)

// Error represents a structured axidma error with operation context
type Error struct {
	Op      string    // Operation that failed (e.g., "TX_SUBMIT", "RESET")
	Channel string    // Channel name ("" if not channel-specific)
	Code    ErrorCode // High-level error category
	Msg     string    // Human-readable message
	Inner   error     // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	ctx := ""
	if e.Op != "" {
		ctx = fmt.Sprintf(" (op=%s", e.Op)
		if e.Channel != "" {
			ctx += fmt.Sprintf(" channel=%s", e.Channel)
		}
		ctx += ")"
	} else if e.Channel != "" {
		ctx = fmt.Sprintf(" (channel=%s)", e.Channel)
	}

	return fmt.Sprintf("axidma: %s%s", msg, ctx)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support by error code
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeNotInitialized    ErrorCode = "driver not initialized"
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"
	ErrCodeNoFreeDescriptors ErrorCode = "no free descriptors"
	ErrCodeChannelAbsent     ErrorCode = "channel not present"
	ErrCodeDMAFailure        ErrorCode = "dma failure"
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewChannelError creates a new channel-specific error
func NewChannelError(op, ch string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:      op,
		Channel: ch,
		Code:    code,
		Msg:     msg,
	}
}

// WrapError wraps an existing error with axidma context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	if ae, ok := inner.(*Error); ok {
		return &Error{
			Op:      op,
			Channel: ae.Channel,
			Code:    ae.Code,
			Msg:     ae.Msg,
			Inner:   ae.Inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  mapInternalToCode(inner),
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapInternalToCode maps internal sentinel errors to error codes
func mapInternalToCode(err error) ErrorCode {
	switch {
	case errors.Is(err, bd.ErrInvalidParam):
		return ErrCodeInvalidParameters
	case errors.Is(err, bd.ErrNoFreeDescriptors):
		return ErrCodeNoFreeDescriptors
	case errors.Is(err, bd.ErrNotCreated):
		return ErrCodeNotInitialized
	case errors.Is(err, channel.ErrInterrupt):
		return ErrCodeDMAFailure
	default:
		return ErrCodeDMAFailure
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
