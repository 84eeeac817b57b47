package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
)

// Wrap wraps an error with additional context while preserving its
// classification. If err is nil, Wrap returns nil.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		wrapped := &Error{
			code:         classified.code,
			kind:         classified.kind,
			message:      message,
			cause:        err,
			descriptorID: classified.descriptorID,
			actor:        classified.actor,
			metadata:     classified.Metadata(),
			retryable:    classified.retryable,
			timestamp:    classified.timestamp,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	return Classify(err, append(opts, withMessage(message))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

func withMessage(message string) Option {
	return func(e *Error) {
		e.message = message
	}
}

// Classify maps an arbitrary error into the failure taxonomy. Already
// classified errors are returned as-is. Unknown errors default to
// SystemFault so nothing is silently dropped or retried forever.
func Classify(err error, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	code := classifyCode(err)
	e := New(code, err.Error(), append([]Option{WithCause(err)}, opts...)...)
	return e
}

func classifyCode(err error) Code {
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancel
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout
		}
		return CodeNetwork
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return CodeCrash
	}

	// Last resort: message sniffing for failures that cross process
	// boundaries as plain strings.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return CodeTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return CodeNetwork
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication"):
		return CodeAuthFailed
	case strings.Contains(msg, "rate limit"):
		return CodeRateLimit
	}
	return CodeCrash
}

// AsError attempts to extract a classified Error from an error chain.
// Returns nil if none is found.
func AsError(err error) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	return nil
}

// Is checks if any error in the chain has the given code.
func Is(err error, code Code) bool {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.code == code
	}
	return false
}

// IsKind checks if any error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.kind == kind
	}
	return false
}

// IsRetryable checks if the error may be retried automatically.
// Unclassified errors are not retryable.
func IsRetryable(err error) bool {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Retryable()
	}
	return false
}

// KindOf extracts the kind from an error chain, classifying on the fly
// if needed. Returns the zero Kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind()
}

// RecoverPanic converts a recovered panic value into a SystemFault.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(CodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
