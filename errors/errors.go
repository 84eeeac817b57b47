package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// Error is a classified lifecycle failure. It extends the standard
// error interface with the kind/code taxonomy the escalation controller
// dispatches on.
type Error struct {
	code         Code
	kind         Kind
	message      string
	cause        error
	descriptorID string
	actor        string
	metadata     map[string]string
	retryable    *bool // nil means use the kind default
	timestamp    time.Time
}

var (
	_ error            = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the failure code.
func (e *Error) Code() Code {
	return e.code
}

// Kind returns the failure kind.
func (e *Error) Kind() Kind {
	return e.kind
}

// Retryable reports whether the failure may be retried automatically.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.kind.Retryable()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the failure occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// DescriptorID returns the related descriptor, if set.
func (e *Error) DescriptorID() string {
	return e.descriptorID
}

// Actor returns the worker or component that hit the failure, if set.
func (e *Error) Actor() string {
	return e.actor
}

// Metadata returns additional context as key-value pairs.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// errorJSON is the JSON representation recorded in descriptor history.
type errorJSON struct {
	Code         Code              `json:"code"`
	Kind         Kind              `json:"kind"`
	Message      string            `json:"message"`
	Cause        string            `json:"cause,omitempty"`
	DescriptorID string            `json:"descriptor_id,omitempty"`
	Actor        string            `json:"actor,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Retryable    bool              `json:"retryable"`
	Timestamp    string            `json:"timestamp,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:         e.code,
		Kind:         e.kind,
		Message:      e.message,
		DescriptorID: e.descriptorID,
		Actor:        e.actor,
		Metadata:     e.metadata,
		Retryable:    e.Retryable(),
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.kind = j.Kind
	e.message = j.Message
	e.descriptorID = j.DescriptorID
	e.actor = j.Actor
	e.metadata = j.Metadata
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithKind overrides the default kind for the code.
func WithKind(kind Kind) Option {
	return func(e *Error) {
		e.kind = kind
	}
}

// WithRetryable explicitly sets whether the failure is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithDescriptorID sets the related descriptor.
func WithDescriptorID(id string) Option {
	return func(e *Error) {
		e.descriptorID = id
	}
}

// WithActor sets the worker or component that hit the failure.
func WithActor(actor string) Option {
	return func(e *Error) {
		e.actor = actor
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a classified failure with the given code and message.
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		kind:      code.DefaultKind(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a classified failure with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates a failure with the default description for the code.
func FromCode(code Code, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// Transient creates a transient failure.
func Transient(message string, opts ...Option) *Error {
	return New(CodeUnavailable, message, opts...)
}

// Timeout creates a transient timeout failure.
func Timeout(message string, opts ...Option) *Error {
	return New(CodeTimeout, message, opts...)
}

// Authentication creates an authentication failure.
func Authentication(message string, opts ...Option) *Error {
	return New(CodeAuthFailed, message, opts...)
}

// Misinterpretation creates a logic failure requiring clarification.
func Misinterpretation(message string, opts ...Option) *Error {
	return New(CodeMisinterpretation, message, opts...)
}

// SystemFault creates a crash-like failure.
func SystemFault(message string, opts ...Option) *Error {
	return New(CodeCrash, message, opts...)
}

// PolicyViolation creates a blocked-action failure.
func PolicyViolation(message string, opts ...Option) *Error {
	return New(CodeUnauthorizedAction, message, opts...)
}
