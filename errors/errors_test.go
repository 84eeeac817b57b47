package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
)

func TestCodeDefaultKinds(t *testing.T) {
	tests := []struct {
		code Code
		kind Kind
	}{
		{CodeTimeout, KindTransient},
		{CodeNetwork, KindTransient},
		{CodeUnavailable, KindTransient},
		{CodeRateLimit, KindTransient},
		{CodeAuthFailed, KindAuthentication},
		{CodeAuthExpired, KindAuthentication},
		{CodeMisinterpretation, KindLogic},
		{CodeClarification, KindLogic},
		{CodeCrash, KindSystemFault},
		{CodePanic, KindSystemFault},
		{CodeCancel, KindSystemFault},
		{CodeUnauthorizedAction, KindPolicyViolation},
		{CodeApprovalBypassed, KindPolicyViolation},
		{Code("UNKNOWN_THING"), KindSystemFault},
	}
	for _, tt := range tests {
		if got := tt.code.DefaultKind(); got != tt.kind {
			t.Errorf("%s.DefaultKind() = %v, want %v", tt.code, got, tt.kind)
		}
	}
}

func TestOnlyTransientRetries(t *testing.T) {
	for _, kind := range []Kind{KindTransient, KindAuthentication, KindLogic, KindSystemFault, KindPolicyViolation} {
		want := kind == KindTransient
		if got := kind.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", kind, got, want)
		}
	}
}

func TestNewAndOptions(t *testing.T) {
	cause := stderrors.New("socket closed")
	e := New(CodeNetwork, "send failed",
		WithCause(cause),
		WithDescriptorID("abc-123"),
		WithActor("worker-1"),
		WithMetadata("host", "mail.example.com"),
	)

	if e.Code() != CodeNetwork || e.Kind() != KindTransient {
		t.Errorf("code=%v kind=%v", e.Code(), e.Kind())
	}
	if !e.Retryable() {
		t.Error("network error should be retryable")
	}
	if e.DescriptorID() != "abc-123" || e.Actor() != "worker-1" {
		t.Errorf("context lost: id=%q actor=%q", e.DescriptorID(), e.Actor())
	}
	if e.Metadata()["host"] != "mail.example.com" {
		t.Errorf("metadata lost: %v", e.Metadata())
	}
	if !stderrors.Is(e, cause) {
		t.Error("cause not in chain")
	}
	if e.Error() != "send failed: socket closed" {
		t.Errorf("message = %q", e.Error())
	}
}

func TestRetryableOverride(t *testing.T) {
	e := New(CodeTimeout, "slow but hopeless", WithRetryable(false))
	if e.Retryable() {
		t.Error("explicit override ignored")
	}
	if e.Kind() != KindTransient {
		t.Error("override must not change the kind")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code Code
	}{
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"canceled", context.Canceled, CodeCancel},
		{"timeout message", stderrors.New("request timed out"), CodeTimeout},
		{"refused", stderrors.New("dial tcp: connection refused"), CodeNetwork},
		{"auth", stderrors.New("401 unauthorized"), CodeAuthFailed},
		{"rate limit", stderrors.New("429 rate limit exceeded"), CodeRateLimit},
		{"opaque", stderrors.New("something broke"), CodeCrash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Code() != tt.code {
				t.Errorf("Classify(%v).Code() = %v, want %v", tt.err, got.Code(), tt.code)
			}
		})
	}

	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}

	// Already classified errors pass through unchanged.
	orig := Misinterpretation("ambiguous request")
	wrapped := fmt.Errorf("handling task: %w", orig)
	if got := Classify(wrapped); got != orig {
		t.Error("classified error not extracted from chain")
	}
}

func TestWrapPreservesClassification(t *testing.T) {
	inner := Authentication("token rejected", WithDescriptorID("abc-123"))
	outer := Wrap(inner, "sending report")

	if outer.Code() != CodeAuthFailed || outer.Kind() != KindAuthentication {
		t.Errorf("classification lost: code=%v kind=%v", outer.Code(), outer.Kind())
	}
	if outer.DescriptorID() != "abc-123" {
		t.Errorf("descriptor context lost: %q", outer.DescriptorID())
	}
	if !stderrors.Is(outer, inner) {
		t.Error("inner error not in chain")
	}
	if Wrap(nil, "no-op") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestIsHelpers(t *testing.T) {
	e := fmt.Errorf("outer: %w", Timeout("llm call"))

	if !Is(e, CodeTimeout) {
		t.Error("Is should find the code through wrapping")
	}
	if !IsKind(e, KindTransient) {
		t.Error("IsKind should find the kind through wrapping")
	}
	if !IsRetryable(e) {
		t.Error("timeout should be retryable")
	}
	if IsRetryable(stderrors.New("plain")) {
		t.Error("unclassified errors are not retryable")
	}
	if KindOf(nil) != "" {
		t.Error("KindOf(nil) should be zero")
	}
	if KindOf(stderrors.New("boom")) != KindSystemFault {
		t.Error("opaque errors classify as system faults")
	}
}

func TestRecoverPanic(t *testing.T) {
	if RecoverPanic(nil) != nil {
		t.Error("RecoverPanic(nil) should be nil")
	}

	e := RecoverPanic("index out of range")
	if e.Code() != CodePanic || e.Kind() != KindSystemFault {
		t.Errorf("code=%v kind=%v", e.Code(), e.Kind())
	}
	if e.Retryable() {
		t.Error("panics are not retryable")
	}

	e = RecoverPanic(stderrors.New("nil map write"))
	if e.Error() != "nil map write" {
		t.Errorf("message = %q", e.Error())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	orig := New(CodeRateLimit, "provider backoff",
		WithDescriptorID("abc-123"),
		WithActor("worker-2"),
		WithMetadata("retry_after", "30s"),
		WithCause(stderrors.New("429")),
	)

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Error
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Code() != CodeRateLimit || got.Kind() != KindTransient {
		t.Errorf("classification lost: code=%v kind=%v", got.Code(), got.Kind())
	}
	if !got.Retryable() {
		t.Error("retryability lost")
	}
	if got.DescriptorID() != "abc-123" || got.Actor() != "worker-2" {
		t.Errorf("context lost: id=%q actor=%q", got.DescriptorID(), got.Actor())
	}
	if got.Metadata()["retry_after"] != "30s" {
		t.Errorf("metadata lost: %v", got.Metadata())
	}
	if got.Timestamp().IsZero() {
		t.Error("timestamp lost")
	}
}
