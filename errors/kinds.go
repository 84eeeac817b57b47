package errors

// Kind classifies a failure by its nature and the handling policy it
// triggers.
type Kind string

const (
	// KindTransient indicates temporary failures where retry may
	// succeed. Examples: timeouts, network flakiness, a briefly
	// unavailable collaborator.
	KindTransient Kind = "transient"

	// KindAuthentication indicates credential or permission failures.
	// Never retried: retrying burns attempts without any chance of
	// success and may lock accounts.
	KindAuthentication Kind = "authentication"

	// KindLogic indicates the task was misinterpreted or produced an
	// incoherent result. The descriptor is quarantined and a human is
	// asked for clarification.
	KindLogic Kind = "logic"

	// KindSystemFault indicates crash-like failures of the supervising
	// process or its collaborators.
	KindSystemFault Kind = "system_fault"

	// KindPolicyViolation indicates an attempted automatic action
	// outside the configured authority. The action is blocked and
	// escalated at highest severity.
	KindPolicyViolation Kind = "policy_violation"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Retryable reports whether failures of this kind may be retried
// automatically. Only Transient qualifies.
func (k Kind) Retryable() bool {
	return k == KindTransient
}

// Code identifies a specific failure within a kind.
type Code string

const (
	// Transient
	CodeTimeout     Code = "TIMEOUT"     // operation timed out
	CodeNetwork     Code = "NETWORK"     // network connectivity issue
	CodeUnavailable Code = "UNAVAILABLE" // collaborator temporarily unavailable
	CodeRateLimit   Code = "RATE_LIMIT"  // collaborator requested backoff

	// Authentication
	CodeAuthFailed  Code = "AUTH_FAILED"  // credentials rejected
	CodeAuthExpired Code = "AUTH_EXPIRED" // credentials expired

	// Logic
	CodeMisinterpretation Code = "MISINTERPRETATION" // task was misunderstood
	CodeClarification     Code = "CLARIFICATION"     // clarification required to proceed

	// SystemFault
	CodeCrash  Code = "CRASH"  // collaborator or worker crashed
	CodePanic  Code = "PANIC"  // recovered from panic
	CodeCancel Code = "CANCEL" // supervising loop was canceled externally

	// PolicyViolation
	CodeUnauthorizedAction Code = "UNAUTHORIZED_ACTION" // action outside granted authority
	CodeApprovalBypassed   Code = "APPROVAL_BYPASSED"   // gated action attempted without approval
)

// String returns the string representation of the code.
func (c Code) String() string {
	return string(c)
}

// DefaultKind returns the kind a code belongs to.
func (c Code) DefaultKind() Kind {
	switch c {
	case CodeTimeout, CodeNetwork, CodeUnavailable, CodeRateLimit:
		return KindTransient
	case CodeAuthFailed, CodeAuthExpired:
		return KindAuthentication
	case CodeMisinterpretation, CodeClarification:
		return KindLogic
	case CodeCrash, CodePanic, CodeCancel:
		return KindSystemFault
	case CodeUnauthorizedAction, CodeApprovalBypassed:
		return KindPolicyViolation
	default:
		return KindSystemFault
	}
}

// codeDescriptions provides human-readable descriptions for codes.
var codeDescriptions = map[Code]string{
	CodeTimeout:            "operation timed out",
	CodeNetwork:            "network connectivity error",
	CodeUnavailable:        "collaborator temporarily unavailable",
	CodeRateLimit:          "rate limited by collaborator",
	CodeAuthFailed:         "authentication failed",
	CodeAuthExpired:        "credentials expired",
	CodeMisinterpretation:  "task was misinterpreted",
	CodeClarification:      "clarification required",
	CodeCrash:              "collaborator crashed",
	CodePanic:              "recovered from panic",
	CodeCancel:             "supervision canceled",
	CodeUnauthorizedAction: "action outside granted authority",
	CodeApprovalBypassed:   "gated action attempted without approval",
}

// Description returns a human-readable description for the code.
func (c Code) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown failure"
}
