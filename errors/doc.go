// Package errors provides the structured failure taxonomy used across
// the task lifecycle.
//
// Every execution failure is classified into a Kind that determines how
// the escalation controller handles it:
//
//   - Transient: retried with bounded exponential backoff
//   - Authentication: stopped immediately and escalated
//   - Logic: quarantined pending human clarification
//   - SystemFault: logged, supervising loop may be restarted
//   - PolicyViolation: blocked and escalated at highest severity
//
// Errors marshal to JSON so a failure can be recorded durably in a
// descriptor's history before any stage change. Classify maps arbitrary
// Go errors into the taxonomy; a failure kind is never silently
// dropped.
package errors
