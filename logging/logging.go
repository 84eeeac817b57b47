// Package logging provides real-time console output for lifecycle
// monitoring. The descriptor history and the audit journal are the
// forensic record; this logger exists only so operators can watch the
// orchestrator work.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Logger writes structured lines to a single output.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	worker    string
}

// New creates a new Logger writing to stdout at Info level.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger tagged with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		worker:    l.worker,
	}
}

// WithWorker returns a new logger tagged with a worker identity.
func (l *Logger) WithWorker(worker string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		worker:    worker,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a line: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		if l.worker != "" {
			fields[0]["worker"] = l.worker
		}
		fieldStr = formatFields(fields[0])
	} else if l.worker != "" {
		fieldStr = " worker=" + l.worker
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Lifecycle event helpers ---
// Called by the orchestration components after the durable record has
// been written; these only provide real-time console output.

// StageChange logs a stage transition.
func (l *Logger) StageChange(id string, from, to, actor string) {
	l.Info("stage_change", map[string]interface{}{
		"id":    id,
		"from":  from,
		"to":    to,
		"actor": actor,
	})
}

// ClaimWon logs a successful claim.
func (l *Logger) ClaimWon(id, owner string) {
	l.Info("claim_won", map[string]interface{}{
		"id":    id,
		"owner": owner,
	})
}

// ClaimConflict logs a lost claim race. Expected under concurrency, so
// it is debug, not an error.
func (l *Logger) ClaimConflict(id, owner string) {
	l.Debug("claim_conflict", map[string]interface{}{
		"id":    id,
		"owner": owner,
	})
}

// DispatchCycle logs one scheduler pass.
func (l *Logger) DispatchCycle(eligible, claimed int, duration time.Duration) {
	l.Debug("dispatch_cycle", map[string]interface{}{
		"eligible": eligible,
		"claimed":  claimed,
		"duration": duration.String(),
	})
}

// ApprovalRequested logs a Claimed→PendingApproval hand-off.
func (l *Logger) ApprovalRequested(id string, reasons []string) {
	l.Info("approval_requested", map[string]interface{}{
		"id":      id,
		"reasons": strings.Join(reasons, ","),
	})
}

// ApprovalDecision logs an observed human decision.
func (l *Logger) ApprovalDecision(id string, approved bool, actor string) {
	l.Info("approval_decision", map[string]interface{}{
		"id":       id,
		"approved": approved,
		"actor":    actor,
	})
}

// RetryScheduled logs a transient-failure retry.
func (l *Logger) RetryScheduled(id string, attempt int, backoff time.Duration, errKind string) {
	l.Warn("retry_scheduled", map[string]interface{}{
		"id":      id,
		"attempt": attempt,
		"backoff": backoff.String(),
		"kind":    errKind,
	})
}

// Escalation logs an escalation. The durable record lives in the audit
// journal.
func (l *Logger) Escalation(id, reason, severity string) {
	l.Error("escalation", map[string]interface{}{
		"id":       id,
		"reason":   reason,
		"severity": severity,
	})
}

// Quarantine logs a move to the quarantine stage.
func (l *Logger) Quarantine(id, reason string) {
	l.Warn("quarantine", map[string]interface{}{
		"id":     id,
		"reason": reason,
	})
}

// WatcherItem logs an item picked up by a producer.
func (l *Logger) WatcherItem(id, source, taskType string) {
	l.Info("watcher_item", map[string]interface{}{
		"id":     id,
		"source": source,
		"type":   taskType,
	})
}

// SuperviseStart logs the start of a supervised run.
func (l *Logger) SuperviseStart(id string, maxIterations int, budget time.Duration) {
	l.Info("supervise_start", map[string]interface{}{
		"id":             id,
		"max_iterations": maxIterations,
		"budget":         budget.String(),
	})
}

// SuperviseEnd logs the end of a supervised run.
func (l *Logger) SuperviseEnd(id, stage string, iterations int, duration time.Duration) {
	l.Info("supervise_end", map[string]interface{}{
		"id":         id,
		"stage":      stage,
		"iterations": iterations,
		"duration":   duration.String(),
	})
}

// DryRun logs a transition that would have happened outside dry-run.
func (l *Logger) DryRun(id, action string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["id"] = id
	fields["dry_run"] = true
	l.Info(action, fields)
}
