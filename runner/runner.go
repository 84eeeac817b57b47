// Package runner provides executors that do the actual work on a
// claimed descriptor. CommandRunner delegates to an external program
// per step; AnthropicRunner drives a Claude conversation. Both speak
// the same small outcome protocol, so the supervising loop does not
// care which one is working a task.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hammadnadeem/employeekit/descriptor"
	"github.com/hammadnadeem/employeekit/errors"
	"github.com/hammadnadeem/employeekit/supervise"
)

// Exit codes understood by CommandRunner. Anything else is a failure
// classified by the error taxonomy.
const (
	// ExitDone signals the task is complete.
	ExitDone = 0

	// ExitContinue signals progress was made but more steps remain.
	ExitContinue = 10

	// ExitNeedsApproval signals a gated action; stdout lines carry the
	// reasons for the human.
	ExitNeedsApproval = 3
)

// DefaultStepTimeout bounds one command invocation.
const DefaultStepTimeout = 5 * time.Minute

// CommandRunner executes an external program once per supervision step.
// The program receives the descriptor body on stdin and its identity in
// the environment, and reports its outcome through the exit code.
type CommandRunner struct {
	argv    []string
	timeout time.Duration
}

var _ supervise.Executor = (*CommandRunner)(nil)

// NewCommandRunner creates a runner for the given command line.
func NewCommandRunner(argv []string, timeout time.Duration) (*CommandRunner, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("runner: empty command")
	}
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	return &CommandRunner{argv: argv, timeout: timeout}, nil
}

// Step runs the command once and maps its exit status to a StepResult.
func (r *CommandRunner) Step(ctx context.Context, d *descriptor.Descriptor) (supervise.StepResult, error) {
	stepCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(stepCtx, r.argv[0], r.argv[1:]...)
	cmd.Stdin = bytes.NewReader(d.Body)
	cmd.Env = append(cmd.Environ(),
		"EMPLOYEE_TASK_ID="+d.ID,
		"EMPLOYEE_TASK_TYPE="+d.Type,
		"EMPLOYEE_TASK_SUMMARY="+d.Summary,
		fmt.Sprintf("EMPLOYEE_TASK_ATTEMPT=%d", d.Retry.Count),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stepCtx.Err() != nil {
		return supervise.StepResult{}, errors.Timeout(
			fmt.Sprintf("command %s exceeded %s", r.argv[0], r.timeout),
			errors.WithDescriptorID(d.ID))
	}
	if cmd.ProcessState == nil {
		// The command never started (missing binary, bad permissions).
		return supervise.StepResult{}, errors.Classify(err, errors.WithDescriptorID(d.ID))
	}

	switch code := cmd.ProcessState.ExitCode(); {
	case err == nil && code == ExitDone:
		return supervise.StepResult{Done: true, Note: firstLine(stdout.String())}, nil

	case code == ExitContinue:
		return supervise.StepResult{}, nil

	case code == ExitNeedsApproval:
		reasons := nonEmptyLines(stdout.String())
		if len(reasons) == 0 {
			reasons = []string{"command requested approval"}
		}
		return supervise.StepResult{NeedsApproval: true, Reasons: reasons}, nil

	default:
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return supervise.StepResult{}, errors.Classify(err,
			errors.WithDescriptorID(d.ID),
			errors.WithMetadata("exit_code", fmt.Sprintf("%d", code)),
			errors.WithMetadata("output", detail))
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
