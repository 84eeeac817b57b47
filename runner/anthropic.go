package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hammadnadeem/employeekit/descriptor"
	"github.com/hammadnadeem/employeekit/errors"
	"github.com/hammadnadeem/employeekit/supervise"
)

// Outcome markers the model is instructed to end its reply with. The
// last marker line decides the step result.
const (
	markerDone     = "DONE:"
	markerApproval = "NEEDS_APPROVAL:"
	markerContinue = "CONTINUE:"
)

const systemPrompt = `You are an autonomous employee working one task at a time.
Work the task in the message. End every reply with exactly one line:
DONE: <one-line result> when the task is complete,
NEEDS_APPROVAL: <reason> when the next action needs human sign-off,
CONTINUE: <what you will do next> when more steps remain.`

// AnthropicConfig holds configuration for the Claude-backed runner.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string // optional custom endpoint
	Model     string
	MaxTokens int
}

// AnthropicRunner drives a Claude conversation per descriptor. The
// transcript persists across steps of one supervised run, so the model
// keeps its working context between iterations.
type AnthropicRunner struct {
	client    *anthropic.Client
	model     string
	maxTokens int64

	mu          sync.Mutex
	transcripts map[string][]anthropic.MessageParam
}

var _ supervise.Executor = (*AnthropicRunner)(nil)

// NewAnthropicRunner creates a Claude-backed executor.
func NewAnthropicRunner(cfg AnthropicConfig) (*AnthropicRunner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("runner: api_key is required for anthropic")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("runner: model is required for anthropic")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	return &AnthropicRunner{
		client:      &client,
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		transcripts: make(map[string][]anthropic.MessageParam),
	}, nil
}

// Step sends the next turn for the descriptor and parses the outcome.
func (r *AnthropicRunner) Step(ctx context.Context, d *descriptor.Descriptor) (supervise.StepResult, error) {
	r.mu.Lock()
	messages, ok := r.transcripts[d.ID]
	if !ok {
		messages = []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(taskPrompt(d))),
		}
	} else {
		messages = append(messages, anthropic.NewUserMessage(
			anthropic.NewTextBlock("Continue with the next step.")))
	}
	r.mu.Unlock()

	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: r.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  messages,
	})
	if err != nil {
		return supervise.StepResult{}, errors.Classify(err, errors.WithDescriptorID(d.ID))
	}

	var reply string
	for _, block := range resp.Content {
		if block.Type == "text" {
			reply += block.Text
		}
	}

	r.mu.Lock()
	r.transcripts[d.ID] = append(messages,
		anthropic.NewAssistantMessage(anthropic.NewTextBlock(reply)))
	r.mu.Unlock()

	return ParseOutcome(reply)
}

// Forget drops the transcript for a descriptor, e.g. after the run
// reached a durable outcome.
func (r *AnthropicRunner) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transcripts, id)
}

func taskPrompt(d *descriptor.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s (%s): %s\n", d.ID, d.Type, d.Summary)
	if d.Amount > 0 {
		fmt.Fprintf(&b, "Amount: $%.2f\n", d.Amount)
	}
	if d.Counterparty != "" {
		fmt.Fprintf(&b, "Counterparty: %s\n", d.Counterparty)
	}
	if d.Retry.Count > 0 {
		fmt.Fprintf(&b, "Previous attempts: %d (last failure: %s, %s)\n",
			d.Retry.Count, d.Retry.LastErrorKind, d.Retry.NextAttempt.Format(time.RFC3339))
	}
	b.WriteString("\n")
	b.Write(d.Body)
	return b.String()
}

// ParseOutcome maps a model reply to a step result using the last
// marker line. A reply with no marker counts as progress, not an
// outcome; the iteration budget bounds how long that can go on.
func ParseOutcome(reply string) (supervise.StepResult, error) {
	lines := strings.Split(reply, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		switch {
		case strings.HasPrefix(line, markerDone):
			return supervise.StepResult{
				Done: true,
				Note: strings.TrimSpace(strings.TrimPrefix(line, markerDone)),
			}, nil
		case strings.HasPrefix(line, markerApproval):
			reason := strings.TrimSpace(strings.TrimPrefix(line, markerApproval))
			if reason == "" {
				reason = "model requested approval"
			}
			return supervise.StepResult{NeedsApproval: true, Reasons: []string{reason}}, nil
		case strings.HasPrefix(line, markerContinue):
			return supervise.StepResult{}, nil
		}
	}
	return supervise.StepResult{}, nil
}
