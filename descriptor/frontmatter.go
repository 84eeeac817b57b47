package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("descriptor: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML header could not be parsed.
	ErrMalformedFrontMatter = errors.New("descriptor: malformed frontmatter")
)

// envelope namespaces the metadata header so descriptor files remain
// readable alongside arbitrary vault notes.
type envelope struct {
	Employee header `yaml:"employee"`
}

type header struct {
	ID               string            `yaml:"id"`
	Type             string            `yaml:"type"`
	Summary          string            `yaml:"summary"`
	Stage            Stage             `yaml:"stage"`
	Priority         string            `yaml:"priority"`
	Owner            string            `yaml:"owner,omitempty"`
	Amount           float64           `yaml:"amount,omitempty"`
	Counterparty     string            `yaml:"counterparty,omitempty"`
	Recipients       int               `yaml:"recipients,omitempty"`
	DeletesData      bool              `yaml:"deletes_data,omitempty"`
	RequiresApproval bool              `yaml:"requires_approval,omitempty"`
	Approval         *ApprovalDecision `yaml:"approval,omitempty"`
	Retry            RetryState        `yaml:"retry,omitempty"`
	Created          string            `yaml:"created"`
	Updated          string            `yaml:"updated"`
	History          []HistoryEntry    `yaml:"history,omitempty"`
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// EncodeFrontMatter renders the metadata header plus body with YAML
// fences. The body is written through untouched.
func EncodeFrontMatter(d *Descriptor) ([]byte, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("descriptor: missing id")
	}
	if !d.Stage.Valid() {
		return nil, fmt.Errorf("descriptor: invalid stage %q", d.Stage)
	}
	env := envelope{
		Employee: header{
			ID:               d.ID,
			Type:             d.Type,
			Summary:          d.Summary,
			Stage:            d.Stage,
			Priority:         d.Priority.String(),
			Owner:            d.Owner,
			Amount:           d.Amount,
			Counterparty:     d.Counterparty,
			Recipients:       d.Recipients,
			DeletesData:      d.DeletesData,
			RequiresApproval: d.RequiresApproval,
			Approval:         d.Approval,
			Retry:            d.Retry,
			Created:          d.CreatedAt.UTC().Format(timeLayout),
			Updated:          d.UpdatedAt.UTC().Format(timeLayout),
			History:          d.History,
		},
	}
	data, err := yaml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("descriptor: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n")
	buf.Write(d.Body)
	return buf.Bytes(), nil
}

// DecodeFrontMatter parses a persisted descriptor back into its
// metadata header and body.
func DecodeFrontMatter(content []byte) (*Descriptor, error) {
	if len(content) == 0 {
		return nil, ErrMissingFrontMatter
	}
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return nil, ErrMalformedFrontMatter
	}
	var env envelope
	if err := yaml.Unmarshal(parts[0], &env); err != nil {
		return nil, fmt.Errorf("descriptor: parse frontmatter: %w", err)
	}
	h := env.Employee
	if h.ID == "" || !h.Stage.Valid() {
		return nil, ErrMalformedFrontMatter
	}
	priority, err := ParsePriority(h.Priority)
	if err != nil {
		return nil, fmt.Errorf("descriptor: parse frontmatter: %w", err)
	}
	created, err := parseTime(h.Created)
	if err != nil {
		return nil, fmt.Errorf("descriptor: parse created timestamp: %w", err)
	}
	updated, err := parseTime(h.Updated)
	if err != nil {
		return nil, fmt.Errorf("descriptor: parse updated timestamp: %w", err)
	}
	d := &Descriptor{
		ID:               h.ID,
		Type:             h.Type,
		Summary:          h.Summary,
		Stage:            h.Stage,
		Priority:         priority,
		Owner:            h.Owner,
		Amount:           h.Amount,
		Counterparty:     h.Counterparty,
		Recipients:       h.Recipients,
		DeletesData:      h.DeletesData,
		RequiresApproval: h.RequiresApproval,
		Approval:         h.Approval,
		Retry:            h.Retry,
		CreatedAt:        created,
		UpdatedAt:        updated,
		History:          h.History,
		Body:             parts[1],
	}
	return d, nil
}

func parseTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		// Older records may carry second precision.
		t, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, err
		}
	}
	return t.UTC(), nil
}
