// Package audit keeps the durable journal of exceptional lifecycle
// events: escalations, quarantines, policy violations, human decisions.
// Records are indexed with Bleve so an operator can answer "what
// happened to task X" and "show me every policy violation this week"
// without replaying descriptor history files.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"
)

// Record kinds.
const (
	KindEscalation      = "escalation"
	KindQuarantine      = "quarantine"
	KindPolicyViolation = "policy_violation"
	KindDecision        = "decision"
	KindRetry           = "retry"
)

// Record is one journal entry.
type Record struct {
	ID           string            `json:"id"`
	DescriptorID string            `json:"descriptor_id"`
	Kind         string            `json:"kind"`
	Severity     string            `json:"severity"`
	Actor        string            `json:"actor,omitempty"`
	Summary      string            `json:"summary"`
	Reason       string            `json:"reason,omitempty"`
	At           time.Time         `json:"at"`
	Details      map[string]string `json:"details,omitempty"`
}

// NewRecord creates a record with a generated ID and timestamp.
func NewRecord(descriptorID, kind, severity, summary string) Record {
	return Record{
		ID:           uuid.NewString(),
		DescriptorID: descriptorID,
		Kind:         kind,
		Severity:     severity,
		Summary:      summary,
		At:           time.Now().UTC(),
	}
}

// recordDocument is the indexed shape of a Record. Details are carried
// as a JSON blob; they are for display, not search.
type recordDocument struct {
	ID           string    `json:"id"`
	DescriptorID string    `json:"descriptor_id"`
	Kind         string    `json:"kind"`
	Severity     string    `json:"severity"`
	Actor        string    `json:"actor"`
	Summary      string    `json:"summary"`
	Reason       string    `json:"reason"`
	At           time.Time `json:"at"`
	Details      string    `json:"details"`
}

// Journal is a Bleve-backed audit log. Every record is also written as
// a standalone markdown file next to the index, so the trail stays
// readable without any tooling.
type Journal struct {
	mu    sync.RWMutex
	index bleve.Index
	dir   string
}

// Open opens or creates a journal under dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create journal directory: %w", err)
	}

	indexPath := filepath.Join(dir, "journal.bleve")

	var index bleve.Index
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("audit: create index: %w", err)
		}
	} else {
		index, err = bleve.Open(indexPath)
		if err != nil {
			return nil, fmt.Errorf("audit: open index: %w", err)
		}
	}

	return &Journal{index: index, dir: dir}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name

	keywordField := bleve.NewKeywordFieldMapping()
	dateField := bleve.NewDateTimeFieldMapping()

	storedOnly := bleve.NewKeywordFieldMapping()
	storedOnly.Index = false

	doc.AddFieldMappingsAt("summary", textField)
	doc.AddFieldMappingsAt("reason", textField)
	doc.AddFieldMappingsAt("id", keywordField)
	doc.AddFieldMappingsAt("descriptor_id", keywordField)
	doc.AddFieldMappingsAt("kind", keywordField)
	doc.AddFieldMappingsAt("severity", keywordField)
	doc.AddFieldMappingsAt("actor", keywordField)
	doc.AddFieldMappingsAt("at", dateField)
	doc.AddFieldMappingsAt("details", storedOnly)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	return im
}

// Append writes a record to the journal. Records with no ID get one.
func (j *Journal) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	doc := recordDocument{
		ID:           rec.ID,
		DescriptorID: rec.DescriptorID,
		Kind:         rec.Kind,
		Severity:     rec.Severity,
		Actor:        rec.Actor,
		Summary:      rec.Summary,
		Reason:       rec.Reason,
		At:           rec.At,
	}
	if len(rec.Details) > 0 {
		blob, err := json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("audit: encode details: %w", err)
		}
		doc.Details = string(blob)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writeRecordFile(rec); err != nil {
		return err
	}
	if err := j.index.Index(rec.ID, doc); err != nil {
		return fmt.Errorf("audit: index record: %w", err)
	}
	return nil
}

// writeRecordFile renders the record as a small markdown note.
func (j *Journal) writeRecordFile(rec Record) error {
	name := fmt.Sprintf("%s-%s-%.8s.md", rec.At.Format("20060102T150405"), rec.Kind, rec.ID)

	var b []byte
	b = fmt.Appendf(b, "# %s: %s\n\n", rec.Kind, rec.Summary)
	b = fmt.Appendf(b, "- id: %s\n- descriptor: %s\n- severity: %s\n- at: %s\n",
		rec.ID, rec.DescriptorID, rec.Severity, rec.At.Format(time.RFC3339))
	if rec.Actor != "" {
		b = fmt.Appendf(b, "- actor: %s\n", rec.Actor)
	}
	if rec.Reason != "" {
		b = fmt.Appendf(b, "\n%s\n", rec.Reason)
	}
	for key, value := range rec.Details {
		b = fmt.Appendf(b, "- %s: %s\n", key, value)
	}

	if err := os.WriteFile(filepath.Join(j.dir, name), b, 0o644); err != nil {
		return fmt.Errorf("audit: write record file: %w", err)
	}
	return nil
}

var recordFields = []string{"id", "descriptor_id", "kind", "severity", "actor", "summary", "reason", "at", "details"}

// Search performs full-text search over summaries and reasons.
func (j *Journal) Search(ctx context.Context, queryText string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(queryText))
	req.Size = limit
	req.Fields = recordFields

	return j.run(req)
}

// ForDescriptor returns every journal record about one descriptor,
// oldest first.
func (j *Journal) ForDescriptor(ctx context.Context, descriptorID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	q := bleve.NewTermQuery(descriptorID)
	q.SetField("descriptor_id")

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = recordFields
	req.SortBy([]string{"at"})

	return j.run(req)
}

// ByKind returns recent records of one kind, newest first.
func (j *Journal) ByKind(ctx context.Context, kind string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	q := bleve.NewTermQuery(kind)
	q.SetField("kind")

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = recordFields
	req.SortBy([]string{"-at"})

	return j.run(req)
}

func (j *Journal) run(req *bleve.SearchRequest) ([]Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	result, err := j.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("audit: search: %w", err)
	}

	records := make([]Record, 0, len(result.Hits))
	for _, hit := range result.Hits {
		records = append(records, hitToRecord(hit.Fields))
	}
	return records, nil
}

func hitToRecord(fields map[string]interface{}) Record {
	str := func(key string) string {
		if v, ok := fields[key].(string); ok {
			return v
		}
		return ""
	}

	rec := Record{
		ID:           str("id"),
		DescriptorID: str("descriptor_id"),
		Kind:         str("kind"),
		Severity:     str("severity"),
		Actor:        str("actor"),
		Summary:      str("summary"),
		Reason:       str("reason"),
	}
	if at := str("at"); at != "" {
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			rec.At = t.UTC()
		}
	}
	if blob := str("details"); blob != "" {
		var details map[string]string
		if err := json.Unmarshal([]byte(blob), &details); err == nil {
			rec.Details = details
		}
	}
	return rec
}

// Count returns the total number of journal records.
func (j *Journal) Count() (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.index.DocCount()
}

// Close closes the underlying index.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.index.Close()
}
