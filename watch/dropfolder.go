package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hammadnadeem/employeekit/descriptor"
)

// ingestedDir is where consumed drop files move. The move is what makes
// Collect idempotent across restarts.
const ingestedDir = ".ingested"

// DropFolder ingests markdown files dropped into a directory. Files may
// carry mail-style header lines before the body:
//
//	Type: invoice
//	Amount: $120.50
//	Counterparty: ACME Corp
//	Recipients: 3
//	Deletes-Data: yes
//
//	Pay the attached invoice by Friday.
//
// Unrecognized files become plain inbox items with the whole content as
// body.
type DropFolder struct {
	dir string
}

// NewDropFolder creates a drop-folder source.
func NewDropFolder(dir string) (*DropFolder, error) {
	if err := os.MkdirAll(filepath.Join(dir, ingestedDir), 0o755); err != nil {
		return nil, fmt.Errorf("watch: create ingested dir: %w", err)
	}
	return &DropFolder{dir: dir}, nil
}

// Name implements Source.
func (f *DropFolder) Name() string {
	return "dropfolder:" + f.dir
}

// Collect turns each dropped file into a descriptor and moves the file
// aside so it is never ingested twice.
func (f *DropFolder) Collect(ctx context.Context) ([]*descriptor.Descriptor, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("watch: read drop folder: %w", err)
	}

	var out []*descriptor.Descriptor
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".md") {
			continue
		}

		path := filepath.Join(f.dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			return out, fmt.Errorf("watch: read %s: %w", name, err)
		}

		d := parseDropFile(name, content)
		if err := os.Rename(path, filepath.Join(f.dir, ingestedDir, name)); err != nil {
			return out, fmt.Errorf("watch: move ingested %s: %w", name, err)
		}
		out = append(out, d)
	}
	return out, nil
}

var headerKeys = map[string]bool{
	"type":         true,
	"summary":      true,
	"amount":       true,
	"counterparty": true,
	"recipients":   true,
	"deletes-data": true,
}

// parseDropFile reads optional header lines and builds a descriptor.
// A file qualifies as headered only if everything before the first
// blank line is recognized "Key: value" lines; anything else makes the
// whole content the body.
func parseDropFile(filename string, content []byte) *descriptor.Descriptor {
	summary := strings.TrimSuffix(filename, ".md")
	summary = strings.ReplaceAll(summary, "_", " ")
	summary = strings.ReplaceAll(summary, "-", " ")

	d := descriptor.New("inbox_item", summary)
	d.Body = content

	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	headerBlock, body, found := strings.Cut(text, "\n\n")
	if !found {
		return d
	}

	type headerLine struct{ key, value string }
	var parsed []headerLine
	for _, line := range strings.Split(headerBlock, "\n") {
		key, value, ok := strings.Cut(line, ":")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok || !headerKeys[key] {
			return d
		}
		parsed = append(parsed, headerLine{key, strings.TrimSpace(value)})
	}

	for _, h := range parsed {
		switch h.key {
		case "type":
			d.Type = h.value
		case "summary":
			d.Summary = h.value
		case "amount":
			if amount, err := parseAmount(h.value); err == nil {
				d.Amount = amount
			}
		case "counterparty":
			d.Counterparty = h.value
		case "recipients":
			if n, err := strconv.Atoi(h.value); err == nil {
				d.Recipients = n
			}
		case "deletes-data":
			d.DeletesData = strings.EqualFold(h.value, "yes") || strings.EqualFold(h.value, "true")
		}
	}
	d.Body = []byte(body)
	return d
}

func parseAmount(value string) (float64, error) {
	value = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "$"))
	value = strings.ReplaceAll(value, ",", "")
	return strconv.ParseFloat(value, 64)
}
