package artifact

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"issuedigest/internal/issue"
)

// EncodeOptions carries what the document encoding needs beyond the rows.
type EncodeOptions struct {
	Title       string
	GeneratedAt time.Time
}

// Encode renders items in format f.
func Encode(f Format, items []issue.SummarizedIssue, opts EncodeOptions) ([]byte, error) {
	switch f {
	case JSON:
		return EncodeJSON(items)
	case CSV:
		return EncodeCSV(items)
	case PDF:
		return EncodePDF(items, opts)
	}
	return nil, fmt.Errorf("unsupported artifact format %q", f)
}

// EncodeJSON writes an indented JSON array; an empty batch is "[]".
func EncodeJSON(items []issue.SummarizedIssue) ([]byte, error) {
	if items == nil {
		items = []issue.SummarizedIssue{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(items); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeCSV writes the Columns header and one row per item.
func EncodeCSV(items []issue.SummarizedIssue) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(issue.Columns()); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	for _, it := range items {
		if err := w.Write(it.Row()); err != nil {
			return nil, fmt.Errorf("encode csv %s: %w", it.Key, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}
