package artifact

import (
	"fmt"
	"strings"
)

// Format is one artifact encoding. Its value doubles as the file extension.
type Format string

const (
	JSON Format = "json"
	CSV  Format = "csv"
	PDF  Format = "pdf"
)

// Formats lists every format in the order the writer persists them.
func Formats() []Format { return []Format{JSON, CSV, PDF} }

// ParseFormat accepts an extension or the structured/tabular/document
// aliases, case-insensitively.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "json", "structured":
		return JSON, nil
	case "csv", "tabular":
		return CSV, nil
	case "pdf", "document":
		return PDF, nil
	}
	return "", fmt.Errorf("unsupported artifact format %q", raw)
}

func (f Format) Ext() string { return string(f) }

func (f Format) ContentType() string {
	switch f {
	case JSON:
		return "application/json"
	case CSV:
		return "text/csv; charset=utf-8"
	case PDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

func (f Format) valid() bool {
	return f == JSON || f == CSV || f == PDF
}
