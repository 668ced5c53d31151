package audit

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Header is the first line of the CSV log.
var Header = []string{"identity", "format", "timestamp"}

// CSVSink appends events to a CSV file, writing the header only when the
// file is empty. The file is reopened per append, so rotating or
// removing it between events is safe.
type CSVSink struct {
	path string
}

func NewCSVSink(path string) (*CSVSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	return &CSVSink{path: path}, nil
}

func (s *CSVSink) Name() string { return "csv:" + s.path }

func (s *CSVSink) Path() string { return s.path }

func (s *CSVSink) Append(_ context.Context, ev Event) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Write([]string{ev.Identity, ev.Format, ev.Timestamp.Format(TimestampLayout)}); err != nil {
		_ = f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *CSVSink) Close() error { return nil }

// ReadAll parses an audit CSV log. A missing file is an empty log.
// Timestamps are interpreted in loc (time.Local when nil).
func ReadAll(path string, loc *time.Location) ([]Event, error) {
	if loc == nil {
		loc = time.Local
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)
	out := make([]Event, 0, 64)
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read audit log: %w", err)
		}
		if first {
			first = false
			if strings.EqualFold(rec[0], Header[0]) {
				continue
			}
		}
		ts, err := time.ParseInLocation(TimestampLayout, rec[2], loc)
		if err != nil {
			return nil, fmt.Errorf("audit log timestamp %q: %w", rec[2], err)
		}
		out = append(out, Event{Identity: rec[0], Format: rec[1], Timestamp: ts})
	}
	return out, nil
}
