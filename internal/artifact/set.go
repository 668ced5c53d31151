package artifact

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Set is the group of artifact files produced by one Write, sharing one
// version token.
type Set struct {
	Version   string            `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	Files     map[Format]string `json:"files"`
	Written   map[Format]bool   `json:"written"`
	Sizes     map[Format]int    `json:"sizes,omitempty"`
}

func newSet(version string, at time.Time) *Set {
	return &Set{
		Version:   version,
		CreatedAt: at,
		Files:     map[Format]string{},
		Written:   map[Format]bool{},
		Sizes:     map[Format]int{},
	}
}

// Complete reports whether every format was persisted.
func (s *Set) Complete() bool {
	if s == nil {
		return false
	}
	for _, f := range Formats() {
		if !s.Written[f] {
			return false
		}
	}
	return true
}

// FileNames maps format to file name for written members only.
func (s *Set) FileNames() map[string]string {
	out := map[string]string{}
	if s == nil {
		return out
	}
	for f, name := range s.Files {
		if s.Written[f] {
			out[string(f)] = name
		}
	}
	return out
}

// WriteError reports a failed Write. Written lists the members saved
// before the failure; Leftover lists those the rollback could not remove.
type WriteError struct {
	Version  string
	Written  []Format
	Failed   map[Format]error
	Leftover []Format
}

func (e *WriteError) Error() string {
	formats := make([]string, 0, len(e.Failed))
	for f := range e.Failed {
		formats = append(formats, string(f))
	}
	sort.Strings(formats)
	parts := make([]string, 0, len(formats))
	for _, f := range formats {
		parts = append(parts, fmt.Sprintf("%s: %v", f, e.Failed[Format(f)]))
	}
	msg := fmt.Sprintf("write artifact set %s: %s", e.Version, strings.Join(parts, "; "))
	if len(e.Leftover) > 0 {
		left := make([]string, 0, len(e.Leftover))
		for _, f := range e.Leftover {
			left = append(left, string(f))
		}
		msg += " (rollback left " + strings.Join(left, ", ") + ")"
	}
	return msg
}

func (e *WriteError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, f := range Formats() {
		if err, ok := e.Failed[f]; ok {
			out = append(out, err)
		}
	}
	return out
}

var (
	ErrNotFound          = errors.New("artifact not found")
	ErrSequenceExhausted = errors.New("artifact sequence exhausted for this minute")
)
