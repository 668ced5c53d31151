package issue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var ErrDuplicateKey = errors.New("duplicate issue key")

// Decode reads a JSON array of issues. Keys must be non-empty and unique.
func Decode(r io.Reader) ([]Issue, error) {
	var out []Issue
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode issues: %w", err)
	}
	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadFile reads a fully materialized issue dataset from path.
func LoadFile(path string) ([]Issue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open issues: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Validate checks the per-batch key invariants.
func Validate(items []Issue) error {
	seen := make(map[string]int, len(items))
	for i, it := range items {
		key := strings.TrimSpace(it.Key)
		if key == "" {
			return fmt.Errorf("issue at index %d: key is required", i)
		}
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%w: %s (index %d and %d)", ErrDuplicateKey, key, prev, i)
		}
		seen[key] = i
	}
	return nil
}

// DecodeSummarized reads a JSON array of summarized issues.
func DecodeSummarized(r io.Reader) ([]SummarizedIssue, error) {
	var out []SummarizedIssue
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode summarized issues: %w", err)
	}
	plain := make([]Issue, len(out))
	for i := range out {
		plain[i] = out[i].Issue
	}
	if err := Validate(plain); err != nil {
		return nil, err
	}
	return out, nil
}
