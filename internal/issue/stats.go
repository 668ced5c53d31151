package issue

import (
	"fmt"
	"strings"
)

// StatusStats is the per-status breakdown shown above the report table.
type StatusStats struct {
	Total      int `json:"total"`
	Done       int `json:"done"`
	InProgress int `json:"in_progress"`
	ToDo       int `json:"to_do"`
	Other      int `json:"other"`
}

func Stats(items []SummarizedIssue) StatusStats {
	st := StatusStats{Total: len(items)}
	for _, it := range items {
		switch strings.ToLower(strings.TrimSpace(it.Status)) {
		case "done":
			st.Done++
		case "in progress":
			st.InProgress++
		case "to do":
			st.ToDo++
		default:
			st.Other++
		}
	}
	return st
}

func (s StatusStats) String() string {
	return fmt.Sprintf("Total: %d issues, Done: %d, In Progress: %d, To Do: %d", s.Total, s.Done, s.InProgress, s.ToDo)
}
