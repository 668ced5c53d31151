package issue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Issue is one input record exported from the issue tracker.
type Issue struct {
	Key              string    `json:"key"`
	Status           string    `json:"status"`
	StatusTag        string    `json:"status_tag"`
	Assignee         string    `json:"assignee"`
	Created          time.Time `json:"created"`
	SummaryClean     string    `json:"summary_clean"`
	DescriptionClean string    `json:"description_clean"`
}

// SummarizedIssue is an Issue enriched with its generated summary.
type SummarizedIssue struct {
	Issue
	SummaryGenerated string `json:"summary_generated"`
}

// CreatedLayout is how Created is rendered in tabular output.
const CreatedLayout = time.RFC3339

var createdLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseCreated accepts the timestamp shapes seen in tracker exports.
func ParseCreated(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range createdLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized created timestamp %q", raw)
}

type issueJSON struct {
	Key              string `json:"key"`
	Status           string `json:"status"`
	StatusTag        string `json:"status_tag"`
	Assignee         string `json:"assignee"`
	Created          string `json:"created"`
	SummaryClean     string `json:"summary_clean"`
	DescriptionClean string `json:"description_clean"`
}

func (i *Issue) UnmarshalJSON(data []byte) error {
	var raw issueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	created, err := ParseCreated(raw.Created)
	if err != nil {
		return fmt.Errorf("issue %s: %w", raw.Key, err)
	}
	*i = Issue{
		Key:              raw.Key,
		Status:           raw.Status,
		StatusTag:        raw.StatusTag,
		Assignee:         raw.Assignee,
		Created:          created,
		SummaryClean:     raw.SummaryClean,
		DescriptionClean: raw.DescriptionClean,
	}
	return nil
}

func (i Issue) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.toJSON())
}

func (i Issue) toJSON() issueJSON {
	created := ""
	if !i.Created.IsZero() {
		created = i.Created.Format(CreatedLayout)
	}
	return issueJSON{
		Key:              i.Key,
		Status:           i.Status,
		StatusTag:        i.StatusTag,
		Assignee:         i.Assignee,
		Created:          created,
		SummaryClean:     i.SummaryClean,
		DescriptionClean: i.DescriptionClean,
	}
}

type summarizedJSON struct {
	issueJSON
	SummaryGenerated string `json:"summary_generated"`
}

// MarshalJSON keeps the flat field layout; the embedded Issue marshaler
// would otherwise be promoted and drop summary_generated.
func (s SummarizedIssue) MarshalJSON() ([]byte, error) {
	return json.Marshal(summarizedJSON{issueJSON: s.Issue.toJSON(), SummaryGenerated: s.SummaryGenerated})
}

func (s *SummarizedIssue) UnmarshalJSON(data []byte) error {
	var base Issue
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	var extra struct {
		SummaryGenerated string `json:"summary_generated"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	s.Issue = base
	s.SummaryGenerated = extra.SummaryGenerated
	return nil
}

// Columns is the tabular column order: Issue fields, then summary_generated.
func Columns() []string {
	return []string{
		"key",
		"status",
		"status_tag",
		"assignee",
		"created",
		"summary_clean",
		"description_clean",
		"summary_generated",
	}
}

// Row renders s in Columns order.
func (s SummarizedIssue) Row() []string {
	created := ""
	if !s.Created.IsZero() {
		created = s.Created.Format(CreatedLayout)
	}
	return []string{
		s.Key,
		s.Status,
		s.StatusTag,
		s.Assignee,
		created,
		s.SummaryClean,
		s.DescriptionClean,
		s.SummaryGenerated,
	}
}

// Text is the engine input for one issue.
func (i Issue) Text() string {
	return i.SummaryClean + ". " + i.DescriptionClean
}
