package llm

import (
	"context"
	"strings"
)

// FakeClient returns deterministic output for offline runs and tests:
// the first MaxOutputTokens words of the prompt body after the
// "summarize:" marker.
type FakeClient struct{}

func NewFakeClient() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body := req.Prompt
	if i := strings.LastIndex(strings.ToLower(body), "summarize:"); i >= 0 {
		body = body[i+len("summarize:"):]
	}
	words := strings.Fields(body)
	if len(words) == 0 {
		return "", ErrEmptyResponse
	}
	limit := req.MaxOutputTokens
	if limit <= 0 || limit > 30 {
		limit = 30
	}
	if len(words) > limit {
		words = words[:limit]
	}
	return strings.Join(words, " "), nil
}
