package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"issuedigest/internal/config"
	"issuedigest/internal/llm"
	"issuedigest/internal/metrics"
	"issuedigest/internal/summarize"
)

func decodeParams(s config.SummarizerConfig) summarize.DecodeParams {
	p := summarize.DefaultParams()
	if s.MaxInputTokens > 0 {
		p.MaxInputTokens = s.MaxInputTokens
	}
	if s.MaxOutputTokens > 0 {
		p.MaxOutputTokens = s.MaxOutputTokens
	}
	if s.MinOutputTokens > 0 {
		p.MinOutputTokens = s.MinOutputTokens
	}
	if s.NumBeams > 0 {
		p.NumBeams = s.NumBeams
	}
	if s.LengthPenalty > 0 {
		p.LengthPenalty = s.LengthPenalty
	}
	return p
}

// newEngine builds the summarization engine for the configured provider.
// The returned client is nil for the local beam generator.
func newEngine(ctx context.Context, s config.SummarizerConfig, m *metrics.Metrics, logger *log.Logger) (*summarize.Engine, llm.LLMClient, error) {
	params := decodeParams(s)

	var (
		inner  llm.LLMClient
		prefix string
	)
	switch s.Provider {
	case "", "beam":
		return summarize.NewEngine(summarize.BeamGenerator{}, params), nil, nil
	case "fake":
		inner = llm.NewFakeClient()
	case "gemini":
		c, err := llm.NewGeminiClient(ctx, s.APIKey, s.Model)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini client: %w", err)
		}
		inner, prefix = c, "GEMINI"
	case "groq":
		inner, prefix = llm.NewGroqClient(s.APIKey, s.Model), "GROQ"
	default:
		return nil, nil, fmt.Errorf("unknown summarizer provider %q", s.Provider)
	}

	client := llm.Wrap(inner,
		llm.RateLimitFromEnv(m.LimiterWait, "LLM", prefix),
		llm.Retry(3, 500*time.Millisecond),
		llm.WithLogging(logger),
		llm.WithHooks(),
	)
	logger.Printf("summarizer: %s", client.Name())
	return summarize.NewEngine(summarize.NewLLMGenerator(client), params), client, nil
}
