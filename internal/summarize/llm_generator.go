package summarize

import (
	"context"
	"fmt"

	"issuedigest/internal/llm"
)

// LLMGenerator delegates generation to a remote or fake LLM client.
// MinOutputTokens is passed as an instruction; the engine still enforces
// the upper bound on whatever comes back.
type LLMGenerator struct {
	client llm.LLMClient
}

func NewLLMGenerator(client llm.LLMClient) *LLMGenerator {
	return &LLMGenerator{client: client}
}

func (g *LLMGenerator) Name() string { return g.client.Name() }

func (g *LLMGenerator) Generate(ctx context.Context, text string, p DecodeParams) (string, error) {
	prompt := fmt.Sprintf(
		"Summarize the following issue-tracker record in one or two concise sentences, "+
			"between %d and %d words. Reply with the summary text only.\n\nsummarize: %s",
		p.MinOutputTokens, p.MaxOutputTokens, text,
	)
	// Model tokens run shorter than words; leave headroom so the engine's
	// word bound is what trims the output.
	return g.client.Generate(ctx, llm.Request{Prompt: prompt, MaxOutputTokens: p.MaxOutputTokens * 2})
}
