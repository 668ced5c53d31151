package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// DecodeParams bounds and shapes generation.
type DecodeParams struct {
	MaxInputTokens  int
	MaxOutputTokens int
	MinOutputTokens int
	NumBeams        int
	LengthPenalty   float64
	EarlyStopping   bool
}

func DefaultParams() DecodeParams {
	return DecodeParams{
		MaxInputTokens:  512,
		MaxOutputTokens: 100,
		MinOutputTokens: 5,
		NumBeams:        4,
		LengthPenalty:   2.0,
		EarlyStopping:   true,
	}
}

func (p DecodeParams) withDefaults() DecodeParams {
	def := DefaultParams()
	if p.MaxInputTokens <= 0 {
		p.MaxInputTokens = def.MaxInputTokens
	}
	if p.MaxOutputTokens <= 0 {
		p.MaxOutputTokens = def.MaxOutputTokens
	}
	if p.MinOutputTokens < 0 {
		p.MinOutputTokens = 0
	}
	if p.MinOutputTokens > p.MaxOutputTokens {
		p.MinOutputTokens = p.MaxOutputTokens
	}
	if p.NumBeams <= 0 {
		p.NumBeams = def.NumBeams
	}
	if p.LengthPenalty <= 0 {
		p.LengthPenalty = def.LengthPenalty
	}
	return p
}

// Generator is the opaque text generation capability behind the engine.
// Implementations receive normalized, already-truncated text.
type Generator interface {
	Name() string
	Generate(ctx context.Context, text string, p DecodeParams) (string, error)
}

var (
	ErrEmptyInput  = errors.New("summarize: empty input text")
	ErrEmptyOutput = errors.New("summarize: generator produced no text")
)

// EngineFailure is a per-item summarization failure.
type EngineFailure struct {
	Key   string
	Index int
	Err   error
}

func (e *EngineFailure) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("summarize %s (index %d): %v", e.Key, e.Index, e.Err)
	}
	return fmt.Sprintf("summarize: %v", e.Err)
}

func (e *EngineFailure) Unwrap() error { return e.Err }

// Engine turns one issue's text into one short summary.
type Engine struct {
	gen    Generator
	params DecodeParams
}

func NewEngine(gen Generator, params DecodeParams) *Engine {
	if gen == nil {
		gen = BeamGenerator{}
	}
	return &Engine{gen: gen, params: params.withDefaults()}
}

func (e *Engine) Name() string { return e.gen.Name() }

func (e *Engine) Params() DecodeParams { return e.params }

// Summarize normalizes and truncates text, runs the generator and bounds
// the result to MaxOutputTokens. All failures are *EngineFailure.
func (e *Engine) Summarize(ctx context.Context, text string) (string, error) {
	words := strings.Fields(text)
	if !strings.ContainsFunc(text, isWordRune) {
		return "", &EngineFailure{Index: -1, Err: ErrEmptyInput}
	}
	if len(words) > e.params.MaxInputTokens {
		words = words[:e.params.MaxInputTokens]
	}
	out, err := e.gen.Generate(ctx, strings.Join(words, " "), e.params)
	if err != nil {
		return "", &EngineFailure{Index: -1, Err: err}
	}
	outWords := strings.Fields(out)
	if len(outWords) == 0 {
		return "", &EngineFailure{Index: -1, Err: ErrEmptyOutput}
	}
	if len(outWords) > e.params.MaxOutputTokens {
		outWords = outWords[:e.params.MaxOutputTokens]
	}
	return strings.Join(outWords, " "), nil
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Normalize trims text and collapses whitespace runs, newlines included,
// to single spaces.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
