package llm

import (
	"context"
	"errors"
)

// Request is one text-to-text generation call.
type Request struct {
	Prompt          string
	MaxOutputTokens int
}

// LLMClient is a text generation backend. Implementations must be
// deterministic for identical requests (no sampling).
type LLMClient interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
	Close() error
}

var ErrEmptyResponse = errors.New("llm: empty response from model")

// PermanentError marks failures that retrying cannot fix (bad request,
// auth, unsupported model).
type PermanentError struct {
	Err error
}

func NewPermanentError(err error) *PermanentError {
	return &PermanentError{Err: err}
}

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "llm: permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

type ctxKeyItem struct{}
type ctxKeyHook struct{}

// WithItem tags ctx with the record being processed, for logs and hooks.
func WithItem(ctx context.Context, item string) context.Context {
	return context.WithValue(ctx, ctxKeyItem{}, item)
}

// ItemFrom returns the item tag stored in ctx.
func ItemFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyItem{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// PromptHook observes requests around a Generate call.
type PromptHook interface {
	Before(ctx context.Context, item string, req Request)
	After(ctx context.Context, item string, out string, err error)
}

// WithHook attaches a PromptHook to ctx; see WithHooks.
func WithHook(ctx context.Context, hook PromptHook) context.Context {
	return context.WithValue(ctx, ctxKeyHook{}, hook)
}

// HookFrom returns the hook stored in ctx, or nil.
func HookFrom(ctx context.Context) PromptHook {
	if h, ok := ctx.Value(ctxKeyHook{}).(PromptHook); ok {
		return h
	}
	return nil
}
