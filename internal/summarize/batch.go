package summarize

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"issuedigest/internal/issue"
	"issuedigest/internal/llm"
)

// Policy decides what a per-item EngineFailure does to the batch.
type Policy int

const (
	// FailFast aborts the whole batch on the first failure.
	FailFast Policy = iota
	// SkipWithPlaceholder leaves summary_generated empty and continues.
	SkipWithPlaceholder
)

func (p Policy) String() string {
	switch p {
	case SkipWithPlaceholder:
		return "skip"
	default:
		return "fail-fast"
	}
}

func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "fail-fast", "failfast", "abort":
		return FailFast, nil
	case "skip", "skip-with-placeholder", "placeholder":
		return SkipWithPlaceholder, nil
	}
	return FailFast, fmt.Errorf("unknown failure policy %q", raw)
}

// Observer receives progress as a side channel. Calls are serialized.
type Observer interface {
	Progress(done, total int)
	ItemFailed(index int, key string, err error)
}

// Summarizer is satisfied by *Engine.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type Options struct {
	Policy      Policy
	Concurrency int
	// ItemTimeout bounds one engine call; expiry is an EngineFailure.
	ItemTimeout time.Duration
	Observer    Observer
	Logger      *log.Logger
}

// Batcher summarizes a batch of issues, preserving input order.
type Batcher struct {
	engine Summarizer
	opts   Options
	log    *log.Logger
}

func NewBatcher(engine Summarizer, opts Options) *Batcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Batcher{engine: engine, opts: opts, log: logger}
}

// Run returns one SummarizedIssue per input, at the same position. The
// input slice is not modified. Under FailFast the failure with the lowest
// input index is returned with no output, whatever order items finish in;
// under SkipWithPlaceholder failures are reported to the Observer and the
// item keeps an empty summary.
func (b *Batcher) Run(ctx context.Context, issues []issue.Issue) ([]issue.SummarizedIssue, error) {
	total := len(issues)
	out := make([]issue.SummarizedIssue, total)
	if total == 0 {
		return out, nil
	}

	var (
		mu   sync.Mutex
		done int
	)
	report := func(index int, key string, failure error) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if b.opts.Observer == nil {
			return
		}
		if failure != nil {
			b.opts.Observer.ItemFailed(index, key, failure)
		}
		b.opts.Observer.Progress(done, total)
	}

	first := newFirstFailure(total)
	var g errgroup.Group
	g.SetLimit(b.opts.Concurrency)
	for i := range issues {
		it := issues[i]
		index := i
		g.Go(func() error {
			itemCtx, finish, ok := first.begin(ctx, index)
			if !ok {
				return nil
			}
			defer finish()
			summary, err := b.summarizeOne(itemCtx, index, it)
			if err == nil {
				out[index] = issue.SummarizedIssue{Issue: it, SummaryGenerated: summary}
				report(index, it.Key, nil)
				return nil
			}
			if b.opts.Policy == SkipWithPlaceholder && ctx.Err() == nil {
				b.log.Printf("summarize: skipping %s: %v", it.Key, err)
				out[index] = issue.SummarizedIssue{Issue: it}
				report(index, it.Key, err)
				return nil
			}
			first.fail(index, err)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := first.result(); err != nil {
		return nil, err
	}
	return out, nil
}

// firstFailure keeps the lowest-index failure of a batch. A failure at
// index i cancels only items after i; items before it still run, since
// one of them may fail too and take precedence.
type firstFailure struct {
	mu      sync.Mutex
	index   int
	err     error
	cancels map[int]context.CancelFunc
}

func newFirstFailure(total int) *firstFailure {
	return &firstFailure{index: total, cancels: map[int]context.CancelFunc{}}
}

// begin reports false once a lower-index item has failed.
func (f *firstFailure) begin(parent context.Context, index int) (context.Context, func(), bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index > f.index {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	f.cancels[index] = cancel
	return ctx, func() {
		f.mu.Lock()
		delete(f.cancels, index)
		f.mu.Unlock()
		cancel()
	}, true
}

func (f *firstFailure) fail(index int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index >= f.index {
		return
	}
	f.index, f.err = index, err
	for i, cancel := range f.cancels {
		if i > index {
			cancel()
		}
	}
}

func (f *firstFailure) result() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (b *Batcher) summarizeOne(ctx context.Context, index int, it issue.Issue) (string, error) {
	itemCtx := llm.WithItem(ctx, it.Key)
	if b.opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(itemCtx, b.opts.ItemTimeout)
		defer cancel()
	}
	summary, err := b.engine.Summarize(itemCtx, it.Text())
	if err == nil {
		return summary, nil
	}
	var ef *EngineFailure
	if errors.As(err, &ef) {
		return "", &EngineFailure{Key: it.Key, Index: index, Err: ef.Err}
	}
	return "", &EngineFailure{Key: it.Key, Index: index, Err: err}
}
