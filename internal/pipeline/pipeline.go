package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"issuedigest/internal/artifact"
	"issuedigest/internal/issue"
	"issuedigest/internal/manifest"
	"issuedigest/internal/metrics"
	"issuedigest/internal/progress"
	"issuedigest/internal/summarize"
)

// ErrRunInProgress is returned when a run is requested while another is
// still summarizing.
var ErrRunInProgress = errors.New("pipeline run already in progress")

type Options struct {
	Engine summarize.Summarizer
	// Batch is the per-run batch configuration; its Observer, if set,
	// receives progress alongside the hub.
	Batch    summarize.Options
	Writer   *artifact.Writer
	Manifest manifest.Store
	Hub      *progress.Hub
	Metrics  *metrics.Metrics
	Logger   *log.Logger
	Now      func() time.Time
}

// Pipeline runs one batch end to end: summarize, then persist the
// artifact set. It is request driven and keeps no timer of its own.
type Pipeline struct {
	opts    Options
	log     *log.Logger
	running atomic.Bool
}

// Result describes a finished run.
type Result struct {
	Record manifest.Record
	Set    *artifact.Set
	Items  []issue.SummarizedIssue
}

func New(opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.Batch.Logger == nil {
		opts.Batch.Logger = logger
	}
	return &Pipeline{opts: opts, log: logger}
}

// RunFile loads the issue dataset at path and runs it.
func (p *Pipeline) RunFile(ctx context.Context, path string) (*Result, error) {
	issues, err := issue.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, issues)
}

// Run summarizes issues and writes one artifact set. Under the fail-fast
// policy a summarization failure aborts the run before anything is
// written. The returned Result is non-nil whenever a run was started.
func (p *Pipeline) Run(ctx context.Context, issues []issue.Issue) (*Result, error) {
	if err := issue.Validate(issues); err != nil {
		return nil, err
	}
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)

	rec := manifest.Record{
		RunID:      uuid.NewString(),
		StartedAt:  p.opts.Now(),
		IssueCount: len(issues),
	}
	res := &Result{Record: rec}
	p.save(ctx, rec)
	p.opts.Hub.Publish(progress.Event{Type: progress.EventRunStarted, RunID: rec.RunID, Total: len(issues)})
	p.log.Printf("pipeline: run %s started with %d issues", rec.RunID, len(issues))

	obs := &runObserver{metrics: p.opts.Metrics, next: p.opts.Batch.Observer}
	if p.opts.Hub != nil {
		obs.hub = p.opts.Hub.Observer(rec.RunID)
	}
	batchOpts := p.opts.Batch
	batchOpts.Observer = obs

	start := time.Now()
	items, err := summarize.NewBatcher(p.opts.Engine, batchOpts).Run(ctx, issues)
	p.opts.Metrics.ObserveBatch(time.Since(start))
	rec.Failed = obs.failed
	if err != nil {
		var ef *summarize.EngineFailure
		if errors.As(err, &ef) {
			rec.Failed++
			p.opts.Metrics.EngineFailure()
		}
		return p.finish(ctx, res, rec, nil, fmt.Errorf("summarize: %w", err))
	}
	res.Items = items
	for _, it := range items {
		if it.SummaryGenerated != "" {
			p.opts.Metrics.IssueSummarized()
		}
	}

	set, err := p.opts.Writer.Write(ctx, items)
	return p.finish(ctx, res, rec, set, err)
}

// Publish writes an already summarized collection, such as a reviewed
// edit, as a new artifact set. Prior sets are never modified.
func (p *Pipeline) Publish(ctx context.Context, items []issue.SummarizedIssue) (*Result, error) {
	plain := make([]issue.Issue, len(items))
	for i := range items {
		plain[i] = items[i].Issue
	}
	if err := issue.Validate(plain); err != nil {
		return nil, err
	}
	rec := manifest.Record{RunID: uuid.NewString(), StartedAt: p.opts.Now(), IssueCount: len(items)}
	res := &Result{Record: rec, Items: items}
	set, err := p.opts.Writer.Write(ctx, items)
	return p.finish(ctx, res, rec, set, err)
}

func (p *Pipeline) finish(ctx context.Context, res *Result, rec manifest.Record, set *artifact.Set, err error) (*Result, error) {
	rec.FinishedAt = p.opts.Now()
	if set != nil {
		rec.Version = set.Version
		rec.Files = set.FileNames()
		rec.Complete = set.Complete() && err == nil
	}
	if err != nil {
		rec.Error = err.Error()
	}
	res.Record = rec
	res.Set = set
	p.save(ctx, rec)
	p.opts.Metrics.Run(rec.Complete, rec.FinishedAt)

	ev := progress.Event{Type: progress.EventRunFinished, RunID: rec.RunID, Version: rec.Version, Total: rec.IssueCount}
	if err != nil {
		ev.Message = err.Error()
		p.log.Printf("pipeline: run %s failed: %v", rec.RunID, err)
	} else {
		p.log.Printf("pipeline: run %s wrote %s (%d issues, %d failed)", rec.RunID, rec.Version, rec.IssueCount, rec.Failed)
	}
	p.opts.Hub.Publish(ev)
	return res, err
}

// save records rec in the manifest. The manifest is an index only, so a
// failure here is logged and never fails the run.
func (p *Pipeline) save(ctx context.Context, rec manifest.Record) {
	if p.opts.Manifest == nil {
		return
	}
	if err := p.opts.Manifest.Save(context.WithoutCancel(ctx), rec); err != nil {
		p.log.Printf("pipeline: manifest save %s failed: %v", rec.RunID, err)
	}
}

// runObserver counts outcomes and forwards to the hub and any caller
// observer. The batcher serializes its calls.
type runObserver struct {
	metrics *metrics.Metrics
	hub     summarize.Observer
	next    summarize.Observer
	failed  int
}

func (o *runObserver) Progress(done, total int) {
	if o.hub != nil {
		o.hub.Progress(done, total)
	}
	if o.next != nil {
		o.next.Progress(done, total)
	}
}

func (o *runObserver) ItemFailed(index int, key string, err error) {
	o.failed++
	o.metrics.EngineFailure()
	if o.hub != nil {
		o.hub.ItemFailed(index, key, err)
	}
	if o.next != nil {
		o.next.ItemFailed(index, key, err)
	}
}
