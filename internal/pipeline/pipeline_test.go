package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuedigest/internal/artifact"
	"issuedigest/internal/issue"
	"issuedigest/internal/manifest"
	"issuedigest/internal/metrics"
	"issuedigest/internal/progress"
	"issuedigest/internal/storage"
	"issuedigest/internal/summarize"
)

var quiet = log.New(io.Discard, "", 0)

// clock is a settable time source shared by writer and pipeline.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	store    *storage.DiskStore
	clock    *clock
	manifest *manifest.SQLStore
	hub      *progress.Hub
	pipeline *Pipeline
	resolver *artifact.Resolver
}

func newFixture(t *testing.T, engine summarize.Summarizer, policy summarize.Policy) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewDiskStore(filepath.Join(dir, "downloads"))
	require.NoError(t, err)
	mf, err := manifest.OpenSQLite(context.Background(), filepath.Join(dir, "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mf.Close() })

	c := &clock{t: time.Date(2025, 7, 7, 10, 30, 0, 0, time.Local)}
	m := metrics.New()
	hub := progress.NewHub()
	w := artifact.NewWriter(store, artifact.WriterOptions{Now: c.Now, Logger: quiet, Metrics: m})
	p := New(Options{
		Engine:   engine,
		Batch:    summarize.Options{Policy: policy, Concurrency: 2},
		Writer:   w,
		Manifest: mf,
		Hub:      hub,
		Metrics:  m,
		Logger:   quiet,
		Now:      c.Now,
	})
	return &fixture{store: store, clock: c, manifest: mf, hub: hub, pipeline: p, resolver: artifact.NewResolver(store, "", m)}
}

func beamEngine() *summarize.Engine {
	return summarize.NewEngine(summarize.BeamGenerator{}, summarize.DefaultParams())
}

func loginIssue() []issue.Issue {
	return []issue.Issue{{
		Key:              "A-1",
		Status:           "To Do",
		SummaryClean:     "Bug in login",
		DescriptionClean: "Users cannot log in after update",
	}}
}

func TestSingleIssueProducesSynchronizedSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, beamEngine(), summarize.FailFast)

	res, err := f.pipeline.Run(ctx, loginIssue())
	require.NoError(t, err)
	require.True(t, res.Set.Complete())
	require.Len(t, res.Items, 1)
	assert.Equal(t, "A-1", res.Items[0].Key)
	assert.NotEmpty(t, res.Items[0].SummaryGenerated)

	for _, format := range artifact.Formats() {
		name, err := f.resolver.Resolve(ctx, format)
		require.NoError(t, err)
		assert.Equal(t, "summary_2025-07-07_10-30."+format.Ext(), name)
	}

	raw, err := f.store.Get(ctx, res.Set.Files[artifact.JSON])
	require.NoError(t, err)
	var decoded []issue.SummarizedIssue
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, res.Items[0].SummaryGenerated, decoded[0].SummaryGenerated)

	rec, err := f.manifest.Get(ctx, res.Record.RunID)
	require.NoError(t, err)
	assert.True(t, rec.Complete)
	assert.Equal(t, "2025-07-07_10-30", rec.Version)
	assert.Equal(t, 1, rec.IssueCount)
}

func TestSecondRunIsResolvedAsLatest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, beamEngine(), summarize.FailFast)

	first, err := f.pipeline.Run(ctx, loginIssue())
	require.NoError(t, err)
	f.clock.Set(time.Date(2025, 7, 7, 10, 31, 0, 0, time.Local))
	second, err := f.pipeline.Run(ctx, loginIssue())
	require.NoError(t, err)
	require.NotEqual(t, first.Set.Version, second.Set.Version)

	for _, format := range artifact.Formats() {
		name, err := f.resolver.Resolve(ctx, format)
		require.NoError(t, err)
		assert.Equal(t, second.Set.Files[format], name)
	}
	// Prior artifacts remain in place.
	for _, name := range first.Set.Files {
		_, err := os.Stat(filepath.Join(f.store.Root(), name))
		assert.NoError(t, err)
	}

	recs, err := f.manifest.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestSameMinuteRunsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, beamEngine(), summarize.FailFast)

	first, err := f.pipeline.Run(ctx, loginIssue())
	require.NoError(t, err)
	second, err := f.pipeline.Run(ctx, loginIssue())
	require.NoError(t, err)
	assert.Equal(t, "2025-07-07_10-30", first.Set.Version)
	assert.Equal(t, "2025-07-07_10-30_01", second.Set.Version)

	name, err := f.resolver.Resolve(ctx, artifact.PDF)
	require.NoError(t, err)
	assert.Equal(t, second.Set.Files[artifact.PDF], name)
}

// failingEngine fails for texts containing marker.
type failingEngine struct {
	marker string
	block  chan struct{}
}

func (e *failingEngine) Summarize(ctx context.Context, text string) (string, error) {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if e.marker != "" && strings.Contains(text, e.marker) {
		return "", &summarize.EngineFailure{Index: -1, Err: errors.New("model refused")}
	}
	return "ok " + strings.Fields(text)[0], nil
}

func twoIssues() []issue.Issue {
	return []issue.Issue{
		{Key: "B-1", Status: "Done", SummaryClean: "Fine", DescriptionClean: "all good"},
		{Key: "B-2", Status: "To Do", SummaryClean: "Broken", DescriptionClean: "POISON text"},
	}
}

func TestFailFastWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &failingEngine{marker: "POISON"}, summarize.FailFast)

	res, err := f.pipeline.Run(ctx, twoIssues())
	require.Error(t, err)
	var ef *summarize.EngineFailure
	require.ErrorAs(t, err, &ef)
	assert.Equal(t, "B-2", ef.Key)

	names, lerr := f.store.List(ctx)
	require.NoError(t, lerr)
	assert.Empty(t, names)

	require.NotNil(t, res)
	assert.False(t, res.Record.Complete)
	rec, gerr := f.manifest.Get(ctx, res.Record.RunID)
	require.NoError(t, gerr)
	assert.Contains(t, rec.Error, "model refused")
	assert.Equal(t, 1, rec.Failed)
}

func TestSkipPolicyWritesPlaceholder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &failingEngine{marker: "POISON"}, summarize.SkipWithPlaceholder)

	sub, cancel := f.hub.Subscribe(ctx)
	defer cancel()

	res, err := f.pipeline.Run(ctx, twoIssues())
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "ok Fine.", res.Items[0].SummaryGenerated)
	assert.Equal(t, "", res.Items[1].SummaryGenerated)
	assert.Equal(t, 1, res.Record.Failed)
	assert.True(t, res.Set.Complete())

	var types []string
	for len(sub) > 0 {
		types = append(types, (<-sub).Type)
	}
	assert.Contains(t, types, progress.EventRunStarted)
	assert.Contains(t, types, progress.EventItemFailed)
	assert.Contains(t, types, progress.EventRunFinished)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	ctx := context.Background()
	block := make(chan struct{})
	f := newFixture(t, &failingEngine{block: block}, summarize.FailFast)

	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.Run(ctx, loginIssue())
		done <- err
	}()
	require.Eventually(t, func() bool { return f.pipeline.running.Load() }, 2*time.Second, 5*time.Millisecond)

	_, err := f.pipeline.Run(ctx, loginIssue())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(block)
	require.NoError(t, <-done)
}

func TestDuplicateKeysRejectedBeforeRun(t *testing.T) {
	f := newFixture(t, beamEngine(), summarize.FailFast)
	in := append(loginIssue(), loginIssue()...)
	_, err := f.pipeline.Run(context.Background(), in)
	assert.ErrorIs(t, err, issue.ErrDuplicateKey)
}

func TestPublishWritesNewSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, beamEngine(), summarize.FailFast)
	first, err := f.pipeline.Run(ctx, loginIssue())
	require.NoError(t, err)

	edited := append([]issue.SummarizedIssue(nil), first.Items...)
	edited[0].SummaryGenerated = "Login broken after update."
	res, err := f.pipeline.Publish(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, "2025-07-07_10-30_01", res.Set.Version)

	name, err := f.resolver.Resolve(ctx, artifact.JSON)
	require.NoError(t, err)
	raw, err := f.store.Get(ctx, name)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Login broken after update.")
}

func TestRunFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, beamEngine(), summarize.FailFast)
	path := filepath.Join(t.TempDir(), "issues.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"key":"A-1","status":"To Do","status_tag":"todo","assignee":"dana","created":"2025-07-01T09:00:00.000+0000","summary_clean":"Bug in login","description_clean":"Users cannot log in after update"}]`), 0o644))

	res, err := f.pipeline.RunFile(ctx, path)
	require.NoError(t, err)
	assert.True(t, res.Set.Complete())
	assert.Equal(t, "dana", res.Items[0].Assignee)
}
