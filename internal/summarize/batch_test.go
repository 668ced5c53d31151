package summarize

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuedigest/internal/issue"
	"issuedigest/internal/llm"
)

// scriptedEngine fails for listed texts and otherwise returns the first word.
type scriptedEngine struct {
	failOn map[string]error
	delay  func(text string) time.Duration
	mu     sync.Mutex
	items  []string
}

func (e *scriptedEngine) Summarize(ctx context.Context, text string) (string, error) {
	e.mu.Lock()
	e.items = append(e.items, llm.ItemFrom(ctx))
	e.mu.Unlock()
	if e.delay != nil {
		select {
		case <-time.After(e.delay(text)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	for prefix, err := range e.failOn {
		if strings.HasPrefix(text, prefix) {
			return "", &EngineFailure{Index: -1, Err: err}
		}
	}
	return "sum " + strings.Fields(text)[0], nil
}

type recordingObserver struct {
	mu       sync.Mutex
	progress [][2]int
	failed   []int
	keys     []string
}

func (o *recordingObserver) Progress(done, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, [2]int{done, total})
}

func (o *recordingObserver) ItemFailed(index int, key string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, index)
	o.keys = append(o.keys, key)
}

func sample(keys ...string) []issue.Issue {
	out := make([]issue.Issue, 0, len(keys))
	for _, k := range keys {
		out = append(out, issue.Issue{
			Key:              k,
			Status:           "To Do",
			SummaryClean:     k + "-title",
			DescriptionClean: "details for " + k,
		})
	}
	return out
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestBatcherPreservesOrderUnderConcurrency(t *testing.T) {
	keys := []string{"A-1", "A-2", "A-3", "A-4", "A-5", "A-6", "A-7", "A-8"}
	input := sample(keys...)
	before := append([]issue.Issue(nil), input...)

	eng := &scriptedEngine{delay: func(text string) time.Duration {
		// Earlier items finish later.
		n := int(text[2] - '0')
		return time.Duration(10-n) * time.Millisecond
	}}
	obs := &recordingObserver{}
	b := NewBatcher(eng, Options{Concurrency: 4, Observer: obs, Logger: quietLogger()})

	out, err := b.Run(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, out, len(input))
	for i, it := range out {
		assert.Equal(t, keys[i], it.Key)
		assert.Equal(t, "sum "+keys[i]+"-title.", it.SummaryGenerated)
	}
	assert.Equal(t, before, input)

	require.Len(t, obs.progress, len(keys))
	for i, p := range obs.progress {
		assert.Equal(t, [2]int{i + 1, len(keys)}, p)
	}
	assert.ElementsMatch(t, keys, eng.items)
}

func TestBatcherEmptyInput(t *testing.T) {
	b := NewBatcher(&scriptedEngine{}, Options{})
	out, err := b.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBatcherFailFastReturnsEngineFailure(t *testing.T) {
	boom := errors.New("generator exploded")
	eng := &scriptedEngine{failOn: map[string]error{"B-2": boom}}
	b := NewBatcher(eng, Options{Policy: FailFast, Logger: quietLogger()})

	out, err := b.Run(context.Background(), sample("B-1", "B-2", "B-3"))
	require.Error(t, err)
	assert.Nil(t, out)

	var ef *EngineFailure
	require.ErrorAs(t, err, &ef)
	assert.Equal(t, "B-2", ef.Key)
	assert.Equal(t, 1, ef.Index)
	assert.ErrorIs(t, err, boom)
}

func TestBatcherFailFastReportsLowestIndexUnderConcurrency(t *testing.T) {
	early := errors.New("early item failed")
	late := errors.New("late item failed")
	eng := &scriptedEngine{
		failOn: map[string]error{"D-1": early, "D-3": late},
		delay: func(text string) time.Duration {
			switch {
			case strings.HasPrefix(text, "D-1"):
				return 50 * time.Millisecond
			case strings.HasPrefix(text, "D-2"):
				return time.Second
			}
			return 0
		},
	}
	b := NewBatcher(eng, Options{Policy: FailFast, Concurrency: 3, Logger: quietLogger()})

	for i := 0; i < 3; i++ {
		started := time.Now()
		out, err := b.Run(context.Background(), sample("D-1", "D-2", "D-3"))
		assert.Nil(t, out)

		var ef *EngineFailure
		require.ErrorAs(t, err, &ef)
		assert.Equal(t, "D-1", ef.Key)
		assert.Equal(t, 0, ef.Index)
		assert.ErrorIs(t, err, early)
		assert.Less(t, time.Since(started), time.Second, "items after the failure are cancelled")
	}
}

func TestBatcherSkipWithPlaceholder(t *testing.T) {
	eng := &scriptedEngine{failOn: map[string]error{"C-2": errors.New("bad item")}}
	obs := &recordingObserver{}
	b := NewBatcher(eng, Options{Policy: SkipWithPlaceholder, Concurrency: 2, Observer: obs, Logger: quietLogger()})

	out, err := b.Run(context.Background(), sample("C-1", "C-2", "C-3"))
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "sum C-1-title.", out[0].SummaryGenerated)
	assert.Equal(t, "", out[1].SummaryGenerated)
	assert.Equal(t, "C-2", out[1].Key)
	assert.Equal(t, "sum C-3-title.", out[2].SummaryGenerated)

	assert.Equal(t, []int{1}, obs.failed)
	assert.Equal(t, []string{"C-2"}, obs.keys)
	require.NotEmpty(t, obs.progress)
	assert.Equal(t, [2]int{3, 3}, obs.progress[len(obs.progress)-1])
}

func TestBatcherItemTimeoutIsEngineFailure(t *testing.T) {
	eng := &scriptedEngine{delay: func(string) time.Duration { return time.Second }}
	b := NewBatcher(eng, Options{ItemTimeout: 20 * time.Millisecond, Logger: quietLogger()})

	_, err := b.Run(context.Background(), sample("D-1"))
	var ef *EngineFailure
	require.ErrorAs(t, err, &ef)
	assert.Equal(t, "D-1", ef.Key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBatcherCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBatcher(&scriptedEngine{}, Options{Policy: SkipWithPlaceholder, Logger: quietLogger()})
	out, err := b.Run(ctx, sample("E-1", "E-2"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
}

func TestBatcherWithRealEngine(t *testing.T) {
	eng := NewEngine(BeamGenerator{}, DefaultParams())
	in := []issue.Issue{{
		Key:              "A-1",
		Status:           "To Do",
		SummaryClean:     "Bug in login",
		DescriptionClean: "Users cannot log in after update",
	}}
	out, err := NewBatcher(eng, Options{Logger: quietLogger()}).Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.NotEmpty(t, out[0].SummaryGenerated)
	assert.Equal(t, "A-1", out[0].Key)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, SkipWithPlaceholder, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailFast, p)

	_, err = ParsePolicy("explode")
	assert.Error(t, err)
}
