package artifact

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"issuedigest/internal/issue"
	"issuedigest/internal/metrics"
	"issuedigest/internal/storage"
)

const rollbackTimeout = 30 * time.Second

type WriterOptions struct {
	Prefix string
	Title  string
	// Now is the clock; tests inject a fixed one.
	Now func() time.Time
	// Mirrors receive a copy of each artifact after the primary store
	// accepted it. Mirror failures are logged, never returned.
	Mirrors []storage.Store
	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Writer persists one summarized batch as a JSON, CSV and PDF artifact
// set sharing a version token. It never overwrites an existing set.
type Writer struct {
	store storage.Store
	opts  WriterOptions
	log   *log.Logger
	mu    sync.Mutex
}

func NewWriter(store storage.Store, opts WriterOptions) *Writer {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Writer{store: store, opts: opts, log: logger}
}

func (w *Writer) Prefix() string { return w.opts.Prefix }

// Write encodes items in every format before touching the store, so an
// encoding failure leaves nothing behind. If any format fails to persist,
// the members of this version already saved are removed again and the
// error is a *WriteError; prior sets are never touched.
func (w *Writer) Write(ctx context.Context, items []issue.SummarizedIssue) (*Set, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.opts.Now()
	token := Token(now)

	encoded := make(map[Format][]byte, 3)
	for _, f := range Formats() {
		raw, err := Encode(f, items, EncodeOptions{Title: w.opts.Title, GeneratedAt: now})
		if err != nil {
			return nil, &WriteError{Version: token, Failed: map[Format]error{f: err}}
		}
		encoded[f] = raw
	}

	seq, err := w.nextSequence(ctx, token)
	if err != nil {
		return nil, &WriteError{Version: token, Failed: map[Format]error{JSON: err, CSV: err, PDF: err}}
	}
	base := Name{Prefix: w.opts.Prefix, Token: token, Seq: seq}
	set := newSet(base.Version(), now)

	var failed map[Format]error
	var written []Format
	for _, f := range Formats() {
		n := base
		n.Format = f
		name := n.String()
		set.Files[f] = name

		err := w.store.Put(ctx, name, encoded[f])
		w.opts.Metrics.ArtifactWritten(string(f), len(encoded[f]), err)
		if err != nil {
			failed = map[Format]error{f: err}
			w.log.Printf("artifact: write %s failed: %v", name, err)
			break
		}
		set.Written[f] = true
		set.Sizes[f] = len(encoded[f])
		written = append(written, f)
		w.log.Printf("artifact: wrote %s (%s)", name, humanize.Bytes(uint64(len(encoded[f]))))
	}
	if failed != nil {
		return set, &WriteError{Version: set.Version, Written: written, Failed: failed, Leftover: w.rollback(set)}
	}
	for _, f := range Formats() {
		w.mirror(ctx, set.Files[f], encoded[f])
	}
	return set, nil
}

// rollback removes the saved members of an incomplete set and returns the
// ones that could not be removed. It runs on a fresh context so a
// cancelled request still cleans up.
func (w *Writer) rollback(set *Set) []Format {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	var leftover []Format
	for _, f := range Formats() {
		if !set.Written[f] {
			continue
		}
		if err := w.store.Delete(ctx, set.Files[f]); err != nil {
			w.log.Printf("artifact: rollback %s failed: %v", set.Files[f], err)
			leftover = append(leftover, f)
			continue
		}
		set.Written[f] = false
		delete(set.Sizes, f)
		w.log.Printf("artifact: rolled back %s", set.Files[f])
	}
	return leftover
}

// nextSequence returns 0 when no file of this prefix and token exists,
// otherwise one past the highest sequence in use.
func (w *Writer) nextSequence(ctx context.Context, token string) (int, error) {
	names, err := w.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list artifacts: %w", err)
	}
	taken := false
	highest := 0
	for _, raw := range names {
		n, ok := ParseName(raw)
		if !ok || n.Prefix != w.opts.Prefix || n.Token != token {
			continue
		}
		taken = true
		if n.Seq > highest {
			highest = n.Seq
		}
	}
	if !taken {
		return 0, nil
	}
	if highest >= MaxSequence {
		return 0, ErrSequenceExhausted
	}
	return highest + 1, nil
}

func (w *Writer) mirror(ctx context.Context, name string, content []byte) {
	for _, m := range w.opts.Mirrors {
		if err := m.Put(ctx, name, content); err != nil {
			w.opts.Metrics.MirrorFailed()
			w.log.Printf("artifact: mirror %s failed: %v", name, err)
		}
	}
}
