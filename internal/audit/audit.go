package audit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"issuedigest/internal/metrics"
)

// TimestampLayout is how event times are written to the log.
const TimestampLayout = "2006-01-02 15:04:05"

// Anonymous is recorded when the caller has no authenticated identity.
const Anonymous = "anonymous"

// Event is one served download. Events are immutable once recorded.
type Event struct {
	Identity  string    `json:"identity"`
	Format    string    `json:"format"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink appends events to durable storage. Only the Logger's writer
// goroutine calls Append, so implementations need no locking of their own.
type Sink interface {
	Name() string
	Append(ctx context.Context, ev Event) error
	Close() error
}

var (
	ErrAuditWrite = errors.New("audit write failed")
	ErrClosed     = errors.New("audit logger closed")
)

// WriteFailure is returned when an event could not be appended. It
// matches both ErrAuditWrite and the underlying cause.
type WriteFailure struct {
	Event Event
	Sink  string
	Err   error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("audit: record %s download by %s to %s: %v", e.Event.Format, e.Event.Identity, e.Sink, e.Err)
}

func (e *WriteFailure) Unwrap() []error { return []error{ErrAuditWrite, e.Err} }

type Options struct {
	// Mirrors receive every event after the primary sink; their failures
	// are reported the same way as primary failures.
	Mirrors   []Sink
	Now       func() time.Time
	QueueSize int
	Logger    *log.Logger
	Metrics   *metrics.Metrics
	// OnFailure is called from the writer goroutine for each failure.
	OnFailure func(*WriteFailure)
}

type request struct {
	ctx  context.Context
	ev   Event
	done chan error
}

// Logger serializes every append through one goroutine, which makes it
// the single writer of the audit log.
type Logger struct {
	sinks []Sink
	opts  Options
	log   *log.Logger

	reqs      chan request
	quit      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
}

func NewLogger(primary Sink, opts Options) *Logger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	l := &Logger{
		sinks:    append([]Sink{primary}, opts.Mirrors...),
		opts:     opts,
		log:      logger,
		reqs:     make(chan request, opts.QueueSize),
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go l.run()
	return l
}

// Record appends one download event and waits until it is durable or
// ctx is done. The writer goroutine stamps the event as it appends, so
// timestamps never run backwards through the log. A non-nil error is
// always a *WriteFailure; callers that serve downloads log it and carry
// on.
func (l *Logger) Record(ctx context.Context, identity, format string) error {
	ev := Event{
		Identity: normalizeIdentity(identity),
		Format:   strings.ToUpper(strings.TrimSpace(format)),
	}
	req := request{ctx: ctx, ev: ev, done: make(chan error, 1)}

	select {
	case <-l.quit:
		return l.fail(ev, "logger", ErrClosed)
	default:
	}
	select {
	case l.reqs <- req:
	case <-l.quit:
		return l.fail(ev, "logger", ErrClosed)
	case <-ctx.Done():
		return l.fail(ev, "logger", ctx.Err())
	}
	select {
	case err := <-req.done:
		return err
	case <-l.finished:
		select {
		case err := <-req.done:
			return err
		default:
			return l.fail(ev, "logger", ErrClosed)
		}
	case <-ctx.Done():
		// The writer still appends the event; only the wait is abandoned.
		ev.Timestamp = l.opts.Now()
		return &WriteFailure{Event: ev, Sink: "logger", Err: ctx.Err()}
	}
}

func (l *Logger) run() {
	defer close(l.finished)
	for {
		select {
		case req := <-l.reqs:
			req.done <- l.write(req)
		case <-l.quit:
			for {
				select {
				case req := <-l.reqs:
					req.done <- l.write(req)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(req request) error {
	req.ev.Timestamp = l.opts.Now()
	var first error
	for _, s := range l.sinks {
		if err := s.Append(context.WithoutCancel(req.ctx), req.ev); err != nil {
			failure := l.fail(req.ev, s.Name(), err)
			if first == nil {
				first = failure
			}
		}
	}
	return first
}

func (l *Logger) fail(ev Event, sink string, err error) *WriteFailure {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.opts.Now()
	}
	failure := &WriteFailure{Event: ev, Sink: sink, Err: err}
	l.opts.Metrics.AuditFailure()
	l.log.Printf("audit: %v", failure)
	if l.opts.OnFailure != nil {
		l.opts.OnFailure(failure)
	}
	return failure
}

// Close drains queued events, stops the writer and closes every sink.
func (l *Logger) Close() error {
	var errs []error
	l.closeOnce.Do(func() {
		close(l.quit)
		<-l.finished
		for _, s := range l.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
			}
		}
	})
	return errors.Join(errs...)
}

func normalizeIdentity(identity string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Anonymous
	}
	return identity
}
