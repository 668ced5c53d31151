package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/klauspost/compress/zip"

	"issuedigest/internal/artifact"
	"issuedigest/internal/metrics"
	"issuedigest/internal/storage"
)

// FileName is the download name of the archive.
const FileName = "jira_summary_bundle.zip"

// Resolver is satisfied by *artifact.Resolver.
type Resolver interface {
	ResolveAll(ctx context.Context) (map[artifact.Format]string, error)
}

type Options struct {
	CacheEntries int
	CacheTTL     time.Duration
	Logger       *log.Logger
	Metrics      *metrics.Metrics
}

// Result describes one built archive.
type Result struct {
	// Sources maps format to the artifact file included for it.
	Sources map[artifact.Format]string
	Size    int
	Cached  bool
}

// Packager zips the latest artifact of each format under stable entry
// names (summary.json, summary.csv, summary.pdf).
type Packager struct {
	resolver Resolver
	store    storage.Store
	cache    *expirable.LRU[string, []byte]
	log      *log.Logger
	metrics  *metrics.Metrics
}

func NewPackager(resolver Resolver, store storage.Store, opts Options) *Packager {
	if opts.CacheEntries <= 0 {
		opts.CacheEntries = 8
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Packager{
		resolver: resolver,
		store:    store,
		cache:    expirable.NewLRU[string, []byte](opts.CacheEntries, nil, opts.CacheTTL),
		log:      logger,
		metrics:  opts.Metrics,
	}
}

// EntryName is the stable archive entry name for f.
func EntryName(f artifact.Format) string { return "summary." + f.Ext() }

// Bundle writes the archive to w. Formats with no artifact are left out;
// if none resolve it returns artifact.ErrNotFound and writes nothing.
func (p *Packager) Bundle(ctx context.Context, w io.Writer) (*Result, error) {
	raw, res, err := p.Build(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("write bundle: %w", err)
	}
	return res, nil
}

// Build returns the archive bytes.
func (p *Packager) Build(ctx context.Context) ([]byte, *Result, error) {
	resolved, err := p.resolver.ResolveAll(ctx)
	if err != nil {
		p.metrics.Bundle("error")
		return nil, nil, err
	}

	key := cacheKey(resolved)
	if key != "" {
		if raw, ok := p.cache.Get(key); ok {
			p.metrics.Bundle("cached")
			return raw, &Result{Sources: resolved, Size: len(raw), Cached: true}, nil
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	included := map[artifact.Format]string{}
	for _, f := range artifact.Formats() {
		name, ok := resolved[f]
		if !ok {
			continue
		}
		content, err := p.store.Get(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			p.log.Printf("bundle: %s vanished before packaging, omitting", name)
			continue
		}
		if err != nil {
			p.metrics.Bundle("error")
			return nil, nil, fmt.Errorf("read %s: %w", name, err)
		}
		hdr := &zip.FileHeader{Name: EntryName(f), Method: zip.Deflate}
		if n, ok := artifact.ParseName(name); ok {
			if at, err := n.Time(nil); err == nil {
				hdr.Modified = at
			}
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, nil, fmt.Errorf("zip %s: %w", name, err)
		}
		if _, err := fw.Write(content); err != nil {
			return nil, nil, fmt.Errorf("zip %s: %w", name, err)
		}
		included[f] = name
	}
	if err := zw.Close(); err != nil {
		return nil, nil, fmt.Errorf("zip close: %w", err)
	}
	if len(included) == 0 {
		p.metrics.Bundle("empty")
		return nil, nil, fmt.Errorf("%w: nothing to bundle", artifact.ErrNotFound)
	}

	raw := buf.Bytes()
	if len(included) == len(resolved) {
		p.cache.Add(key, raw)
	}
	p.metrics.Bundle("built")
	return raw, &Result{Sources: included, Size: len(raw)}, nil
}

func cacheKey(resolved map[artifact.Format]string) string {
	parts := make([]string, 0, len(resolved))
	for _, f := range artifact.Formats() {
		if name, ok := resolved[f]; ok {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}
