package artifact

import (
	"context"
	"fmt"
	"sort"

	"issuedigest/internal/metrics"
	"issuedigest/internal/storage"
)

// Resolver finds the newest artifact by file name alone. Because the
// version token is fixed width and most-significant first, the
// lexically greatest name is the most recent.
type Resolver struct {
	lister  storage.Lister
	prefix  string
	metrics *metrics.Metrics
}

func NewResolver(lister storage.Lister, prefix string, m *metrics.Metrics) *Resolver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Resolver{lister: lister, prefix: prefix, metrics: m}
}

// Resolve returns the newest file name for f, or ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, f Format) (string, error) {
	names, err := r.candidates(ctx)
	if err != nil {
		return "", err
	}
	for _, n := range names {
		if n.Format == f {
			r.metrics.Resolved(string(f), nil)
			return n.String(), nil
		}
	}
	r.metrics.Resolved(string(f), ErrNotFound)
	return "", fmt.Errorf("%w: no %s artifact", ErrNotFound, f)
}

// ResolveAll resolves every format once. Formats with no artifact are
// absent from the result.
func (r *Resolver) ResolveAll(ctx context.Context) (map[Format]string, error) {
	names, err := r.candidates(ctx)
	if err != nil {
		return nil, err
	}
	out := map[Format]string{}
	for _, n := range names {
		if _, ok := out[n.Format]; !ok {
			out[n.Format] = n.String()
		}
	}
	for _, f := range Formats() {
		_, ok := out[f]
		if ok {
			r.metrics.Resolved(string(f), nil)
		} else {
			r.metrics.Resolved(string(f), ErrNotFound)
		}
	}
	return out, nil
}

// LatestSet returns the newest version for which every format exists.
func (r *Resolver) LatestSet(ctx context.Context) (*Set, error) {
	names, err := r.candidates(ctx)
	if err != nil {
		return nil, err
	}
	byVersion := map[string]*Set{}
	var order []string
	for _, n := range names {
		s, ok := byVersion[n.Version()]
		if !ok {
			at, _ := n.Time(nil)
			s = newSet(n.Version(), at)
			byVersion[n.Version()] = s
			order = append(order, n.Version())
		}
		s.Files[n.Format] = n.String()
		s.Written[n.Format] = true
	}
	for _, v := range order {
		if s := byVersion[v]; s.Complete() {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: no complete artifact set", ErrNotFound)
}

// candidates returns parsed names with this prefix, newest first. Names
// sharing a version break ties on the full file name.
func (r *Resolver) candidates(ctx context.Context) ([]Name, error) {
	raw, err := r.lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	out := make([]Name, 0, len(raw))
	for _, s := range raw {
		n, ok := ParseName(s)
		if !ok || n.Prefix != r.prefix {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].String() > out[j].String()
	})
	return out, nil
}
