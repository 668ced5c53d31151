package bundle

import (
	"bytes"
	"context"
	"io"
	"log"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuedigest/internal/artifact"
	"issuedigest/internal/storage"
)

func newPackager(store storage.Store) *Packager {
	return NewPackager(artifact.NewResolver(store, "", nil), store, Options{Logger: log.New(io.Discard, "", 0)})
}

func readZip(t *testing.T, raw []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		out[f.Name] = string(body)
	}
	return out
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestBundleIncludesLatestOfEachFormat(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	for name, body := range map[string]string{
		"summary_2025-07-07_10-30.json": "old json",
		"summary_2025-07-07_11-00.json": "new json",
		"summary_2025-07-07_11-00.csv":  "new csv",
		"summary_2025-07-07_11-00.pdf":  "%PDF new",
	} {
		require.NoError(t, store.Put(ctx, name, []byte(body)))
	}

	var buf bytes.Buffer
	res, err := newPackager(store).Bundle(ctx, &buf)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, buf.Len(), res.Size)

	entries := readZip(t, buf.Bytes())
	assert.Equal(t, []string{"summary.csv", "summary.json", "summary.pdf"}, keys(entries))
	assert.Equal(t, "new json", entries["summary.json"])
	assert.Equal(t, "new csv", entries["summary.csv"])
}

func TestBundleOmitsMissingFormats(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "summary_2025-07-07_10-30.csv", []byte("a,b\n")))

	var buf bytes.Buffer
	res, err := newPackager(store).Bundle(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, map[artifact.Format]string{artifact.CSV: "summary_2025-07-07_10-30.csv"}, res.Sources)
	assert.Equal(t, []string{"summary.csv"}, keys(readZip(t, buf.Bytes())))
}

func TestBundleNothingResolvesWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "unrelated.txt", []byte("x")))

	var buf bytes.Buffer
	_, err := newPackager(store).Bundle(ctx, &buf)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
	assert.Zero(t, buf.Len())
}

func TestBundleCacheFollowsNewArtifacts(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "summary_2025-07-07_10-30.json", []byte("v1")))
	p := newPackager(store)

	raw, res, err := p.Build(ctx)
	require.NoError(t, err)
	assert.False(t, res.Cached)

	again, res, err := p.Build(ctx)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, raw, again)

	require.NoError(t, store.Put(ctx, "summary_2025-07-07_10-31.json", []byte("v2")))
	fresh, res, err := p.Build(ctx)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, "v2", readZip(t, fresh)["summary.json"])
}
