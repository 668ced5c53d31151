package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "issues.json")
	require.NoError(t, os.WriteFile(input, []byte(`[{"key":"A-1","status":"To Do","summary_clean":"Bug in login","description_clean":"Users cannot log in after update"}]`), 0o644))
	cfg := filepath.Join(dir, "issuedigest.yaml")
	yaml := strings.Join([]string{
		"input_path: " + input,
		"summarizer:",
		"  provider: beam",
		"artifact:",
		"  dir: " + filepath.Join(dir, "downloads"),
		"audit:",
		"  path: " + filepath.Join(dir, "download_log.csv"),
		"manifest:",
		"  path: " + filepath.Join(dir, "manifest.db"),
	}, "\n")
	require.NoError(t, os.WriteFile(cfg, []byte(yaml), 0o644))
	return cfg, dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSummarizeThenResolveAndBundle(t *testing.T) {
	cfg, dir := writeConfig(t)

	_, err := run(t, "--config", cfg, "resolve")
	require.Error(t, err)

	out, err := run(t, "--config", cfg, "summarize")
	require.NoError(t, err, out)
	assert.Contains(t, out, "wrote version")
	assert.Contains(t, out, ".pdf")

	out, err = run(t, "--config", cfg, "resolve", "csv")
	require.NoError(t, err, out)
	assert.Regexp(t, `^csv\tsummary_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}\.csv\n$`, out)

	zipPath := filepath.Join(dir, "bundle.zip")
	out, err = run(t, "--config", cfg, "bundle", "-o", zipPath)
	require.NoError(t, err, out)
	info, err := os.Stat(zipPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	out, err = run(t, "--config", cfg, "runs")
	require.NoError(t, err, out)
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "true")
}

func TestAuditCommandOnEmptyLog(t *testing.T) {
	cfg, _ := writeConfig(t)
	out, err := run(t, "--config", cfg, "audit")
	require.NoError(t, err)
	assert.Equal(t, "IDENTITY  FORMAT  TIMESTAMP\n", out)
}

func TestResolveRejectsUnknownFormat(t *testing.T) {
	cfg, _ := writeConfig(t)
	_, err := run(t, "--config", cfg, "resolve", "docx")
	assert.Error(t, err)
}
