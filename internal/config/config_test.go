package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "APP_ENV", "ISSUES_INPUT", "RUN_SCHEDULE", "CORS_ORIGINS",
		"SUMMARIZER_PROVIDER", "SUMMARIZER_API_KEY", "SUMMARIZER_CONCURRENCY", "SUMMARIZER_POLICY",
		"GEMINI_API_KEY", "GROQ_API_KEY", "ARTIFACT_DIR", "ARTIFACT_PREFIX",
		"ARTIFACT_S3_ENDPOINT", "ARTIFACT_MINIO_ENDPOINT", "ARTIFACT_S3_USE_SSL",
		"AUDIT_LOG_PATH", "MANIFEST_PATH",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Port)
	assert.Equal(t, "beam", cfg.Summarizer.Provider)
	assert.Equal(t, "fail-fast", cfg.Summarizer.Policy)
	assert.Equal(t, 1, cfg.Summarizer.Concurrency)
	assert.Equal(t, "downloads", cfg.Artifact.Dir)
	assert.Equal(t, "summary", cfg.Artifact.Prefix)
	assert.Equal(t, "download_log.csv", cfg.Audit.Path)
	assert.False(t, cfg.Artifact.Mirror.Enabled)
}

func TestLoadYAMLThenEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "issuedigest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
input_path: exports/issues.json
schedule: "0 6 * * 1-5"
summarizer:
  provider: fake
  concurrency: 4
  item_timeout: 30s
artifact:
  dir: out
`), 0o644))
	t.Setenv("ARTIFACT_DIR", "override")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, "exports/issues.json", cfg.InputPath)
	assert.Equal(t, "fake", cfg.Summarizer.Provider)
	assert.Equal(t, 4, cfg.Summarizer.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Summarizer.ItemTimeout)
	assert.Equal(t, "override", cfg.Artifact.Dir)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadMissingYAMLIsFine(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
}

func TestLoadValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUMMARIZER_PROVIDER", "gemini")
	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("GEMINI_API_KEY", "k")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash-lite", cfg.Summarizer.Model)

	t.Setenv("RUN_SCHEDULE", "not a cron")
	_, err = Load("")
	assert.Error(t, err)
}

func TestMirrorEnabledByEndpoint(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "prod")
	t.Setenv("ARTIFACT_S3_ENDPOINT", "s3.example.com")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Artifact.Mirror.Enabled)
	assert.Equal(t, "s3.example.com", cfg.Artifact.Mirror.Endpoint)
	assert.False(t, cfg.Artifact.Mirror.UseSSL)
}
