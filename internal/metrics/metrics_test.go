package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IssueSummarized()
	m.ArtifactWritten("json", 10, nil)
	m.Run(true, time.Now())
	m.LimiterWait("FakeLLM", time.Second)
	assert.Nil(t, m.Registry())
}

func TestCountersAreExposed(t *testing.T) {
	m := New()
	m.IssueSummarized()
	m.IssueSummarized()
	m.ArtifactWritten("csv", 42, nil)
	m.ArtifactWritten("pdf", 0, errors.New("disk full"))
	m.Resolved("json", nil)
	m.AuditFailure()
	m.LimiterWait("GeminiLLM", 250*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "issuedigest_issues_summarized_total 2")
	assert.Contains(t, text, `issuedigest_artifact_bytes_total{format="csv"} 42`)
	assert.Contains(t, text, `issuedigest_artifact_writes_total{format="pdf",result="error"} 1`)
	assert.Contains(t, text, `issuedigest_resolutions_total{format="json",result="ok"} 1`)
	assert.Contains(t, text, "issuedigest_audit_write_failures_total 1")
	assert.Contains(t, text, `issuedigest_llm_rate_limit_wait_seconds_count{client="GeminiLLM"} 1`)
}
