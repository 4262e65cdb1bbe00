package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, p.MetricsHandler())

	_, done := p.TrackOperation(context.Background(), "noop")
	done(errors.New("boom"))
	p.RecordTransition(context.Background(), "submit", "committed")
	p.RecordRiskScore(context.Background(), 2.3, "medium")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_PrometheusExposesMetrics(t *testing.T) {
	cfg := DefaultConfig()
	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	ctx, done := p.TrackOperation(context.Background(), "changes.submit")
	p.RecordTransition(ctx, "submit", "committed")
	p.RecordRiskScore(ctx, 2.3, "medium")
	done(nil)

	require.NotNil(t, p.MetricsHandler())
	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "changegate_transitions"), text)
	assert.True(t, strings.Contains(text, "changegate_requests"), text)
}

func TestNew_RejectsUnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricExporter = "statsd"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
