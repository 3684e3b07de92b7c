package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/herald/internal/conversation"
	"github.com/2389/herald/internal/publish"
	"github.com/2389/herald/internal/session"
)

var _ conversation.Observer = (*Metrics)(nil)

func TestMetrics_CountsWorkflow(t *testing.T) {
	m := New()

	m.EventReceived("text")
	m.EventReceived("text")
	m.EventDenied()
	m.GenerationFinished(nil, 2*time.Second)
	m.GenerationFinished(errors.New("quota"), time.Second)
	m.PublishFinished(publish.Result{Success: true, Attempts: 1}, time.Second)
	m.PublishFinished(publish.Result{ErrorKind: publish.KindTransient, Attempts: 3}, 5*time.Second)
	m.LoginFinished(nil)
	m.LoginFinished(session.ErrLoginTimeout)
	m.LoginFinished(session.ErrLoginFailed)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.denied))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishes.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishes.WithLabelValues("failure", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("failure")))
}

func TestMetrics_HandlerExposesRegistry(t *testing.T) {
	m := New()
	m.EventDenied()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "herald_events_denied_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
