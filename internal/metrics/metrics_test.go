package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.SetPhase("ingesting")
		r.ObservePhase("ingesting", time.Second, nil)
		r.RunFinished("completed")
		r.AgentCall("skeptic", errors.New("boom"))
		r.LedgerAppended("INGEST", 1)
		r.SetLedgerLength(3)
		r.SubscriberAdded()
		r.SubscriberRemoved(true)
		r.EventPublished("heartbeat")
		r.RelayEventDropped()
		r.ObserveRequest("/api/mind", "GET", 200, time.Millisecond)
	})
}

func TestSetPhase(t *testing.T) {
	r := NewRegistry()
	r.SetPhase("deliberating")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CurrentPhase.WithLabelValues("deliberating")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.CurrentPhase.WithLabelValues("idle")))

	r.SetPhase("idle")
	assert.Equal(t, 0.0, testutil.ToFloat64(r.CurrentPhase.WithLabelValues("deliberating")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CurrentPhase.WithLabelValues("idle")))
}

func TestCounters(t *testing.T) {
	r := NewRegistry()
	r.ObservePhase("ingesting", 10*time.Millisecond, nil)
	r.ObservePhase("ingesting", 10*time.Millisecond, errors.New("fail"))
	r.AgentCall("skeptic", nil)
	r.LedgerAppended("INGEST", 7)
	r.SubscriberAdded()
	r.SubscriberAdded()
	r.SubscriberRemoved(true)
	r.RelayEventDropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(r.PhaseAttempts.WithLabelValues("ingesting", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PhaseAttempts.WithLabelValues("ingesting", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.AgentCalls.WithLabelValues("skeptic", "success")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.LedgerLength))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Subscribers))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SubscribersDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RelayDropped))

	r.SetLedgerLength(12)
	assert.Equal(t, 12.0, testutil.ToFloat64(r.LedgerLength))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.LedgerAppends.WithLabelValues("INGEST")), "setting the length is not an append")
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.RunFinished("completed")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mirror_runs_total{outcome="completed"} 1`)
}
