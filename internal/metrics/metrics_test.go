package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := New(WithNamespace("test"))

	m.ObserveEndpointWrite("page", 10*time.Millisecond, nil)
	m.ObserveEndpointWrite("page", 10*time.Millisecond, errors.New("boom"))
	m.RoutesComputed(nil)
	m.Delivery(true)
	m.Delivery(false)
	m.SubscriptionStarted()
	m.SubscriptionStarted()
	m.SubscriptionStopped()
	m.ContentRequest("static")
	m.ImageCache(true)
	m.ImageCache(false)
	m.Invalidated(3)
	m.Invalidated(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.endpointWrites.WithLabelValues("page", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.endpointWrites.WithLabelValues("page", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routesComputations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.imageCache.WithLabelValues("hit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.invalidations))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEndpointWrite("page", time.Second, nil)
		m.RoutesComputed(nil)
		m.Delivery(true)
		m.SubscriptionStarted()
		m.SubscriptionStopped()
		m.ContentRequest("static")
		m.ImageCache(true)
		m.Invalidated(1)
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ContentRequest("not_found")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `pagepack_content_requests_total{result="not_found"} 1`))
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}

func TestSpanHelpers(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test")
	require.NotNil(t, ctx)
	assert.NotPanics(t, func() { EndSpan(span, errors.New("x")) })
}
