package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deliberation-engine/council/pkg/metrics"
)

// promHandlerFor builds a fresh promhttp handler over m's gatherer. Built
// per-request rather than cached since gin.Engine wraps http.Handler calls
// with its own ResponseWriter; promhttp.Handler is cheap to construct and
// carries no state worth reusing across requests.
func promHandlerFor(m *metrics.Metrics) http.Handler {
	return promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
}
