package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatflow-access-api/internal/config"
	"chatflow-access-api/internal/observability/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestMetricsEndpoint(t *testing.T) {
	log := logger.Nop()

	serve := func(token string, setHeaders func(*http.Request)) *httptest.ResponseRecorder {
		r := buildRouter(RouterDeps{
			Cfg: &config.Config{MetricsToken: token},
			Log: log,
		})
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		if setHeaders != nil {
			setHeaders(req)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("OpenAccessWhenNoTokenSet", func(t *testing.T) {
		w := serve("", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
		assert.Contains(t, w.Body.String(), "go_info")
	})

	t.Run("UnauthorizedWhenTokenSetAndMissingHeader", func(t *testing.T) {
		w := serve("secret-token", nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "unauthorized")
	})

	t.Run("UnauthorizedWhenTokenSetAndHeaderMismatch", func(t *testing.T) {
		w := serve("secret-token", func(r *http.Request) {
			r.Header.Set("X-Metrics-Token", "wrong-token")
		})

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("UnauthorizedWhenAuthorizationIsNotBearer", func(t *testing.T) {
		w := serve("secret-token", func(r *http.Request) {
			r.Header.Set("Authorization", "secret-token")
		})

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("SuccessWhenTokenSetAndHeaderMatches", func(t *testing.T) {
		w := serve("secret-token", func(r *http.Request) {
			r.Header.Set("X-Metrics-Token", "secret-token")
		})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
		assert.Contains(t, w.Body.String(), "go_gc_duration_seconds")
	})

	t.Run("SuccessWhenTokenSetAndBearerHeaderMatches", func(t *testing.T) {
		w := serve("secret-token", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer secret-token")
		})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "go_gc_duration_seconds")
	})
}

func TestMetricsEndpoint_CustomGatherer(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "chatflow_access_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	r := buildRouter(RouterDeps{Cfg: &config.Config{}, Log: logger.Nop(), Gatherer: reg})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chatflow_access_test_total 1")
	assert.NotContains(t, w.Body.String(), "go_info")
}
