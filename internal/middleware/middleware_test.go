package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ericksa/policylens/internal/config"
	"github.com/ericksa/policylens/internal/logger"
	"github.com/ericksa/policylens/internal/metrics"
	"github.com/ericksa/policylens/internal/session"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whoami(w http.ResponseWriter, r *http.Request) {
	s, ok := session.From(r.Context())
	if !ok {
		w.Write([]byte("anonymous"))
		return
	}
	w.Write([]byte(s.UserID))
}

func newRouter(cfg *config.Config, buf *bytes.Buffer) (*mux.Router, *metrics.Metrics) {
	m := metrics.New()
	r := mux.NewRouter()
	Register(r, cfg, logger.New(logger.Config{Output: buf}), m)
	r.HandleFunc("/health", whoami)
	r.HandleFunc("/documents/{id}", whoami)
	r.HandleFunc("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })
	return r, m
}

func TestAuth_TokenMap(t *testing.T) {
	cfg := config.Default()
	cfg.App.Auth.Tokens = map[string]string{"alice": "tok-a"}
	r, _ := newRouter(cfg, &bytes.Buffer{})

	req := httptest.NewRequest(http.MethodGet, "/documents/1", nil)
	req.Header.Set("Authorization", "Bearer tok-a")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/documents/1?token=wrong", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_DefaultUser(t *testing.T) {
	cfg := config.Default()
	r, _ := newRouter(cfg, &bytes.Buffer{})

	req := httptest.NewRequest(http.MethodGet, "/documents/1?token=anything", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "default", rec.Body.String())
}

func TestAuth_HealthIsPublic(t *testing.T) {
	r, _ := newRouter(config.Default(), &bytes.Buffer{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestRecovererAndLogging(t *testing.T) {
	var buf bytes.Buffer
	r, m := newRouter(config.Default(), &buf)

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() { r.ServeHTTP(rec, req) })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "panic recovered")
	assert.Contains(t, buf.String(), `"status":500`)

	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `route="/panic",status="500"`)
}

func TestInstrument_UsesRouteTemplate(t *testing.T) {
	r, m := newRouter(config.Default(), &bytes.Buffer{})
	req := httptest.NewRequest(http.MethodGet, "/documents/abc", nil)
	req.Header.Set("Authorization", "Bearer x")
	r.ServeHTTP(httptest.NewRecorder(), req)

	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `route="/documents/{id}"`)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(whoami))

	req := httptest.NewRequest(http.MethodOptions, "/documents", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
