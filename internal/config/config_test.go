package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.App.Server.Addr)
	assert.Equal(t, "sqlite3", cfg.App.Database.Driver)
	assert.Equal(t, "heuristic", cfg.App.Analyzer.Provider)
	assert.Equal(t, 4, cfg.App.Analyzer.Workers)
	assert.Equal(t, 20, cfg.App.Search.Limit)
	assert.Equal(t, 300, cfg.App.Search.SnippetRunes)
	assert.Equal(t, 5, cfg.App.Dashboard.RecentDocuments)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("POLICYLENS_APP_SERVER_ADDR", ":9191")
	t.Setenv("POLICYLENS_APP_ANALYZER_WORKERS", "2")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9191", cfg.App.Server.Addr)
	assert.Equal(t, 2, cfg.App.Analyzer.Workers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.App.Server.Addr = "" }},
		{"bad timeout", func(c *Config) { c.App.Server.ReadTimeout = "soon" }},
		{"no auth", func(c *Config) { c.App.Auth.DefaultUser = "" }},
		{"shared token", func(c *Config) {
			c.App.Auth.Tokens = map[string]string{"alice": "t", "bob": "t"}
		}},
		{"bad driver", func(c *Config) { c.App.Database.Driver = "mysql" }},
		{"bad bucket", func(c *Config) {
			c.App.Storage.Enabled = true
			c.App.Storage.Bucket = "Bad_Bucket"
		}},
		{"remote without endpoint", func(c *Config) {
			c.App.Analyzer.Provider = "remote"
			c.App.Analyzer.Endpoint = ""
		}},
		{"no workers", func(c *Config) { c.App.Analyzer.Workers = 0 }},
		{"metrics path", func(c *Config) { c.App.Metrics.Path = "metrics" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("nonsense", time.Minute))
	assert.Equal(t, time.Minute, Duration("-1s", time.Minute))
}

func TestConfigAPI_RedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.App.Analyzer.APIKey = "sk-live"
	cfg.App.Auth.Tokens = map[string]string{"alice": "secret"}
	api := NewConfigAPI(cfg)

	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/configure", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "***", got.App.Analyzer.APIKey)
	assert.Equal(t, "***", got.App.Auth.Tokens["alice"])
	assert.Equal(t, "***", got.App.Storage.SecretKey)

	// The live config is untouched.
	assert.Equal(t, "secret", cfg.App.Auth.Tokens["alice"])
}

func TestConfigAPI_Update(t *testing.T) {
	cfg := Default()
	api := NewConfigAPI(cfg)

	next := Default()
	next.App.Search.Limit = 50
	body, _ := json.Marshal(next)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/configure", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, cfg.App.Search.Limit)

	next.App.Database.Driver = "oracle"
	body, _ = json.Marshal(next)
	rec = httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/configure", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "sqlite3", cfg.App.Database.Driver)
}

func TestConfigAPI_Reload(t *testing.T) {
	cfg := Default()
	api := NewConfigAPI(cfg)

	api.reload = func() (*Config, error) { return nil, errors.New("boom") }
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/configure/reload", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	api.reload = func() (*Config, error) {
		c := Default()
		c.App.Log.Level = "debug"
		return c, nil
	}
	rec = httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/configure/reload", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "debug", cfg.App.Log.Level)
}

func TestConfigAPI_Section(t *testing.T) {
	api := NewConfigAPI(Default())

	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/configure/sections/search", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"limit":20,"snippet_runes":300}`, rec.Body.String())

	rec = httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/configure/sections/llm", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
