package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
)

// ConfigAPI provides HTTP endpoints to view and modify configuration
type ConfigAPI struct {
	cfg    *Config
	mu     sync.RWMutex
	router *mux.Router
	reload func() (*Config, error)
}

func NewConfigAPI(cfg *Config) *ConfigAPI {
	api := &ConfigAPI{
		cfg:    cfg,
		router: mux.NewRouter(),
		reload: Load,
	}
	api.routes()
	return api
}

func (api *ConfigAPI) Router() *mux.Router {
	return api.router
}

func (api *ConfigAPI) routes() {
	api.router.HandleFunc("/configure", api.getConfig).Methods("GET")
	api.router.HandleFunc("/configure/", api.getConfig).Methods("GET")
	api.router.HandleFunc("/configure", api.updateConfig).Methods("POST")
	api.router.HandleFunc("/configure/reload", api.reloadConfig).Methods("POST")
	api.router.HandleFunc("/configure/validate", api.validateConfig).Methods("POST")
	api.router.HandleFunc("/configure/sections/{section}", api.getSection).Methods("GET")
}

func (api *ConfigAPI) getConfig(w http.ResponseWriter, r *http.Request) {
	api.mu.RLock()
	defer api.mu.RUnlock()
	writeJSON(w, api.safeConfigCopy())
}

func (api *ConfigAPI) updateConfig(w http.ResponseWriter, r *http.Request) {
	api.mu.Lock()
	defer api.mu.Unlock()
	var newCfg Config
	if err := json.NewDecoder(r.Body).Decode(&newCfg); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}
	if err := newCfg.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("invalid configuration: %v", err), http.StatusBadRequest)
		return
	}
	*api.cfg = newCfg
	writeJSON(w, api.safeConfigCopy())
}

func (api *ConfigAPI) reloadConfig(w http.ResponseWriter, r *http.Request) {
	api.mu.Lock()
	defer api.mu.Unlock()
	reloadedCfg, err := api.reload()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to reload config: %v", err), http.StatusInternalServerError)
		return
	}
	if err := reloadedCfg.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("reloaded configuration is invalid: %v", err), http.StatusBadRequest)
		return
	}
	*api.cfg = *reloadedCfg
	writeJSON(w, api.safeConfigCopy())
}

func (api *ConfigAPI) validateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("invalid configuration: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]interface{}{"valid": true, "message": "configuration is valid"})
}

func (api *ConfigAPI) getSection(w http.ResponseWriter, r *http.Request) {
	api.mu.RLock()
	defer api.mu.RUnlock()

	safe := api.safeConfigCopy().App
	var section interface{}
	switch name := mux.Vars(r)["section"]; name {
	case "server":
		section = safe.Server
	case "auth":
		section = safe.Auth
	case "log":
		section = safe.Log
	case "database":
		section = safe.Database
	case "storage":
		section = safe.Storage
	case "analyzer":
		section = safe.Analyzer
	case "search":
		section = safe.Search
	case "dashboard":
		section = safe.Dashboard
	case "audit":
		section = safe.Audit
	case "metrics":
		section = safe.Metrics
	default:
		http.Error(w, fmt.Sprintf("unknown section: %s", name), http.StatusNotFound)
		return
	}
	writeJSON(w, section)
}

func (api *ConfigAPI) safeConfigCopy() *Config {
	bytes, _ := json.Marshal(api.cfg)
	var copyCfg Config
	json.Unmarshal(bytes, &copyCfg)
	if copyCfg.App.Storage.AccessKey != "" {
		copyCfg.App.Storage.AccessKey = "***"
	}
	if copyCfg.App.Storage.SecretKey != "" {
		copyCfg.App.Storage.SecretKey = "***"
	}
	if copyCfg.App.Analyzer.APIKey != "" {
		copyCfg.App.Analyzer.APIKey = "***"
	}
	for user := range copyCfg.App.Auth.Tokens {
		copyCfg.App.Auth.Tokens[user] = "***"
	}
	if copyCfg.App.Database.Driver == "postgres" && copyCfg.App.Database.DSN != "" {
		copyCfg.App.Database.DSN = "***"
	}
	return &copyCfg
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
