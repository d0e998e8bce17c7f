package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ericksa/policylens/internal/analyzer"
	"github.com/ericksa/policylens/internal/api"
	"github.com/ericksa/policylens/internal/audit"
	"github.com/ericksa/policylens/internal/blob"
	"github.com/ericksa/policylens/internal/config"
	"github.com/ericksa/policylens/internal/logger"
	"github.com/ericksa/policylens/internal/metrics"
	"github.com/ericksa/policylens/internal/middleware"
	"github.com/ericksa/policylens/internal/service"
	"github.com/ericksa/policylens/internal/store"
	"github.com/ericksa/policylens/pkg/mcp"
	"github.com/gorilla/mux"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	lg := logger.New(logger.Config{Level: cfg.App.Log.Level, Pretty: cfg.App.Log.Pretty})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := newGateway(ctx, cfg, lg)
	if err != nil {
		lg.Zerolog().Fatal().Err(err).Msg("failed to start gateway")
	}

	srv := &http.Server{
		Addr:         cfg.App.Server.Addr,
		Handler:      gw.handler,
		ReadTimeout:  config.Duration(cfg.App.Server.ReadTimeout, 30*time.Second),
		WriteTimeout: config.Duration(cfg.App.Server.WriteTimeout, 60*time.Second),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		lg.LogServerStart(cfg.App.Server.Addr, cfg.App.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Zerolog().Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.LogServerShutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error().Err(err).Msg("server shutdown error")
	}
	cancel()
	gw.close()
	lg.Info().Msg("server stopped")
}

type gateway struct {
	store   *store.Store
	auditor *audit.Auditor
	svc     *service.Service
	tools   *mcp.Handler
	handler http.Handler
	log     *logger.Logger
}

// newGateway opens the stores, starts the analysis workers and the
// websocket hub, and assembles the HTTP handler. Everything it starts stops
// when ctx is cancelled.
func newGateway(ctx context.Context, cfg *config.Config, lg *logger.Logger) (*gateway, error) {
	st, err := store.Open(ctx, cfg.App.Database.Driver, cfg.App.Database.DSN)
	if err != nil {
		return nil, err
	}
	aud, err := audit.NewAuditor(cfg.App.Audit.Path, lg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	gw := &gateway{store: st, auditor: aud, log: lg.Component("gateway")}

	var blobs service.BlobStore
	if cfg.App.Storage.Enabled {
		b, err := blob.New(cfg.App.Storage)
		if err != nil {
			gw.close()
			return nil, err
		}
		if err := b.EnsureBucket(ctx); err != nil {
			gw.close()
			return nil, err
		}
		blobs = b
	}

	an, err := analyzer.New(cfg.App.Analyzer, lg)
	if err != nil {
		gw.close()
		return nil, err
	}

	m := metrics.New()
	hub := api.NewHub(cfg.App.Server.AllowedOrigins, lg)
	go hub.Run(ctx)

	gw.svc, err = service.New(service.Options{
		Config:   cfg,
		Store:    st,
		Analyzer: an,
		Blobs:    blobs,
		Auditor:  aud,
		Metrics:  m,
		Logger:   lg,
		Notifier: hub,
	})
	if err != nil {
		gw.close()
		return nil, err
	}
	gw.svc.Start(ctx)

	// MCP tools
	gw.tools = mcp.NewHandler(cfg, gw.svc, lg)

	// Set up router
	router := mux.NewRouter()
	if cfg.App.Metrics.Enabled {
		middleware.Register(router, cfg, lg, m)
	} else {
		middleware.Register(router, cfg, lg, nil)
	}

	api.New(cfg, gw.svc, hub, lg).Routes(router)

	// MCP endpoint
	router.PathPrefix("/mcp").Handler(gw.tools)

	// Tools endpoints
	router.HandleFunc("/tools", gw.listToolsHandler).Methods(http.MethodGet)
	router.HandleFunc("/tools/review/{tool}", gw.reviewToolHandler).Methods(http.MethodPost)

	// Configuration API
	router.PathPrefix("/configure").Handler(config.NewConfigAPI(cfg).Router())

	gw.handler = middleware.CORS(cfg.App.Server.AllowedOrigins)(router)
	return gw, nil
}

func (gw *gateway) close() {
	if gw.svc != nil {
		gw.svc.Close()
	}
	if err := gw.auditor.Close(); err != nil {
		gw.log.Warn().Err(err).Msg("failed to close audit log")
	}
	if err := gw.store.Close(); err != nil {
		gw.log.Warn().Err(err).Msg("failed to close store")
	}
}

func (gw *gateway) listToolsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"tools": gw.tools.Tools()})
}

func (gw *gateway) reviewToolHandler(w http.ResponseWriter, r *http.Request) {
	gw.executeToolHandler(w, r, "review", mux.Vars(r)["tool"])
}

func (gw *gateway) executeToolHandler(w http.ResponseWriter, r *http.Request, workerName, toolName string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	args := json.RawMessage(`{}`)
	if len(bytes.TrimSpace(body)) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(body, &obj); err != nil {
			http.Error(w, "request body must be a JSON object", http.StatusBadRequest)
			return
		}
		args = body
	}

	fullToolName := workerName + "_" + toolName
	result, err := gw.tools.ExecuteTool(r.Context(), fullToolName, args)
	if err != nil {
		status := api.StatusFor(err)
		if status == http.StatusInternalServerError {
			gw.log.Error().Err(err).Str("tool", fullToolName).Msg("tool call failed")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(result)
}
