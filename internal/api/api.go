// Package api exposes the review service over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/ericksa/policylens/internal/config"
	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/extract"
	"github.com/ericksa/policylens/internal/logger"
	"github.com/ericksa/policylens/internal/service"
	"github.com/ericksa/policylens/internal/session"
	"github.com/gorilla/mux"
)

// multipart parts beyond this stay on disk
const formMemory = 8 << 20

type Server struct {
	cfg *config.Config
	svc *service.Service
	hub *Hub
	log *logger.Logger
}

func New(cfg *config.Config, svc *service.Service, hub *Hub, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{cfg: cfg, svc: svc, hub: hub, log: log.Component("api")}
}

// Routes registers the document, review, dashboard and search endpoints on r.
func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.cfg.App.Metrics.Enabled {
		r.Handle(s.cfg.App.Metrics.Path, s.svc.Metrics().Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/documents", s.listDocuments).Methods(http.MethodGet)
	r.HandleFunc("/documents", s.uploadDocument).Methods(http.MethodPost)
	r.HandleFunc("/documents/{id}", s.getDocument).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}", s.deleteDocument).Methods(http.MethodDelete)
	r.HandleFunc("/documents/{id}/annotated", s.annotated).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}/analyze", s.analyze).Methods(http.MethodPost)
	r.HandleFunc("/documents/{id}/analysis", s.analysis).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}/clauses/{clause}/accept", s.accept).Methods(http.MethodPost)
	r.HandleFunc("/documents/{id}/clauses/{clause}/reject", s.reject).Methods(http.MethodPost)
	r.HandleFunc("/documents/{id}/download", s.download).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}/original", s.original).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}/history", s.history).Methods(http.MethodGet)

	r.HandleFunc("/dashboard", s.dashboard).Methods(http.MethodGet)
	r.HandleFunc("/dashboard/summary", s.summary).Methods(http.MethodGet)
	r.HandleFunc("/search", s.search).Methods(http.MethodGet)

	if s.hub != nil {
		r.HandleFunc("/ws/dashboard", s.dashboardSocket).Methods(http.MethodGet)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	cards, err := s.svc.Documents(r.Context(), caller(r), r.URL.Query().Get("filter"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": cards})
}

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if limit := s.cfg.App.Server.MaxUploadBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "application/octet-stream" {
		contentType = ""
	}
	doc, err := s.svc.Upload(r.Context(), caller(r), header.Filename, data, contentType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.Document(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), caller(r), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) annotated(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.Annotated(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// analyze queues an analysis pass. With wait=true the pass runs inline and
// the result is returned.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()
	force, err := boolParam(q.Get("force"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "force must be a boolean")
		return
	}
	wait, err := boolParam(q.Get("wait"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "wait must be a boolean")
		return
	}

	if wait {
		res, err := s.svc.Analyze(r.Context(), caller(r), id, force)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	if err := s.svc.RequestAnalysis(r.Context(), caller(r), id, force); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"document_id": id, "status": "queued"})
}

func (s *Server) analysis(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, state, err := s.svc.FetchAnalysis(r.Context(), caller(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": id,
		"state":       state,
		"analysis":    a,
	})
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := s.svc.AcceptRewrite(r.Context(), caller(r), vars["id"], vars["clause"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := s.svc.RejectRewrite(r.Context(), caller(r), vars["id"], vars["clause"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	name, text, err := s.svc.RevisedText(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, text)
}

func (s *Server) original(w http.ResponseWriter, r *http.Request) {
	doc, data, err := s.svc.Original(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := s.svc.History(r.Context(), caller(r), mux.Vars(r)["id"], limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Dashboard(r.Context(), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.svc.Summary(r.Context(), caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	results, err := s.svc.Search(r.Context(), caller(r), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "results": results})
}

func caller(r *http.Request) session.Session {
	sess, _ := session.From(r.Context())
	return sess
}

func boolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInconsistentState):
		return http.StatusConflict
	case errors.Is(err, extract.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
