// Package server exposes the document sanitization API over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"taxvault/internal/app"
	"taxvault/internal/identity"
	"taxvault/internal/ratelimit"
	"taxvault/internal/util"
	"taxvault/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Auth           identity.Authenticator
	UploadLimiter  *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the document vault service.
type Server struct {
	app            *app.App
	auth           identity.Authenticator
	uploadLimiter  *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires an app")
	}
	if cfg.Auth == nil {
		return nil, errors.New("server requires an authenticator")
	}
	s := &Server{
		app:            cfg.App,
		auth:           cfg.Auth,
		uploadLimiter:  cfg.UploadLimiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.Handle("POST /upload", s.withOwner(s.handleUpload))
	s.mux.Handle("GET /documents", s.withOwner(s.handleListDocuments))
	s.mux.Handle("GET /documents/{id}", s.withOwner(s.handleGetDocument))
	s.mux.Handle("DELETE /documents/{id}", s.withOwner(s.handleDeleteDocument))

	s.mux.Handle("POST /approval/{id}/approve", s.withOwner(s.handleApprove))
	s.mux.Handle("POST /approval/{id}/reject", s.withOwner(s.handleReject))
	s.mux.Handle("GET /approval/extractions/{id}", s.withOwner(s.handleGetExtraction))
	s.mux.Handle("GET /approval/preview/{id}", s.withOwner(s.handlePreview))
	s.mux.Handle("GET /approval/download/{id}", s.withOwner(s.handleDownload))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ownerHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withOwner(next ownerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := s.auth.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		r = r.WithContext(identity.ContextWithOwner(r.Context(), ownerID))
		next(w, r, ownerID)
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, ownerID string) {
	if s.uploadLimiter != nil && !s.uploadLimiter.Allow(util.ClientIP(r, s.trustedProxies)) {
		writeError(w, http.StatusTooManyRequests, "too many uploads")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable file")
		return
	}
	mimeType := strings.TrimSpace(header.Header.Get("Content-Type"))
	doc, err := s.app.Upload(r.Context(), ownerID, header.Filename, mimeType, data)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, uploadResponse{DocumentID: doc.ID, Document: doc})
}

// uploadResponse carries the canonical document_id alongside the record.
type uploadResponse struct {
	DocumentID string `json:"document_id"`
	domain.Document
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request, ownerID string) {
	docs, err := s.app.ListDocuments(ownerID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": docs,
		"count": len(docs),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request, ownerID string) {
	doc, err := s.app.GetDocument(ownerID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request, ownerID string) {
	if err := s.app.DeleteDocument(r.Context(), ownerID, r.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, ownerID string) {
	doc, err := s.app.Approve(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request, ownerID string) {
	if err := s.app.Reject(r.Context(), ownerID, r.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request, ownerID string) {
	ex, err := s.app.GetExtraction(ownerID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, ownerID string) {
	url, err := s.app.PreviewURL(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, ownerID string) {
	url, err := s.app.DownloadURL(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// writeAppError maps domain errors onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	var invalid app.ErrInvalidUpload
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, domain.ErrConflictingState):
		writeError(w, http.StatusConflict, err.Error())
	case domain.IsTransport(err):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusBadGateway, "upstream service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "document not found":
		return "DOC_NOT_FOUND"
	case message == "too many uploads":
		return "DOC_UPLOAD_RATE_LIMITED"
	case strings.Contains(message, "file is required"):
		return "DOC_FILE_REQUIRED"
	case strings.Contains(message, "invalid upload"):
		return "DOC_INVALID_UPLOAD"
	case message == "invalid form data":
		return "DOC_INVALID_UPLOAD_FORM"
	case message == "upstream service unavailable":
		return "SYSTEM_UPSTREAM_UNAVAILABLE"
	}

	switch status {
	case http.StatusBadRequest:
		return "DOC_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "DOC_NOT_FOUND"
	case http.StatusConflict:
		return "DOC_CONFLICTING_STATE"
	case http.StatusTooManyRequests:
		return "DOC_UPLOAD_RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
