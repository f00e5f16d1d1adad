// Package server exposes the HTTP API: registration, conversion job
// submission and inspection, and the GitHub webhook ingress.
package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"codemorph/pkg/domain"
	"codemorph/pkg/store"
)

// limiter gates request rates per key.
type limiter interface {
	Allow(key string) bool
}

// enqueuer nudges the worker pool about a new pending job.
type enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store           store.Store
	Queue           enqueuer
	RegisterLimiter limiter
	ConvertLimiter  limiter
	WebhookSecret   []byte
	DefaultBranch   string
}

// Server exposes the HTTP endpoints.
type Server struct {
	store           store.Store
	queue           enqueuer
	registerLimiter limiter
	convertLimiter  limiter
	webhookSecret   []byte
	defaultBranch   string
	mux             *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	branch := strings.TrimSpace(cfg.DefaultBranch)
	if branch == "" {
		branch = "main"
	}
	s := &Server{
		store:           cfg.Store,
		queue:           cfg.Queue,
		registerLimiter: cfg.RegisterLimiter,
		convertLimiter:  cfg.ConvertLimiter,
		webhookSecret:   cfg.WebhookSecret,
		defaultBranch:   branch,
		mux:             http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/supported-languages", s.handleSupportedLanguages)
	s.mux.HandleFunc("/auth/register", s.handleRegister)
	s.mux.Handle("/convert", s.authenticated(s.handleConvert))
	s.mux.Handle("/jobs", s.authenticated(s.handleListJobs))
	s.mux.Handle("/jobs/", s.authenticated(s.handleJobByID))
	s.mux.HandleFunc("/webhooks/github", s.handleWebhook)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	key, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	user, found, err := s.store.GetUserByAPIKeyHash(hashAPIKey(key))
	if err != nil {
		slog.Error("api key lookup", "error", err)
		return domain.User{}, false
	}
	return user, found
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// newAPIKey mints a bearer credential. Only its digest is persisted; the
// plaintext is shown once in the registration response.
func newAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "cmk_" + hex.EncodeToString(buf), nil
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Unknown
// errors stay opaque.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAuth):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
