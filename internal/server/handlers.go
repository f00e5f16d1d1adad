package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"codemorph/internal/classify"
	"codemorph/internal/util"
	"codemorph/pkg/domain"
)

var githubLoginRe = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,37}[a-zA-Z0-9])?$`)

type registerRequest struct {
	Email          string `json:"email"`
	GitHubUsername string `json:"github_username"`
}

type registerResponse struct {
	UserID string `json:"user_id"`
	APIKey string `json:"api_key"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.registerLimiter != nil && !s.registerLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	login := strings.TrimSpace(req.GitHubUsername)
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	if !githubLoginRe.MatchString(login) {
		writeError(w, http.StatusBadRequest, "valid github_username is required")
		return
	}
	exists, err := s.store.HasUserEmail(email)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if exists {
		writeError(w, http.StatusBadRequest, "email already registered")
		return
	}
	apiKey, err := newAPIKey()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	user := domain.User{
		ID:          util.NewID(),
		Email:       email,
		GitHubLogin: login,
		APIKeyHash:  hashAPIKey(apiKey),
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateUser(user); err != nil {
		writeDomainError(w, err)
		return
	}
	slog.Info("user registered", "userId", user.ID, "githubLogin", login)
	writeJSON(w, http.StatusCreated, registerResponse{UserID: user.ID, APIKey: apiKey})
}

type convertRequest struct {
	RepoOwner       string   `json:"repo_owner"`
	RepoName        string   `json:"repo_name"`
	Branch          string   `json:"branch"`
	TargetBranch    string   `json:"target_branch"`
	SourceLanguages []string `json:"source_languages"`
	TargetLanguage  string   `json:"target_language"`
}

type convertResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.convertLimiter != nil && !s.convertLimiter.Allow(user.ID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	var req convertRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	owner := strings.TrimSpace(req.RepoOwner)
	name := strings.TrimSpace(req.RepoName)
	if owner == "" || name == "" {
		writeError(w, http.StatusBadRequest, "repo_owner and repo_name are required")
		return
	}
	target := strings.ToLower(strings.TrimSpace(req.TargetLanguage))
	if target == "" {
		target = "python"
	}
	if !classify.IsSupportedTarget(target) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported target language %q", target))
		return
	}
	sourceBranch := strings.TrimSpace(req.Branch)
	if sourceBranch == "" {
		sourceBranch = s.defaultBranch
	}
	targetBranch := strings.TrimSpace(req.TargetBranch)
	if targetBranch == "" {
		targetBranch = "convert-to-" + target
	}
	langs := make([]string, 0, len(req.SourceLanguages))
	for _, lang := range req.SourceLanguages {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang != "" {
			langs = append(langs, lang)
		}
	}

	job := domain.ConversionJob{
		ID:              util.NewID(),
		UserID:          user.ID,
		RepoOwner:       owner,
		RepoName:        name,
		SourceBranch:    sourceBranch,
		TargetBranch:    targetBranch,
		SourceLanguages: langs,
		TargetLanguage:  target,
		Status:          domain.StatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateJob(job); err != nil {
		writeDomainError(w, err)
		return
	}
	if s.queue != nil {
		if err := s.queue.Enqueue(r.Context(), job.ID); err != nil {
			// The recovery scan will pick the job up; accept it anyway.
			slog.Warn("enqueue job", "jobId", job.ID, "error", err)
		}
	}
	slog.Info("job accepted", "jobId", job.ID, "userId", user.ID, "repo", owner+"/"+name, "target", target)
	writeJSON(w, http.StatusAccepted, convertResponse{JobID: job.ID, Status: string(job.Status)})
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	job, ok, err := s.store.GetJob(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// Foreign jobs 404 like missing ones so existence is not revealed.
	if !ok || job.UserID != user.ID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	offset := queryInt(r, "offset", 0)
	jobs, err := s.store.ListJobsByUser(user.ID, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleSupportedLanguages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source_languages": classify.SupportedLanguages(),
	})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func clientKey(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
