package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation indicates a malformed request or field value.
	ErrValidation = errors.New("validation failed")
	// ErrAuth indicates a missing or unknown API key.
	ErrAuth = errors.New("authentication failed")
	// ErrNotFound indicates a missing user, job, repo, branch, or file.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a guarded job transition lost the race.
	ErrConflict = errors.New("status conflict")
	// ErrBusy indicates the owning user is at the running-job cap.
	ErrBusy = errors.New("user at concurrency limit")
	// ErrPermission indicates the installation lacks scope for the repo.
	ErrPermission = errors.New("permission denied")
	// ErrCredential indicates app credentials are missing or unreadable.
	ErrCredential = errors.New("credential unavailable")
	// ErrUpstreamAuth indicates GitHub rejected the app JWT or installation.
	ErrUpstreamAuth = errors.New("upstream authentication rejected")
	// ErrRateLimited indicates GitHub's rate limit is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrUpstreamQuota indicates the LLM provider is rate limited or out of quota.
	ErrUpstreamQuota = errors.New("upstream quota exhausted")
	// ErrConversion indicates the LLM returned unusable output after retries.
	ErrConversion = errors.New("conversion failed")
)

// RateLimitError carries the reset time reported by GitHub's rate-limit
// headers. It matches ErrRateLimited under errors.Is.
type RateLimitError struct {
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.Reset.Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Retryable reports whether err is worth retrying after a backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamQuota)
}
