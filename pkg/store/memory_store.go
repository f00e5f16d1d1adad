package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"codemorph/pkg/domain"
)

// MemoryStore is an in-memory Store for tests and local runs. Semantics
// mirror GormStore, including the CAS transition rules.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	installations map[int64]domain.Installation
	jobs          map[string]domain.ConversionJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		installations: make(map[int64]domain.Installation),
		jobs:          make(map[string]domain.ConversionJob),
	}
}

func (s *MemoryStore) CreateUser(u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return fmt.Errorf("%w: email already registered", domain.ErrValidation)
		}
		if existing.APIKeyHash == u.APIKeyHash {
			return fmt.Errorf("%w: api key collision", domain.ErrValidation)
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) GetUserByAPIKeyHash(hash string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.APIKeyHash == hash && u.Active {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (s *MemoryStore) GetUserByGitHubLogin(login string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.GitHubLogin == login {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (s *MemoryStore) HasUserEmail(email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) UpsertInstallation(inst domain.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installations[inst.InstallationID] = inst
	return nil
}

func (s *MemoryStore) DeleteInstallation(installationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.installations, installationID)
	return nil
}

func (s *MemoryStore) GetInstallationByUser(userID string) (domain.Installation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.installations {
		if inst.UserID == userID {
			return inst, true, nil
		}
	}
	return domain.Installation{}, false, nil
}

func (s *MemoryStore) CreateJob(job domain.ConversionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: job %s exists", domain.ErrConflict, job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) GetJob(id string) (domain.ConversionJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ConversionJob{}, false, nil
	}
	return cloneJob(job), true, nil
}

func (s *MemoryStore) ListJobsByUser(userID string, limit, offset int) ([]domain.ConversionJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]domain.ConversionJob, 0)
	for _, job := range s.jobs {
		if job.UserID == userID {
			all = append(all, cloneJob(job))
		}
	}
	// Matches GormStore's "created_at DESC, id DESC" so pagination stays
	// stable when timestamps collide.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	if offset >= len(all) {
		return []domain.ConversionJob{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) Transition(id string, expected, next domain.JobStatus, fields JobUpdate) error {
	if !legalTransition(expected, next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrConflict, expected, next)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	if job.Status != expected {
		return fmt.Errorf("%w: job %s not in %s", domain.ErrConflict, id, expected)
	}
	applyTransition(&job, next, fields)
	s.jobs[id] = job
	return nil
}

func (s *MemoryStore) ClaimJob(id string, maxRunningPerUser int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	if job.Status != domain.StatusPending {
		return fmt.Errorf("%w: job %s not pending", domain.ErrConflict, id)
	}
	if maxRunningPerUser > 0 {
		running := 0
		for _, other := range s.jobs {
			if other.UserID == job.UserID && other.Status == domain.StatusRunning {
				running++
			}
		}
		if running >= maxRunningPerUser {
			return fmt.Errorf("%w: user %s", domain.ErrBusy, job.UserID)
		}
	}
	applyTransition(&job, domain.StatusRunning, JobUpdate{})
	s.jobs[id] = job
	return nil
}

func (s *MemoryStore) NextPendingJob() (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		oldest string
		at     time.Time
		found  bool
	)
	for id, job := range s.jobs {
		if job.Status != domain.StatusPending {
			continue
		}
		if !found || job.CreatedAt.Before(at) || (job.CreatedAt.Equal(at) && id < oldest) {
			oldest, at, found = id, job.CreatedAt, true
		}
	}
	return oldest, found, nil
}

func applyTransition(job *domain.ConversionJob, next domain.JobStatus, fields JobUpdate) {
	now := time.Now().UTC()
	job.Status = next
	switch next {
	case domain.StatusRunning:
		job.StartedAt = &now
	case domain.StatusCompleted, domain.StatusFailed:
		job.CompletedAt = &now
	}
	if fields.FilesProcessed != nil {
		job.FilesProcessed = *fields.FilesProcessed
	}
	if fields.FilesConverted != nil {
		job.FilesConverted = *fields.FilesConverted
	}
	if fields.PRURL != nil {
		job.PRURL = *fields.PRURL
	}
	if fields.ErrorMessage != nil {
		job.ErrorMessage = *fields.ErrorMessage
	}
	if fields.Retryable != nil {
		job.Retryable = *fields.Retryable
	}
}

func cloneJob(job domain.ConversionJob) domain.ConversionJob {
	out := job
	if job.SourceLanguages != nil {
		out.SourceLanguages = append([]string(nil), job.SourceLanguages...)
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		out.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
