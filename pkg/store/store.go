package store

import (
	"codemorph/pkg/domain"
)

// JobUpdate carries optional fields written together with a status
// transition. Nil pointers leave the column untouched.
type JobUpdate struct {
	FilesProcessed *int
	FilesConverted *int
	PRURL          *string
	ErrorMessage   *string
	Retryable      *bool
}

// Store defines persistence for users, installations, and conversion jobs.
type Store interface {
	// users
	CreateUser(u domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByAPIKeyHash(hash string) (domain.User, bool, error)
	GetUserByGitHubLogin(login string) (domain.User, bool, error)
	HasUserEmail(email string) (bool, error)

	// installations
	UpsertInstallation(inst domain.Installation) error
	DeleteInstallation(installationID int64) error
	GetInstallationByUser(userID string) (domain.Installation, bool, error)

	// jobs
	CreateJob(job domain.ConversionJob) error
	GetJob(id string) (domain.ConversionJob, bool, error)
	ListJobsByUser(userID string, limit, offset int) ([]domain.ConversionJob, error)

	// Transition is a guarded compare-and-swap: the update applies only if
	// the job is currently in expected, otherwise ErrConflict. This is the
	// mutual-exclusion mechanism between workers.
	Transition(id string, expected, next domain.JobStatus, fields JobUpdate) error

	// ClaimJob moves a pending job to running, enforcing the per-user
	// running cap in the same transaction. ErrConflict when the job is no
	// longer pending, ErrBusy when the owner is at the cap.
	ClaimJob(id string, maxRunningPerUser int) error

	// NextPendingJob returns the oldest pending job id, if any. Used to
	// recover jobs whose queue nudge was lost.
	NextPendingJob() (string, bool, error)
}

// legalTransition enforces the status state machine:
// pending -> running -> completed | failed. Terminal states never change.
func legalTransition(expected, next domain.JobStatus) bool {
	if expected.Terminal() {
		return false
	}
	switch expected {
	case domain.StatusPending:
		return next == domain.StatusRunning
	case domain.StatusRunning:
		return next == domain.StatusCompleted || next == domain.StatusFailed
	}
	return false
}
