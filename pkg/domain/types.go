package domain

import "time"

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	GitHubLogin string    `json:"githubLogin"`
	APIKeyHash  string    `json:"-"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Installation records a GitHub App installation linked to a registered user.
// It is the sole source of truth for "this user has granted repo access".
type Installation struct {
	InstallationID      int64     `json:"installationId"`
	UserID              string    `json:"userId"`
	RepositorySelection string    `json:"repositorySelection"`
	LinkedAt            time.Time `json:"linkedAt"`
}

type ConversionJob struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	RepoOwner       string     `json:"repoOwner"`
	RepoName        string     `json:"repoName"`
	SourceBranch    string     `json:"sourceBranch"`
	TargetBranch    string     `json:"targetBranch"`
	SourceLanguages []string   `json:"sourceLanguages,omitempty"`
	TargetLanguage  string     `json:"targetLanguage"`
	Status          JobStatus  `json:"status"`
	FilesProcessed  int        `json:"filesProcessed"`
	FilesConverted  int        `json:"filesConverted"`
	PRURL           string     `json:"prUrl,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	Retryable       bool       `json:"retryable,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// FileResult is the outcome of converting a single file. It lives only for
// the duration of job execution and is aggregated into the job counters.
type FileResult struct {
	Path           string
	SourceLanguage string
	ConvertedPath  string
	Content        string
	Err            error
}
