package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"codemorph/internal/convert"
	"codemorph/internal/ghrepo"
	"codemorph/pkg/domain"
	"codemorph/pkg/queue"
	"codemorph/pkg/store"
)

type fakeTokens struct {
	err error
}

func (f *fakeTokens) InstallationToken(context.Context, int64) (string, time.Time, error) {
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	return "ghs_test", time.Now().Add(time.Hour), nil
}

type fakeRepo struct {
	mu       sync.Mutex
	files    []ghrepo.RepoFile
	contents map[string]string
	listErr  error

	branches  []string
	commits   [][]ghrepo.Change
	prURL     string
	prOpened  bool
	prHead    string
	prBody    string
}

func (f *fakeRepo) ListFiles(context.Context, string, string, string, string) ([]ghrepo.RepoFile, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.files, nil
}

func (f *fakeRepo) ReadFile(_ context.Context, _, _, _ string, path, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.contents[path]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, domain.ErrNotFound)
	}
	return []byte(content), nil
}

func (f *fakeRepo) EnsureBranch(_ context.Context, _, _, _, _ string, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches = append(f.branches, name)
	return name, nil
}

func (f *fakeRepo) CommitFiles(_ context.Context, _, _, _, _ string, changes []ghrepo.Change, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, changes)
	return "sha123", nil
}

func (f *fakeRepo) OpenPullRequest(_ context.Context, _, _, _ string, head, _, _, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prOpened = true
	f.prHead = head
	f.prBody = body
	if f.prURL == "" {
		f.prURL = "https://github.com/octo/demo/pull/1"
	}
	return f.prURL, nil
}

type fakeConverter struct {
	mu      sync.Mutex
	failFor map[string]error
}

func (f *fakeConverter) Convert(_ context.Context, req convert.Request) (convert.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[req.Path]; ok {
		return convert.Result{}, err
	}
	return convert.Result{
		Path:          req.Path,
		ConvertedPath: strings.TrimSuffix(req.Path, ".sh") + ".py",
		Content:       "# converted\n",
	}, nil
}

func seedJob(t *testing.T, st store.Store, withInstallation bool) domain.ConversionJob {
	t.Helper()
	user := domain.User{ID: "u1", Email: "a@example.com", GitHubLogin: "octo", APIKeyHash: "h1", Active: true, CreatedAt: time.Now()}
	if err := st.CreateUser(user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if withInstallation {
		if err := st.UpsertInstallation(domain.Installation{InstallationID: 99, UserID: "u1", RepositorySelection: "all", LinkedAt: time.Now()}); err != nil {
			t.Fatalf("upsert installation: %v", err)
		}
	}
	job := domain.ConversionJob{
		ID:             "job-1",
		UserID:         "u1",
		RepoOwner:      "octo",
		RepoName:       "demo",
		SourceBranch:   "main",
		TargetBranch:   "convert-to-python",
		TargetLanguage: "python",
		Status:         domain.StatusPending,
		CreatedAt:      time.Now(),
	}
	if err := st.CreateJob(job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func threeShellFiles() (*fakeRepo, *fakeConverter) {
	repo := &fakeRepo{
		files: []ghrepo.RepoFile{
			{Path: "a.sh", Size: 10},
			{Path: "b.sh", Size: 10},
			{Path: "c.sh", Size: 10},
			{Path: "README.md", Size: 10},
		},
		contents: map[string]string{
			"a.sh": "echo a",
			"b.sh": "echo b",
			"c.sh": "echo c",
		},
	}
	return repo, &fakeConverter{failFor: map[string]error{}}
}

func newTestOrchestrator(st store.Store, repo *fakeRepo, conv *fakeConverter) *Orchestrator {
	return NewOrchestrator(st, &fakeTokens{}, repo, conv, Config{
		MaxFileSize:       10000,
		MaxFiles:          50,
		FileFanout:        2,
		MaxRunningPerUser: 10,
	})
}

func TestRunPartialFailureStillOpensPR(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st, true)
	repo, conv := threeShellFiles()
	conv.failFor["b.sh"] = fmt.Errorf("%w: b.sh", domain.ErrConversion)

	if err := newTestOrchestrator(st, repo, conv).Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _, _ := st.GetJob(job.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if got.FilesProcessed != 3 || got.FilesConverted != 2 {
		t.Fatalf("counts = %d/%d, want 3/2", got.FilesProcessed, got.FilesConverted)
	}
	if got.PRURL == "" {
		t.Fatalf("pr url should be set")
	}
	if !strings.Contains(got.ErrorMessage, "b.sh") {
		t.Fatalf("summary should mention the failed file: %q", got.ErrorMessage)
	}
	if len(repo.commits) != 1 || len(repo.commits[0]) != 2 {
		t.Fatalf("expected one commit with two files, got %+v", repo.commits)
	}
	if strings.Contains(repo.prBody, "`b.sh` (shell)") && !strings.Contains(repo.prBody, "Skipped") {
		t.Fatalf("pr body should not list failed file as converted: %s", repo.prBody)
	}
}

func TestRunAllFilesFailedMarksJobFailed(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st, true)
	repo, conv := threeShellFiles()
	for _, path := range []string{"a.sh", "b.sh", "c.sh"} {
		conv.failFor[path] = fmt.Errorf("%w: %s", domain.ErrConversion, path)
	}

	if err := newTestOrchestrator(st, repo, conv).Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _, _ := st.GetJob(job.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if got.FilesProcessed != 3 || got.FilesConverted != 0 {
		t.Fatalf("counts = %d/%d, want 3/0", got.FilesProcessed, got.FilesConverted)
	}
	if got.PRURL != "" || repo.prOpened {
		t.Fatalf("no PR should be opened")
	}
	for _, path := range []string{"a.sh", "b.sh", "c.sh"} {
		if !strings.Contains(got.ErrorMessage, path) {
			t.Fatalf("summary should aggregate %s: %q", path, got.ErrorMessage)
		}
	}
}

func TestRunZeroCandidatesCompletesWithoutPR(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st, true)
	repo := &fakeRepo{files: []ghrepo.RepoFile{{Path: "README.md", Size: 10}}}
	conv := &fakeConverter{}

	if err := newTestOrchestrator(st, repo, conv).Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _, _ := st.GetJob(job.ID)
	if got.Status != domain.StatusCompleted || got.FilesProcessed != 0 || got.PRURL != "" {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	if repo.prOpened || len(repo.branches) != 0 {
		t.Fatalf("no branch or PR should be created")
	}
}

func TestRunMissingInstallationFailsJob(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st, false)
	repo, conv := threeShellFiles()

	if err := newTestOrchestrator(st, repo, conv).Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _, _ := st.GetJob(job.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "installation not linked") {
		t.Fatalf("summary = %q", got.ErrorMessage)
	}
	if got.Retryable {
		t.Fatalf("missing installation is not retryable")
	}
}

func TestRunClaimLostIsNoOp(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st, true)
	if err := st.ClaimJob(job.ID, 10); err != nil {
		t.Fatalf("pre-claim: %v", err)
	}
	repo, conv := threeShellFiles()

	if err := newTestOrchestrator(st, repo, conv).Run(context.Background(), job.ID); err != nil {
		t.Fatalf("lost claim should be a no-op, got %v", err)
	}
	got, _, _ := st.GetJob(job.ID)
	if got.Status != domain.StatusRunning {
		t.Fatalf("job should remain with its claimer, got %s", got.Status)
	}
	if repo.prOpened {
		t.Fatalf("losing worker must not touch the repo")
	}
}

func TestRunUserAtCapIsRetryable(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st, true)
	blocker := job
	blocker.ID = "job-0"
	if err := st.CreateJob(blocker); err != nil {
		t.Fatalf("create blocker: %v", err)
	}
	if err := st.ClaimJob("job-0", 1); err != nil {
		t.Fatalf("claim blocker: %v", err)
	}
	repo, conv := threeShellFiles()
	o := NewOrchestrator(st, &fakeTokens{}, repo, conv, Config{MaxRunningPerUser: 1, FileFanout: 1})

	err := o.Run(context.Background(), job.ID)
	if !errors.Is(err, queue.Retryable) {
		t.Fatalf("cap miss should be retryable, got %v", err)
	}
	got, _, _ := st.GetJob(job.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("job should stay pending, got %s", got.Status)
	}
}

func TestRunListFailureRecordsRetryability(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st, true)
	repo := &fakeRepo{listErr: &domain.RateLimitError{Reset: time.Now().Add(time.Minute)}}

	if err := newTestOrchestrator(st, repo, &fakeConverter{}).Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _, _ := st.GetJob(job.ID)
	if got.Status != domain.StatusFailed || !got.Retryable {
		t.Fatalf("rate limited listing should fail retryable, got %+v", got)
	}
}
