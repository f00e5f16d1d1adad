// Package worker executes conversion jobs end to end: claim, discover,
// convert, commit, open the pull request, and record the terminal status.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"codemorph/internal/classify"
	"codemorph/internal/convert"
	"codemorph/internal/ghrepo"
	"codemorph/pkg/domain"
	"codemorph/pkg/queue"
	"codemorph/pkg/store"
)

// tokens abstracts the installation token manager.
type tokens interface {
	InstallationToken(ctx context.Context, installationID int64) (string, time.Time, error)
}

// repoClient abstracts the GitHub repository operations the pipeline uses.
type repoClient interface {
	ListFiles(ctx context.Context, token, owner, repo, branch string) ([]ghrepo.RepoFile, error)
	ReadFile(ctx context.Context, token, owner, repo, path, ref string) ([]byte, error)
	EnsureBranch(ctx context.Context, token, owner, repo, base, name string) (string, error)
	CommitFiles(ctx context.Context, token, owner, repo, branch string, changes []ghrepo.Change, message string) (string, error)
	OpenPullRequest(ctx context.Context, token, owner, repo, head, base, title, body string) (string, error)
}

// converter abstracts the per-file conversion engine.
type converter interface {
	Convert(ctx context.Context, req convert.Request) (convert.Result, error)
}

// Config bounds a single job execution.
type Config struct {
	MaxFileSize       int64
	MaxFiles          int
	FileFanout        int
	MaxRunningPerUser int
}

// Orchestrator runs one conversion job at a time per call. It is safe for
// concurrent use; the store's claim semantics keep two runs off one job.
type Orchestrator struct {
	store  store.Store
	tokens tokens
	repos  repoClient
	engine converter
	cfg    Config
}

func NewOrchestrator(st store.Store, tm tokens, rc repoClient, eng converter, cfg Config) *Orchestrator {
	if cfg.FileFanout <= 0 {
		cfg.FileFanout = 5
	}
	return &Orchestrator{store: st, tokens: tm, repos: rc, engine: eng, cfg: cfg}
}

// Run executes the job with the given id. A queue.Retryable error means the
// job stays pending and should be redelivered later; any other outcome is
// recorded in the store before returning.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	if err := o.store.ClaimJob(jobID, o.cfg.MaxRunningPerUser); err != nil {
		switch {
		case errors.Is(err, domain.ErrBusy):
			return fmt.Errorf("%w: %v", queue.Retryable, err)
		case errors.Is(err, domain.ErrConflict):
			// Another worker already has it, or it's already terminal.
			slog.Debug("job claim lost", "jobId", jobID)
			return nil
		case errors.Is(err, domain.ErrNotFound):
			slog.Warn("queued job missing from store", "jobId", jobID)
			return nil
		}
		return fmt.Errorf("%w: claim: %v", queue.Retryable, err)
	}

	job, ok, err := o.store.GetJob(jobID)
	if err != nil || !ok {
		return o.fail(jobID, 0, 0, fmt.Sprintf("load job: %v", err), false)
	}

	log := slog.With("jobId", job.ID, "repo", job.RepoOwner+"/"+job.RepoName)
	log.Info("job started", "target", job.TargetLanguage)

	inst, ok, err := o.store.GetInstallationByUser(job.UserID)
	if err != nil {
		return o.fail(job.ID, 0, 0, fmt.Sprintf("load installation: %v", err), true)
	}
	if !ok {
		return o.fail(job.ID, 0, 0, "github app installation not linked for this account", false)
	}

	token, _, err := o.tokens.InstallationToken(ctx, inst.InstallationID)
	if err != nil {
		return o.fail(job.ID, 0, 0, fmt.Sprintf("installation token: %v", err), domain.Retryable(err))
	}

	files, err := o.repos.ListFiles(ctx, token, job.RepoOwner, job.RepoName, job.SourceBranch)
	if err != nil {
		return o.fail(job.ID, 0, 0, fmt.Sprintf("list repository files: %v", err), domain.Retryable(err))
	}
	treeFiles := make([]classify.File, 0, len(files))
	for _, f := range files {
		treeFiles = append(treeFiles, classify.File{Path: f.Path, Size: f.Size})
	}
	candidates := classify.Classify(treeFiles, job.SourceLanguages, job.TargetLanguage, classify.Limits{
		MaxFileSize: o.cfg.MaxFileSize,
		MaxFiles:    o.cfg.MaxFiles,
	})
	if len(candidates) == 0 {
		log.Info("job completed", "files", 0)
		return o.complete(job.ID, 0, 0, "")
	}

	results := o.convertAll(ctx, token, job, candidates)

	changes := make([]ghrepo.Change, 0, len(results))
	var failures []string
	for _, res := range results {
		if res.Err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", res.Path, res.Err))
			continue
		}
		changes = append(changes, ghrepo.Change{Path: res.ConvertedPath, Content: res.Content})
	}
	processed := len(results)
	converted := len(changes)

	if converted == 0 {
		return o.fail(job.ID, processed, 0,
			fmt.Sprintf("all %d files failed to convert: %s", processed, strings.Join(failures, "; ")),
			anyRetryable(results))
	}

	branch, err := o.repos.EnsureBranch(ctx, token, job.RepoOwner, job.RepoName, job.SourceBranch, job.TargetBranch)
	if err != nil {
		return o.fail(job.ID, processed, converted, fmt.Sprintf("create branch: %v", err), domain.Retryable(err))
	}
	message := commitMessage(job, converted)
	if _, err := o.repos.CommitFiles(ctx, token, job.RepoOwner, job.RepoName, branch, changes, message); err != nil {
		return o.fail(job.ID, processed, converted, fmt.Sprintf("commit files: %v", err), domain.Retryable(err))
	}
	prURL, err := o.repos.OpenPullRequest(ctx, token, job.RepoOwner, job.RepoName, branch, job.SourceBranch,
		prTitle(job), prBody(job, results, failures))
	if err != nil {
		return o.fail(job.ID, processed, converted, fmt.Sprintf("open pull request: %v", err), domain.Retryable(err))
	}

	summary := ""
	if len(failures) > 0 {
		summary = fmt.Sprintf("%d of %d files failed: %s", len(failures), processed, strings.Join(failures, "; "))
	}
	log.Info("job completed", "files", processed, "converted", converted, "pr", prURL)
	return o.completeWithPR(job.ID, processed, converted, prURL, summary)
}

// convertAll reads and converts candidates with bounded parallelism. One
// file's failure never aborts its siblings; every candidate produces a
// FileResult.
func (o *Orchestrator) convertAll(ctx context.Context, token string, job domain.ConversionJob, candidates []classify.Candidate) []domain.FileResult {
	results := make([]domain.FileResult, len(candidates))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.FileFanout)
	for i, cand := range candidates {
		i, cand := i, cand
		g.Go(func() error {
			res := domain.FileResult{Path: cand.Path, SourceLanguage: cand.Language}
			content, err := o.repos.ReadFile(gctx, token, job.RepoOwner, job.RepoName, cand.Path, job.SourceBranch)
			if err != nil {
				res.Err = err
			} else {
				out, err := o.engine.Convert(gctx, convert.Request{
					Path:           cand.Path,
					SourceLanguage: cand.Language,
					TargetLanguage: job.TargetLanguage,
					Content:        string(content),
				})
				if err != nil {
					res.Err = err
				} else {
					res.ConvertedPath = out.ConvertedPath
					res.Content = out.Content
				}
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results
}

func anyRetryable(results []domain.FileResult) bool {
	for _, res := range results {
		if res.Err != nil && domain.Retryable(res.Err) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) complete(jobID string, processed, converted int, summary string) error {
	return o.terminal(jobID, domain.StatusCompleted, processed, converted, "", summary, false)
}

func (o *Orchestrator) completeWithPR(jobID string, processed, converted int, prURL, summary string) error {
	return o.terminal(jobID, domain.StatusCompleted, processed, converted, prURL, summary, false)
}

func (o *Orchestrator) fail(jobID string, processed, converted int, summary string, retryable bool) error {
	slog.Warn("job failed", "jobId", jobID, "error", summary, "retryable", retryable)
	return o.terminal(jobID, domain.StatusFailed, processed, converted, "", summary, retryable)
}

func (o *Orchestrator) terminal(jobID string, status domain.JobStatus, processed, converted int, prURL, summary string, retryable bool) error {
	update := store.JobUpdate{
		FilesProcessed: &processed,
		FilesConverted: &converted,
		Retryable:      &retryable,
	}
	if prURL != "" {
		update.PRURL = &prURL
	}
	if summary != "" {
		update.ErrorMessage = &summary
	}
	if err := o.store.Transition(jobID, domain.StatusRunning, status, update); err != nil {
		slog.Error("record job outcome", "jobId", jobID, "status", status, "error", err)
		return err
	}
	return nil
}

func commitMessage(job domain.ConversionJob, converted int) string {
	return fmt.Sprintf("Convert %d files to %s", converted, job.TargetLanguage)
}

func prTitle(job domain.ConversionJob) string {
	return fmt.Sprintf("Convert repository code to %s", job.TargetLanguage)
}

func prBody(job domain.ConversionJob, results []domain.FileResult, failures []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Automated conversion to %s.\n\n## Converted files\n\n", job.TargetLanguage)
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		fmt.Fprintf(&sb, "- `%s` (%s) -> `%s`\n", res.Path, res.SourceLanguage, res.ConvertedPath)
	}
	if len(failures) > 0 {
		sb.WriteString("\n## Skipped\n\n")
		for _, f := range failures {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}
	sb.WriteString("\nPlease review the converted code before merging.\n")
	return sb.String()
}
