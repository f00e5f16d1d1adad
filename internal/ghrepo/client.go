package ghrepo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"

	"codemorph/internal/githubapp"
	"codemorph/pkg/domain"
)

// branchProbeLimit bounds the de-duplication suffix search for target
// branch names.
const branchProbeLimit = 10

// RepoFile is one blob entry from a repository tree.
type RepoFile struct {
	Path string
	Size int64
	SHA  string
}

// Change is a file to write in a commit.
type Change struct {
	Path    string
	Content string
}

// Client wraps GitHub repository operations. Every call is parameterized by
// an installation token obtained from the token manager; the client itself
// holds no credentials.
type Client struct {
	baseURL string
}

// New builds a client against baseURL (the public GitHub API when empty).
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL}
}

func (c *Client) api(token string) (*github.Client, error) {
	return githubapp.NewAPIClient(token, c.baseURL)
}

// ListFiles returns all blob entries reachable from the head of branch.
func (c *Client) ListFiles(ctx context.Context, token, owner, repo, branch string) ([]RepoFile, error) {
	gh, err := c.api(token)
	if err != nil {
		return nil, err
	}
	br, resp, err := gh.Repositories.GetBranch(ctx, owner, repo, branch, 0)
	if err != nil {
		return nil, mapError(resp, err, fmt.Sprintf("branch %s/%s@%s", owner, repo, branch))
	}
	sha := br.GetCommit().GetSHA()
	tree, resp, err := gh.Git.GetTree(ctx, owner, repo, sha, true)
	if err != nil {
		return nil, mapError(resp, err, fmt.Sprintf("tree %s/%s@%s", owner, repo, branch))
	}
	files := make([]RepoFile, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		files = append(files, RepoFile{
			Path: entry.GetPath(),
			Size: int64(entry.GetSize()),
			SHA:  entry.GetSHA(),
		})
	}
	return files, nil
}

// ReadFile returns the decoded content of path at ref.
func (c *Client) ReadFile(ctx context.Context, token, owner, repo, path, ref string) ([]byte, error) {
	gh, err := c.api(token)
	if err != nil {
		return nil, err
	}
	fc, _, resp, err := gh.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, mapError(resp, err, fmt.Sprintf("file %s/%s:%s", owner, repo, path))
	}
	if fc == nil {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrValidation, path)
	}
	content, err := fc.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return []byte(content), nil
}

// EnsureBranch creates a branch named name from the head of base and returns
// the name actually created. Taken names are de-duplicated with a numeric
// suffix (name-2, name-3, ...).
func (c *Client) EnsureBranch(ctx context.Context, token, owner, repo, base, name string) (string, error) {
	gh, err := c.api(token)
	if err != nil {
		return "", err
	}
	baseRef, resp, err := gh.Git.GetRef(ctx, owner, repo, "heads/"+base)
	if err != nil {
		return "", mapError(resp, err, fmt.Sprintf("branch %s/%s@%s", owner, repo, base))
	}
	for i := 0; i < branchProbeLimit; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", name, i+1)
		}
		_, resp, err := gh.Git.GetRef(ctx, owner, repo, "heads/"+candidate)
		if err == nil {
			continue // taken, probe the next suffix
		}
		if resp == nil || resp.StatusCode != http.StatusNotFound {
			return "", mapError(resp, err, fmt.Sprintf("probe branch %s", candidate))
		}
		ref := &github.Reference{
			Ref:    github.String("refs/heads/" + candidate),
			Object: &github.GitObject{SHA: baseRef.GetObject().SHA},
		}
		if _, resp, err := gh.Git.CreateRef(ctx, owner, repo, ref); err != nil {
			return "", mapError(resp, err, fmt.Sprintf("create branch %s", candidate))
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no free branch name derived from %q after %d probes", name, branchProbeLimit)
}

// CommitFiles writes all changes to branch as a single commit and returns
// its sha.
func (c *Client) CommitFiles(ctx context.Context, token, owner, repo, branch string, changes []Change, message string) (string, error) {
	gh, err := c.api(token)
	if err != nil {
		return "", err
	}
	ref, resp, err := gh.Git.GetRef(ctx, owner, repo, "heads/"+branch)
	if err != nil {
		return "", mapError(resp, err, fmt.Sprintf("branch %s/%s@%s", owner, repo, branch))
	}
	parentSHA := ref.GetObject().GetSHA()
	entries := make([]*github.TreeEntry, 0, len(changes))
	for _, change := range changes {
		entries = append(entries, &github.TreeEntry{
			Path:    github.String(change.Path),
			Mode:    github.String("100644"),
			Type:    github.String("blob"),
			Content: github.String(change.Content),
		})
	}
	tree, resp, err := gh.Git.CreateTree(ctx, owner, repo, parentSHA, entries)
	if err != nil {
		return "", mapError(resp, err, "create tree")
	}
	commit := &github.Commit{
		Message: github.String(message),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.String(parentSHA)}},
	}
	created, resp, err := gh.Git.CreateCommit(ctx, owner, repo, commit, nil)
	if err != nil {
		return "", mapError(resp, err, "create commit")
	}
	ref.Object.SHA = created.SHA
	if _, resp, err := gh.Git.UpdateRef(ctx, owner, repo, ref, false); err != nil {
		return "", mapError(resp, err, fmt.Sprintf("update ref %s", branch))
	}
	return created.GetSHA(), nil
}

// OpenPullRequest opens a PR from head into base and returns its URL.
func (c *Client) OpenPullRequest(ctx context.Context, token, owner, repo, head, base, title, body string) (string, error) {
	gh, err := c.api(token)
	if err != nil {
		return "", err
	}
	pr, resp, err := gh.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(head),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		return "", mapError(resp, err, "open pull request")
	}
	return pr.GetHTMLURL(), nil
}

// mapError translates go-github errors into the domain taxonomy.
func mapError(resp *github.Response, err error, op string) error {
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return fmt.Errorf("%s: %w", op, &domain.RateLimitError{Reset: rle.Rate.Reset.Time})
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		reset := time.Now()
		if abuse.RetryAfter != nil {
			reset = reset.Add(*abuse.RetryAfter)
		}
		return fmt.Errorf("%s: %w", op, &domain.RateLimitError{Reset: reset})
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w: %v", op, domain.ErrUpstreamAuth, err)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w: %v", op, domain.ErrPermission, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
