package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v84/github"
	"github.com/sethvargo/go-retry"
)

// GitHubClient implements Client against the real GitHub REST API via
// google/go-github. Authentication is either a plain personal-access
// token or a GitHub App installation token, chosen by which constructor
// is used — both produce the same *GitHubClient shape so the rest of the
// codebase never needs to know which mode is active.
type GitHubClient struct {
	gh *github.Client
	// retryBudget bounds the exponential backoff applied to a single call
	// when the forge returns a 5xx or the request errors at the transport
	// level. It does not retry across ticks (that's the engine's job).
	// go-retry backoffs are stateful, so a fresh one is built per call.
	retryBudget func() retry.Backoff
}

// NewWithToken builds a GitHubClient authenticated with a plain bearer
// token (classic PAT or fine-grained PAT).
func NewWithToken(token string) *GitHubClient {
	client := github.NewClient(nil).WithAuthToken(token)

	return &GitHubClient{gh: client, retryBudget: defaultBackoff}
}

// NewWithApp builds a GitHubClient authenticated as a GitHub App
// installation, using ghinstallation to mint and refresh installation
// tokens transparently.
func NewWithApp(appID, installationID int64, privateKeyPEM []byte) (*GitHubClient, error) {
	itr, err := ghinstallation.New(http.DefaultTransport, appID, installationID, privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("build GitHub App installation transport: %w", err)
	}

	client := github.NewClient(&http.Client{Transport: itr})

	return &GitHubClient{gh: client, retryBudget: defaultBackoff}, nil
}

// Underlying returns the go-github client GitHubClient wraps, for ambient
// callers (e.g. the optional board integration) that need the full REST
// surface the narrower Client interface doesn't expose.
func (c *GitHubClient) Underlying() *github.Client {
	return c.gh
}

func defaultBackoff() retry.Backoff {
	b := retry.NewExponential(200 * time.Millisecond)
	return retry.WithMaxRetries(4, retry.WithCappedDuration(5*time.Second, b))
}

// shouldRetry classifies an error from a go-github call as transient
// (worth retrying within this single call).
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode >= 500
	}

	// Anything else (DNS, connection reset, timeout) is treated as
	// transient too — go-github wraps these as plain *url.Error.
	return true
}

// withRetry runs fn, retrying on transient failures per c.retryBudget.
func (c *GitHubClient) withRetry(ctx context.Context, op string, fn func() error) error {
	attempt := 0

	err := retry.Do(ctx, c.retryBudget(), func(ctx context.Context) error {
		attempt++

		err := fn()
		if err == nil {
			return nil
		}

		if !shouldRetry(err) {
			return err
		}

		if attempt > 1 {
			slog.Debug("retrying forge call", "op", op, "attempt", attempt, "error", err)
		}

		return retry.RetryableError(err)
	})

	return err
}

func (c *GitHubClient) CreateStatus(ctx context.Context, owner, repo, sha string, opts CreateStatusOpts) error {
	status := &github.RepoStatus{
		State:       github.Ptr(string(opts.State)),
		Context:     github.Ptr(opts.Context),
		Description: github.Ptr(opts.Description),
	}

	if opts.TargetURL != "" {
		status.TargetURL = github.Ptr(opts.TargetURL)
	}

	return c.withRetry(ctx, "CreateStatus", func() error {
		_, _, err := c.gh.Repositories.CreateStatus(ctx, owner, repo, sha, status)
		return err
	})
}

func (c *GitHubClient) UpdateRef(ctx context.Context, owner, repo, ref, sha string, force bool) error {
	reference := &github.Reference{
		Ref:    github.Ptr("refs/" + ref),
		Object: &github.GitObject{SHA: github.Ptr(sha)},
	}

	return c.withRetry(ctx, "UpdateRef", func() error {
		_, _, err := c.gh.Git.UpdateRef(ctx, owner, repo, reference, force)
		return err
	})
}

func (c *GitHubClient) CreateComment(ctx context.Context, owner, repo string, number int64, body string) error {
	comment := &github.IssueComment{Body: github.Ptr(body)}

	return c.withRetry(ctx, "CreateComment", func() error {
		_, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, int(number), comment)
		return err
	})
}

func (c *GitHubClient) GetPullRequest(ctx context.Context, owner, repo string, number int64) (*PullRequest, error) {
	var pr *github.PullRequest

	err := c.withRetry(ctx, "GetPullRequest", func() error {
		var err error
		pr, _, err = c.gh.PullRequests.Get(ctx, owner, repo, int(number))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get PR #%d in %s/%s: %w", number, owner, repo, err)
	}

	return ConvertPullRequest(pr), nil
}

func (c *GitHubClient) ListOpenPullRequests(ctx context.Context, owner, repo string) ([]PullRequest, error) {
	var all []PullRequest

	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		var (
			page []*github.PullRequest
			resp *github.Response
		)

		err := c.withRetry(ctx, "ListOpenPullRequests", func() error {
			var err error
			page, resp, err = c.gh.PullRequests.List(ctx, owner, repo, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list open PRs for %s/%s: %w", owner, repo, err)
		}

		for _, pr := range page {
			all = append(all, *ConvertPullRequest(pr))
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return all, nil
}

func (c *GitHubClient) ListReviews(ctx context.Context, owner, repo string, number int64) ([]Review, error) {
	var all []Review

	opts := &github.ListOptions{PerPage: 100}

	for {
		var (
			page []*github.PullRequestReview
			resp *github.Response
		)

		err := c.withRetry(ctx, "ListReviews", func() error {
			var err error
			page, resp, err = c.gh.PullRequests.ListReviews(ctx, owner, repo, int(number), opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list reviews for PR #%d in %s/%s: %w", number, owner, repo, err)
		}

		for _, r := range page {
			rv := Review{State: r.GetState(), Author: r.GetUser().GetLogin()}
			if r.SubmittedAt != nil {
				rv.SubmittedAt = r.SubmittedAt.Time
			}

			all = append(all, rv)
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return all, nil
}

func (c *GitHubClient) GetBranchProtection(ctx context.Context, owner, repo, branch string) (*BranchProtection, error) {
	var bp *github.Protection

	err := c.withRetry(ctx, "GetBranchProtection", func() error {
		var err error
		bp, _, err = c.gh.Repositories.GetBranchProtection(ctx, owner, repo, branch)
		return err
	})
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return nil, nil
		}

		return nil, fmt.Errorf("get branch protection for %s in %s/%s: %w", branch, owner, repo, err)
	}

	var contexts []string
	if bp.RequiredStatusChecks != nil {
		contexts = bp.RequiredStatusChecks.Contexts
	}

	return &BranchProtection{RequiredStatusChecks: contexts}, nil
}

func (c *GitHubClient) SetRequiredStatusChecks(ctx context.Context, owner, repo, branch string, contexts []string) error {
	req := &github.ProtectionRequest{
		RequiredStatusChecks: &github.RequiredStatusChecks{
			Strict:   true,
			Contexts: &contexts,
		},
	}

	return c.withRetry(ctx, "SetRequiredStatusChecks", func() error {
		_, _, err := c.gh.Repositories.UpdateBranchProtection(ctx, owner, repo, branch, req)
		return err
	})
}

func (c *GitHubClient) ListWebhooks(ctx context.Context, owner, repo string) ([]Webhook, error) {
	var all []Webhook

	opts := &github.ListOptions{PerPage: 100}

	for {
		var (
			page []*github.Hook
			resp *github.Response
		)

		err := c.withRetry(ctx, "ListWebhooks", func() error {
			var err error
			page, resp, err = c.gh.Repositories.ListHooks(ctx, owner, repo, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list webhooks for %s/%s: %w", owner, repo, err)
		}

		for _, h := range page {
			all = append(all, Webhook{
				ID:     h.GetID(),
				URL:    h.GetConfig().GetURL(),
				Events: h.Events,
				Active: h.GetActive(),
			})
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return all, nil
}

func (c *GitHubClient) CreateWebhook(ctx context.Context, owner, repo, url, secret string, events []string) error {
	hook := &github.Hook{
		Name:   github.Ptr("web"),
		Events: events,
		Active: github.Ptr(true),
		Config: &github.HookConfig{
			URL:         github.Ptr(url),
			ContentType: github.Ptr("json"),
			Secret:      github.Ptr(secret),
		},
	}

	return c.withRetry(ctx, "CreateWebhook", func() error {
		_, _, err := c.gh.Repositories.CreateHook(ctx, owner, repo, hook)
		return err
	})
}

func (c *GitHubClient) ListAccessibleRepos(ctx context.Context) ([]Repo, error) {
	var all []Repo

	opts := &github.RepositoryListByAuthenticatedUserOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		var (
			page []*github.Repository
			resp *github.Response
		)

		err := c.withRetry(ctx, "ListAccessibleRepos", func() error {
			var err error
			page, resp, err = c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list accessible repos: %w", err)
		}

		for _, r := range page {
			admin := r.GetPermissions()["admin"]

			all = append(all, Repo{
				Owner:       r.GetOwner().GetLogin(),
				Name:        r.GetName(),
				Topics:      r.Topics,
				AdminAccess: admin,
			})
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return all, nil
}

// ConvertPullRequest maps a go-github PullRequest (from the REST API or a
// webhook payload) into the engine's narrower PullRequest shape.
func ConvertPullRequest(pr *github.PullRequest) *PullRequest {
	out := &PullRequest{
		Number:              int64(pr.GetNumber()),
		Title:               pr.GetTitle(),
		HTMLURL:             pr.GetHTMLURL(),
		MaintainerCanModify: pr.GetMaintainerCanModify(),
		Merged:              pr.GetMerged(),
		Open:                pr.GetState() == "open",
	}

	if user := pr.GetUser(); user != nil {
		out.Author = user.GetLogin()
	}

	if head := pr.GetHead(); head != nil {
		out.HeadRefName = head.GetRef()
		out.HeadRefOID = head.GetSHA()

		baseRepo := pr.GetBase().GetRepo()

		// Only a fork counts as a head repository; a same-repo PR leaves it empty.
		if repo := head.GetRepo(); repo != nil && repo.GetOwner() != nil &&
			(repo.GetOwner().GetLogin() != baseRepo.GetOwner().GetLogin() || repo.GetName() != baseRepo.GetName()) {
			out.HeadRepoOwner = repo.GetOwner().GetLogin()
			out.HeadRepoName = repo.GetName()
		}
	}

	if base := pr.GetBase(); base != nil {
		out.BaseRefName = base.GetRef()
	}

	for _, l := range pr.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}

	return out
}

// Ensure GitHubClient implements Client at compile time.
var _ Client = (*GitHubClient)(nil)
