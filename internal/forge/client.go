// Package forge provides a client interface and a GitHub-backed
// implementation for the hosted-forge operations the merge queue needs:
// status checks, PR comments, ref updates, and the repository metadata
// required for startup reconciliation and auto-setup. The interface
// enables testing the Queue Engine and its collaborators against a mock
// instead of a live forge.
package forge

import (
	"context"
	"time"
)

// StatusState is one of the four commit-status states a forge recognizes.
type StatusState string

const (
	StatusPending StatusState = "pending"
	StatusSuccess StatusState = "success"
	StatusFailure StatusState = "failure"
	StatusError   StatusState = "error"
)

// BorsContext is the single status context the engine uses for every
// status it posts.
const BorsContext = "bors"

// CreateStatusOpts describes a commit status to post.
type CreateStatusOpts struct {
	State       StatusState
	TargetURL   string
	Description string
	Context     string
}

// PullRequest is the subset of forge PR fields the engine and its
// collaborators need.
type PullRequest struct {
	Number              int64
	Title               string
	Author              string
	HTMLURL             string
	HeadRefName         string
	HeadRefOID          string
	HeadRepoOwner       string // empty if the PR is from the base repository
	HeadRepoName        string
	BaseRefName         string
	MaintainerCanModify bool
	Labels              []string
	Merged              bool
	Open                bool
}

// Review is an approval/changes-requested review on a PR.
type Review struct {
	State       string // "APPROVED", "CHANGES_REQUESTED", "COMMENTED", ...
	Author      string
	SubmittedAt time.Time
}

// BranchProtection is the subset of a branch protection rule the setup
// collaborator cares about.
type BranchProtection struct {
	RequiredStatusChecks []string
}

// Webhook describes a repository webhook.
type Webhook struct {
	ID     int64
	URL    string
	Events []string
	Active bool
}

// Repo identifies a repository discoverable by topic.
type Repo struct {
	Owner       string
	Name        string
	Topics      []string
	AdminAccess bool
}

// Client is the Forge Client collaborator required by the Queue Engine,
// widened with the repository-management operations the ambient Repo
// Controller, setup, and discovery layers need.
type Client interface {
	// CreateStatus posts a commit status on sha.
	CreateStatus(ctx context.Context, owner, repo, sha string, opts CreateStatusOpts) error

	// UpdateRef moves ref (e.g. "heads/main") to sha. force must be false
	// for the Land protocol's base-ref advance.
	UpdateRef(ctx context.Context, owner, repo, ref, sha string, force bool) error

	// CreateComment posts a comment on a PR's issue thread.
	CreateComment(ctx context.Context, owner, repo string, number int64, body string) error

	// GetPullRequest fetches one PR, for the dashboard's PR detail page.
	GetPullRequest(ctx context.Context, owner, repo string, number int64) (*PullRequest, error)

	// ListOpenPullRequests lists all open PRs, for startup reconciliation.
	ListOpenPullRequests(ctx context.Context, owner, repo string) ([]PullRequest, error)

	// ListReviews lists reviews on a PR, used during startup reconciliation
	// to decide whether a PR should rejoin the queue as Queued.
	ListReviews(ctx context.Context, owner, repo string, number int64) ([]Review, error)

	// GetBranchProtection returns the protection rule for branch, or nil
	// if none is configured.
	GetBranchProtection(ctx context.Context, owner, repo, branch string) (*BranchProtection, error)

	// SetRequiredStatusChecks replaces the required status check contexts
	// on branch's protection rule (used by internal/setup auto-configuration).
	SetRequiredStatusChecks(ctx context.Context, owner, repo, branch string, contexts []string) error

	// ListWebhooks lists webhooks configured on a repository.
	ListWebhooks(ctx context.Context, owner, repo string) ([]Webhook, error)

	// CreateWebhook registers a new webhook.
	CreateWebhook(ctx context.Context, owner, repo, url, secret string, events []string) error

	// ListAccessibleRepos lists every repository the bot's credentials can
	// access, including topics and whether the credentials hold admin
	// access, for topic-based discovery.
	ListAccessibleRepos(ctx context.Context) ([]Repo, error)
}
