// Package controller implements the Repo Controller: it owns one PR State
// Store and Queue Engine per configured repository, feeds webhook/command
// events into the store, and invokes the engine's tick on every event and
// on a periodic timer so timeout detection does not depend on new events
// arriving.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jogman/bors-mq/internal/command"
	"github.com/jogman/bors-mq/internal/forge"
	"github.com/jogman/bors-mq/internal/queue"
	"github.com/jogman/bors-mq/internal/state"
)

// Controller is single-threaded with respect to its own store: mu
// serialises Tick and every store mutation against one another.
type Controller struct {
	mu     sync.Mutex
	cfg    state.RepoConfig
	store  *state.Store
	engine *queue.Engine
	deps   queue.Deps
}

// New creates a Controller with an empty store. Call Reconcile before
// serving traffic so the store reflects the forge's current state.
func New(cfg state.RepoConfig, deps queue.Deps) *Controller {
	return &Controller{
		cfg:    cfg,
		store:  state.NewStore(),
		engine: queue.New(),
		deps:   deps,
	}
}

// Config returns the controller's repository configuration.
func (c *Controller) Config() state.RepoConfig {
	return c.cfg
}

// Store returns the controller's PR State Store. Safe for concurrent
// reads; callers must not treat it as a writable surface.
func (c *Controller) Store() *state.Store {
	return c.store
}

// Head returns the PR number currently recorded as the engine's head, and
// whether one is recorded.
func (c *Controller) Head() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.engine.Head()
}

// Tick invokes the Queue Engine once. On an invariant violation the
// controller logs it and resynchronises the store from the forge rather
// than propagating the error to the caller.
func (c *Controller) Tick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.engine.Tick(ctx, c.cfg, c.store, c.deps)
	if err == nil {
		return nil
	}

	var invariantErr *queue.InvariantError
	if errorsAsInvariant(err, &invariantErr) {
		slog.Error("queue engine invariant violated, resynchronising", "repo", c.cfg.FullName(), "error", err)

		if rerr := c.reconcileLocked(ctx); rerr != nil {
			return fmt.Errorf("resync %s after invariant violation: %w", c.cfg.FullName(), rerr)
		}

		return nil
	}

	return err
}

// Reconcile rebuilds the store from the forge's current open PRs. Used on
// controller startup and after an invariant violation. Every PR starts
// InReview, promoted to Queued if it already carries an approving
// review — a Testing PR can never be recovered faithfully (the staged
// merge commit's provenance is not itself persisted), so reconciliation
// conservatively requeues it for a fresh rebase instead.
func (c *Controller) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.reconcileLocked(ctx)
}

func (c *Controller) reconcileLocked(ctx context.Context) error {
	prs, err := c.deps.Forge.ListOpenPullRequests(ctx, c.cfg.Owner, c.cfg.Name)
	if err != nil {
		return fmt.Errorf("list open PRs for %s: %w", c.cfg.FullName(), err)
	}

	fresh := state.NewStore()

	for _, pr := range prs {
		rec := fromForgePR(pr)

		approved, err := c.isApproved(ctx, pr.Number)
		if err != nil {
			slog.Warn("failed to check review state during reconciliation", "repo", c.cfg.FullName(), "pr", pr.Number, "error", err)
		} else if approved {
			rec.Status = state.StatusQueued
		}

		fresh.Put(rec)
	}

	c.store = fresh
	c.engine = queue.New()

	slog.Info("reconciled repo state from forge", "repo", c.cfg.FullName(), "open_prs", len(prs))

	return nil
}

func (c *Controller) isApproved(ctx context.Context, number int64) (bool, error) {
	reviews, err := c.deps.Forge.ListReviews(ctx, c.cfg.Owner, c.cfg.Name, number)
	if err != nil {
		return false, err
	}

	// The latest review per author is authoritative; a later
	// CHANGES_REQUESTED withdraws an earlier APPROVED.
	latest := make(map[string]forge.Review, len(reviews))

	for _, r := range reviews {
		if existing, ok := latest[r.Author]; !ok || r.SubmittedAt.After(existing.SubmittedAt) {
			latest[r.Author] = r
		}
	}

	for _, r := range latest {
		if r.State == "APPROVED" {
			return true, nil
		}
	}

	return false, nil
}

func fromForgePR(pr forge.PullRequest) *state.PullRequestState {
	rec := &state.PullRequestState{
		Number:              pr.Number,
		HeadRefName:         pr.HeadRefName,
		HeadRefOID:          pr.HeadRefOID,
		BaseRefName:         pr.BaseRefName,
		MaintainerCanModify: pr.MaintainerCanModify,
		Labels:              toLabelSet(pr.Labels),
		Status:              state.StatusInReview,
	}

	if pr.HeadRepoOwner != "" {
		rec.HeadRepo = &state.HeadRepo{Owner: pr.HeadRepoOwner, Name: pr.HeadRepoName}
	}

	return rec
}

func toLabelSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}

	return set
}

// HandlePullRequestEvent applies a pull_request webhook event to the
// store and ticks the engine.
func (c *Controller) HandlePullRequestEvent(ctx context.Context, action string, pr forge.PullRequest) error {
	c.mu.Lock()

	switch action {
	case "closed":
		c.store.Remove(pr.Number)
	case "opened", "reopened", "edited", "ready_for_review":
		rec := fromForgePR(pr)
		if existing := c.store.Get(pr.Number); existing != nil {
			rec.Status = existing.Status
		}

		c.store.Put(rec)
	case "synchronize":
		rec := fromForgePR(pr)
		// A new head commit invalidates any in-flight merge attempt and
		// any prior approval: the author pushed new code.
		rec.Status = state.StatusInReview
		c.store.Put(rec)
	case "labeled", "unlabeled":
		if existing := c.store.Get(pr.Number); existing != nil {
			existing.Labels = toLabelSet(pr.Labels)
			c.store.Put(existing)
		}
	}

	c.mu.Unlock()

	return c.Tick(ctx)
}

// HandleCommand applies a parsed bot command to a PR.
func (c *Controller) HandleCommand(ctx context.Context, prNumber int64, cmd command.Command) error {
	c.mu.Lock()

	pr := c.store.Get(prNumber)
	if pr == nil {
		c.mu.Unlock()
		return nil
	}

	switch cmd.Kind {
	case command.Approve:
		if pr.Status.Kind == state.InReview {
			if cmd.HighPriority {
				pr.Labels[c.cfg.Labels.HighPriority] = struct{}{}
			}

			pr.Status = state.StatusQueued
			c.store.Put(pr)
		}
	case command.Unapprove:
		if pr.Status.Kind == state.Queued {
			pr.Status = state.StatusInReview
			c.store.Put(pr)
		}
	case command.Retry:
		if pr.Status.Kind != state.Testing {
			pr.Status = state.StatusQueued
			c.store.Put(pr)
		}
	case command.DelegatePlus, command.Unknown:
		// Delegation is not recorded anywhere; the engine has no notion
		// of who may issue r+. Unknown is a no-op too.
	}

	c.mu.Unlock()

	return c.Tick(ctx)
}

// HandleCheckResult records a check outcome against whichever PR is
// currently Testing merge_oid == sha, then ticks the engine.
func (c *Controller) HandleCheckResult(ctx context.Context, sha, checkName string, result state.CheckResult) error {
	c.mu.Lock()

	var target *state.PullRequestState

	for _, p := range c.store.Snapshot() {
		if p.Status.IsTesting() && p.Status.MergeOID == sha {
			target = p
			break
		}
	}

	if target == nil {
		c.mu.Unlock()
		return nil
	}

	target.Status.TestResults[checkName] = result
	c.store.Put(target)

	c.mu.Unlock()

	return c.Tick(ctx)
}

// Run starts the periodic tick loop that drives timeout detection
// independent of new events. It blocks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				slog.Error("periodic tick failed", "repo", c.cfg.FullName(), "error", err)
			}
		}
	}
}

// errorsAsInvariant walks err's single-error Unwrap chain looking for a
// *queue.InvariantError, kept as a named function so Tick reads as a
// single linear flow.
func errorsAsInvariant(err error, target **queue.InvariantError) bool {
	for err != nil {
		if ie, ok := err.(*queue.InvariantError); ok {
			*target = ie
			return true
		}

		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}

		err = unwrapper.Unwrap()
	}

	return false
}
