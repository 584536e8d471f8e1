// Package queue implements the merge-queue state machine: ordering
// discipline over candidate pull requests, the single-tester invariant,
// test-outcome evaluation with timeout, and the in-place PR update
// protocol used to land a change while preserving the forge's "merged"
// display. It is a pure function over (config, store, clock, collaborators)
// — see Engine.Tick.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jogman/bors-mq/internal/board"
	"github.com/jogman/bors-mq/internal/forge"
	"github.com/jogman/bors-mq/internal/state"
	"github.com/jogman/bors-mq/internal/worktree"
)

// stagingBranch is the repository-side branch used solely to trigger CI
// on the staged merge commit.
const stagingBranch = "auto"

// Worktree is the subset of *worktree.Worktree the engine depends on,
// narrowed to an interface so tests can substitute a fake instead of
// shelling out to git.
type Worktree interface {
	FetchAndRebase(ctx context.Context, baseRef, headOID, stagingBranch string, prNumber int64, squash bool) (string, error)
	PushBranch(ctx context.Context, branch string) error
	PushToRemote(ctx context.Context, remoteURL, headRefName, expectedCurrentOID, newOID string) error
}

// Deps bundles the engine's external collaborators for one tick.
type Deps struct {
	Worktree Worktree
	Forge    forge.Client
	Board    board.Board // nil is treated as board.NoOpBoard{}
	Clock    Clock

	// RemoteURL builds an authenticated push URL for a PR's head
	// repository, used by the Land protocol's in-place update step.
	RemoteURL func(owner, repoName string) string
}

func (d Deps) board() board.Board {
	if d.Board == nil {
		return board.NoOpBoard{}
	}

	return d.Board
}

// Engine is one repository's merge-queue state machine. The recorded head
// is the PR number currently being tested, or nil if none. An Engine is
// owned exclusively by one repo controller; it holds no long-lived
// references to PR records between ticks.
type Engine struct {
	head *int64
}

// New creates an Engine with no recorded head.
func New() *Engine {
	return &Engine{}
}

// Head returns the PR number currently recorded as head, and whether one
// is recorded at all.
func (e *Engine) Head() (int64, bool) {
	if e.head == nil {
		return 0, false
	}

	return *e.head, true
}

// Tick performs one atomic pass of the engine for one repository: Phase 1
// evaluates the current head (if any), Phase 2 selects the next head (if
// Phase 1 left none recorded). Callers must serialise calls to Tick for
// the same repository — the engine itself does no locking.
func (e *Engine) Tick(ctx context.Context, cfg state.RepoConfig, store *state.Store, deps Deps) error {
	if n := store.TestingCount(); n > 1 {
		return invariantf("%d PRs are Testing simultaneously, single-tester invariant violated", n)
	}

	if err := e.evaluateHead(ctx, cfg, store, deps); err != nil {
		return err
	}

	if e.head == nil {
		if err := e.selectNextHead(ctx, cfg, store, deps); err != nil {
			return err
		}
	}

	return nil
}

// evaluateHead is Phase 1: evaluate the currently recorded head, if any.
func (e *Engine) evaluateHead(ctx context.Context, cfg state.RepoConfig, store *state.Store, deps Deps) error {
	if e.head == nil {
		return nil
	}

	pr := store.Get(*e.head)
	if pr == nil {
		// PR vanished from the store (e.g. closed). Phase 2 runs this
		// same tick because head is now absent.
		e.head = nil
		return nil
	}

	if !pr.Status.IsTesting() {
		// Externally cancelled out of Testing.
		e.head = nil
		return nil
	}

	status := pr.Status
	if status.MergeOID == "" {
		return invariantf("PR #%d is Testing with no merge_oid", pr.Number)
	}

	if name, result, ok := firstFailingCheck(cfg.Checks, status.TestResults); ok {
		return e.failHead(ctx, cfg, store, deps, pr, name, result)
	}

	if allChecksPassed(cfg.Checks, status.TestResults) {
		if err := deps.Forge.CreateStatus(ctx, cfg.Owner, cfg.Name, status.MergeOID, forge.CreateStatusOpts{
			State:   forge.StatusSuccess,
			Context: forge.BorsContext,
		}); err != nil {
			return fmt.Errorf("post success status for PR #%d: %w", pr.Number, err)
		}

		return e.land(ctx, cfg, store, deps, pr)
	}

	if deps.Clock.Now().Sub(status.TestsStartedAt) >= cfg.Timeout {
		return e.timeoutHead(ctx, cfg, store, deps, pr)
	}

	return nil
}

// firstFailingCheck returns the first check in checks order with a
// recorded non-passing result, so failure reporting is deterministic
// when more than one required check fails in the same tick.
func firstFailingCheck(checks []string, results map[string]state.CheckResult) (string, state.CheckResult, bool) {
	for _, name := range checks {
		if r, ok := results[name]; ok && !r.Passed {
			return name, r, true
		}
	}

	return "", state.CheckResult{}, false
}

// allChecksPassed reports whether every required check has reported a
// passing result.
func allChecksPassed(checks []string, results map[string]state.CheckResult) bool {
	for _, name := range checks {
		r, ok := results[name]
		if !ok || !r.Passed {
			return false
		}
	}

	return true
}

func (e *Engine) failHead(ctx context.Context, cfg state.RepoConfig, store *state.Store, deps Deps, pr *state.PullRequestState, name string, result state.CheckResult) error {
	pr.Status = state.StatusInReview
	store.Put(pr)
	e.head = nil

	if err := deps.Forge.CreateStatus(ctx, cfg.Owner, cfg.Name, pr.HeadRefOID, forge.CreateStatusOpts{
		State:     forge.StatusFailure,
		TargetURL: result.DetailsURL,
		Context:   forge.BorsContext,
	}); err != nil {
		return fmt.Errorf("post failure status for PR #%d: %w", pr.Number, err)
	}

	comment := fmt.Sprintf(":broken_heart: Test Failed - [%s](%s)", name, result.DetailsURL)
	if err := deps.Forge.CreateComment(ctx, cfg.Owner, cfg.Name, pr.Number, comment); err != nil {
		return fmt.Errorf("post failure comment for PR #%d: %w", pr.Number, err)
	}

	return nil
}

func (e *Engine) timeoutHead(ctx context.Context, cfg state.RepoConfig, store *state.Store, deps Deps, pr *state.PullRequestState) error {
	pr.Status = state.StatusInReview
	store.Put(pr)
	e.head = nil

	if err := deps.Forge.CreateStatus(ctx, cfg.Owner, cfg.Name, pr.HeadRefOID, forge.CreateStatusOpts{
		State:       forge.StatusFailure,
		Description: "Timed-out",
		Context:     forge.BorsContext,
	}); err != nil {
		return fmt.Errorf("post timeout status for PR #%d: %w", pr.Number, err)
	}

	if err := deps.Forge.CreateComment(ctx, cfg.Owner, cfg.Name, pr.Number, ":boom: Tests timed-out"); err != nil {
		return fmt.Errorf("post timeout comment for PR #%d: %w", pr.Number, err)
	}

	return nil
}

// land implements the Land protocol: advance the base ref in place to the
// staged merge commit, preferring an in-place update of the PR's own head
// branch first so the forge still displays the PR as normally merged.
func (e *Engine) land(ctx context.Context, cfg state.RepoConfig, store *state.Store, deps Deps, pr *state.PullRequestState) error {
	mergeOID := pr.Status.MergeOID

	if pr.HeadRepo != nil && cfg.MaintainerMode {
		// A head branch that disallows maintainer edits would refuse the
		// push, so it is treated as refused without a network round trip.
		var err error
		if !pr.MaintainerCanModify {
			err = errors.New("maintainer edits are not allowed on the PR's head branch")
		} else {
			remoteURL := deps.RemoteURL(pr.HeadRepo.Owner, pr.HeadRepo.Name)
			err = deps.Worktree.PushToRemote(ctx, remoteURL, pr.HeadRefName, pr.HeadRefOID, mergeOID)
		}

		if err != nil {
			// In-place refusal is a PR rejection, not transient I/O: the
			// merge is abandoned, not retried, so head clears here.
			e.head = nil
			pr.Status = state.StatusInReview
			store.Put(pr)

			comment := ":exclamation: failed to update PR in-place; halting merge.\n" +
				"Make sure that [\"Allow edits from maintainers\"]" +
				"(https://help.github.com/en/github/collaborating-with-issues-and-pull-requests/allowing-changes-to-a-pull-request-branch-created-from-a-fork) " +
				"is enabled before attempting to reland this PR."

			if cerr := deps.Forge.CreateComment(ctx, cfg.Owner, cfg.Name, pr.Number, comment); cerr != nil {
				return fmt.Errorf("post in-place failure comment for PR #%d: %w", pr.Number, cerr)
			}

			return nil
		}
	}

	if err := deps.Forge.UpdateRef(ctx, cfg.Owner, cfg.Name, "heads/"+pr.BaseRefName, mergeOID, false); err != nil {
		// Transient I/O: head stays recorded so the next tick re-evaluates
		// and retries the base-ref advance instead of promoting a second
		// PR to Testing.
		return fmt.Errorf("advance base ref for PR #%d: %w", pr.Number, err)
	}

	// The base ref has moved — the PR is landed regardless of whether
	// board-card removal below succeeds, so head clears and the store
	// drops the PR unconditionally.
	e.head = nil
	store.Remove(pr.Number)

	if err := deps.board().RemoveCard(ctx, cfg.Owner, cfg.Name, pr.Number); err != nil {
		return fmt.Errorf("remove board card for PR #%d: %w", pr.Number, err)
	}

	return nil
}

// selectNextHead is Phase 2: pick the next PR to test, if none is
// currently recorded as head.
func (e *Engine) selectNextHead(ctx context.Context, cfg state.RepoConfig, store *state.Store, deps Deps) error {
	queued := store.Queued()
	sortQueueEntries(queued, cfg.Labels.HighPriority)

	for _, pr := range queued {
		if e.head != nil {
			break
		}

		squash := pr.HasLabel(cfg.Labels.Squash)

		mergeOID, err := deps.Worktree.FetchAndRebase(ctx, "heads/"+pr.BaseRefName, pr.HeadRefOID, stagingBranch, pr.Number, squash)
		if err != nil {
			var conflict *worktree.ConflictError
			if errors.As(err, &conflict) {
				if cerr := e.rejectConflict(ctx, cfg, store, deps, pr); cerr != nil {
					return cerr
				}

				continue // conflicts do not consume the slot
			}

			return fmt.Errorf("fetch and rebase PR #%d: %w", pr.Number, err)
		}

		if err := deps.Worktree.PushBranch(ctx, stagingBranch); err != nil {
			return fmt.Errorf("push staging branch for PR #%d: %w", pr.Number, err)
		}

		pr.Status = state.NewTesting(mergeOID, deps.Clock.Now())
		store.Put(pr)
		head := pr.Number
		e.head = &head

		if err := deps.Forge.CreateStatus(ctx, cfg.Owner, cfg.Name, pr.HeadRefOID, forge.CreateStatusOpts{
			State:   forge.StatusPending,
			Context: forge.BorsContext,
		}); err != nil {
			return fmt.Errorf("post pending status for PR #%d: %w", pr.Number, err)
		}
	}

	return nil
}

func (e *Engine) rejectConflict(ctx context.Context, cfg state.RepoConfig, store *state.Store, deps Deps, pr *state.PullRequestState) error {
	pr.Status = state.StatusInReview
	store.Put(pr)

	if err := deps.Forge.CreateStatus(ctx, cfg.Owner, cfg.Name, pr.HeadRefOID, forge.CreateStatusOpts{
		State:       forge.StatusError,
		Description: "Merge Conflict",
		Context:     forge.BorsContext,
	}); err != nil {
		return fmt.Errorf("post conflict status for PR #%d: %w", pr.Number, err)
	}

	if err := deps.Forge.CreateComment(ctx, cfg.Owner, cfg.Name, pr.Number, ":lock: Merge Conflict"); err != nil {
		return fmt.Errorf("post conflict comment for PR #%d: %w", pr.Number, err)
	}

	return nil
}

// sortQueueEntries orders pulls by (¬priority, number): PRs carrying
// highPriorityLabel sort before all others; within a priority class,
// lower PR number first.
func sortQueueEntries(pulls []*state.PullRequestState, highPriorityLabel string) {
	sort.Slice(pulls, func(i, j int) bool {
		a, b := pulls[i], pulls[j]
		aHigh := a.HasLabel(highPriorityLabel)
		bHigh := b.HasLabel(highPriorityLabel)

		if aHigh != bHigh {
			return aHigh
		}

		return a.Number < b.Number
	})
}
