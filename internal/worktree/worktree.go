// Package worktree drives a local git checkout to merge pull request heads
// into the current base tip and push the result for CI to pick up. It
// shells out to the git binary because no forge API can merge or squash
// two arbitrary refs into a new commit.
package worktree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Worktree is the Git Worktree collaborator required by the Queue Engine.
// One Worktree is owned exclusively by its repo controller; concurrent
// access from multiple goroutines is not supported.
type Worktree struct {
	dir       string // local clone directory, persists across ticks
	remoteURL string // authenticated clone/push URL
}

// New creates a Worktree backed by a persistent local clone at dir.
// remoteURL should already carry embedded credentials suitable for both
// fetch and push (e.g. https://x-access-token:<token>@host/owner/repo.git).
func New(dir, remoteURL string) *Worktree {
	return &Worktree{dir: dir, remoteURL: remoteURL}
}

// ConflictError signals that a merge could not be completed because the
// head and base have diverged incompatibly. It is not a retryable I/O
// error — the engine treats it as a PR rejection.
type ConflictError struct {
	PRNumber int64
	Output   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict rebasing PR #%d onto base", e.PRNumber)
}

func (w *Worktree) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.dir
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_AUTHOR_NAME=bors-mq",
		"GIT_AUTHOR_EMAIL=bors-mq@localhost",
		"GIT_COMMITTER_NAME=bors-mq",
		"GIT_COMMITTER_EMAIL=bors-mq@localhost",
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w\n%s", strings.Join(args, " "), err, out)
	}

	return string(out), nil
}

// ensureClone makes sure the working directory is an initialised clone of
// remoteURL, cloning it on first use.
func (w *Worktree) ensureClone(ctx context.Context) error {
	if _, err := os.Stat(w.dir + "/.git"); err == nil {
		return nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create worktree dir: %w", err)
	}

	if _, err := w.run(ctx, "clone", w.remoteURL, "."); err != nil {
		return fmt.Errorf("clone: %w", err)
	}

	return nil
}

// FetchAndRebase fetches baseRef and headOID and, on a local stagingBranch
// reset to the tip of baseRef, merges headOID with a --no-ff merge commit
// (or, with squash, a single squashed commit). The PR's commits are not
// rebased: the merge commit keeps headOID as its second parent. Nothing is
// pushed; PushBranch publishes the result. Returns the resulting commit
// hash, or a *ConflictError if the merge could not be completed cleanly.
func (w *Worktree) FetchAndRebase(ctx context.Context, baseRef, headOID, stagingBranch string, prNumber int64, squash bool) (string, error) {
	if err := w.ensureClone(ctx); err != nil {
		return "", err
	}

	if _, err := w.run(ctx, "fetch", "origin", baseRef, headOID); err != nil {
		return "", fmt.Errorf("fetch base and head for PR #%d: %w", prNumber, err)
	}

	// Reset onto a fresh copy of the base tip before applying the PR's commits.
	if _, err := w.run(ctx, "checkout", "-B", stagingBranch, "FETCH_HEAD"); err != nil {
		return "", fmt.Errorf("checkout staging branch for PR #%d: %w", prNumber, err)
	}

	var (
		out string
		err error
	)

	if squash {
		msg := fmt.Sprintf("Squash merge of #%d", prNumber)
		out, err = w.run(ctx, "merge", "--squash", headOID)
		if err == nil {
			out, err = w.run(ctx, "commit", "-m", msg)
		}
	} else {
		out, err = w.run(ctx, "merge", "--no-ff", "-m", fmt.Sprintf("Merge #%d", prNumber), headOID)
	}

	if err != nil {
		if strings.Contains(out, "CONFLICT") || strings.Contains(out, "Automatic merge failed") {
			// Abandon the half-finished merge so the next tick starts clean.
			_, _ = w.run(ctx, "merge", "--abort")

			return "", &ConflictError{PRNumber: prNumber, Output: out}
		}

		return "", fmt.Errorf("merge PR #%d onto %s: %w", prNumber, baseRef, err)
	}

	sha, err := w.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("rev-parse after merge of PR #%d: %w", prNumber, err)
	}

	return strings.TrimSpace(sha), nil
}

// PushBranch pushes the current state of branch to origin, force-updating
// it. Called immediately after a successful FetchAndRebase.
func (w *Worktree) PushBranch(ctx context.Context, branch string) error {
	if _, err := w.run(ctx, "push", "--force", "origin", "HEAD:refs/heads/"+branch); err != nil {
		return fmt.Errorf("push branch %s: %w", branch, err)
	}

	slog.Debug("pushed staging branch", "branch", branch)

	return nil
}

// RemotePushError indicates the remote rejected a push, typically because
// the destination ref moved or because write access was denied — both
// cases the Land protocol treats as "in-place update refused".
type RemotePushError struct {
	Ref string
	Out string
}

func (e *RemotePushError) Error() string {
	return fmt.Sprintf("push to %s rejected: %s", e.Ref, strings.TrimSpace(e.Out))
}

// PushToRemote pushes newOID to headRepo's headRefName, used by the Land
// protocol's in-place update step. The push is a compare-and-swap guarded
// by expectedCurrentOID via --force-with-lease: if the branch has moved
// since it was last observed (e.g. the contributor pushed a new commit to
// their fork while the land tick was running), the push is rejected
// instead of silently clobbering the new commit, and the caller's
// in-place-refusal path takes over.
func (w *Worktree) PushToRemote(ctx context.Context, remoteURL, headRefName, expectedCurrentOID, newOID string) error {
	destRef := "refs/heads/" + headRefName
	ref := fmt.Sprintf("refs/remotes/pr-head/%s", headRefName)

	out, err := w.run(ctx, "push",
		"--force-with-lease="+destRef+":"+expectedCurrentOID,
		remoteURL, newOID+":"+destRef)
	if err != nil {
		return &RemotePushError{Ref: ref, Out: out}
	}

	return nil
}

// CleanupStaleBranches deletes any local refs for staging/merge branches
// that the caller indicates are no longer tracked by any active PR.
func (w *Worktree) CleanupStaleBranches(ctx context.Context, activeBranches map[string]struct{}, prefix string) (int, error) {
	out, err := w.run(ctx, "branch", "--list", prefix+"*")
	if err != nil {
		return 0, fmt.Errorf("list branches: %w", err)
	}

	deleted := 0

	for _, line := range strings.Split(out, "\n") {
		name := strings.TrimSpace(strings.TrimPrefix(line, "*"))
		if name == "" {
			continue
		}

		if _, active := activeBranches[name]; active {
			continue
		}

		if _, err := w.run(ctx, "branch", "-D", name); err != nil {
			slog.Warn("failed to delete stale branch", "branch", name, "error", err)
			continue
		}

		deleted++
	}

	return deleted, nil
}
