package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jogman/bors-mq/internal/board"
	"github.com/jogman/bors-mq/internal/config"
	"github.com/jogman/bors-mq/internal/forge"
	"github.com/jogman/bors-mq/internal/queue"
	"github.com/jogman/bors-mq/internal/setup"
	"github.com/jogman/bors-mq/internal/state"
	"github.com/jogman/bors-mq/internal/worktree"
)

// managedRepo pairs a running Controller with the cancel func for its
// ticker goroutine.
type managedRepo struct {
	controller *Controller
	cancel     context.CancelFunc
}

// Deps holds the shared dependencies the Registry needs to bring up a
// newly discovered or configured repo.
type Deps struct {
	Forge          forge.Client
	Board          board.Board
	Clock          queue.Clock
	WorktreeDir    string // base directory; one subdirectory is created per repo
	RemoteURL      func(owner, repoName string) string
	WebhookURL     string // empty disables webhook auto-setup
	WebhookSecret  string
	TickInterval   time.Duration
	CheckTimeout   time.Duration
	RequiredChecks []string
	Labels         state.LabelNames
	MaintainerMode bool
	DefaultBranch  func(owner, repoName string) string
}

// Registry owns the set of actively managed repo Controllers. Thread-safe
// for concurrent use by the webhook handler, web dashboard, and discovery
// loop.
type Registry struct {
	mu    sync.RWMutex
	repos map[string]*managedRepo // keyed by "owner/name"

	parentCtx context.Context
	deps      Deps
}

// NewRegistry creates a Registry. parentCtx is the parent for each repo's
// ticker goroutine context; cancelling it stops every controller.
func NewRegistry(parentCtx context.Context, deps Deps) *Registry {
	return &Registry{
		repos:     make(map[string]*managedRepo),
		parentCtx: parentCtx,
		deps:      deps,
	}
}

// Add brings a repo under management: auto-setup (branch protection,
// webhook), startup reconciliation from the forge, and a background
// ticker goroutine. No-op if the repo is already managed.
func (r *Registry) Add(ctx context.Context, ref config.RepoRef) error {
	key := ref.String()

	r.mu.RLock()
	_, exists := r.repos[key]
	r.mu.RUnlock()

	if exists {
		return nil
	}

	branch := "main"
	if r.deps.DefaultBranch != nil {
		branch = r.deps.DefaultBranch(ref.Owner, ref.Name)
	}

	if r.deps.WebhookURL != "" {
		if err := setup.EnsureRepo(ctx, r.deps.Forge, ref.Owner, ref.Name, branch, r.deps.WebhookURL, r.deps.WebhookSecret); err != nil {
			slog.Warn("auto-setup failed", "repo", key, "error", err)
		}
	} else if err := setup.EnsureBranchProtection(ctx, r.deps.Forge, ref.Owner, ref.Name, branch); err != nil {
		slog.Warn("branch protection auto-setup failed", "repo", key, "error", err)
	}

	cfg := state.RepoConfig{
		Owner:          ref.Owner,
		Name:           ref.Name,
		Checks:         r.deps.RequiredChecks,
		Timeout:        r.deps.CheckTimeout,
		Labels:         r.deps.Labels,
		MaintainerMode: r.deps.MaintainerMode,
	}

	wt := worktree.New(r.deps.WorktreeDir+"/"+ref.Owner+"-"+ref.Name, r.deps.RemoteURL(ref.Owner, ref.Name))

	qdeps := queue.Deps{
		Worktree:  wt,
		Forge:     r.deps.Forge,
		Board:     r.deps.Board,
		Clock:     r.deps.Clock,
		RemoteURL: r.deps.RemoteURL,
	}

	ctrl := New(cfg, qdeps)

	if err := ctrl.Reconcile(ctx); err != nil {
		return err
	}

	// The bot only ever drives one staging branch ("auto") per repo today,
	// but earlier per-PR staging branches ("mq/<n>") may still linger in a
	// worktree left over from before that change; sweep them on startup.
	if deleted, err := wt.CleanupStaleBranches(ctx, nil, "mq/"); err != nil {
		slog.Warn("stale staging branch cleanup failed", "repo", key, "error", err)
	} else if deleted > 0 {
		slog.Info("cleaned up stale staging branches", "repo", key, "count", deleted)
	}

	runCtx, cancel := context.WithCancel(r.parentCtx)

	managed := &managedRepo{controller: ctrl, cancel: cancel}

	r.mu.Lock()
	if _, exists := r.repos[key]; exists {
		r.mu.Unlock()
		cancel()

		return nil
	}

	r.repos[key] = managed
	r.mu.Unlock()

	go ctrl.Run(runCtx, r.deps.TickInterval)

	slog.Info("added repo to registry", "repo", key)

	return nil
}

// Remove stops a repo's ticker goroutine and removes it from the
// registry. No-op if the repo is not managed.
func (r *Registry) Remove(ref config.RepoRef) {
	key := ref.String()

	r.mu.Lock()
	managed, exists := r.repos[key]
	if exists {
		delete(r.repos, key)
	}
	r.mu.Unlock()

	if !exists {
		return
	}

	managed.cancel()

	slog.Info("removed repo from registry", "repo", key)
}

// Lookup returns the Controller for a given "owner/name" key.
func (r *Registry) Lookup(fullName string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.repos[fullName]
	if !ok {
		return nil, false
	}

	return m.controller, true
}

// List returns a snapshot of all currently managed repo keys.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.repos))
	for k := range r.repos {
		keys = append(keys, k)
	}

	return keys
}

// Contains returns true if the given "owner/name" is currently managed.
func (r *Registry) Contains(fullName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.repos[fullName]
	return ok
}

// Keys returns the set of all managed repo keys ("owner/name").
func (r *Registry) Keys() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make(map[string]struct{}, len(r.repos))
	for k := range r.repos {
		keys[k] = struct{}{}
	}

	return keys
}
