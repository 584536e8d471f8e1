// Package discovery implements periodic topic-based repo discovery: it
// lists the repositories the bot's credentials can administer, filters by
// a configured topic, and reconciles the result with the controller
// registry, adding newly-tagged repos and removing ones that lost the
// topic.
package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/jogman/bors-mq/internal/config"
	"github.com/jogman/bors-mq/internal/controller"
	"github.com/jogman/bors-mq/internal/forge"
)

// Deps holds the dependencies the discovery loop needs.
type Deps struct {
	Forge         forge.Client
	Registry      *controller.Registry
	Topic         string // empty disables topic-based discovery entirely
	ExplicitRepos []config.RepoRef
}

// DiscoverOnce runs a single discovery cycle: lists accessible repos,
// filters by topic + admin access, merges with explicit repos, and
// reconciles the registry.
func DiscoverOnce(ctx context.Context, deps *Deps) error {
	desired := make(map[string]config.RepoRef)

	if deps.Topic != "" {
		repos, err := deps.Forge.ListAccessibleRepos(ctx)
		if err != nil {
			slog.Warn("discovery: failed to list accessible repos", "error", err)
			return err
		}

		for _, repo := range repos {
			if !repo.AdminAccess {
				slog.Debug("discovery: skipping repo without admin access", "repo", repo.Owner+"/"+repo.Name)
				continue
			}

			if !containsTopic(repo.Topics, deps.Topic) {
				continue
			}

			ref := config.RepoRef{Owner: repo.Owner, Name: repo.Name}
			desired[ref.String()] = ref
		}
	}

	for _, ref := range deps.ExplicitRepos {
		desired[ref.String()] = ref
	}

	for key, ref := range desired {
		if !deps.Registry.Contains(key) {
			slog.Info("discovery: adding repo", "repo", key)

			if err := deps.Registry.Add(ctx, ref); err != nil {
				slog.Warn("discovery: failed to add repo", "repo", key, "error", err)
			}
		}
	}

	explicitSet := make(map[string]struct{}, len(deps.ExplicitRepos))
	for _, ref := range deps.ExplicitRepos {
		explicitSet[ref.String()] = struct{}{}
	}

	for key := range deps.Registry.Keys() {
		if _, inDesired := desired[key]; inDesired {
			continue
		}

		if _, isExplicit := explicitSet[key]; isExplicit {
			continue
		}

		slog.Info("discovery: removing repo", "repo", key)

		if ref, ok := parseKey(key); ok {
			deps.Registry.Remove(ref)
		}
	}

	slog.Info("discovery: cycle complete", "managed", len(desired))

	return nil
}

// Run starts the discovery loop. It runs DiscoverOnce immediately and then
// repeats at the given interval. Stops when ctx is cancelled.
func Run(ctx context.Context, deps *Deps, interval time.Duration) {
	slog.Info("discovery loop started", "topic", deps.Topic, "interval", interval)

	if err := DiscoverOnce(ctx, deps); err != nil {
		slog.Error("discovery error", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("discovery loop stopped")
			return
		case <-ticker.C:
			if err := DiscoverOnce(ctx, deps); err != nil {
				slog.Error("discovery error", "error", err)
			}
		}
	}
}

func containsTopic(topics []string, target string) bool {
	for _, t := range topics {
		if t == target {
			return true
		}
	}

	return false
}

func parseKey(key string) (config.RepoRef, bool) {
	for i, c := range key {
		if c == '/' {
			owner := key[:i]
			name := key[i+1:]

			if owner != "" && name != "" {
				return config.RepoRef{Owner: owner, Name: name}, true
			}
		}
	}

	return config.RepoRef{}, false
}
