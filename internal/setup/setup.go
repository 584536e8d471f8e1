// Package setup auto-configures forge repos for use with bors-mq: ensures
// the "bors" context is a required status check in branch protection and
// ensures a webhook exists for the event types the controller consumes.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jogman/bors-mq/internal/forge"
)

// requiredEvents is the full webhook event set the controller needs.
var requiredEvents = []string{
	"pull_request",
	"pull_request_review",
	"issue_comment",
	"check_run",
	"check_suite",
	"status",
	"push",
}

// EnsureBranchProtection checks a repo's branch protection rule and adds
// the bors status context to it if missing. If no protection rule
// exists, it logs a warning and returns — bors-mq requires branch
// protection to be meaningful but does not create one itself.
func EnsureBranchProtection(ctx context.Context, client forge.Client, owner, repo, branch string) error {
	bp, err := client.GetBranchProtection(ctx, owner, repo, branch)
	if err != nil {
		return fmt.Errorf("get branch protection for %s/%s@%s: %w", owner, repo, branch, err)
	}

	if bp == nil {
		slog.Warn("no branch protection rule found, bors-mq requires branch protection with status checks",
			"owner", owner, "repo", repo, "branch", branch)

		return nil
	}

	if slices.Contains(bp.RequiredStatusChecks, forge.BorsContext) {
		slog.Debug("bors already in required checks", "owner", owner, "repo", repo, "branch", branch)
		return nil
	}

	newContexts := append(append([]string{}, bp.RequiredStatusChecks...), forge.BorsContext)

	if err := client.SetRequiredStatusChecks(ctx, owner, repo, branch, newContexts); err != nil {
		return fmt.Errorf("add bors to branch protection for %s/%s@%s: %w", owner, repo, branch, err)
	}

	slog.Info("added bors to required status checks", "owner", owner, "repo", repo, "branch", branch)

	return nil
}

// EnsureWebhook checks if a webhook pointing at webhookURL already exists
// and creates one covering requiredEvents if not.
func EnsureWebhook(ctx context.Context, client forge.Client, owner, repo, webhookURL, secret string) error {
	hooks, err := client.ListWebhooks(ctx, owner, repo)
	if err != nil {
		return fmt.Errorf("list webhooks for %s/%s: %w", owner, repo, err)
	}

	for _, h := range hooks {
		if h.URL == webhookURL {
			slog.Debug("webhook already exists", "owner", owner, "repo", repo, "url", webhookURL)
			return nil
		}
	}

	if err := client.CreateWebhook(ctx, owner, repo, webhookURL, secret, requiredEvents); err != nil {
		return fmt.Errorf("create webhook for %s/%s: %w", owner, repo, err)
	}

	slog.Info("created webhook", "owner", owner, "repo", repo, "url", webhookURL)

	return nil
}

// EnsureRepo runs both EnsureBranchProtection and EnsureWebhook for a repo.
func EnsureRepo(ctx context.Context, client forge.Client, owner, repo, branch, webhookURL, secret string) error {
	if err := EnsureBranchProtection(ctx, client, owner, repo, branch); err != nil {
		return err
	}

	return EnsureWebhook(ctx, client, owner, repo, webhookURL, secret)
}
