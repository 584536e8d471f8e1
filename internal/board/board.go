// Package board provides the optional project-board collaborator used by
// the Land protocol's card-removal step. GitHub removed the classic
// Projects REST API that a bors-style board integration
// would traditionally target, so the only durable per-PR board signal left
// on a plain repository is a label; RemoveCard is implemented as removing
// a configured "on the board" label from the PR's issue, best-effort.
package board

import (
	"context"
	"fmt"

	"github.com/google/go-github/v84/github"
)

// Board removes a PR's card from the merge queue's tracking board once it
// lands. Failures are not silently swallowed by the engine — removal is
// best-effort but its failures still propagate as errors.
type Board interface {
	RemoveCard(ctx context.Context, owner, repo string, prNumber int64) error
}

// LabelBoard implements Board by removing a single label that marks a PR
// as being tracked on the merge queue board.
type LabelBoard struct {
	gh    *github.Client
	label string
}

// NewLabelBoard builds a LabelBoard that removes label from a PR's issue
// on RemoveCard. gh is the same authenticated client the forge package's
// GitHubClient wraps; a board is optional ambient wiring, not part of the
// Forge Client contract the engine depends on.
func NewLabelBoard(gh *github.Client, label string) *LabelBoard {
	return &LabelBoard{gh: gh, label: label}
}

func (b *LabelBoard) RemoveCard(ctx context.Context, owner, repo string, prNumber int64) error {
	_, err := b.gh.Issues.RemoveLabelForIssue(ctx, owner, repo, int(prNumber), b.label)
	if err != nil {
		if ghErr, ok := err.(*github.ErrorResponse); ok && ghErr.Response != nil && ghErr.Response.StatusCode == 404 {
			// Label already absent — nothing to remove.
			return nil
		}

		return fmt.Errorf("remove board label from PR #%d in %s/%s: %w", prNumber, owner, repo, err)
	}

	return nil
}

// NoOpBoard is used when no board integration is configured.
type NoOpBoard struct{}

func (NoOpBoard) RemoveCard(ctx context.Context, owner, repo string, prNumber int64) error {
	return nil
}

var (
	_ Board = (*LabelBoard)(nil)
	_ Board = NoOpBoard{}
)
