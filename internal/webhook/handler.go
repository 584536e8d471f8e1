// Package webhook implements the HTTP handler that receives GitHub webhook
// events and routes them to the repo controller responsible for the
// target repository.
package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v84/github"

	"github.com/jogman/bors-mq/internal/command"
	"github.com/jogman/bors-mq/internal/controller"
	"github.com/jogman/bors-mq/internal/forge"
	"github.com/jogman/bors-mq/internal/state"
)

// RepoLookup abstracts how the webhook handler finds a repo's controller.
// Implementations include controller.Registry (dynamic) and MapRepoLookup
// (tests).
type RepoLookup interface {
	Lookup(fullName string) (*controller.Controller, bool)
}

// MapRepoLookup adapts a static map to the RepoLookup interface.
type MapRepoLookup map[string]*controller.Controller

// Lookup returns the Controller for a given "owner/name" key.
func (m MapRepoLookup) Lookup(fullName string) (*controller.Controller, bool) {
	c, ok := m[fullName]
	return c, ok
}

// Handler returns an http.Handler that processes GitHub webhook events and
// dispatches them to the matching repo's Controller.
func Handler(secret string, repos RepoLookup) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		sig := r.Header.Get("X-Hub-Signature-256")
		if !ValidateSignature(body, sig, secret) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		eventType := r.Header.Get("X-GitHub-Event")

		event, err := github.ParseWebHook(eventType, body)
		if err != nil {
			slog.Warn("malformed webhook payload", "event", eventType, "error", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		repoName := eventRepoFullName(event)
		if repoName == "" {
			// Not an event carrying a repository we track (or an event
			// type we don't otherwise handle); ack without error so
			// GitHub doesn't retry.
			w.WriteHeader(http.StatusOK)
			return
		}

		ctrl, ok := repos.Lookup(repoName)
		if !ok {
			slog.Debug("webhook for unmanaged repo", "repo", repoName)
			w.WriteHeader(http.StatusOK)
			return
		}

		if err := dispatch(r.Context(), ctrl, event); err != nil {
			slog.Error("failed to process webhook event", "event", eventType, "repo", repoName, "error", err)
			// Still return 200 — GitHub retries non-2xx responses, which
			// would cause duplicate processing of an error already logged
			// for operator follow-up.
		}

		w.WriteHeader(http.StatusOK)
	})
}

// eventRepoFullName extracts "owner/name" from any event type bors-mq
// consumes, or "" if event carries no repository we can route on.
func eventRepoFullName(event any) string {
	var repo *github.Repository

	switch e := event.(type) {
	case *github.PullRequestEvent:
		repo = e.GetRepo()
	case *github.PullRequestReviewEvent:
		repo = e.GetRepo()
	case *github.IssueCommentEvent:
		repo = e.GetRepo()
	case *github.CheckRunEvent:
		repo = e.GetRepo()
	case *github.CheckSuiteEvent:
		repo = e.GetRepo()
	case *github.StatusEvent:
		repo = e.GetRepo()
	case *github.PushEvent:
		repo = e.GetRepo()
	default:
		return ""
	}

	if repo == nil {
		return ""
	}

	return repo.GetFullName()
}

// dispatch applies the parsed event to the controller responsible for its
// repository. Event types that carry no actionable change (pull_request_review,
// check_suite, push) are accepted but otherwise ignored: approval state is
// read live off the comment-command channel, and check_suite is redundant
// with the per-check granularity check_run already provides.
func dispatch(ctx context.Context, ctrl *controller.Controller, event any) error {
	switch e := event.(type) {
	case *github.PullRequestEvent:
		pr := forge.ConvertPullRequest(e.GetPullRequest())
		return ctrl.HandlePullRequestEvent(ctx, e.GetAction(), *pr)

	case *github.IssueCommentEvent:
		return dispatchComment(ctx, ctrl, e)

	case *github.CheckRunEvent:
		return dispatchCheckRun(ctx, ctrl, e)

	case *github.StatusEvent:
		return dispatchStatus(ctx, ctrl, e)

	default:
		return nil
	}
}

func dispatchComment(ctx context.Context, ctrl *controller.Controller, e *github.IssueCommentEvent) error {
	if e.GetAction() != "created" {
		return nil
	}

	issue := e.GetIssue()
	if issue == nil || !issue.IsPullRequest() {
		return nil
	}

	cmd, ok := command.Parse(e.GetComment().GetBody())
	if !ok {
		return nil
	}

	return ctrl.HandleCommand(ctx, int64(issue.GetNumber()), cmd)
}

func dispatchCheckRun(ctx context.Context, ctrl *controller.Controller, e *github.CheckRunEvent) error {
	if e.GetAction() != "completed" {
		return nil
	}

	run := e.GetCheckRun()
	if run == nil {
		return nil
	}

	result := state.CheckResult{
		Passed:     run.GetConclusion() == "success",
		DetailsURL: run.GetDetailsURL(),
	}

	return ctrl.HandleCheckResult(ctx, run.GetHeadSHA(), run.GetName(), result)
}

func dispatchStatus(ctx context.Context, ctrl *controller.Controller, e *github.StatusEvent) error {
	// Ignore our own status posts to avoid feeding results back as checks.
	if e.GetContext() == forge.BorsContext {
		return nil
	}

	switch e.GetState() {
	case "success", "failure", "error":
	default:
		// "pending" carries no pass/fail verdict yet.
		return nil
	}

	result := state.CheckResult{
		Passed:     e.GetState() == "success",
		DetailsURL: e.GetTargetURL(),
	}

	return ctrl.HandleCheckResult(ctx, e.GetSHA(), e.GetContext(), result)
}
