package web_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jogman/bors-mq/internal/controller"
	"github.com/jogman/bors-mq/internal/forge"
	"github.com/jogman/bors-mq/internal/queue"
	"github.com/jogman/bors-mq/internal/state"
	"github.com/jogman/bors-mq/internal/web"
)

// staticLister implements web.RepoLister over a fixed set of controllers,
// built without ever calling Tick so tests control store contents exactly.
type staticLister struct {
	ctrls map[string]*controller.Controller
	order []string
}

func newStaticLister() *staticLister {
	return &staticLister{ctrls: make(map[string]*controller.Controller)}
}

func (s *staticLister) add(owner, name string) *controller.Controller {
	cfg := state.RepoConfig{
		Owner:  owner,
		Name:   name,
		Checks: []string{"ci/build", "ci/lint", "ci/test"},
		Labels: state.LabelNames{HighPriority: "high-priority"},
	}

	ctrl := controller.New(cfg, queue.Deps{})

	key := owner + "/" + name
	s.ctrls[key] = ctrl
	s.order = append(s.order, key)

	return ctrl
}

func (s *staticLister) List() []string {
	return append([]string{}, s.order...)
}

func (s *staticLister) Contains(fullName string) bool {
	_, ok := s.ctrls[fullName]
	return ok
}

func (s *staticLister) Lookup(fullName string) (*controller.Controller, bool) {
	c, ok := s.ctrls[fullName]
	return c, ok
}

func TestOverviewShowsRepoAndQueueData(t *testing.T) {
	lister := newStaticLister()

	app := lister.add("org", "app")
	app.Store().Put(&state.PullRequestState{Number: 42, Labels: map[string]struct{}{}, Status: state.StatusQueued})
	app.Store().Put(&state.PullRequestState{Number: 43, Labels: map[string]struct{}{}, Status: state.StatusQueued})

	lister.add("org", "lib")

	mux := web.NewMux(&web.Deps{Repos: lister, RefreshInterval: 5})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()

	if !strings.Contains(body, `href="/repo/org/app"`) {
		t.Error("expected link to org/app repo page")
	}

	if !strings.Contains(body, `href="/repo/org/lib"`) {
		t.Error("expected link to org/lib repo page")
	}

	if !strings.Contains(body, ">2<") {
		t.Errorf("expected queue count 2 in body:\n%s", body)
	}

	if !strings.Contains(body, ">0<") {
		t.Errorf("expected queue count 0 for org/lib in body:\n%s", body)
	}

	if !strings.Contains(body, `content="5"`) {
		t.Error("expected meta refresh with interval 5")
	}

	if !strings.Contains(body, "<nav") {
		t.Error("expected breadcrumb nav element")
	}
}

func TestOverviewNoReposShowsHelpMessage(t *testing.T) {
	lister := newStaticLister()

	mux := web.NewMux(&web.Deps{Repos: lister, RefreshInterval: 10})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "No repositories discovered yet") {
		t.Errorf("expected helpful setup message, got:\n%s", body)
	}
}

func TestRepoDetailShowsPRs(t *testing.T) {
	lister := newStaticLister()

	app := lister.add("org", "app")
	app.Store().Put(&state.PullRequestState{Number: 42, BaseRefName: "main", Labels: map[string]struct{}{}, Status: state.NewTesting("merged42", time.Now())})
	app.Store().Put(&state.PullRequestState{Number: 43, BaseRefName: "main", Labels: map[string]struct{}{}, Status: state.StatusQueued})

	mux := web.NewMux(&web.Deps{Repos: lister, RefreshInterval: 10})

	req := httptest.NewRequest(http.MethodGet, "/repo/org/app", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()

	if !strings.Contains(body, `href="/repo/org/app/pr/42"`) {
		t.Errorf("expected link to PR #42 detail page, body:\n%s", body)
	}

	if !strings.Contains(body, `href="/repo/org/app/pr/43"`) {
		t.Errorf("expected link to PR #43 detail page, body:\n%s", body)
	}

	if strings.Contains(body, "ci/build") || strings.Contains(body, "ci/lint") {
		t.Error("repo page should not show check statuses")
	}

	if !strings.Contains(body, "<nav") {
		t.Error("expected breadcrumb nav element")
	}

	if !strings.Contains(body, `href="/"`) {
		t.Error("expected breadcrumb link to overview")
	}
}

func TestPRDetailHeadOfQueueTesting(t *testing.T) {
	lister := newStaticLister()

	app := lister.add("org", "app")

	status := state.NewTesting("mergesha", time.Now())
	status.TestResults["ci/build"] = state.CheckResult{Passed: true, DetailsURL: "https://ci.example.com/build/1"}

	app.Store().Put(&state.PullRequestState{Number: 42, BaseRefName: "main", Labels: map[string]struct{}{}, Status: status})

	mock := &forge.MockClient{
		GetPullRequestFn: func(_ context.Context, _, _ string, _ int64) (*forge.PullRequest, error) {
			return &forge.PullRequest{Number: 42, Title: "Fix login bug", Author: "alice", HTMLURL: "https://github.example.com/org/app/pull/42"}, nil
		},
	}

	mux := web.NewMux(&web.Deps{Repos: lister, Forge: mock, RefreshInterval: 10})

	req := httptest.NewRequest(http.MethodGet, "/repo/org/app/pr/42", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()

	if !strings.Contains(body, "Fix login bug") {
		t.Error("expected PR title")
	}

	if !strings.Contains(body, `<a href="https://github.example.com/org/app/pull/42">PR #42</a>`) {
		t.Errorf("expected PR link in heading, got:\n%s", body)
	}

	if !strings.Contains(body, "alice") {
		t.Error("expected PR author")
	}

	if !strings.Contains(body, "testing") {
		t.Error("expected testing state")
	}

	if !strings.Contains(body, "✅") {
		t.Error("expected success check icon for ci/build")
	}

	if !strings.Contains(body, "ci/build") {
		t.Error("expected ci/build check name")
	}

	if !strings.Contains(body, "ci/lint") || !strings.Contains(body, "ci/test") {
		t.Error("expected unreported required checks to show as pending")
	}

	if !strings.Contains(body, "⏳") {
		t.Error("expected pending check icon for unreported checks")
	}

	if !strings.Contains(body, `href="https://ci.example.com/build/1"`) {
		t.Errorf("expected clickable check link for ci/build, got:\n%s", body)
	}

	if strings.Contains(body, `>ci/lint ↗</a>`) {
		t.Error("ci/lint should not be a link (not yet reported)")
	}
}

func TestPRDetailNonHeadQueued(t *testing.T) {
	lister := newStaticLister()

	app := lister.add("org", "app")
	app.Store().Put(&state.PullRequestState{Number: 42, Labels: map[string]struct{}{}, Status: state.StatusQueued})
	app.Store().Put(&state.PullRequestState{Number: 43, Labels: map[string]struct{}{}, Status: state.StatusQueued})

	mock := &forge.MockClient{
		GetPullRequestFn: func(_ context.Context, _, _ string, number int64) (*forge.PullRequest, error) {
			return &forge.PullRequest{Number: number, Title: "Some PR", Author: "bob"}, nil
		},
	}

	mux := web.NewMux(&web.Deps{Repos: lister, Forge: mock, RefreshInterval: 10})

	req := httptest.NewRequest(http.MethodGet, "/repo/org/app/pr/43", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "queued") {
		t.Error("expected queued state")
	}

	if !strings.Contains(body, "#2") {
		t.Error("expected position #2")
	}

	if strings.Contains(body, "ci/build") {
		t.Error("non-head PR should not show checks")
	}
}

func TestPRDetailNotInQueue(t *testing.T) {
	lister := newStaticLister()
	lister.add("org", "app")

	mux := web.NewMux(&web.Deps{Repos: lister, RefreshInterval: 10})

	req := httptest.NewRequest(http.MethodGet, "/repo/org/app/pr/99", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for PR not in queue, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "not in the merge queue") {
		t.Errorf("expected 'not in the merge queue' message, got:\n%s", body)
	}
}

func TestPRDetailForgeAPIFailure(t *testing.T) {
	lister := newStaticLister()

	app := lister.add("org", "app")
	app.Store().Put(&state.PullRequestState{Number: 42, Labels: map[string]struct{}{}, Status: state.StatusQueued})

	mock := &forge.MockClient{
		GetPullRequestFn: func(_ context.Context, _, _ string, _ int64) (*forge.PullRequest, error) {
			return nil, context.DeadlineExceeded
		},
	}

	mux := web.NewMux(&web.Deps{Repos: lister, Forge: mock, RefreshInterval: 10})

	req := httptest.NewRequest(http.MethodGet, "/repo/org/app/pr/42", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 even on API failure, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "—") {
		t.Error("expected em-dash placeholder for title/author on API failure")
	}

	if !strings.Contains(body, "queued") {
		t.Error("expected queue state even on API failure")
	}
}

func TestRepoDetailUnknownRepoReturns404(t *testing.T) {
	lister := newStaticLister()
	lister.add("org", "app")

	mux := web.NewMux(&web.Deps{Repos: lister, RefreshInterval: 10})

	req := httptest.NewRequest(http.MethodGet, "/repo/org/unknown", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown repo, got %d", rec.Code)
	}
}
