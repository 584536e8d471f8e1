package discovery_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jogman/bors-mq/internal/config"
	"github.com/jogman/bors-mq/internal/controller"
	"github.com/jogman/bors-mq/internal/discovery"
	"github.com/jogman/bors-mq/internal/forge"
	"github.com/jogman/bors-mq/internal/queue"
	"github.com/jogman/bors-mq/internal/state"
)

func newTestSetup(t *testing.T) (*controller.Registry, *forge.MockClient, context.Context) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mock := &forge.MockClient{}

	regDeps := controller.Deps{
		Forge:          mock,
		Clock:          queue.RealClock{},
		WorktreeDir:    t.TempDir(),
		RemoteURL:      func(owner, name string) string { return "https://example.invalid/" + owner + "/" + name },
		TickInterval:   time.Hour,
		CheckTimeout:   time.Hour,
		RequiredChecks: []string{"ci/build"},
		Labels:         state.LabelNames{HighPriority: "high-priority", Squash: "squash"},
	}

	reg := controller.NewRegistry(ctx, regDeps)

	return reg, mock, ctx
}

func repo(owner, name string, admin bool, topics ...string) forge.Repo {
	return forge.Repo{Owner: owner, Name: name, AdminAccess: admin, Topics: topics}
}

func TestDiscoverOnce_TopicMatching(t *testing.T) {
	reg, mock, ctx := newTestSetup(t)

	mock.ListAccessibleReposFn = func(_ context.Context) ([]forge.Repo, error) {
		return []forge.Repo{
			repo("org", "app", true, "merge-queue", "go"),
			repo("org", "lib", true, "nix", "library"),
			repo("org", "docs", true),
		}, nil
	}

	deps := &discovery.Deps{Forge: mock, Registry: reg, Topic: "merge-queue"}

	if err := discovery.DiscoverOnce(ctx, deps); err != nil {
		t.Fatalf("DiscoverOnce: %v", err)
	}

	if !reg.Contains("org/app") {
		t.Error("expected org/app to be discovered (has merge-queue topic)")
	}

	if reg.Contains("org/lib") {
		t.Error("expected org/lib to NOT be discovered (no merge-queue topic)")
	}

	if reg.Contains("org/docs") {
		t.Error("expected org/docs to NOT be discovered (no topics)")
	}
}

func TestDiscoverOnce_AdminFilter(t *testing.T) {
	reg, mock, ctx := newTestSetup(t)

	mock.ListAccessibleReposFn = func(_ context.Context) ([]forge.Repo, error) {
		return []forge.Repo{
			repo("org", "admin-repo", true, "merge-queue"),
			repo("org", "read-repo", false, "merge-queue"),
		}, nil
	}

	deps := &discovery.Deps{Forge: mock, Registry: reg, Topic: "merge-queue"}

	if err := discovery.DiscoverOnce(ctx, deps); err != nil {
		t.Fatalf("DiscoverOnce: %v", err)
	}

	if !reg.Contains("org/admin-repo") {
		t.Error("expected admin-repo to be discovered")
	}

	if reg.Contains("org/read-repo") {
		t.Error("expected read-repo to be skipped (no admin)")
	}
}

func TestDiscoverOnce_RemovesRepoThatLostTopic(t *testing.T) {
	reg, mock, ctx := newTestSetup(t)

	mock.ListAccessibleReposFn = func(_ context.Context) ([]forge.Repo, error) {
		return []forge.Repo{repo("org", "app", true, "merge-queue")}, nil
	}

	deps := &discovery.Deps{Forge: mock, Registry: reg, Topic: "merge-queue"}

	if err := discovery.DiscoverOnce(ctx, deps); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	if !reg.Contains("org/app") {
		t.Fatal("expected org/app after first cycle")
	}

	mock.ListAccessibleReposFn = func(_ context.Context) ([]forge.Repo, error) {
		return []forge.Repo{repo("org", "app", true, "go")}, nil
	}

	if err := discovery.DiscoverOnce(ctx, deps); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	if reg.Contains("org/app") {
		t.Error("expected org/app to be removed after losing topic")
	}
}

func TestDiscoverOnce_ExplicitRepoNeverRemoved(t *testing.T) {
	reg, mock, ctx := newTestSetup(t)

	mock.ListAccessibleReposFn = func(_ context.Context) ([]forge.Repo, error) {
		return []forge.Repo{repo("org", "app", true, "merge-queue")}, nil
	}

	deps := &discovery.Deps{
		Forge:         mock,
		Registry:      reg,
		Topic:         "merge-queue",
		ExplicitRepos: []config.RepoRef{{Owner: "org", Name: "legacy"}},
	}

	if err := discovery.DiscoverOnce(ctx, deps); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	if !reg.Contains("org/app") {
		t.Error("expected org/app (topic-discovered)")
	}

	if !reg.Contains("org/legacy") {
		t.Error("expected org/legacy (explicit)")
	}

	mock.ListAccessibleReposFn = func(_ context.Context) ([]forge.Repo, error) {
		return []forge.Repo{}, nil
	}

	if err := discovery.DiscoverOnce(ctx, deps); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	if reg.Contains("org/app") {
		t.Error("expected org/app to be removed (lost topic)")
	}

	if !reg.Contains("org/legacy") {
		t.Error("explicit repo should never be removed by discovery")
	}
}

func TestDiscoverOnce_APIFailureKeepsCurrentSet(t *testing.T) {
	reg, mock, ctx := newTestSetup(t)

	mock.ListAccessibleReposFn = func(_ context.Context) ([]forge.Repo, error) {
		return []forge.Repo{repo("org", "app", true, "merge-queue")}, nil
	}

	deps := &discovery.Deps{Forge: mock, Registry: reg, Topic: "merge-queue"}

	if err := discovery.DiscoverOnce(ctx, deps); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	if !reg.Contains("org/app") {
		t.Fatal("setup failed")
	}

	mock.ListAccessibleReposFn = func(_ context.Context) ([]forge.Repo, error) {
		return nil, fmt.Errorf("connection refused")
	}

	err := discovery.DiscoverOnce(ctx, deps)
	if err == nil {
		t.Fatal("expected error on API failure")
	}

	if !reg.Contains("org/app") {
		t.Error("expected org/app to remain managed after API failure")
	}
}
