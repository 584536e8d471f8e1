package setup_test

import (
	"context"
	"testing"

	"github.com/jogman/bors-mq/internal/forge"
	"github.com/jogman/bors-mq/internal/setup"
)

func TestEnsureBranchProtection_AddsMissing(t *testing.T) {
	mock := &forge.MockClient{
		GetBranchProtectionFn: func(_ context.Context, _, _, _ string) (*forge.BranchProtection, error) {
			return &forge.BranchProtection{RequiredStatusChecks: []string{"ci/build"}}, nil
		},
	}

	if err := setup.EnsureBranchProtection(context.Background(), mock, "org", "app", "main"); err != nil {
		t.Fatal(err)
	}

	calls := mock.CallsTo("SetRequiredStatusChecks")
	if len(calls) != 1 {
		t.Fatalf("expected 1 SetRequiredStatusChecks call, got %d", len(calls))
	}

	contexts := calls[0].Args[3].([]string)

	found, foundCI := false, false

	for _, c := range contexts {
		if c == forge.BorsContext {
			found = true
		}

		if c == "ci/build" {
			foundCI = true
		}
	}

	if !found {
		t.Error("expected bors in required status check contexts")
	}

	if !foundCI {
		t.Error("expected ci/build preserved in required status check contexts")
	}
}

func TestEnsureBranchProtection_AlreadyPresent(t *testing.T) {
	mock := &forge.MockClient{
		GetBranchProtectionFn: func(_ context.Context, _, _, _ string) (*forge.BranchProtection, error) {
			return &forge.BranchProtection{RequiredStatusChecks: []string{"ci/build", forge.BorsContext}}, nil
		},
	}

	if err := setup.EnsureBranchProtection(context.Background(), mock, "org", "app", "main"); err != nil {
		t.Fatal(err)
	}

	if calls := mock.CallsTo("SetRequiredStatusChecks"); len(calls) != 0 {
		t.Fatalf("expected no SetRequiredStatusChecks calls when already present, got %d", len(calls))
	}
}

func TestEnsureBranchProtection_NoBranchProtection(t *testing.T) {
	mock := &forge.MockClient{
		GetBranchProtectionFn: func(_ context.Context, _, _, _ string) (*forge.BranchProtection, error) {
			return nil, nil
		},
	}

	if err := setup.EnsureBranchProtection(context.Background(), mock, "org", "app", "main"); err != nil {
		t.Fatal(err)
	}

	if calls := mock.CallsTo("SetRequiredStatusChecks"); len(calls) != 0 {
		t.Fatalf("expected no SetRequiredStatusChecks calls, got %d", len(calls))
	}
}

func TestEnsureWebhook_CreatesMissing(t *testing.T) {
	mock := &forge.MockClient{
		ListWebhooksFn: func(_ context.Context, _, _ string) ([]forge.Webhook, error) {
			return nil, nil
		},
	}

	if err := setup.EnsureWebhook(context.Background(), mock, "org", "app", "https://mq.example.com/webhook", "secret123"); err != nil {
		t.Fatal(err)
	}

	calls := mock.CallsTo("CreateWebhook")
	if len(calls) != 1 {
		t.Fatalf("expected 1 CreateWebhook call, got %d", len(calls))
	}

	if url := calls[0].Args[2].(string); url != "https://mq.example.com/webhook" {
		t.Errorf("expected webhook URL, got %q", url)
	}

	if secret := calls[0].Args[3].(string); secret != "secret123" {
		t.Errorf("expected secret in webhook call, got %q", secret)
	}

	events := calls[0].Args[4].([]string)
	if len(events) == 0 {
		t.Error("expected a non-empty event list")
	}
}

func TestEnsureWebhook_AlreadyExists(t *testing.T) {
	mock := &forge.MockClient{
		ListWebhooksFn: func(_ context.Context, _, _ string) ([]forge.Webhook, error) {
			return []forge.Webhook{
				{ID: 1, URL: "https://mq.example.com/webhook", Active: true},
			}, nil
		},
	}

	if err := setup.EnsureWebhook(context.Background(), mock, "org", "app", "https://mq.example.com/webhook", "secret123"); err != nil {
		t.Fatal(err)
	}

	if calls := mock.CallsTo("CreateWebhook"); len(calls) != 0 {
		t.Fatalf("expected no CreateWebhook calls when webhook exists, got %d", len(calls))
	}
}
