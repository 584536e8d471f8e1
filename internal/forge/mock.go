package forge

import (
	"context"
	"sync"
)

// MockCall records a single method call made to the mock client.
type MockCall struct {
	Method string
	Args   []any
}

// MockClient is a test double for Client that records all calls and returns
// configurable responses. Safe for concurrent use.
type MockClient struct {
	mu    sync.Mutex
	Calls []MockCall

	// Response configurators. Set these before calling the method under
	// test. Each returns the method's result. If nil, the method returns
	// the zero value and a nil error.

	CreateStatusFn            func(ctx context.Context, owner, repo, sha string, opts CreateStatusOpts) error
	UpdateRefFn               func(ctx context.Context, owner, repo, ref, sha string, force bool) error
	CreateCommentFn           func(ctx context.Context, owner, repo string, number int64, body string) error
	GetPullRequestFn          func(ctx context.Context, owner, repo string, number int64) (*PullRequest, error)
	ListOpenPullRequestsFn    func(ctx context.Context, owner, repo string) ([]PullRequest, error)
	ListReviewsFn             func(ctx context.Context, owner, repo string, number int64) ([]Review, error)
	GetBranchProtectionFn     func(ctx context.Context, owner, repo, branch string) (*BranchProtection, error)
	SetRequiredStatusChecksFn func(ctx context.Context, owner, repo, branch string, contexts []string) error
	ListWebhooksFn            func(ctx context.Context, owner, repo string) ([]Webhook, error)
	CreateWebhookFn           func(ctx context.Context, owner, repo, url, secret string, events []string) error
	ListAccessibleReposFn     func(ctx context.Context) ([]Repo, error)
}

// Ensure MockClient implements Client at compile time.
var _ Client = (*MockClient)(nil)

func (m *MockClient) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// CallsTo returns all recorded calls to the named method.
func (m *MockClient) CallsTo(method string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []MockCall

	for _, c := range m.Calls {
		if c.Method == method {
			result = append(result, c)
		}
	}

	return result
}

// Reset clears all recorded calls.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
}

func (m *MockClient) CreateStatus(ctx context.Context, owner, repo, sha string, opts CreateStatusOpts) error {
	m.record("CreateStatus", owner, repo, sha, opts)

	if m.CreateStatusFn != nil {
		return m.CreateStatusFn(ctx, owner, repo, sha, opts)
	}

	return nil
}

func (m *MockClient) UpdateRef(ctx context.Context, owner, repo, ref, sha string, force bool) error {
	m.record("UpdateRef", owner, repo, ref, sha, force)

	if m.UpdateRefFn != nil {
		return m.UpdateRefFn(ctx, owner, repo, ref, sha, force)
	}

	return nil
}

func (m *MockClient) CreateComment(ctx context.Context, owner, repo string, number int64, body string) error {
	m.record("CreateComment", owner, repo, number, body)

	if m.CreateCommentFn != nil {
		return m.CreateCommentFn(ctx, owner, repo, number, body)
	}

	return nil
}

func (m *MockClient) GetPullRequest(ctx context.Context, owner, repo string, number int64) (*PullRequest, error) {
	m.record("GetPullRequest", owner, repo, number)

	if m.GetPullRequestFn != nil {
		return m.GetPullRequestFn(ctx, owner, repo, number)
	}

	return nil, nil
}

func (m *MockClient) ListOpenPullRequests(ctx context.Context, owner, repo string) ([]PullRequest, error) {
	m.record("ListOpenPullRequests", owner, repo)

	if m.ListOpenPullRequestsFn != nil {
		return m.ListOpenPullRequestsFn(ctx, owner, repo)
	}

	return nil, nil
}

func (m *MockClient) ListReviews(ctx context.Context, owner, repo string, number int64) ([]Review, error) {
	m.record("ListReviews", owner, repo, number)

	if m.ListReviewsFn != nil {
		return m.ListReviewsFn(ctx, owner, repo, number)
	}

	return nil, nil
}

func (m *MockClient) GetBranchProtection(ctx context.Context, owner, repo, branch string) (*BranchProtection, error) {
	m.record("GetBranchProtection", owner, repo, branch)

	if m.GetBranchProtectionFn != nil {
		return m.GetBranchProtectionFn(ctx, owner, repo, branch)
	}

	return nil, nil
}

func (m *MockClient) SetRequiredStatusChecks(ctx context.Context, owner, repo, branch string, contexts []string) error {
	m.record("SetRequiredStatusChecks", owner, repo, branch, contexts)

	if m.SetRequiredStatusChecksFn != nil {
		return m.SetRequiredStatusChecksFn(ctx, owner, repo, branch, contexts)
	}

	return nil
}

func (m *MockClient) ListWebhooks(ctx context.Context, owner, repo string) ([]Webhook, error) {
	m.record("ListWebhooks", owner, repo)

	if m.ListWebhooksFn != nil {
		return m.ListWebhooksFn(ctx, owner, repo)
	}

	return nil, nil
}

func (m *MockClient) CreateWebhook(ctx context.Context, owner, repo, url, secret string, events []string) error {
	m.record("CreateWebhook", owner, repo, url, secret, events)

	if m.CreateWebhookFn != nil {
		return m.CreateWebhookFn(ctx, owner, repo, url, secret, events)
	}

	return nil
}

func (m *MockClient) ListAccessibleRepos(ctx context.Context) ([]Repo, error) {
	m.record("ListAccessibleRepos")

	if m.ListAccessibleReposFn != nil {
		return m.ListAccessibleReposFn(ctx)
	}

	return nil, nil
}
