package gitclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

func newTestLogger(t *testing.T) *logger.Entry {
	t.Helper()
	testLogger, err := logger.NewLogger(logger.Config{
		Level:  "error",
		Format: "json",
		Output: "stderr",
	})
	require.NoError(t, err)
	return testLogger.WithField("test", "gitclient")
}

func newTestClient(t *testing.T, server *httptest.Server, limiter RateLimiter) *GitHubClient {
	t.Helper()
	config := GetDefaultConfig()
	config.Token = "test-token"
	config.BaseURL = server.URL
	config.RetryBackoff = time.Millisecond
	config.Timeout = 2 * time.Second
	if limiter == nil {
		limiter = NewGitHubRateLimiter(RateLimiterConfig{RequestsPerHour: 3600000, Burst: 100})
	}

	client, err := NewGitHubClient(config, "owner", "repo", limiter, newTestLogger(t))
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func setRateHeaders(w http.ResponseWriter, remaining int, reset int64) {
	w.Header().Set("X-RateLimit-Limit", "5000")
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Used", strconv.Itoa(5000-remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
}

func TestNewGitHubClient_Validation(t *testing.T) {
	_, err := NewGitHubClient(ClientConfig{}, "owner", "repo", nil, newTestLogger(t))
	var cfgErr *types.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "accessToken", cfgErr.Field)

	_, err = NewGitHubClient(ClientConfig{Token: "t"}, "", "repo", nil, newTestLogger(t))
	require.True(t, errors.As(err, &cfgErr))

	client, err := NewGitHubClient(ClientConfig{Token: "t"}, "owner", "repo", nil, newTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, client.client.BaseURL.String())
	assert.Equal(t, 5, client.config.RetryAttempts)
	assert.Equal(t, 30*time.Second, client.config.Timeout)
}

func TestClientFactory_SharesLimiterPerToken(t *testing.T) {
	factory := NewClientFactory(GetDefaultConfig(), RateLimiterConfig{}, newTestLogger(t))

	a, err := factory.CreateClient("owner", "one", "token-a")
	require.NoError(t, err)
	b, err := factory.CreateClient("owner", "two", "token-a")
	require.NoError(t, err)
	c, err := factory.CreateClient("owner", "three", "token-b")
	require.NoError(t, err)

	assert.Same(t, a.RateLimiter(), b.RateLimiter())
	assert.NotSame(t, a.RateLimiter(), c.RateLimiter())
}

func TestTokenFingerprint(t *testing.T) {
	fp := TokenFingerprint("ghp_secret")
	assert.Len(t, fp, 16)
	assert.NotContains(t, fp, "secret")
	assert.Equal(t, fp, TokenFingerprint("ghp_secret"))
	assert.NotEqual(t, fp, TokenFingerprint("ghp_other"))
}

func TestGitHubClient_GetRepositoryAndPermissions(t *testing.T) {
	reset := time.Now().Add(time.Hour).Unix()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/repos/owner/repo", r.URL.Path)
		setRateHeaders(w, 4321, reset)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":             42,
			"name":           "repo",
			"full_name":      "owner/repo",
			"owner":          map[string]interface{}{"login": "owner"},
			"html_url":       "https://github.com/owner/repo",
			"private":        true,
			"default_branch": "main",
			"permissions":    map[string]bool{"admin": false, "push": true, "pull": true},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)

	repo, err := client.GetRepository(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), repo.ID)
	assert.Equal(t, "owner/repo", repo.FullName)
	assert.True(t, repo.Private)

	perms, err := client.GetPermissions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.Permissions{Admin: false, Push: true, Pull: true}, *perms)

	snapshot := client.RateLimiter().Snapshot()
	assert.Equal(t, 5000, snapshot.Limit)
	assert.Equal(t, 4321, snapshot.Remaining)
	assert.Equal(t, 679, snapshot.Used)
	assert.Equal(t, reset, snapshot.ResetEpoch)
}

func TestGitHubClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			writeJSON(w, http.StatusBadGateway, map[string]string{"message": "bad gateway"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": 1, "number": 7, "title": "ok", "state": "open"})
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)
	issue, err := client.GetIssue(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, issue.Number)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGitHubClient_GivesUpAfterFiveAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "unavailable"})
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)
	_, err := client.GetIssue(context.Background(), 1)
	require.Error(t, err)

	var transient *types.TransientNetworkError
	require.True(t, errors.As(err, &transient))
	assert.Equal(t, http.StatusServiceUnavailable, transient.StatusCode)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
	assert.True(t, types.IsRetryableError(err))
}

func TestGitHubClient_BackoffDoubles(t *testing.T) {
	var (
		mu     sync.Mutex
		stamps []time.Time
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)
	client.config.RetryBackoff = 20 * time.Millisecond
	client.config.RetryAttempts = 3

	_, err := client.GetIssue(context.Background(), 1)
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 40*time.Millisecond)
}

func TestGitHubClient_ClientErrorsArePermanent(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"validation", http.StatusUnprocessableEntity, func(t *testing.T, err error) {
			var v *types.ValidationError
			assert.True(t, errors.As(err, &v))
		}},
		{"unauthorized", http.StatusUnauthorized, func(t *testing.T, err error) {
			var a *types.AuthError
			assert.True(t, errors.As(err, &a))
		}},
		{"forbidden", http.StatusForbidden, func(t *testing.T, err error) {
			assert.Equal(t, types.KindAuth, types.KindOf(err))
		}},
		{"not found", http.StatusNotFound, func(t *testing.T, err error) {
			var nf *types.NotFoundError
			assert.True(t, errors.As(err, &nf))
			assert.Equal(t, "3", nf.ID)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				writeJSON(w, tt.status, map[string]string{"message": "nope"})
			}))
			defer server.Close()

			client := newTestClient(t, server, nil)
			_, err := client.GetIssue(context.Background(), 3)
			require.Error(t, err)
			assert.False(t, types.IsRetryableError(err))
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
			tt.check(t, err)
		})
	}
}

func TestGitHubClient_SecondaryRateLimitRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeJSON(w, http.StatusForbidden, map[string]string{
				"message":           "You have exceeded a secondary rate limit",
				"documentation_url": "https://docs.github.com/rest/overview/resources-in-the-rest-api#secondary-rate-limits",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": 9, "number": 9, "title": "t", "state": "open"})
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)
	_, err := client.GetIssue(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGitHubClient_PrimaryRateLimitNotRetried(t *testing.T) {
	var calls int32
	reset := time.Now().Add(time.Hour).Unix()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		setRateHeaders(w, 0, reset)
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "API rate limit exceeded"})
	}))
	defer server.Close()

	client := newTestClient(t, server, NewNoOpRateLimiter())
	_, err := client.GetIssue(context.Background(), 1)
	require.Error(t, err)

	var exceeded *types.RateLimitExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, reset, exceeded.ResetTime.Unix())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGitHubClient_BlocksBelowMargin(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": 1, "number": 1, "title": "t", "state": "open"})
	}))
	defer server.Close()

	limiter := NewGitHubRateLimiter(RateLimiterConfig{Margin: 10, RequestsPerHour: 3600000, Burst: 100})
	limiter.Update(types.RateLimitSnapshot{Limit: 5000, Remaining: 2, ResetEpoch: time.Now().Add(time.Hour).Unix()})
	client := newTestClient(t, server, limiter)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.GetIssue(ctx, 1)
	assert.Equal(t, types.KindRateLimitExceeded, types.KindOf(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestGitHubClient_PerCallTimeoutIsTransient(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(200 * time.Millisecond):
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": 1, "number": 1})
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)
	client.config.Timeout = 20 * time.Millisecond
	client.config.RetryAttempts = 2

	_, err := client.GetIssue(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, types.KindTransientNetwork, types.KindOf(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGitHubClient_ListAllIssuesPaginatesAndSkipsPullRequests(t *testing.T) {
	var serverURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		page := r.URL.Query().Get("page")
		switch page {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/owner/repo/issues?page=2>; rel="next"`, serverURL))
			writeJSON(w, http.StatusOK, []map[string]interface{}{
				{"id": 1, "number": 1, "title": "first", "state": "open",
					"labels": []map[string]interface{}{{"id": 5, "name": "bug", "color": "D73A4A"}}},
				{"id": 2, "number": 2, "title": "a pull", "state": "open",
					"pull_request": map[string]string{"url": "x"}},
			})
		case "2":
			writeJSON(w, http.StatusOK, []map[string]interface{}{
				{"id": 3, "number": 3, "title": "third", "state": "closed",
					"milestone": map[string]interface{}{"number": 4, "title": "v1"}},
			})
		default:
			t.Errorf("unexpected page %q", page)
		}
	}))
	defer server.Close()
	serverURL = server.URL

	client := newTestClient(t, server, nil)
	issues, err := client.ListAllIssues(context.Background(), "all")
	require.NoError(t, err)
	require.Len(t, issues, 2)

	assert.Equal(t, "first", issues[0].Title)
	require.Len(t, issues[0].Labels, 1)
	assert.Equal(t, "d73a4a", issues[0].Labels[0].Color)
	assert.Equal(t, "closed", issues[1].State)
	require.NotNil(t, issues[1].Milestone)
	assert.Equal(t, "v1", issues[1].Milestone.Title)
}

func TestGitHubClient_CreateClosedIssue(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)

		switch r.Method {
		case http.MethodPost:
			assert.NotContains(t, body, "state")
			assert.Equal(t, "Login bug", body["title"])
			writeJSON(w, http.StatusCreated, map[string]interface{}{"id": 100, "number": 12, "title": "Login bug", "state": "open"})
		case http.MethodPatch:
			assert.Equal(t, "closed", body["state"])
			writeJSON(w, http.StatusOK, map[string]interface{}{"id": 100, "number": 12, "title": "Login bug", "state": "closed"})
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)
	title, state := "Login bug", "closed"
	issue, err := client.CreateIssue(context.Background(), IssuePayload{Title: &title, State: &state})
	require.NoError(t, err)
	assert.Equal(t, []string{http.MethodPost, http.MethodPatch}, methods)
	assert.Equal(t, "closed", issue.State)
	assert.Equal(t, int64(100), issue.ID)
}

func TestGitHubClient_GetRateLimit(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Unix()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rate_limit", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"resources": map[string]interface{}{
				"core": map[string]interface{}{"limit": 5000, "remaining": 4990, "reset": reset},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)
	snapshot, err := client.GetRateLimit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4990, snapshot.Remaining)
	assert.Equal(t, 10, snapshot.Used)
	assert.Equal(t, reset, snapshot.ResetEpoch)
	assert.Equal(t, 4990, client.RateLimiter().Snapshot().Remaining)
}

func TestGitHubClient_CommentsAndLabels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/owner/repo/issues/5/comments":
			writeJSON(w, http.StatusOK, []map[string]interface{}{
				{"id": 11, "body": "hello", "user": map[string]string{"login": "octocat"}},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/repos/owner/repo/issues/5/comments":
			writeJSON(w, http.StatusCreated, map[string]interface{}{"id": 12, "body": "reply"})
		case r.Method == http.MethodGet && r.URL.Path == "/repos/owner/repo/labels":
			writeJSON(w, http.StatusOK, []map[string]interface{}{{"id": 1, "name": "bug", "color": "ff0000"}})
		case r.Method == http.MethodPost && r.URL.Path == "/repos/owner/repo/labels":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "00ff00", body["color"])
			writeJSON(w, http.StatusCreated, map[string]interface{}{"id": 2, "name": body["name"], "color": body["color"]})
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)
	ctx := context.Background()

	comments, err := client.ListComments(ctx, 5)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "octocat", comments[0].Author)

	created, err := client.CreateComment(ctx, 5, "reply")
	require.NoError(t, err)
	assert.Equal(t, int64(12), created.ID)

	labels, err := client.ListLabels(ctx)
	require.NoError(t, err)
	require.Len(t, labels, 1)

	label, err := client.CreateLabel(ctx, RemoteLabel{Name: "feature", Color: "#00FF00"})
	require.NoError(t, err)
	assert.Equal(t, "feature", label.Name)
}
