// Package testutil provides a mock GitHub API server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockGitHub is a configurable mock GitHub server serving both the REST
// API and the GraphQL endpoint.
type MockGitHub struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	requestCount int
	lastHeader   http.Header
	tokens       map[string]int
}

// NewMockGitHub starts a new mock server.
func NewMockGitHub() *MockGitHub {
	mock := &MockGitHub{
		handlers: make(map[string]http.HandlerFunc),
		tokens:   make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.lastHeader = r.Header.Clone()
		mock.tokens[r.Header.Get("Authorization")]++
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		WriteResponse(w, NewNotFoundResponse())
	}))

	return mock
}

// URL returns the mock server URL with a trailing slash, usable as a
// go-github base URL.
func (m *MockGitHub) URL() string {
	return m.server.URL + "/"
}

// GraphQLURL returns the GraphQL endpoint of the mock server.
func (m *MockGitHub) GraphQLURL() string {
	return m.server.URL + "/graphql"
}

// Close shuts down the mock server.
func (m *MockGitHub) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockGitHub) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.lastHeader = nil
	m.tokens = make(map[string]int)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockGitHub) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockGitHub) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		WriteResponse(w, resp)
	})
}

// SetCommitsResponse configures the commit listing of a repository.
func (m *MockGitHub) SetCommitsResponse(repo string, resp MockResponse) {
	m.SetResponse(fmt.Sprintf("/repos/%s/commits", repo), resp)
}

// SetGraphQLHandler configures the GraphQL endpoint.
func (m *MockGitHub) SetGraphQLHandler(handler http.HandlerFunc) {
	m.SetHandler("/graphql", handler)
}

// RequestCount returns the number of requests made to the server.
func (m *MockGitHub) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockGitHub) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// TokenCount returns how many requests carried the given Authorization value.
func (m *MockGitHub) TokenCount(authorization string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens[authorization]
}

// WriteResponse writes resp to w.
func WriteResponse(w http.ResponseWriter, resp MockResponse) {
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// RateHeaders returns GitHub quota headers.
func RateHeaders(remaining int, reset time.Time) map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     "5000",
		"X-RateLimit-Remaining": strconv.Itoa(remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(reset.Unix(), 10),
		"Content-Type":          "application/json; charset=utf-8",
	}
}

// NewJSONResponse creates a 200 OK response with quota headers.
func NewJSONResponse(body any, remaining int) MockResponse {
	data, _ := json.Marshal(body)
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(data),
		Headers:    RateHeaders(remaining, time.Now().Add(time.Hour)),
	}
}

// NewCommitsResponse creates a commit listing with one commit per author
// login. An empty login produces a commit without a linked account.
func NewCommitsResponse(logins ...string) MockResponse {
	commits := make([]map[string]any, 0, len(logins))
	for i, login := range logins {
		commit := map[string]any{"sha": fmt.Sprintf("%040d", i)}
		if login != "" {
			commit["author"] = map[string]any{"login": login}
		} else {
			commit["author"] = nil
		}
		commits = append(commits, commit)
	}
	return NewJSONResponse(commits, 4999)
}

// NewContributionsResponse creates a GraphQL response listing the given
// repositories.
func NewContributionsResponse(repos ...string) MockResponse {
	byRepo := make([]map[string]any, 0, len(repos))
	for _, repo := range repos {
		byRepo = append(byRepo, map[string]any{
			"repository": map[string]any{"nameWithOwner": repo},
		})
	}
	return NewJSONResponse(map[string]any{
		"data": map[string]any{
			"user": map[string]any{
				"contributionsCollection": map[string]any{
					"commitContributionsByRepository": byRepo,
				},
			},
		},
	}, 4999)
}

// NewAccessibilityResponse creates the answer to a batch of repository
// aliases r0, r1, ...: found[i] reports whether alias ri resolves. Missing
// repositories come back null with a NOT_FOUND error, as GitHub does.
func NewAccessibilityResponse(found ...bool) MockResponse {
	data := make(map[string]any, len(found))
	var errs []map[string]any
	for i, ok := range found {
		alias := fmt.Sprintf("r%d", i)
		if ok {
			data[alias] = map[string]any{"id": fmt.Sprintf("R_%d", i)}
			continue
		}
		data[alias] = nil
		errs = append(errs, map[string]any{
			"type":    "NOT_FOUND",
			"path":    []string{alias},
			"message": "Could not resolve to a Repository with the name '" + alias + "'.",
		})
	}
	body := map[string]any{"data": data}
	if len(errs) > 0 {
		body["errors"] = errs
	}
	return NewJSONResponse(body, 4999)
}

// NewGraphQLErrorResponse creates a GraphQL response carrying one error.
func NewGraphQLErrorResponse(errType, message string) MockResponse {
	return NewJSONResponse(map[string]any{
		"data":   map[string]any{"user": nil},
		"errors": []map[string]any{{"type": errType, "message": message}},
	}, 4999)
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"message": "Not Found"}`,
		Headers:    RateHeaders(4999, time.Now().Add(time.Hour)),
	}
}

// NewRateLimitResponse creates a 403 response for an exhausted token.
func NewRateLimitResponse(reset time.Time) MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message": "API rate limit exceeded"}`,
		Headers:    RateHeaders(0, reset),
	}
}

// NewServerErrorResponse creates a 502 Bad Gateway response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadGateway,
		Body:       `{"message": "Server Error"}`,
		Headers:    RateHeaders(4998, time.Now().Add(time.Hour)),
	}
}

// NewEmptyRepositoryResponse creates the 409 GitHub returns for commits of
// an empty repository.
func NewEmptyRepositoryResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusConflict,
		Body:       `{"message": "Git Repository is empty."}`,
		Headers:    RateHeaders(4999, time.Now().Add(time.Hour)),
	}
}
