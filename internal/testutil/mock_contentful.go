// Package testutil provides testing utilities for the Contentful cache.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock Contentful endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockContentful is a configurable mock Content Delivery API server.
type MockContentful struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount int
	Requests     []*url.URL
	LastHeader   http.Header
}

// NewMockContentful creates a new mock Content Delivery API server.
func NewMockContentful() *MockContentful {
	mock := &MockContentful{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		u := *r.URL
		mock.Requests = append(mock.Requests, &u)
		mock.LastHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockContentful) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockContentful) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockContentful) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.Requests = nil
	m.LastHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockContentful) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockContentful) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockContentful) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// LastRequest returns the URL of the most recent request.
func (m *MockContentful) LastRequest() *url.URL {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.Requests) == 0 {
		return nil
	}
	return m.Requests[len(m.Requests)-1]
}

// defaultHandler answers every unknown path with a Contentful style 404.
func (m *MockContentful) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.contentful.delivery.v1+json")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"sys": {"type": "Error", "id": "NotFound"}, "message": "The resource could not be found."}`))
}

// EnvPath returns the API path of a resource inside a space environment.
func EnvPath(spaceID, environment, suffix string) string {
	return fmt.Sprintf("/spaces/%s/environments/%s%s", spaceID, environment, suffix)
}

// NewJSONResponse creates a standard 200 OK JSON response.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/vnd.contentful.delivery.v1+json",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"sys": {"type": "Error", "id": "RateLimitExceeded"}}`,
		Headers: map[string]string{
			"X-Contentful-RateLimit-Reset": "1",
			"Content-Type":                 "application/vnd.contentful.delivery.v1+json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"sys": {"type": "Error", "id": "ServerError"}}`,
		Headers: map[string]string{
			"Content-Type": "application/vnd.contentful.delivery.v1+json",
		},
	}
}
