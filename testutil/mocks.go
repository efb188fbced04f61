package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// MockTikTokServer creates a test server that mocks the TikTok web, webcast
// and signing endpoints. All hosts are routed here by a RewriteTransport.
type MockTikTokServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	hits  map[string]int
	total atomic.Int64
}

// NewMockTikTokServer creates a new mock TikTok server.
func NewMockTikTokServer(t *testing.T) *MockTikTokServer {
	t.Helper()
	m := &MockTikTokServer{
		Handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.total.Add(1)
		m.mu.Lock()
		m.hits[key]++
		m.mu.Unlock()
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Hits returns how many requests were made for path.
func (m *MockTikTokServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

// TotalHits returns the number of requests served.
func (m *MockTikTokServer) TotalHits() int { return int(m.total.Load()) }

// Transport returns a RoundTripper that sends every request to this server.
func (m *MockTikTokServer) Transport() http.RoundTripper {
	return &RewriteTransport{Transport: http.DefaultTransport, Host: m.URL}
}

// MockJSON serves body as JSON on path.
func (m *MockTikTokServer) MockJSON(path string, body interface{}) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
	}
}

// MockAlive serves the check_alive endpoint from a fixed room -> alive map.
func (m *MockTikTokServer) MockAlive(alive map[string]bool) {
	m.Handlers["/webcast/room/check_alive/"] = func(w http.ResponseWriter, r *http.Request) {
		var data []map[string]interface{}
		for _, id := range strings.Split(r.URL.Query().Get("room_ids"), ",") {
			if v, ok := alive[id]; ok {
				data = append(data, map[string]interface{}{"room_id": id, "alive": v})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data}) //nolint:errcheck // test mock response
	}
}

// RewriteTransport rewrites every request URL to point at Host.
type RewriteTransport struct {
	Transport http.RoundTripper
	Host      string
}

func (t *RewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if t.Host != "" {
		host := t.Host
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
