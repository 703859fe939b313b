package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/contentful-cache/internal/testutil"
	"github.com/Sternrassler/contentful-cache/pkg/cache"
	"github.com/Sternrassler/contentful-cache/pkg/config"
	"github.com/Sternrassler/contentful-cache/pkg/delivery"
	"github.com/Sternrassler/contentful-cache/pkg/metrics"
)

type unavailableStore struct {
	*cache.MemoryStore
}

func (unavailableStore) Has(ctx context.Context, key string) (bool, error) {
	return false, errors.New("connection refused")
}

type testDecoder struct {
	types map[string]*delivery.ContentType
}

func (d testDecoder) ParseEntry(ctx context.Context, body []byte) (*delivery.Entry, error) {
	return delivery.ParseEntry(body, d.types, "en-US")
}

func (d testDecoder) IsPreview() bool {
	return false
}

func newTestApp(t *testing.T) (*app, *testutil.FakeUpstream) {
	t.Helper()

	cfg := config.Default()
	cfg.RoutableTypes = []string{"page"}
	cfg.Caching.Store = config.StoreMemory

	page := testutil.ContentType("page", "title", "slug", "controller")
	upstream := testutil.NewFakeUpstream(
		testutil.Entry(page, "about1", map[string]delivery.Value{
			"title":      testutil.Str("About us"),
			"slug":       testutil.Str("about"),
			"controller": testutil.Str("AboutController"),
		}),
	)
	decoder := testDecoder{types: map[string]*delivery.ContentType{"page": page}}

	a, err := newApp(&cfg, cache.NewTaggablePool(cache.NewMemoryStore()), upstream, decoder, nil)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	return a, upstream
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		handler := readyHandler(cache.NewTaggablePool(cache.NewMemoryStore()))

		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})

	t.Run("not_ready_store_down", func(t *testing.T) {
		handler := readyHandler(cache.NewTaggablePool(unavailableStore{cache.NewMemoryStore()}))

		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", w.Code)
		}
	})
}

func TestRoutes_MatchAndReset(t *testing.T) {
	a, upstream := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/about")
	if err != nil {
		t.Fatalf("GET /about: %v", err)
	}
	var match struct {
		Controller string `json:"_controller"`
		Route      string `json:"_route"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&match); err != nil {
		t.Fatalf("decode match: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if match.Controller != "AboutController" || match.Route != "contentful_page_about1" {
		t.Errorf("match = %+v", match)
	}

	resp, err = http.Get(srv.URL + "/nowhere")
	if err != nil {
		t.Fatalf("GET /nowhere: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	// A reset webhook for the entry drops the cached match.
	calls := upstream.Calls()
	resp, err = http.Post(srv.URL+"/_contentful/reset", "application/json",
		strings.NewReader(`{"sys": {"type": "Entry", "id": "about1", "contentType": {"sys": {"id": "page"}}}, "fields": {"slug": {"en-US": "about"}}}`))
	if err != nil {
		t.Fatalf("POST reset: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if strings.TrimSpace(string(body)) != "true" {
		t.Errorf("reset body = %q, want true", body)
	}

	resp, err = http.Get(srv.URL + "/about")
	if err != nil {
		t.Fatalf("GET /about: %v", err)
	}
	resp.Body.Close()
	if upstream.Calls() != calls+1 {
		t.Errorf("upstream calls = %d, want %d after reset", upstream.Calls(), calls+1)
	}
}

func TestRoutes_Fill(t *testing.T) {
	a, _ := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/_contentful/fill", strings.NewReader(`{
		"sys": {"id": "p9", "type": "Entry", "contentType": {"sys": {"type": "Link", "linkType": "ContentType", "id": "page"}}},
		"fields": {"title": {"en-US": "Fresh"}}
	}`))
	req.Header.Set("X-Contentful-Topic", "ContentManagement.Entry.publish")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST fill: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode fill response: %v", err)
	}
	if !body.Success {
		t.Error("fill webhook reported failure")
	}

	if got := a.manager.GetEntries(context.Background(), []string{"p9"}, nil); got["p9"]["title"] != "Fresh" {
		t.Errorf("cached entry = %v", got["p9"])
	}
}

func TestRoutes_RouteCollection(t *testing.T) {
	a, _ := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/_contentful/routes")
	if err != nil {
		t.Fatalf("GET routes: %v", err)
	}
	defer resp.Body.Close()

	var rc struct {
		Routes []struct {
			Name string `json:"name"`
			Path string `json:"path"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rc); err != nil {
		t.Fatalf("decode routes: %v", err)
	}
	if len(rc.Routes) != 1 || rc.Routes[0].Path != "/about" {
		t.Errorf("routes = %+v, want one route to /about", rc.Routes)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a, _ := newTestApp(t)
	if _, err := a.matcher.Match(context.Background(), "/about", false); err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler := metrics.Handler()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)

	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}

	for _, name := range []string{"contentful_route_matches_total", "contentful_cache_misses_total", "contentful_route_collection_size"} {
		if !strings.Contains(bodyStr, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		b, err := openBackend(ctx, config.Caching{Store: config.StoreMemory})
		if err != nil {
			t.Fatalf("openBackend() error = %v", err)
		}
		defer b.Close()
		if !b.pool.Taggable() {
			t.Error("memory pool should be taggable")
		}
		if b.redis != nil {
			t.Error("memory backend should not carry a redis client")
		}
	})

	t.Run("leveldb", func(t *testing.T) {
		b, err := openBackend(ctx, config.Caching{
			Store:       config.StoreLevelDB,
			LevelDBPath: filepath.Join(t.TempDir(), "cache"),
		})
		if err != nil {
			t.Fatalf("openBackend() error = %v", err)
		}
		defer b.Close()
		if b.pool.Taggable() {
			t.Error("leveldb pool should not be taggable")
		}
		if b.pool.Layer() != "leveldb" {
			t.Errorf("Layer() = %q, want leveldb", b.pool.Layer())
		}
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := openBackend(ctx, config.Caching{Store: "memcached"})
		if !errors.Is(err, config.ErrUnknownStore) {
			t.Errorf("openBackend() error = %v, want ErrUnknownStore", err)
		}
	})
}

func TestRedisOptions(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantAddr string
		wantDB   int
		wantPass string
		wantTLS  bool
		wantErr  bool
	}{
		{name: "host and port", raw: "localhost:6379", wantAddr: "localhost:6379"},
		{name: "url", raw: "redis://cache.internal:6380", wantAddr: "cache.internal:6380"},
		{name: "url with db and password", raw: "redis://:secret@cache.internal:6379/2", wantAddr: "cache.internal:6379", wantDB: 2, wantPass: "secret"},
		{name: "tls url", raw: "rediss://cache.internal:6379", wantAddr: "cache.internal:6379", wantTLS: true},
		{name: "unknown scheme", raw: "http://cache.internal:6379", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := redisOptions(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("redisOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if opts.Addr != tt.wantAddr {
				t.Errorf("Addr = %q, want %q", opts.Addr, tt.wantAddr)
			}
			if opts.DB != tt.wantDB {
				t.Errorf("DB = %d, want %d", opts.DB, tt.wantDB)
			}
			if opts.Password != tt.wantPass {
				t.Errorf("Password = %q, want %q", opts.Password, tt.wantPass)
			}
			if (opts.TLSConfig != nil) != tt.wantTLS {
				t.Errorf("TLSConfig set = %v, want %v", opts.TLSConfig != nil, tt.wantTLS)
			}
		})
	}
}

func TestRunInBackground(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ctx context.Context, finished *atomic.Bool)
	}{
		{
			name: "waits for cancelled work",
			fn: func(ctx context.Context, finished *atomic.Bool) {
				<-ctx.Done()
				time.Sleep(20 * time.Millisecond)
				finished.Store(true)
			},
		},
		{
			name: "work already done",
			fn: func(ctx context.Context, finished *atomic.Bool) {
				finished.Store(true)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var finished atomic.Bool
			stop := runInBackground(context.Background(), func(ctx context.Context) {
				tt.fn(ctx, &finished)
			})
			stop()
			if !finished.Load() {
				t.Error("stop returned before the background work finished")
			}
		})
	}
}
