package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/contentful-cache/internal/testutil"
	"github.com/Sternrassler/contentful-cache/pkg/cache"
	"github.com/Sternrassler/contentful-cache/pkg/client"
	"github.com/Sternrassler/contentful-cache/pkg/config"
	"github.com/Sternrassler/contentful-cache/pkg/delivery"
	"github.com/Sternrassler/contentful-cache/pkg/parser"
	"github.com/Sternrassler/contentful-cache/pkg/tags"
)

type testEnv struct {
	matcher  *Matcher
	upstream *testutil.FakeUpstream
	pool     *cache.Pool
	routing  config.Routing
}

func newTestEnv(t *testing.T, routableTypes []string, entries ...*delivery.Entry) *testEnv {
	t.Helper()
	routing := config.Routing{RoutableTypes: routableTypes, SlugField: "slug", ControllerField: "controller"}
	return newTestEnvWithPool(t, routing, cache.NewTaggablePool(cache.NewMemoryStore()), entries...)
}

func newTestEnvWithPool(t *testing.T, routing config.Routing, pool *cache.Pool, entries ...*delivery.Entry) *testEnv {
	t.Helper()

	extractor := tags.NewExtractor(routing, zerolog.Nop())
	manager := cache.NewManager(pool, extractor, parser.NewSimple(zerolog.Nop()), 0, zerolog.Nop())
	upstream := testutil.NewFakeUpstream(entries...)

	c, err := client.New(client.Config{Upstream: upstream, Cache: manager})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	c.SetLogger(zerolog.Nop())

	m := NewMatcher(c, pool, extractor, Config{Routing: routing, IncludeLevel: 2}, zerolog.Nop())
	return &testEnv{matcher: m, upstream: upstream, pool: pool, routing: routing}
}

func aboutPage() *delivery.Entry {
	page := testutil.ContentType("page", "title", "slug", "controller")
	return testutil.Entry(page, "about1", map[string]delivery.Value{
		"title":      testutil.Str("About us"),
		"slug":       testutil.Str("about"),
		"controller": testutil.Str("AboutController"),
	})
}

func TestMatcher_Match(t *testing.T) {
	env := newTestEnv(t, []string{"page"}, aboutPage())
	ctx := context.Background()

	match, err := env.matcher.Match(ctx, "/about", false)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if match.Controller != "AboutController" {
		t.Errorf("Controller = %q, want AboutController", match.Controller)
	}
	if match.Route != "contentful_page_about1" {
		t.Errorf("Route = %q, want contentful_page_about1", match.Route)
	}
	if match.Data["title"] != "About us" {
		t.Errorf("Data[title] = %v, want About us", match.Data["title"])
	}

	queries := env.upstream.Queries()
	if len(queries) != 1 {
		t.Fatalf("upstream calls = %d, want 1", len(queries))
	}
	params := queries[0].Params()
	if got := params.Get("fields.slug[in]"); got != "/about,about" {
		t.Errorf("fields.slug[in] = %q, want /about,about", got)
	}
	if got := params.Get("limit"); got != "1" {
		t.Errorf("limit = %q, want 1", got)
	}
	if got := params.Get("include"); got != "2" {
		t.Errorf("include = %q, want 2", got)
	}
}

func TestMatcher_MatchIsCached(t *testing.T) {
	env := newTestEnv(t, []string{"page"}, aboutPage())
	ctx := context.Background()

	if _, err := env.matcher.Match(ctx, "/about", false); err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	match, err := env.matcher.Match(ctx, "/about?utm=1", false)
	if err != nil {
		t.Fatalf("second Match() error = %v", err)
	}
	if match.Controller != "AboutController" {
		t.Errorf("cached Controller = %q", match.Controller)
	}
	if calls := env.upstream.Calls(); calls != 1 {
		t.Errorf("upstream calls = %d, want 1", calls)
	}

	has, err := env.pool.Has(ctx, tags.RoutingTag("/about"))
	if err != nil || !has {
		t.Errorf("per-path key missing: has=%v err=%v", has, err)
	}
}

func TestMatcher_Bypass(t *testing.T) {
	env := newTestEnv(t, []string{"page"}, aboutPage())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := env.matcher.Match(ctx, "/about", true); err != nil {
			t.Fatalf("Match() error = %v", err)
		}
	}
	if calls := env.upstream.Calls(); calls != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
	has, _ := env.pool.Has(ctx, tags.RoutingTag("/about"))
	if has {
		t.Error("bypassed match was cached")
	}
}

func TestMatcher_InvalidatedBySlugTag(t *testing.T) {
	env := newTestEnv(t, []string{"page"}, aboutPage())
	ctx := context.Background()

	if _, err := env.matcher.Match(ctx, "/about", false); err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if err := env.pool.InvalidateTags(ctx, tags.RoutingTag("about")); err != nil {
		t.Fatalf("InvalidateTags() error = %v", err)
	}
	if _, err := env.matcher.Match(ctx, "/about", false); err != nil {
		t.Fatalf("Match() after invalidation error = %v", err)
	}
	if calls := env.upstream.Calls(); calls != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
}

func TestMatcher_NotFound(t *testing.T) {
	env := newTestEnv(t, []string{"page"}, aboutPage())
	ctx := context.Background()

	tests := []struct {
		name string
		path string
	}{
		{"root", "/"},
		{"empty", ""},
		{"unknown slug", "/contact"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.matcher.Match(ctx, tt.path, false)
			if !errors.Is(err, ErrResourceNotFound) {
				t.Errorf("Match(%q) error = %v, want ErrResourceNotFound", tt.path, err)
			}
		})
	}

	// Misses are not cached.
	has, _ := env.pool.Has(ctx, tags.RoutingTag("/contact"))
	if has {
		t.Error("miss was cached")
	}
}

func TestMatcher_FirstRoutableTypeWins(t *testing.T) {
	landing := testutil.ContentType("landing", "slug", "controller")
	page := testutil.ContentType("page", "slug", "controller")
	env := newTestEnv(t, []string{"landing", "page"},
		testutil.Entry(page, "p1", map[string]delivery.Value{"slug": testutil.Str("/promo"), "controller": testutil.Str("PageController")}),
		testutil.Entry(landing, "l1", map[string]delivery.Value{"slug": testutil.Str("/promo"), "controller": testutil.Str("LandingController")}),
	)

	match, err := env.matcher.Match(context.Background(), "/promo", false)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if match.Route != "contentful_landing_l1" {
		t.Errorf("Route = %q, want contentful_landing_l1", match.Route)
	}
}

func TestMatcher_FailingTypeIsSkipped(t *testing.T) {
	page := testutil.ContentType("page", "slug", "controller")
	env := newTestEnv(t, []string{"broken", "page"},
		testutil.Entry(page, "p1", map[string]delivery.Value{"slug": testutil.Str("/foo"), "controller": testutil.Str("PageController")}),
	)
	env.upstream.ContentTypeErrs["broken"] = delivery.ErrNotFound

	match, err := env.matcher.Match(context.Background(), "/foo", false)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if match.Controller != "PageController" {
		t.Errorf("Controller = %q, want PageController", match.Controller)
	}
}

func TestMatcher_MissingController(t *testing.T) {
	page := testutil.ContentType("page", "slug", "controller")
	env := newTestEnv(t, []string{"page"},
		testutil.Entry(page, "p1", map[string]delivery.Value{"slug": testutil.Str("/plain")}),
	)

	_, err := env.matcher.Match(context.Background(), "/plain", false)
	if !errors.Is(err, ErrMissingController) {
		t.Errorf("Match() error = %v, want ErrMissingController", err)
	}
}

func TestMatcher_MatchRequestBypassParameter(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"", false},
		{"?ignore-contentful-routing-cache=", false},
		{"?ignore-contentful-routing-cache=0", false},
		{"?ignore-contentful-routing-cache=false", false},
		{"?ignore-contentful-routing-cache=1", true},
		{"?ignore-contentful-routing-cache=true", true},
		{"?ignore-contentful-routing-cache=yes", true},
	}

	env := newTestEnv(t, []string{"page"})
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/about"+tt.query, nil)
			if got := env.matcher.bypassRequested(r); got != tt.want {
				t.Errorf("bypassRequested(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestMatcher_RouteCollection(t *testing.T) {
	b := testutil.ContentType("B", "slug")
	env := newTestEnv(t, []string{"A", "B"},
		testutil.Entry(b, "b1", map[string]delivery.Value{"slug": testutil.Str("foo")}),
		testutil.Entry(b, "b2", map[string]delivery.Value{}),
	)
	env.upstream.ContentTypeErrs["A"] = delivery.ErrNotFound
	ctx := context.Background()

	rc, err := env.matcher.RouteCollection(ctx)
	if err != nil {
		t.Fatalf("RouteCollection() error = %v", err)
	}
	if rc.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (%v)", rc.Len(), rc.Routes)
	}
	route, ok := rc.Get("contentful_B_b1")
	if !ok || route.Path != "/foo" {
		t.Errorf("Get(contentful_B_b1) = %+v, %v; want /foo", route, ok)
	}

	// Loaded once per matcher.
	calls := env.upstream.Calls()
	if _, err := env.matcher.RouteCollection(ctx); err != nil {
		t.Fatalf("RouteCollection() error = %v", err)
	}
	if env.upstream.Calls() != calls {
		t.Errorf("collection rebuilt: calls %d -> %d", calls, env.upstream.Calls())
	}

	has, _ := env.pool.Has(ctx, tags.CollectionTag)
	if !has {
		t.Error("route collection not cached")
	}
}

func TestMatcher_RouteCollectionRestoredFromCache(t *testing.T) {
	page := testutil.ContentType("page", "slug")
	routing := config.Routing{RoutableTypes: []string{"page"}, SlugField: "slug", ControllerField: "controller"}
	pool := cache.NewTaggablePool(cache.NewMemoryStore())

	first := newTestEnvWithPool(t, routing, pool,
		testutil.Entry(page, "p1", map[string]delivery.Value{"slug": testutil.Str("/one")}),
	)
	if _, err := first.matcher.RouteCollection(context.Background()); err != nil {
		t.Fatalf("RouteCollection() error = %v", err)
	}

	second := newTestEnvWithPool(t, routing, pool)
	path, err := second.matcher.Generate(context.Background(), "contentful_page_p1")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if path != "/one" {
		t.Errorf("Generate() = %q, want /one", path)
	}
	if calls := second.upstream.Calls(); calls != 0 {
		t.Errorf("upstream calls = %d, want 0", calls)
	}
}

func TestMatcher_Generate(t *testing.T) {
	page := testutil.ContentType("page", "slug")
	env := newTestEnv(t, []string{"page"},
		testutil.Entry(page, "p1", map[string]delivery.Value{"slug": testutil.Str("/one")}),
	)
	ctx := context.Background()

	path, err := env.matcher.Generate(ctx, "contentful_page_p1")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if path != "/one" {
		t.Errorf("Generate() = %q, want /one", path)
	}

	if _, err := env.matcher.Generate(ctx, "contentful_page_nope"); !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("Generate(unknown) error = %v, want ErrRouteNotFound", err)
	}
}

func TestMatcher_Handler(t *testing.T) {
	env := newTestEnv(t, []string{"page"}, aboutPage())
	h := env.matcher.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/about", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Controller string         `json:"_controller"`
		Route      string         `json:"_route"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Controller != "AboutController" || body.Route != "contentful_page_about1" {
		t.Errorf("body = %+v", body)
	}
	if body.Data["slug"] != "about" {
		t.Errorf("data.slug = %v, want about", body.Data["slug"])
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRouteCollection_AddReplaces(t *testing.T) {
	var rc RouteCollection
	rc.Add("a", "/a")
	rc.Add("b", "/b")
	rc.Add("a", "/a2")

	if rc.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", rc.Len())
	}
	if rc.Routes[0].Path != "/a2" {
		t.Errorf("Routes[0].Path = %q, want /a2", rc.Routes[0].Path)
	}
}

func TestRouteCollection_Index(t *testing.T) {
	tests := []struct {
		name    string
		start   RouteCollection
		adds    [][2]string
		wantLen int
		want    map[string]string
	}{
		{
			name:    "many routes",
			adds:    manyRoutes(5000),
			wantLen: 5000,
			want:    map[string]string{"route-0": "/0", "route-4999": "/4999"},
		},
		{
			name:    "restored without index",
			start:   RouteCollection{Routes: []Route{{Name: "a", Path: "/a"}, {Name: "b", Path: "/b"}}},
			adds:    [][2]string{{"a", "/a2"}, {"c", "/c"}},
			wantLen: 3,
			want:    map[string]string{"a": "/a2", "b": "/b", "c": "/c"},
		},
		{
			name:    "restored with duplicates",
			start:   RouteCollection{Routes: []Route{{Name: "a", Path: "/a"}, {Name: "a", Path: "/a2"}}},
			adds:    [][2]string{{"b", "/b"}},
			wantLen: 2,
			want:    map[string]string{"a": "/a2", "b": "/b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := tt.start
			for _, add := range tt.adds {
				rc.Add(add[0], add[1])
			}

			if rc.Len() != tt.wantLen {
				t.Fatalf("Len() = %d, want %d", rc.Len(), tt.wantLen)
			}
			for name, path := range tt.want {
				r, ok := rc.Get(name)
				if !ok {
					t.Errorf("Get(%q) not found", name)
					continue
				}
				if r.Path != path {
					t.Errorf("Get(%q).Path = %q, want %q", name, r.Path, path)
				}
			}
			if _, ok := rc.Get("missing"); ok {
				t.Error("Get(missing) found a route")
			}
		})
	}
}

func manyRoutes(n int) [][2]string {
	adds := make([][2]string, 0, n*2)
	for i := 0; i < n; i++ {
		adds = append(adds, [2]string{fmt.Sprintf("route-%d", i), fmt.Sprintf("/%d", i)})
	}
	// Re-adding every route must not grow the collection.
	for i := 0; i < n; i++ {
		adds = append(adds, [2]string{fmt.Sprintf("route-%d", i), fmt.Sprintf("/%d", i)})
	}
	return adds
}
