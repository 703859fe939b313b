package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/contentful-cache/internal/testutil"
	"github.com/Sternrassler/contentful-cache/pkg/cache"
	"github.com/Sternrassler/contentful-cache/pkg/config"
	"github.com/Sternrassler/contentful-cache/pkg/delivery"
	"github.com/Sternrassler/contentful-cache/pkg/parser"
	"github.com/Sternrassler/contentful-cache/pkg/reset"
	"github.com/Sternrassler/contentful-cache/pkg/tags"
)

const pagePayload = `{
	"sys": {
		"id": "page-1", "type": "Entry", "version": 3,
		"contentType": {"sys": {"type": "Link", "linkType": "ContentType", "id": "page"}}
	},
	"fields": {
		"title": {"en-US": "About"},
		"slug": {"en-US": "about"}
	}
}`

type stubDecoder struct {
	preview bool
	types   map[string]*delivery.ContentType
}

func (d stubDecoder) ParseEntry(ctx context.Context, body []byte) (*delivery.Entry, error) {
	return delivery.ParseEntry(body, d.types, "en-US")
}

func (d stubDecoder) IsPreview() bool {
	return d.preview
}

type failingSaver struct{}

func (failingSaver) SaveEntry(ctx context.Context, e *delivery.Entry, custom parser.Parser) (*cache.Item, error) {
	return &cache.Item{}, errors.New("store down")
}

func newFillHandler(preview bool) (*FillHandler, *cache.Pool) {
	routing := config.Routing{RoutableTypes: []string{"page"}, SlugField: "slug", ControllerField: "controller"}
	pool := cache.NewTaggablePool(cache.NewMemoryStore())
	manager := cache.NewManager(pool, tags.NewExtractor(routing, zerolog.Nop()), parser.NewSimple(zerolog.Nop()), 0, zerolog.Nop())

	decoder := stubDecoder{
		preview: preview,
		types:   map[string]*delivery.ContentType{"page": testutil.ContentType("page", "title", "slug")},
	}
	return NewFillHandler(decoder, manager, zerolog.Nop()), pool
}

func postFill(h http.Handler, topic, body string) (*httptest.ResponseRecorder, FillResponse) {
	req := httptest.NewRequest(http.MethodPost, "/_contentful/fill", strings.NewReader(body))
	if topic != "" {
		req.Header.Set(TopicHeader, topic)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp FillResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestFillHandler_Topics(t *testing.T) {
	tests := []struct {
		name    string
		preview bool
		topic   string
		want    bool
	}{
		{"publish", false, "ContentManagement.Entry.publish", true},
		{"save outside preview", false, "ContentManagement.Entry.save", false},
		{"create outside preview", false, "ContentManagement.Entry.create", false},
		{"save in preview", true, "ContentManagement.Entry.save", true},
		{"create in preview", true, "ContentManagement.Entry.create", true},
		{"unpublish", true, "ContentManagement.Entry.unpublish", false},
		{"delete", false, "ContentManagement.Entry.delete", false},
		{"missing topic", true, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, pool := newFillHandler(tt.preview)
			rec, resp := postFill(h, tt.topic, pagePayload)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
			if resp.Success != tt.want {
				t.Errorf("success = %v, want %v", resp.Success, tt.want)
			}

			key := cache.EntryKey(parser.NewSimple(zerolog.Nop()).Identity(), "page-1")
			has, _ := pool.Has(context.Background(), key)
			if has != tt.want {
				t.Errorf("entry cached = %v, want %v", has, tt.want)
			}
		})
	}
}

func TestFillHandler_CachesParsedEntry(t *testing.T) {
	h, pool := newFillHandler(false)
	postFill(h, "ContentManagement.Entry.publish", pagePayload)

	var parsed parser.Parsed
	key := cache.EntryKey(parser.NewSimple(zerolog.Nop()).Identity(), "page-1")
	if err := pool.Get(context.Background(), key, &parsed); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if parsed["title"] != "About" {
		t.Errorf("title = %v, want About", parsed["title"])
	}

	// Tagged with the entry id and its routing tag.
	if err := pool.InvalidateTags(context.Background(), tags.RoutingTag("about")); err != nil {
		t.Fatalf("InvalidateTags() error = %v", err)
	}
	if has, _ := pool.Has(context.Background(), key); has {
		t.Error("entry survived routing tag invalidation")
	}
}

func TestFillHandler_Failures(t *testing.T) {
	t.Run("asset payload", func(t *testing.T) {
		h, _ := newFillHandler(false)
		_, resp := postFill(h, "ContentManagement.Asset.publish", `{"sys": {"id": "a1", "type": "Asset"}}`)
		if resp.Success || resp.Message != "" {
			t.Errorf("response = %+v, want unsuccessful without message", resp)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		h, _ := newFillHandler(false)
		_, resp := postFill(h, "ContentManagement.Entry.publish", `{`)
		if resp.Success || resp.Message == "" {
			t.Errorf("response = %+v, want unsuccessful with message", resp)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		decoder := stubDecoder{types: map[string]*delivery.ContentType{"page": testutil.ContentType("page", "title", "slug")}}
		h := NewFillHandler(decoder, failingSaver{}, zerolog.Nop())
		_, resp := postFill(h, "ContentManagement.Entry.publish", pagePayload)
		if resp.Success || !strings.Contains(resp.Message, "store down") {
			t.Errorf("response = %+v, want store failure message", resp)
		}
	})
}

func TestFillHandler_RequestID(t *testing.T) {
	h, _ := newFillHandler(false)

	req := httptest.NewRequest(http.MethodPost, "/_contentful/fill", strings.NewReader(pagePayload))
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, want abc-123", got)
	}

	rec, _ = postFill(h, "ContentManagement.Entry.publish", pagePayload)
	if got := rec.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("generated request id = %q, want a uuid", got)
	}
}

type recordingResetter struct {
	payloads []*reset.Payload
	result   bool
}

func (r *recordingResetter) ResetEntryCache(ctx context.Context, p *reset.Payload) bool {
	r.payloads = append(r.payloads, p)
	return r.result
}

func TestResetHandler(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		result    bool
		want      string
		delegated bool
	}{
		{"processed", `{"sys": {"type": "Entry", "id": "X"}}`, true, "true", true},
		{"rejected by service", `{"sys": {"type": "Asset", "id": "X"}}`, false, "false", true},
		{"malformed", `not json`, true, "false", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetter := &recordingResetter{result: tt.result}
			h := NewResetHandler(resetter, zerolog.Nop())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_contentful/reset", strings.NewReader(tt.body)))

			if got := strings.TrimSpace(rec.Body.String()); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
			if delegated := len(resetter.payloads) == 1; delegated != tt.delegated {
				t.Errorf("delegated = %v, want %v", delegated, tt.delegated)
			}
		})
	}
}

func TestResetHandler_WithService(t *testing.T) {
	ctx := context.Background()
	pool := cache.NewTaggablePool(cache.NewMemoryStore())
	if err := pool.Save(ctx, tags.CollectionTag, "routes", 0, []string{tags.CollectionTag}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	svc := reset.NewService(pool, config.Routing{}, nil, false, zerolog.Nop())
	h := NewResetHandler(svc, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_contentful/reset",
		strings.NewReader(`{"sys": {"type": "DeletedEntry", "id": "X"}}`)))

	if got := strings.TrimSpace(rec.Body.String()); got != "true" {
		t.Errorf("body = %q, want true", got)
	}
	if has, _ := pool.Has(ctx, tags.CollectionTag); has {
		t.Error("route collection survived reset")
	}
}
