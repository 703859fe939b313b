// Package reset invalidates cached Contentful data when a webhook reports a
// changed or deleted entry.
package reset

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/contentful-cache/pkg/cache"
	"github.com/Sternrassler/contentful-cache/pkg/config"
	"github.com/Sternrassler/contentful-cache/pkg/tags"
)

// usableTypes are the payload types a reset is performed for, lower case.
var usableTypes = map[string]bool{
	"entry":        true,
	"deletedentry": true,
}

var resets = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "contentful_cache_resets_total",
	Help: "Cache resets triggered by webhooks by mode",
}, []string{"mode"}) // "complete", "selective", "rejected"

// Link is a link object inside a payload sys block.
type Link struct {
	Sys struct {
		ID string `json:"id"`
	} `json:"sys"`
}

// Sys is the system block of a webhook payload.
type Sys struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	ContentType *Link  `json:"contentType,omitempty"`
}

// Payload is a webhook body describing a changed or deleted entry. Fields
// are keyed by field id and then by locale.
type Payload struct {
	Sys    Sys                       `json:"sys"`
	Fields map[string]map[string]any `json:"fields,omitempty"`
}

// DecodePayload decodes a webhook body.
func DecodePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode reset payload: %w", err)
	}
	return &p, nil
}

// ContentTypeID returns the linked content type id, if any.
func (p *Payload) ContentTypeID() string {
	if p.Sys.ContentType == nil {
		return ""
	}
	return p.Sys.ContentType.Sys.ID
}

// Usable reports whether the payload describes an entry.
func (p *Payload) Usable() bool {
	return p != nil && usableTypes[strings.ToLower(p.Sys.Type)]
}

// localizedStrings returns the non-empty string values of a field across
// locales, ordered by locale.
func (p *Payload) localizedStrings(field string) []string {
	values := p.Fields[field]
	locales := make([]string, 0, len(values))
	for locale := range values {
		locales = append(locales, locale)
	}
	sort.Strings(locales)

	var out []string
	for _, locale := range locales {
		if s, ok := values[locale].(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Service resets cache entries for webhook payloads.
type Service struct {
	pool          *cache.Pool
	routing       config.Routing
	resetIDs      []string
	completeReset bool
	logger        zerolog.Logger
}

// NewService creates a reset service. resetIDs are deleted on every
// selective reset. With completeReset the whole store is cleared instead.
func NewService(pool *cache.Pool, routing config.Routing, resetIDs []string, completeReset bool, logger zerolog.Logger) *Service {
	if pool == nil {
		panic("reset: pool is required")
	}
	return &Service{
		pool:          pool,
		routing:       routing,
		resetIDs:      append([]string(nil), resetIDs...),
		completeReset: completeReset,
		logger:        logger,
	}
}

// ResetEntryCache invalidates everything cached for the payload's entry.
// It returns false, without touching the cache, for payloads that do not
// describe an entry. Store failures are logged; the reset still counts as
// processed.
func (s *Service) ResetEntryCache(ctx context.Context, p *Payload) bool {
	if !p.Usable() {
		resets.WithLabelValues("rejected").Inc()
		ev := s.logger.Warn()
		if p != nil {
			ev = ev.Str("type", p.Sys.Type).Str("entry_id", p.Sys.ID)
		}
		ev.Msg("Did not receive an entry for which a cache could be reset")
		return false
	}

	entryID := p.Sys.ID
	logger := s.logger.With().Str("entry_id", entryID).Str("type", p.Sys.Type).Logger()

	if s.completeReset {
		if err := s.pool.Clear(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to clear cache")
		}
		resets.WithLabelValues("complete").Inc()
		logger.Info().Bool("complete", true).Msg("Reset the contentful cache")
		return true
	}

	directMatch := false
	if entryID != "" {
		has, err := s.pool.Has(ctx, entryID)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to check direct cache entry")
		}
		if has {
			directMatch = true
			if err := s.pool.Delete(ctx, entryID); err != nil {
				logger.Warn().Err(err).Msg("Failed to delete direct cache entry")
			}
		}
	}

	if len(s.resetIDs) > 0 {
		if err := s.pool.Delete(ctx, s.resetIDs...); err != nil {
			logger.Warn().Err(err).Strs("reset_ids", s.resetIDs).Msg("Failed to delete reset ids")
		}
	}

	invalidate := s.tagsFor(p)
	if s.pool.Taggable() {
		if err := s.pool.InvalidateTags(ctx, invalidate...); err != nil {
			logger.Warn().Err(err).Strs("tags", invalidate).Msg("Failed to invalidate tags")
		}
	}

	resets.WithLabelValues("selective").Inc()
	logger.Info().
		Bool("complete", false).
		Bool("direct_match", directMatch).
		Strs("reset_ids", s.resetIDs).
		Strs("tags", invalidate).
		Bool("tags_usable", s.pool.Taggable()).
		Msg("Reset the contentful cache")
	return true
}

// tagsFor returns the collection marker, the entry id and, for routable
// entries, one routing tag per localized slug.
func (s *Service) tagsFor(p *Payload) []string {
	out := []string{tags.CollectionTag}
	if p.Sys.ID != "" {
		out = append(out, p.Sys.ID)
	}
	if s.routing.SlugField == "" || !s.routing.IsRoutable(p.ContentTypeID()) {
		return out
	}

	seen := map[string]bool{}
	for _, slug := range p.localizedStrings(s.routing.SlugField) {
		tag := tags.RoutingTag(slug)
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}
