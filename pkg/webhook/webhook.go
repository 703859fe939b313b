// Package webhook provides the HTTP handlers Contentful webhooks call to
// fill and reset the cache.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/contentful-cache/pkg/cache"
	"github.com/Sternrassler/contentful-cache/pkg/delivery"
	"github.com/Sternrassler/contentful-cache/pkg/parser"
	"github.com/Sternrassler/contentful-cache/pkg/reset"
)

const (
	// TopicHeader carries the webhook topic, e.g. ContentManagement.Entry.publish.
	TopicHeader = "X-Contentful-Topic"

	// RequestIDHeader is echoed back and used as the request id in logs.
	RequestIDHeader = "X-Request-ID"

	// maxBodySize limits webhook bodies.
	maxBodySize = 4 << 20
)

// allowedEvents are the topic events the fill hook accepts.
var allowedEvents = map[string]bool{
	"create":  true,
	"publish": true,
	"save":    true,
}

var webhooks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "contentful_webhooks_total",
	Help: "Webhook calls by hook and result",
}, []string{"hook", "result"}) // hook: "fill", "reset"; result: "ok", "rejected", "error"

// EntryDecoder revives webhook bodies into entries.
type EntryDecoder interface {
	ParseEntry(ctx context.Context, body []byte) (*delivery.Entry, error)
	IsPreview() bool
}

// EntrySaver writes entries to the entry cache.
type EntrySaver interface {
	SaveEntry(ctx context.Context, e *delivery.Entry, custom parser.Parser) (*cache.Item, error)
}

// Resetter invalidates cached data for a payload.
type Resetter interface {
	ResetEntryCache(ctx context.Context, p *reset.Payload) bool
}

// FillResponse is the body of a fill hook response.
type FillResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// FillHandler writes published entries into the cache.
type FillHandler struct {
	decoder EntryDecoder
	saver   EntrySaver
	logger  zerolog.Logger
}

// NewFillHandler creates the cache-fill hook.
func NewFillHandler(decoder EntryDecoder, saver EntrySaver, logger zerolog.Logger) *FillHandler {
	return &FillHandler{decoder: decoder, saver: saver, logger: logger}
}

// ServeHTTP answers every request with 200 and a FillResponse.
func (h *FillHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(h.logger, w, r)
	topic := r.Header.Get(TopicHeader)

	if !h.validTopic(topic) {
		webhooks.WithLabelValues("fill", "rejected").Inc()
		logger.Warn().Str("topic", topic).Msg("Ignoring webhook with unsupported topic")
		writeJSON(w, FillResponse{Success: false})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		webhooks.WithLabelValues("fill", "error").Inc()
		logger.Error().Err(err).Msg("Failed to read webhook body")
		writeJSON(w, FillResponse{Success: false, Message: err.Error()})
		return
	}

	entry, err := h.decoder.ParseEntry(r.Context(), body)
	if errors.Is(err, delivery.ErrNotAnEntry) {
		webhooks.WithLabelValues("fill", "rejected").Inc()
		logger.Warn().Str("topic", topic).Msg("Ignoring webhook for a non-entry resource")
		writeJSON(w, FillResponse{Success: false})
		return
	}
	if err != nil {
		webhooks.WithLabelValues("fill", "error").Inc()
		logger.Error().Err(err).Str("topic", topic).Msg("Error at processing webhook")
		writeJSON(w, FillResponse{Success: false, Message: err.Error()})
		return
	}

	if _, err := h.saver.SaveEntry(r.Context(), entry, nil); err != nil {
		webhooks.WithLabelValues("fill", "error").Inc()
		logger.Error().Err(err).Str("entry_id", entry.ID()).Msg("Error at processing webhook")
		writeJSON(w, FillResponse{Success: false, Message: err.Error()})
		return
	}

	webhooks.WithLabelValues("fill", "ok").Inc()
	logger.Info().
		Str("topic", topic).
		Str("entry_id", entry.ID()).
		Str("content_type", entry.ContentTypeID()).
		Msg("Filled cache from webhook")
	writeJSON(w, FillResponse{Success: true})
}

// validTopic accepts create, publish and save events. Outside preview only
// publish is accepted.
func (h *FillHandler) validTopic(topic string) bool {
	if topic == "" {
		return false
	}
	event := topic[strings.LastIndexByte(topic, '.')+1:]
	if !allowedEvents[event] {
		return false
	}
	return h.decoder.IsPreview() || event == "publish"
}

// ResetHandler invalidates the cache for changed or deleted entries. It
// answers with a JSON boolean.
type ResetHandler struct {
	resetter Resetter
	logger   zerolog.Logger
}

// NewResetHandler creates the cache-reset hook.
func NewResetHandler(resetter Resetter, logger zerolog.Logger) *ResetHandler {
	return &ResetHandler{resetter: resetter, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *ResetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(h.logger, w, r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		webhooks.WithLabelValues("reset", "error").Inc()
		logger.Error().Err(err).Msg("Failed to read webhook body")
		writeJSON(w, false)
		return
	}

	payload, err := reset.DecodePayload(body)
	if err != nil {
		webhooks.WithLabelValues("reset", "rejected").Inc()
		logger.Warn().Err(err).Msg("Ignoring malformed reset payload")
		writeJSON(w, false)
		return
	}

	ok := h.resetter.ResetEntryCache(r.Context(), payload)
	if ok {
		webhooks.WithLabelValues("reset", "ok").Inc()
	} else {
		webhooks.WithLabelValues("reset", "rejected").Inc()
	}
	writeJSON(w, ok)
}

// requestLogger tags the logger with the caller's request id, or a new one.
func requestLogger(base zerolog.Logger, w http.ResponseWriter, r *http.Request) zerolog.Logger {
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, id)
	return base.With().Str("request_id", id).Logger()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
