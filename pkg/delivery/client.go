package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DeliveryBaseURL is the Content Delivery API host.
	DeliveryBaseURL = "https://cdn.contentful.com"

	// PreviewBaseURL is the Content Preview API host.
	PreviewBaseURL = "https://preview.contentful.com"
)

// Config holds the client configuration.
type Config struct {
	SpaceID     string
	AccessToken string
	Environment string

	// BaseURL overrides the API host (tests, proxies). Defaults to the
	// delivery or preview host depending on Preview.
	BaseURL string

	// UserAgent sent with every request.
	UserAgent string

	// Locale used to pick values out of localized payloads (webhooks, sync).
	Locale string

	// Preview selects the Content Preview API.
	Preview bool

	// Timeout per HTTP request.
	Timeout time.Duration
}

// DefaultConfig returns a configuration for the master environment of a space.
func DefaultConfig(spaceID, accessToken string) Config {
	return Config{
		SpaceID:     spaceID,
		AccessToken: accessToken,
		Environment: "master",
		UserAgent:   "contentful-cache/0.1.0",
		Locale:      "en-US",
		Timeout:     30 * time.Second,
	}
}

// RateLimiter gates outgoing requests and learns from responses.
// *ratelimit.Tracker implements it.
type RateLimiter interface {
	ShouldAllowRequest(ctx context.Context) (bool, time.Duration, error)
	UpdateFromResponse(ctx context.Context, status int, headers http.Header) error
}

// Client talks to the Content Delivery API. It keeps fetched content types in
// memory for the lifetime of the process.
type Client struct {
	httpClient *http.Client
	config     Config
	baseURL    string
	logger     zerolog.Logger
	limiter    RateLimiter

	mu           sync.RWMutex
	contentTypes map[string]*ContentType
}

// New creates a new Content Delivery API client.
func New(cfg Config) (*Client, error) {
	if cfg.SpaceID == "" {
		return nil, fmt.Errorf("space id is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	if cfg.Environment == "" {
		cfg.Environment = "master"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DeliveryBaseURL
		if cfg.Preview {
			baseURL = PreviewBaseURL
		}
	}

	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		config:       cfg,
		baseURL:      baseURL,
		logger:       log.With().Str("component", "contentful-delivery").Logger(),
		contentTypes: make(map[string]*ContentType),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetRateLimiter installs a rate limiter consulted before every request.
func (c *Client) SetRateLimiter(limiter RateLimiter) {
	c.limiter = limiter
}

// IsPreview reports whether the client reads unpublished content.
func (c *Client) IsPreview() bool {
	return c.config.Preview
}

// GetEntries executes an entries query and resolves included links.
func (c *Client) GetEntries(ctx context.Context, q *Query) (*EntryCollection, error) {
	body, err := c.get(ctx, "entries", "/entries", q.Params())
	if err != nil {
		return nil, err
	}

	raw, err := decodeCollection(body)
	if err != nil {
		return nil, err
	}

	types, err := c.contentTypesFor(ctx, raw.contentTypeIDs())
	if err != nil {
		return nil, err
	}

	return buildCollection(raw, types, "")
}

// GetEntry fetches a single entry by id. Returns ErrNotFound if it does not exist.
func (c *Client) GetEntry(ctx context.Context, id string) (*Entry, error) {
	collection, err := c.GetEntries(ctx, NewQuery().Where("sys.id", id).SetLimit(1))
	if err != nil {
		return nil, err
	}
	if len(collection.Items) == 0 {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return collection.Items[0], nil
}

// GetContentType returns a content type, fetching it on first use.
func (c *Client) GetContentType(ctx context.Context, id string) (*ContentType, error) {
	c.mu.RLock()
	ct, ok := c.contentTypes[id]
	c.mu.RUnlock()
	if ok {
		return ct, nil
	}

	body, err := c.get(ctx, "content_types", "/content_types/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	ct, err = decodeContentType(body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.contentTypes[id] = ct
	c.mu.Unlock()

	return ct, nil
}

// ParseEntry revives a webhook payload into an entry, picking the configured
// locale out of the localized fields.
func (c *Client) ParseEntry(ctx context.Context, body []byte) (*Entry, error) {
	raw, err := decodeResource(body)
	if err != nil {
		return nil, err
	}

	var ids []string
	if raw.Sys.ContentType != nil {
		ids = append(ids, raw.Sys.ContentType.Sys.ID)
	}
	types, err := c.contentTypesFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	return buildEntry(raw, types, c.config.Locale)
}

// contentTypesFor loads every given content type. A content type that cannot
// be fetched is logged and left out; its entries fall back to the fields
// present in the payload.
func (c *Client) contentTypesFor(ctx context.Context, ids []string) (map[string]*ContentType, error) {
	types := make(map[string]*ContentType, len(ids))
	for _, id := range ids {
		ct, err := c.GetContentType(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn().Err(err).Str("content_type", id).Msg("Content type could not be loaded")
			continue
		}
		types[id] = ct
	}
	return types, nil
}

// get performs a GET request against the environment scoped API path.
func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	u := fmt.Sprintf("%s/spaces/%s/environments/%s%s",
		c.baseURL, url.PathEscape(c.config.SpaceID), url.PathEscape(c.config.Environment), path)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.do(ctx, endpoint, u)
}

// do executes a request and classifies failures.
func (c *Client) do(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if c.limiter != nil {
		allowed, wait, err := c.limiter.ShouldAllowRequest(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Rate limit state unavailable - sending request anyway")
		} else if !allowed {
			errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			requestsTotal.WithLabelValues(endpoint, "blocked").Inc()
			return nil, &APIError{
				StatusCode: http.StatusTooManyRequests,
				Class:      ErrorClassRateLimit,
				Message:    fmt.Sprintf("rate limited, retry in %s", wait),
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("url", req.URL.Path).
		Msg("Executing Contentful request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if c.limiter != nil {
		if err := c.limiter.UpdateFromResponse(ctx, resp.StatusCode, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit state")
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, Class: ErrorClassNetwork, Message: "read body", Err: err}
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Contentful request error")

		apiErr := &APIError{StatusCode: resp.StatusCode, Class: class, Message: resp.Status}
		if resp.StatusCode == http.StatusNotFound {
			apiErr.Err = ErrNotFound
		}
		return nil, apiErr
	}

	return body, nil
}
