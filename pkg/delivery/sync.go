package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// EntryIterator is a forward-only sequence of entries.
type EntryIterator interface {
	// Next advances to the next entry, fetching the next page when needed.
	// It returns false when the sequence is exhausted or an error occurred.
	Next(ctx context.Context) bool

	// Entry returns the current entry.
	Entry() *Entry

	// Err returns the error that stopped the iteration, if any.
	Err() error
}

type rawSyncPage struct {
	Items       []rawResource `json:"items"`
	NextPageURL string        `json:"nextPageUrl"`
	NextSyncURL string        `json:"nextSyncUrl"`
}

// SyncIterator walks the initial synchronization of all entries. Pages are
// pulled one at a time as the iterator advances. It cannot be restarted;
// Token returns the sync token for a later incremental sync once done.
type SyncIterator struct {
	client *Client

	started bool
	done    bool
	token   string
	page    []*Entry
	pos     int
	current *Entry
	fetched int
	err     error
}

// SyncEntries starts an initial sync over all entries of the environment.
func (c *Client) SyncEntries() EntryIterator {
	return &SyncIterator{client: c}
}

// Next implements EntryIterator.
func (it *SyncIterator) Next(ctx context.Context) bool {
	for {
		if it.err != nil {
			return false
		}
		if it.pos < len(it.page) {
			it.current = it.page[it.pos]
			it.pos++
			it.fetched++
			return true
		}
		if it.done {
			it.current = nil
			return false
		}
		it.fetch(ctx)
	}
}

// Entry implements EntryIterator.
func (it *SyncIterator) Entry() *Entry {
	return it.current
}

// Err implements EntryIterator.
func (it *SyncIterator) Err() error {
	return it.err
}

// Token returns the latest sync token.
func (it *SyncIterator) Token() string {
	return it.token
}

func (it *SyncIterator) fetch(ctx context.Context) {
	params := url.Values{}
	if !it.started {
		params.Set("initial", "true")
		params.Set("type", "Entry")
		it.client.logger.Info().Msg("Start initial content sync")
	} else {
		params.Set("sync_token", it.token)
		it.client.logger.Debug().Str("token", it.token).Msg("Continue content sync")
	}
	it.started = true

	body, err := it.client.get(ctx, "sync", "/sync", params)
	if err != nil {
		it.err = fmt.Errorf("sync page: %w", err)
		return
	}

	var page rawSyncPage
	if err := json.Unmarshal(body, &page); err != nil {
		it.err = fmt.Errorf("decode sync page: %w", err)
		return
	}

	raw := &rawCollection{Items: page.Items}
	types, err := it.client.contentTypesFor(ctx, raw.contentTypeIDs())
	if err != nil {
		it.err = err
		return
	}

	r := newResolver(types, it.client.config.Locale)
	if err := r.register(page.Items); err != nil {
		it.err = err
		return
	}

	it.page = it.page[:0]
	it.pos = 0
	for _, res := range page.Items {
		if res.Sys.Type != "Entry" {
			continue
		}
		if err := r.fill(res); err != nil {
			it.err = err
			return
		}
		it.page = append(it.page, r.entries[res.Sys.ID])
	}

	switch {
	case page.NextPageURL != "":
		it.token = syncToken(page.NextPageURL)
		if it.token == "" {
			it.err = fmt.Errorf("sync page without token: %s", page.NextPageURL)
		}
	case page.NextSyncURL != "":
		it.token = syncToken(page.NextSyncURL)
		it.done = true
		it.client.logger.Info().Int("entries", it.fetched+len(it.page)).Msg("Finished initial content sync")
	default:
		it.done = true
	}
}

func syncToken(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("sync_token")
}
