package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"demarches/internal/platform/upstream"
	"demarches/pkg/platform/sentinel"
)

// HolidayClient reads public holidays from calendrier.api.gouv.fr. Published calendars
// never change, so every non-empty (year, zone) answer is kept for the client's lifetime.
type HolidayClient struct {
	fetcher upstream.Fetcher
	logger  *slog.Logger

	mu     sync.RWMutex
	cache  map[string]Set
	flight singleflight.Group
}

// NewHolidayClient builds a client on top of the given fetcher.
func NewHolidayClient(fetcher upstream.Fetcher, logger *slog.Logger) *HolidayClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HolidayClient{
		fetcher: fetcher,
		logger:  logger,
		cache:   make(map[string]Set),
	}
}

// HolidaysFor returns the holidays of year in zone. The returned set must be treated as
// read-only. Years the authority has not published yet surface as sentinel.ErrNotFound.
func (c *HolidayClient) HolidaysFor(ctx context.Context, year int, zone Zone) (Set, error) {
	if !zone.Valid() {
		return nil, fmt.Errorf("holiday zone %q: %w", zone, sentinel.ErrInvalidInput)
	}
	key := string(zone) + "/" + strconv.Itoa(year)

	c.mu.RLock()
	set, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return set, nil
	}

	// Joined callers must not inherit the first caller's cancellation.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		return c.fetch(fetchCtx, year, zone, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Set), nil
	}
}

func (c *HolidayClient) fetch(ctx context.Context, year int, zone Zone, key string) (Set, error) {
	resp, err := c.fetcher.Fetch(ctx, upstream.Request{
		Path: fmt.Sprintf("/jours-feries/%s/%d.json", zone, year),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch holidays %s: %w", key, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("decode holidays %s: %w", key,
			upstream.NewError(upstream.CategoryBadData, "holidays", "malformed calendar", err))
	}

	set := make(Set, len(raw))
	for date, name := range raw {
		d, err := ParseDate(date)
		if err != nil || d.Year() != year {
			c.logger.WarnContext(ctx, "ignoring malformed holiday entry",
				"zone", zone,
				"year", year,
				"entry", date,
			)
			continue
		}
		set[date] = name
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("holidays %s not published: %w", key, sentinel.ErrNotFound)
	}

	c.mu.Lock()
	c.cache[key] = set
	c.mu.Unlock()
	return set, nil
}
