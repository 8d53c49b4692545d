package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/cardpay-pipeline/internal/config"
)

// Feed fetches the current rate for a pair from the external oracle
type Feed interface {
	Fetch(ctx context.Context, pair string) (int64, error)
}

// HTTPFeed implements Feed against a JSON rate endpoint
type HTTPFeed struct {
	feedURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPFeed(logger *slog.Logger, cfg *config.OracleConfig) *HTTPFeed {
	return &HTTPFeed{
		feedURL: cfg.FeedURL,
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		logger:  logger,
	}
}

// Fetch requests the feed and parses the decimal rate into fixed point
func (f *HTTPFeed) Fetch(ctx context.Context, pair string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.feedURL+"?pair="+url.QueryEscape(pair), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build rate feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("rate feed request failed for %s: %w", pair, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rate feed returned status %d for %s", resp.StatusCode, pair)
	}

	var body struct {
		Pair string `json:"pair"`
		Rate string `json:"rate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode rate feed response for %s: %w", pair, err)
	}

	rate, err := ParseRate(body.Rate)
	if err != nil {
		return 0, fmt.Errorf("rate feed returned unusable rate for %s: %w", pair, err)
	}

	f.logger.Debug("Fetched rate from feed", "pair", pair, "rate", rate)
	return rate, nil
}
