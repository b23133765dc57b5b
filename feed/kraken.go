package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const krakenBaseURL = "https://api.kraken.com"

// KrakenClient fetches top-of-book depth from Kraken's public REST API.
// HTTPClient is injectable so tests can point it at httptest.
type KrakenClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// NewKrakenClient returns a client with sane defaults. Kraken's public
// endpoints tolerate roughly 1 req/s sustained per IP.
func NewKrakenClient() *KrakenClient {
	return &KrakenClient{
		BaseURL:    krakenBaseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Limiter:    rate.NewLimiter(rate.Limit(5), 10),
	}
}

type krakenDepthResponse struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		Asks [][]json.RawMessage `json:"asks"`
		Bids [][]json.RawMessage `json:"bids"`
	} `json:"result"`
}

// FetchDepth returns best bid/ask for a Kraken pair code. Any transport,
// parse, or venue-side error maps to ErrUnavailable so the caller can
// treat the instrument as undefined for the cycle.
func (c *KrakenClient) FetchDepth(ctx context.Context, code string) (Depth, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return Depth{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	endpoint := fmt.Sprintf("%s/0/public/Depth?pair=%s&count=1", c.BaseURL, url.QueryEscape(code))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Depth{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Depth{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Depth{}, fmt.Errorf("%w: depth status %d", ErrUnavailable, resp.StatusCode)
	}

	var dr krakenDepthResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return Depth{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(dr.Error) > 0 {
		return Depth{}, fmt.Errorf("%w: venue error %v", ErrUnavailable, dr.Error)
	}

	// Kraken keys the result by its canonical pair name, which may differ
	// from the requested code (XBTUSD -> XXBTZUSD). A single pair was
	// requested, so take the only entry.
	for _, book := range dr.Result {
		if len(book.Bids) == 0 || len(book.Asks) == 0 {
			return Depth{}, fmt.Errorf("%w: empty book for %s", ErrUnavailable, code)
		}
		bid, err1 := parseLevelPrice(book.Bids[0])
		ask, err2 := parseLevelPrice(book.Asks[0])
		if err1 != nil || err2 != nil {
			return Depth{}, fmt.Errorf("%w: bad level for %s", ErrUnavailable, code)
		}
		return Depth{Bid: bid, Ask: ask}, nil
	}
	return Depth{}, fmt.Errorf("%w: no result for %s", ErrUnavailable, code)
}

// parseLevelPrice extracts the price from a [price, volume, timestamp]
// level. Kraken encodes price and volume as strings.
func parseLevelPrice(level []json.RawMessage) (float64, error) {
	if len(level) == 0 {
		return 0, fmt.Errorf("empty level")
	}
	var s string
	if err := json.Unmarshal(level[0], &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}
