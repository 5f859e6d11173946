// Package steam provides read-only access to the Steam store and stats APIs.
//
// The two exported fetch operations never return errors: any timeout,
// transport failure or non-success payload is logged and reported as
// absent, leaving the per-item tolerance policy to the caller.
package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rewired-gh/steamwatch/internal/logger"
)

// Default endpoints and request parameters.
const (
	DefaultStoreURL    = "https://store.steampowered.com/api"
	DefaultStatsURL    = "https://api.steampowered.com"
	DefaultTimeout     = 10 * time.Second
	DefaultCountryCode = "us"
	DefaultLanguage    = "english"
	DefaultUserAgent   = "Mozilla/5.0 (compatible; SteamMonitor/1.0)"

	playerCountPath = "/ISteamUserStats/GetNumberOfCurrentPlayers/v1/"
	resultOK        = 1
)

// RawDetail is the unmodified "data" object of an appdetails response.
// Its shape varies by app; only the normalizer interprets it.
type RawDetail map[string]any

// errNoPlayerData marks a live-count response without usable data. It is
// expected for many apps and is not logged as a failure.
var errNoPlayerData = errors.New("no player count data")

// APIError represents a non-2xx response from a Steam endpoint.
type APIError struct {
	StatusCode int
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("steam api error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ClientConfig holds the settings a Client is built from.
type ClientConfig struct {
	StoreURL    string
	StatsURL    string
	APIKey      string
	CountryCode string
	Language    string
	UserAgent   string
	Timeout     time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client provides access to the Steam APIs. It is immutable after
// construction and safe for concurrent use.
type Client struct {
	storeURL    string
	statsURL    string
	apiKey      string
	countryCode string
	language    string
	userAgent   string
	timeout     time.Duration
	httpClient  *http.Client
}

// NewClient creates a new Steam client, filling unset fields with defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.StoreURL == "" {
		cfg.StoreURL = DefaultStoreURL
	}
	if cfg.StatsURL == "" {
		cfg.StatsURL = DefaultStatsURL
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = DefaultCountryCode
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		storeURL:    cfg.StoreURL,
		statsURL:    cfg.StatsURL,
		apiKey:      cfg.APIKey,
		countryCode: cfg.CountryCode,
		language:    cfg.Language,
		userAgent:   cfg.UserAgent,
		timeout:     cfg.Timeout,
		httpClient:  hc,
	}
}

// FetchAppDetails retrieves the detail object for one app. The second
// return value is false when the fetch failed for any reason.
func (c *Client) FetchAppDetails(ctx context.Context, appID int) (RawDetail, bool) {
	detail, err := c.fetchAppDetails(ctx, appID)
	if err != nil {
		logger.Warn("Failed to fetch details for app %d: %v", appID, err)
		return nil, false
	}
	return detail, true
}

// FetchPlayerCount retrieves the current player count for one app. Apps
// without live-count data report false without a warning.
func (c *Client) FetchPlayerCount(ctx context.Context, appID int) (int, bool) {
	count, err := c.fetchPlayerCount(ctx, appID)
	if err != nil {
		if errors.Is(err, errNoPlayerData) {
			logger.Debug("No player count for app %d", appID)
		} else {
			logger.Warn("Failed to fetch player count for app %d: %v", appID, err)
		}
		return 0, false
	}
	return count, true
}

func (c *Client) fetchAppDetails(ctx context.Context, appID int) (RawDetail, error) {
	key := strconv.Itoa(appID)
	query := url.Values{}
	query.Set("appids", key)
	query.Set("cc", c.countryCode)
	query.Set("l", c.language)

	body, err := c.doRequest(ctx, c.storeURL+"/appdetails", query)
	if err != nil {
		return nil, err
	}

	var response map[string]struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode app details: %w", err)
	}

	entry, ok := response[key]
	if !ok {
		return nil, fmt.Errorf("app %d missing from response", appID)
	}
	if !entry.Success {
		return nil, fmt.Errorf("app %d reported success=false", appID)
	}

	var detail RawDetail
	if err := json.Unmarshal(entry.Data, &detail); err != nil {
		return nil, fmt.Errorf("failed to decode app data: %w", err)
	}
	if len(detail) == 0 {
		return nil, fmt.Errorf("app %d returned no data", appID)
	}

	return detail, nil
}

func (c *Client) fetchPlayerCount(ctx context.Context, appID int) (int, error) {
	query := url.Values{}
	query.Set("appid", strconv.Itoa(appID))
	if c.apiKey != "" {
		query.Set("key", c.apiKey)
	}

	body, err := c.doRequest(ctx, c.statsURL+playerCountPath, query)
	if err != nil {
		// The stats API answers 404 for apps it has no data for.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return 0, errNoPlayerData
		}
		return 0, err
	}

	var response struct {
		Response struct {
			Result      int `json:"result"`
			PlayerCount int `json:"player_count"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("failed to decode player count: %w", err)
	}

	if response.Response.Result != resultOK {
		return 0, errNoPlayerData
	}

	return response.Response.PlayerCount, nil
}

// doRequest performs a single GET with the client's per-call timeout. There
// is no retry; a failed item is simply skipped for this cycle.
func (c *Client) doRequest(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fullURL := endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	return body, nil
}
