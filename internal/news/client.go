// Package news fetches top headlines from NewsAPI.
//
// Like the weather client, a missing API key switches to deterministic
// demo headlines rather than an error.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/verbalis/verbalis/internal/httpkit"
)

// DefaultBaseURL is the NewsAPI v2 endpoint.
const DefaultBaseURL = "https://newsapi.org/v2"

// DefaultCategory is used when an utterance names no news category.
const DefaultCategory = "technology"

const defaultPageSize = 5

// demoHeadlines are served when no API key is configured. Categories
// without an entry fall back to "general".
var demoHeadlines = map[string][]string{
	"technology": {
		"AI Assistant Technology Advances with Voice Integration",
		"New Weather API Integration Improves Smart Home Systems",
		"Voice Command Processing Becomes More Accurate",
	},
	"business": {
		"Tech Stocks Rise on AI Innovation News",
		"Smart Assistant Market Expected to Grow 25%",
		"Weather Data Services See Increased Demand",
	},
	"general": {
		"Smart Home Technology Adoption Increases Globally",
		"Voice Assistants Help Improve Daily Productivity",
		"API Integration Simplifies Smart Device Control",
	},
}

// Digest holds the headlines for one category lookup.
type Digest struct {
	Category  string   `json:"category"`
	Headlines []string `json:"headlines"`
	Total     int      `json:"total_results,omitempty"`
	Demo      bool     `json:"demo_mode,omitempty"`
}

// Summary joins the headlines into a single spoken sentence.
func (d *Digest) Summary() string {
	msg := fmt.Sprintf("Here are the latest %s headlines: %s",
		d.Category, strings.Join(d.Headlines, " • "))
	if d.Demo {
		msg += " (Demo mode - configure a news API key for real news)"
	}
	return msg
}

// Client is a NewsAPI top-headlines client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a news client. An empty apiKey enables demo mode.
// An empty baseURL selects DefaultBaseURL.
func NewClient(apiKey, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(10 * time.Second)),
		logger:     logger,
	}
}

// DemoMode reports whether the client has no API key and serves canned
// headlines.
func (c *Client) DemoMode() bool { return c.apiKey == "" }

// TopHeadlines returns up to five US headlines for a category. With no
// API key configured it returns the demo set for the category and never
// touches the network.
func (c *Client) TopHeadlines(ctx context.Context, category string) (*Digest, error) {
	if category == "" {
		category = DefaultCategory
	}

	if c.apiKey == "" {
		c.logger.Debug("news demo mode", "category", category)
		headlines, ok := demoHeadlines[strings.ToLower(category)]
		if !ok {
			headlines = demoHeadlines["general"]
		}
		return &Digest{Category: category, Headlines: headlines, Demo: true}, nil
	}

	q := url.Values{}
	q.Set("apiKey", c.apiKey)
	q.Set("category", strings.ToLower(category))
	q.Set("country", "us")
	q.Set("pageSize", strconv.Itoa(defaultPageSize))

	endpoint := c.baseURL + "/top-headlines?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s headlines: %w", category, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("news API error %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Status       string `json:"status"`
		Message      string `json:"message"`
		TotalResults int    `json:"totalResults"`
		Articles     []struct {
			Title string `json:"title"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if payload.Status != "ok" {
		return nil, fmt.Errorf("news API error: %s", payload.Message)
	}

	headlines := make([]string, 0, len(payload.Articles))
	for _, a := range payload.Articles {
		headlines = append(headlines, a.Title)
	}

	return &Digest{
		Category:  category,
		Headlines: headlines,
		Total:     payload.TotalResults,
	}, nil
}
