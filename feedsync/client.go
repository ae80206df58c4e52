package feedsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fintrack-labs/forecast_backend/utils"
)

type feedClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func newFeedClient() (*feedClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("FEED_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.bankfeed.example.com"
	}
	apiKey := strings.TrimSpace(os.Getenv("FEED_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("feed api key is empty")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("FEED_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	rateLimitPerMin := int64(30)
	if v := strings.TrimSpace(os.Getenv("FEED_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &feedClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}, nil
}

type feedListResponse struct {
	Data       []json.RawMessage `json:"data"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

func (c *feedClient) getList(ctx context.Context, path string, params url.Values) (feedListResponse, error) {
	<-c.limiter
	body, err := c.get(ctx, path, params)
	if err != nil {
		return feedListResponse{}, err
	}
	var parsed feedListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return feedListResponse{}, fmt.Errorf("%w: %v", utils.ErrorUpstreamFeed, err)
	}
	return parsed, nil
}

func (c *feedClient) getObject(ctx context.Context, path string, out interface{}) error {
	<-c.limiter
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrorUpstreamFeed, err)
	}
	return nil
}

func (c *feedClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorUpstreamFeed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", utils.ErrorUpstreamFeed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
