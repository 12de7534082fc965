// Package remote wraps the collection-log persistence service API. Every
// response uses a {data, error} envelope; absent data with a populated
// error is the canonical failure signal.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joemckie/collogsync/internal/catalog"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable marks transient transport failures (timeouts,
	// connection errors, non-2xx statuses). Retried under backoff.
	ErrUnavailable = errors.New("remote: service unavailable")
	// ErrMalformedResponse marks an unparseable payload. Treated as
	// "no data" by callers, never as a crash.
	ErrMalformedResponse = errors.New("remote: malformed response")
	// ErrMissingBaseURL indicates the client was built without a base URL.
	ErrMissingBaseURL = errors.New("remote: base url is required")
)

// RequestError is a structured rejection reported inside the envelope.
type RequestError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("remote: request rejected (%d): %s", e.Code, e.Message)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *RequestError   `json:"error"`
}

// UploadItem is one (item id, count) pair in an upload payload.
type UploadItem struct {
	ID    int `json:"id"`
	Count int `json:"count"`
}

// UploadRequest is the submission body for POST /upload.
type UploadRequest struct {
	Username       string       `json:"username"`
	ProfileVariant string       `json:"profile-variant"`
	AccountID      int64        `json:"account-id"`
	Items          []UploadItem `json:"items"`
	TotalAvailable int          `json:"total-available"`
}

// PlayerInfo carries the remote freshness stamp for one player.
type PlayerInfo struct {
	LastChangedSeconds int64
}

// LogItem is one item row of a fetched player log.
type LogItem struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Count       int    `json:"count"`
	DateSeconds int64  `json:"date"`
}

// PlayerLog is the full fetched collection log for one player.
type PlayerLog struct {
	Player             string    `json:"player"`
	LastChangedSeconds int64     `json:"last_changed"`
	Items              []LogItem `json:"items"`
}

// ClientConfig describes how to reach the remote service.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is a thin request/response abstraction over the remote API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a Client with a seconds-scale request timeout.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// Upload submits obtained items for the player.
func (c *Client) Upload(ctx context.Context, request UploadRequest) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("remote: encode upload: %w", err)
	}
	_, err = c.post(ctx, "/upload", body)
	return err
}

// FetchManifest retrieves the canonical category/item definitions.
func (c *Client) FetchManifest(ctx context.Context) (*catalog.Manifest, error) {
	data, err := c.get(ctx, "/manifest", nil)
	if err != nil {
		return nil, err
	}
	var manifest catalog.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &manifest, nil
}

// FetchPlayerInfo retrieves the remote last-changed stamp for a player.
func (c *Client) FetchPlayerInfo(ctx context.Context, playerKey string) (PlayerInfo, error) {
	data, err := c.get(ctx, "/player-info", url.Values{"user": []string{playerKey}})
	if err != nil {
		return PlayerInfo{}, err
	}
	var payload struct {
		CollectionLog struct {
			LastChanged int64 `json:"last_changed"`
		} `json:"collection_log"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return PlayerInfo{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return PlayerInfo{LastChangedSeconds: payload.CollectionLog.LastChanged}, nil
}

// FetchPlayerLog retrieves the full collection log for a player.
func (c *Client) FetchPlayerLog(ctx context.Context, playerKey string) (PlayerLog, error) {
	data, err := c.get(ctx, "/player-log", url.Values{"user": []string{playerKey}})
	if err != nil {
		return PlayerLog{}, err
	}
	var log PlayerLog
	if err := json.Unmarshal(data, &log); err != nil {
		return PlayerLog{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return log, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	return c.do(request)
}

func (c *Client) post(ctx context.Context, path string, body []byte) (json.RawMessage, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	return c.do(request)
}

func (c *Client) do(request *http.Request) (json.RawMessage, error) {
	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Debug("remote request failed", zap.String("url", request.URL.Path), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, response.StatusCode)
	}

	var wrapped envelope
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if wrapped.Error != nil && len(wrapped.Data) == 0 {
		return nil, wrapped.Error
	}
	return wrapped.Data, nil
}
