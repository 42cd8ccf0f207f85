// Package traqing is a client for the traQing stamp statistics service.
package traqing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cloudbox/stampwatch"
	"github.com/cloudbox/stampwatch/internal/httpclient"
)

const (
	// DefaultURL is the public traQing API.
	DefaultURL = "https://traqing.cp20.dev/api"

	authCookie = "traq-auth-token"

	// the service truncates at this limit; counts above it are reported as-is
	queryLimit = 1001

	timeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Config holds configuration for the traQing client.
type Config struct {
	URL          string  `yaml:"url"`
	Token        string  `yaml:"auth-token"` //nolint:gosec // user-provided credential field
	RequestLimit float64 `yaml:"request-limit"`
	Verbosity    string  `yaml:"verbosity"`
}

// Client fetches stamp usage counts. It implements stampwatch.Counter.
type Client struct {
	client  *http.Client
	log     zerolog.Logger
	baseURL string
	token   string
	limiter *rate.Limiter
}

var (
	now   = time.Now
	epoch = time.Unix(0, 0).UTC()
)

// New creates a traQing client from the given Config.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}

	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid traqing url: %w: %w", err, stampwatch.ErrFatal)
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("missing traqing auth token: %w", stampwatch.ErrFatal)
	}

	logger := stampwatch.GetLogger("traqing", cfg.Verbosity).With().
		Str("url", cfg.URL).
		Logger()

	return &Client{
		client:  httpclient.New(),
		log:     logger,
		baseURL: cfg.URL,
		token:   cfg.Token,
		limiter: newLimiter(cfg.RequestLimit),
	}, nil
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}

	return rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w: %w", err, stampwatch.ErrRemoteUnavailable)
	}

	req.AddCookie(&http.Cookie{Name: authCookie, Value: c.token})
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req) //nolint:gosec // URL is user-configured in app config
	if err != nil {
		return nil, fmt.Errorf("%w: %w", err, stampwatch.ErrRemoteUnavailable)
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		res.Body = stampwatch.LimitReadCloser(res.Body)
		return res, nil
	}

	c.log.Trace().
		Stringer("request_url", res.Request.URL).
		Int("response_status", res.StatusCode).
		Msg("Request Failed")

	_ = res.Body.Close()

	switch res.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("invalid traqing auth token: %s: %w", res.Status, stampwatch.ErrFatal)
	default:
		return nil, fmt.Errorf("%s: %w", res.Status, stampwatch.ErrRemoteUnavailable)
	}
}

// Count returns how often stamp was used by non-bot users between the epoch
// and now. An empty channel counts workspace-wide.
func (c *Client) Count(ctx context.Context, stamp stampwatch.StampID, channel stampwatch.ChannelID) (int, error) {
	reqURL := stampwatch.JoinURL(c.baseURL, "stamps")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed creating count request: %w: %w", err, stampwatch.ErrFatal)
	}

	q := url.Values{}
	q.Set("stampId", string(stamp))
	if channel != "" {
		q.Set("channelId", string(channel))
	}
	q.Set("isBot", "false")
	q.Set("order", "asc")
	q.Set("limit", strconv.Itoa(queryLimit))
	q.Set("offset", "0")
	q.Set("after", epoch.Format(timeFormat))
	q.Set("before", now().UTC().Format(timeFormat))
	req.URL.RawQuery = q.Encode()

	res, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", stamp, err)
	}

	defer func() { _ = res.Body.Close() }()

	type stampCount struct {
		Count *int `json:"count"`
	}

	var resp []stampCount
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return 0, fmt.Errorf("failed decoding count response: %w: %w", err, stampwatch.ErrRemoteUnavailable)
	}

	if len(resp) == 0 || resp[0].Count == nil || *resp[0].Count < 0 {
		return 0, fmt.Errorf("malformed count response for %s: %w", stamp, stampwatch.ErrRemoteUnavailable)
	}

	c.log.Trace().
		Str("stamp_id", string(stamp)).
		Str("channel_id", string(channel)).
		Int("count", *resp[0].Count).
		Msg("Count Fetched")

	return *resp[0].Count, nil
}
