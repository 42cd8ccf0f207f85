// Package traq is a minimal client for the traQ chat platform bot API.
package traq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/cloudbox/stampwatch"
	"github.com/cloudbox/stampwatch/internal/httpclient"
)

// DefaultURL is the API base of the main traQ instance.
const DefaultURL = "https://q.trap.jp/api/v3"

// Config holds configuration for the traQ client.
type Config struct {
	URL       string `yaml:"url"`
	WSURL     string `yaml:"ws-url"`
	Token     string `yaml:"token"` //nolint:gosec // user-provided credential field
	Verbosity string `yaml:"verbosity"`
}

// Client talks to the traQ REST API and bot event stream.
type Client struct {
	client  *http.Client
	log     zerolog.Logger
	baseURL string
	wsURL   string
	token   string
}

// New creates a traQ client from the given Config.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}

	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid traq url: %w: %w", err, stampwatch.ErrFatal)
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("missing bot token: %w", stampwatch.ErrFatal)
	}

	wsURL := cfg.WSURL
	if wsURL == "" {
		var err error
		if wsURL, err = stampwatch.WebsocketURL(cfg.URL, "bots", "ws"); err != nil {
			return nil, fmt.Errorf("derive websocket url: %w", err)
		}
	}

	logger := stampwatch.GetLogger("traq", cfg.Verbosity).With().
		Str("url", cfg.URL).
		Logger()

	return &Client{
		client:  httpclient.New(),
		log:     logger,
		baseURL: cfg.URL,
		wsURL:   wsURL,
		token:   cfg.Token,
	}, nil
}

func (c *Client) authHeader() http.Header {
	return http.Header{"Authorization": []string{"Bearer " + c.token}}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
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
		return nil, fmt.Errorf("invalid bot token: %s: %w", res.Status, stampwatch.ErrFatal)
	default:
		return nil, fmt.Errorf("%s: %w", res.Status, stampwatch.ErrRemoteUnavailable)
	}
}

// getJSON issues a GET below the API base and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, out any, paths ...string) error {
	reqURL := stampwatch.JoinURL(c.baseURL, paths...)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed creating request: %w: %w", err, stampwatch.ErrFatal)
	}

	res, err := c.do(req)
	if err != nil {
		return err
	}

	defer func() { _ = res.Body.Close() }()

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed decoding response: %w: %w", err, stampwatch.ErrRemoteUnavailable)
	}

	return nil
}

// Channel is a public channel as listed by the API.
type Channel struct {
	ID       stampwatch.ChannelID `json:"id"`
	ParentID string               `json:"parentId"`
	Name     string               `json:"name"`
	Archived bool                 `json:"archived"`
}

// Channels returns all public channels.
func (c *Client) Channels(ctx context.Context) ([]Channel, error) {
	type Response struct {
		Public []Channel `json:"public"`
	}

	resp := new(Response)
	if err := c.getJSON(ctx, resp, "channels"); err != nil {
		return nil, fmt.Errorf("channels: %w", err)
	}

	return resp.Public, nil
}

// ChannelIDs returns the ids of all public channels in API order.
func (c *Client) ChannelIDs(ctx context.Context) ([]stampwatch.ChannelID, error) {
	channels, err := c.Channels(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]stampwatch.ChannelID, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, ch.ID)
	}

	return ids, nil
}

// DMChannel returns the direct-message channel with the given user.
func (c *Client) DMChannel(ctx context.Context, userID string) (stampwatch.ChannelID, error) {
	type Response struct {
		ID stampwatch.ChannelID `json:"id"`
	}

	resp := new(Response)
	if err := c.getJSON(ctx, resp, "users", userID, "dm-channel"); err != nil {
		return "", fmt.Errorf("dm channel %s: %w", userID, err)
	}

	if resp.ID == "" {
		return "", fmt.Errorf("dm channel %s: empty id: %w", userID, stampwatch.ErrRemoteUnavailable)
	}

	return resp.ID, nil
}

// StampName returns the display name of a stamp.
func (c *Client) StampName(ctx context.Context, stamp stampwatch.StampID) (string, error) {
	type Response struct {
		Name string `json:"name"`
	}

	resp := new(Response)
	if err := c.getJSON(ctx, resp, "stamps", string(stamp)); err != nil {
		return "", fmt.Errorf("stamp %s: %w", stamp, err)
	}

	return resp.Name, nil
}

// ChannelPath returns the slash-joined path of a channel, without a leading '#'.
func (c *Client) ChannelPath(ctx context.Context, channel stampwatch.ChannelID) (string, error) {
	type Response struct {
		Path string `json:"path"`
	}

	resp := new(Response)
	if err := c.getJSON(ctx, resp, "channels", string(channel), "path"); err != nil {
		return "", fmt.Errorf("channel path %s: %w", channel, err)
	}

	return resp.Path, nil
}

// PostMessage posts content to a channel. With embed set, mentions and
// channel links in content are expanded by the server.
func (c *Client) PostMessage(ctx context.Context, channel stampwatch.ChannelID, content string, embed bool) error {
	body, err := json.Marshal(struct {
		Content string `json:"content"`
		Embed   bool   `json:"embed"`
	}{content, embed})
	if err != nil {
		return fmt.Errorf("failed encoding message: %w: %w", err, stampwatch.ErrFatal)
	}

	reqURL := stampwatch.JoinURL(c.baseURL, "channels", string(channel), "messages")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed creating message request: %w: %w", err, stampwatch.ErrFatal)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}

	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
	return nil
}
