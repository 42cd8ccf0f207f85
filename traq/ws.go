package traq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/retry"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/cloudbox/stampwatch"
)

const (
	eventMessageCreated = "MESSAGE_CREATED"

	wsReadLimit = 1 << 20

	reconnectFloor = time.Second
	reconnectCeil  = 30 * time.Second
)

// MessageEvent is a message posted to a channel the bot has joined.
type MessageEvent struct {
	ID        string
	Author    string
	AuthorBot bool
	PlainText string
	ChannelID stampwatch.ChannelID
	CreatedAt time.Time
}

// A Handler receives message events. Returned errors are logged.
type Handler func(ctx context.Context, event MessageEvent) error

type frame struct {
	Type  string          `json:"type"`
	ReqID string          `json:"reqId"`
	Body  json.RawMessage `json:"body"`
}

type messageCreated struct {
	Message struct {
		ID   string `json:"id"`
		User struct {
			Name string `json:"name"`
			Bot  bool   `json:"bot"`
		} `json:"user"`
		ChannelID stampwatch.ChannelID `json:"channelId"`
		PlainText string               `json:"plainText"`
		CreatedAt time.Time            `json:"createdAt"`
	} `json:"message"`
}

// Listen consumes the bot event stream and calls handle for every created
// message until ctx is done. Dropped connections are re-established with
// exponential backoff; only rejected credentials end the stream early.
func (c *Client) Listen(ctx context.Context, handle Handler) error {
	for r := retry.New(reconnectFloor, reconnectCeil); r.Wait(ctx); {
		uptime, err := c.listen(ctx, handle)
		if ctx.Err() != nil {
			break
		}

		if errors.Is(err, stampwatch.ErrFatal) {
			return err
		}

		// only a connection that stayed up resets the backoff
		if uptime > reconnectCeil {
			r.Reset()
		}

		c.log.Warn().
			Err(err).
			Msg("Event Stream Disconnected")
	}

	return ctx.Err()
}

func (c *Client) listen(ctx context.Context, handle Handler) (time.Duration, error) {
	//nolint:bodyclose // websocket package closes this for you
	conn, res, err := websocket.Dial(ctx, c.wsURL, &websocket.DialOptions{
		HTTPHeader: c.authHeader(),
	})
	if err != nil {
		if res != nil && (res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden) {
			return 0, fmt.Errorf("invalid bot token: %s: %w", res.Status, stampwatch.ErrFatal)
		}
		return 0, fmt.Errorf("websocket dial: %w: %w", err, stampwatch.ErrRemoteUnavailable)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	conn.SetReadLimit(wsReadLimit)
	connectedAt := time.Now()
	c.log.Info().Msg("Event Stream Connected")

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return time.Since(connectedAt), fmt.Errorf("websocket read: %w: %w", err, stampwatch.ErrRemoteUnavailable)
		}

		if f.Type != eventMessageCreated {
			c.log.Trace().
				Str("type", f.Type).
				Msg("Event Ignored")
			continue
		}

		var body messageCreated
		if err := json.Unmarshal(f.Body, &body); err != nil {
			c.log.Warn().
				Err(err).
				Str("req_id", f.ReqID).
				Msg("Event Decode Failed")
			continue
		}

		event := MessageEvent{
			ID:        body.Message.ID,
			Author:    body.Message.User.Name,
			AuthorBot: body.Message.User.Bot,
			PlainText: body.Message.PlainText,
			ChannelID: body.Message.ChannelID,
			CreatedAt: body.Message.CreatedAt,
		}

		if err := handle(ctx, event); err != nil {
			c.log.Error().
				Err(err).
				Str("message_id", event.ID).
				Msg("Event Handler Failed")
		}
	}
}
