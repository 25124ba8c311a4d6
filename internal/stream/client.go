// SPDX-License-Identifier: MIT

// Package stream maintains the WebSocket connection to the campaign event
// stream: dial, decode, reconnect with bounded exponential backoff. Decoded
// events flow out on a channel; the coordinator owns what they mean.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/shopstream/campaign-engine/internal/campaign"
	"github.com/shopstream/campaign-engine/internal/log"
	"github.com/shopstream/campaign-engine/internal/metrics"
)

// ErrAuthRejected is surfaced when the server refuses the handshake with
// 401 or 403. The client does not retry; bad credentials stay bad.
var ErrAuthRejected = errors.New("stream: credentials rejected")

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultMaxAttempts      = 5
	defaultBaseDelay        = 2 * time.Second
	defaultMaxDelay         = 30 * time.Second

	eventBufferSize  = 64
	statusBufferSize = 8
)

// Config holds the stream client settings.
type Config struct {
	// BaseURL is the stream endpoint base. http/https schemes are switched
	// to ws/wss automatically.
	BaseURL    string
	APIKey     string
	CampaignID int

	HandshakeTimeout     time.Duration
	MaxReconnectAttempts int
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxAttempts
	}
	if c.BaseReconnectDelay <= 0 {
		c.BaseReconnectDelay = defaultBaseDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = defaultMaxDelay
	}
}

// endpoint builds the ws(s) URL for the campaign.
func (c *Config) endpoint() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("stream: invalid base URL %q: %w", c.BaseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("stream: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws/" + strconv.Itoa(c.CampaignID)
	return u.String(), nil
}

// Client is the reconnecting event stream client. One Connect per Client;
// after a terminal status, build a new Client.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger

	events chan campaign.Event
	status chan Status

	mu          sync.Mutex
	conn        *websocket.Conn
	running     bool
	spent       bool
	intentional bool
	cancel      context.CancelFunc
	done        chan struct{}

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Client for the given config.
func New(cfg Config, logger zerolog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger.With().Str(log.FieldComponent, "stream").Logger(),
		events: make(chan campaign.Event, eventBufferSize),
		status: make(chan Status, statusBufferSize),
		sleep:  sleepCtx,
	}
}

// Events returns the decoded event channel. It is closed when the client
// stops for good, whether by Disconnect or a terminal failure.
func (c *Client) Events() <-chan campaign.Event {
	return c.events
}

// StatusChanges returns the connection status channel. When the buffer is
// full the oldest update is discarded; the latest state always lands.
func (c *Client) StatusChanges() <-chan Status {
	return c.status
}

// Connect starts the connection loop. It returns immediately; dialing and
// reconnecting happen in the background until ctx is cancelled, Disconnect
// is called, or the client fails terminally.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.cfg.endpoint(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.spent {
		c.mu.Unlock()
		return errors.New("stream: client finished, create a new one")
	}
	if c.running {
		c.mu.Unlock()
		return errors.New("stream: already connected")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.intentional = false
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer close(c.events)
		c.run(runCtx)
	}()
	return nil
}

// Disconnect stops the client and waits for the connection loop to exit.
// Safe to call multiple times and while a reconnect backoff is sleeping.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.intentional = true
	cancel := c.cancel
	done := c.done
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *Client) run(ctx context.Context) {
	endpoint, _ := c.cfg.endpoint()
	ctx = log.ContextWithConnectionID(ctx, uuid.NewString())
	logger := c.logger.With().
		Str(log.FieldConnectionID, log.ConnectionIDFromContext(ctx)).
		Logger()

	c.setStatus(StatusConnecting)

	// attempt counts consecutive reconnects; zero means a fresh dial.
	attempt := 0
	for {
		if attempt > 0 {
			if attempt > c.cfg.MaxReconnectAttempts {
				logger.Error().
					Int(log.FieldAttempt, attempt-1).
					Msg("reconnect attempts exhausted")
				c.finish(StatusFailed)
				return
			}
			delay := c.delay(attempt - 1)
			logger.Warn().
				Int(log.FieldAttempt, attempt).
				Dur(log.FieldDelay, delay).
				Msg("backing off before reconnect")
			c.setStatus(StatusReconnecting)
			if err := c.sleep(ctx, delay); err != nil {
				c.finish(StatusDisconnected)
				return
			}
			metrics.StreamReconnectsTotal.Inc()
		}

		conn, err := c.dial(ctx, endpoint)
		if err != nil {
			if errors.Is(err, ErrAuthRejected) {
				logger.Error().Err(err).Msg("handshake rejected, giving up")
				c.finish(StatusFailed)
				return
			}
			if ctx.Err() != nil {
				c.finish(StatusDisconnected)
				return
			}
			logger.Warn().Err(err).Int(log.FieldAttempt, attempt).Msg("dial failed")
			attempt++
			continue
		}

		attempt = 0
		c.setConn(conn)
		c.setStatus(StatusConnected)
		logger.Info().Str(log.FieldURL, endpoint).Msg("event stream connected")

		readErr := c.readLoop(ctx, conn, logger)
		_ = conn.Close()
		c.setConn(nil)

		if c.isIntentional() || ctx.Err() != nil {
			c.finish(StatusDisconnected)
			return
		}

		metrics.StreamDisconnectsTotal.WithLabelValues("read_error").Inc()
		logger.Warn().Err(readErr).Msg("connection lost")
		attempt = 1
	}
}

// dial performs one handshake. A 401/403 response maps to ErrAuthRejected.
func (c *Client) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("X-API-Key", c.cfg.APIKey)
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w (HTTP %d)", ErrAuthRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("stream: dial %s: %w", endpoint, err)
	}
	return conn, nil
}

// readLoop pumps frames until the connection drops. Malformed and unknown
// frames are counted and skipped; one bad frame never costs the connection.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, logger zerolog.Logger) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ev, err := campaign.DecodeEvent(data)
		if err != nil {
			if errors.Is(err, campaign.ErrUnknownEventType) {
				metrics.IncStreamDecodeFailure("unknown_type")
				logger.Debug().Err(err).Msg("unknown event type, frame skipped")
			} else {
				metrics.IncStreamDecodeFailure("malformed")
				logger.Warn().Err(err).Msg("malformed frame skipped")
			}
			continue
		}

		metrics.IncStreamEvent(ev.EventType())
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// delay is the backoff before the given zero-based retry: 2s, 4s, 8s, 16s,
// capped at 30s.
func (c *Client) delay(attempt int) time.Duration {
	d := c.cfg.BaseReconnectDelay << uint(attempt)
	if d > c.cfg.MaxReconnectDelay || d <= 0 {
		return c.cfg.MaxReconnectDelay
	}
	return d
}

// setStatus publishes a status update, discarding the oldest buffered update
// when the consumer lags.
func (c *Client) setStatus(s Status) {
	metrics.SetStreamConnectionState(s.String())
	for {
		select {
		case c.status <- s:
			return
		default:
			select {
			case <-c.status:
			default:
			}
		}
	}
}

// finish marks the client spent and publishes the terminal status. The spent
// flag is set first so a Connect racing the final status sees it.
func (c *Client) finish(s Status) {
	c.mu.Lock()
	c.running = false
	c.spent = true
	c.mu.Unlock()
	c.setStatus(s)
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) isIntentional() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intentional
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
