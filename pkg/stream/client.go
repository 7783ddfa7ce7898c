package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pairchat/internal/retry"
	"pairchat/pkg/store/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// Handler consumes one change-stream event. Handlers are invoked in
// per-connection FIFO order from a single goroutine.
type Handler func(ctx context.Context, event types.ChangeEvent)

// Subscriber delivers the store's change-stream to a handler.
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

// Config configures the websocket subscription.
type Config struct {
	URL              string
	APIKey           string
	HandshakeTimeout time.Duration
	Backoff          retry.BackoffConfig
}

type client struct {
	config  Config
	backoff *retry.Backoff
	logger  *logrus.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
}

// NewClient builds a change-stream subscriber.
func NewClient(config Config, logger *logrus.Logger) Subscriber {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.Backoff.MaxAttempts <= 0 {
		config.Backoff = retry.DefaultBackoffConfig()
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &client{
		config:  config,
		backoff: retry.NewBackoff(config.Backoff),
		logger:  logger,
	}
}

// Subscribe connects and dispatches events until ctx is cancelled or the
// subscriber is closed. Connection drops trigger reconnection with
// exponential backoff; events missed while disconnected are not replayed.
func (c *client) Subscribe(ctx context.Context, handler Handler) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("stream subscription is already running")
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WithError(err).Warn("Change-stream connection failed, backing off")
			continue
		}

		c.setConn(conn)
		c.logger.WithField("url", c.config.URL).Info("Change-stream connected")

		err = c.readLoop(ctx, conn, handler)
		c.setConn(nil)
		_ = conn.Close(websocket.StatusNormalClosure, "resubscribing")

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.WithError(err).Warn("Change-stream disconnected, reconnecting")
	}
}

// Close tears down the active connection, unblocking Subscribe's read loop.
func (c *client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	return nil
}

func (c *client) connect(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn

	err := c.backoff.Retry(ctx, func() error {
		dialCtx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
		defer cancel()

		opts := &websocket.DialOptions{}
		if c.config.APIKey != "" {
			opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.config.APIKey}}
		}

		dialed, _, err := websocket.Dial(dialCtx, c.config.URL, opts)
		if err != nil {
			return fmt.Errorf("failed to dial change-stream: %w", err)
		}

		// The full backfill is fetched over the row API; the stream only
		// carries deltas, so unbounded frames are not expected. Attachments
		// still inflate rows, hence the generous limit.
		dialed.SetReadLimit(1 << 20)
		conn = dialed
		return nil
	})

	return conn, err
}

func (c *client) readLoop(ctx context.Context, conn *websocket.Conn, handler Handler) error {
	for {
		var event types.ChangeEvent
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			return err
		}

		if event.Kind != types.EventInsert && event.Kind != types.EventUpdate {
			c.logger.WithField("kind", event.Kind).Warn("Dropping change event with unknown kind")
			continue
		}

		handler(ctx, event)
	}
}

func (c *client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// IsClosed reports whether err is a normal websocket closure.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return websocket.CloseStatus(err) == websocket.StatusNormalClosure
}
