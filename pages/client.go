package pages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spdeepak/shellcache"
	"golang.org/x/net/websocket"
)

// Client is the page side of a hub connection.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial connects to a hub at wsURL, presenting origin as the page origin.
func Dial(ctx context.Context, wsURL, origin string) (*Client, error) {
	cfg, err := websocket.NewConfig(wsURL, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	return &Client{conn: conn}, nil
}

// CacheAsset asks the worker to cache url.
func (c *Client) CacheAsset(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.JSON.Send(c.conn, shellcache.Message{Type: shellcache.MessageCacheNewAsset, URL: url})
}

// Listen calls onDayChange for every CHECK_DAY_CHANGE notification until ctx
// ends or the connection closes. Other message types are ignored.
func (c *Client) Listen(ctx context.Context, onDayChange func()) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		var msg shellcache.Message
		if err := websocket.JSON.Receive(c.conn, &msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if msg.Type == shellcache.MessageCheckDayChange && onDayChange != nil {
			onDayChange()
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
