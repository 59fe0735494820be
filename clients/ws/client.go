// Package ws provides a WebSocket client for the Neorix gateway.
package ws

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/coder/websocket"

	wsprotocol "github.com/dohr-michael/neorix/internal/gateway/ws"
)

// Client is a WebSocket client for the Neorix gateway. Requests return their frame id;
// responses and conversation events are read with ReadFrame.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the gateway WebSocket endpoint. A non-empty mode selects the
// starting mode of the conversation.
func Dial(ctx context.Context, endpoint, mode string) (*Client, error) {
	if mode != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("ws url: %w", err)
		}
		q := u.Query()
		q.Set("mode", mode)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

// Request sends a request frame and returns its id.
func (c *Client) Request(method wsprotocol.Method, params any) (string, error) {
	seq := atomic.AddUint64(&c.reqSeq, 1)
	id := fmt.Sprintf("req-%d", seq)

	frame, err := wsprotocol.NewRequestFrame(id, method, params)
	if err != nil {
		return "", err
	}
	data, err := wsprotocol.MarshalFrame(frame)
	if err != nil {
		return "", err
	}

	return id, c.conn.Write(c.ctx, websocket.MessageText, data)
}

// SendMessage sends a user message to the gateway.
func (c *Client) SendMessage(content string) (string, error) {
	return c.Request(wsprotocol.MethodSendMessage, wsprotocol.SendMessageParams{Content: content})
}

// SetMode asks the gateway to switch the conversation's mode.
func (c *Client) SetMode(mode string) (string, error) {
	return c.Request(wsprotocol.MethodSetMode, wsprotocol.SetModeParams{Mode: mode})
}

// GetState asks for a snapshot of the conversation.
func (c *Client) GetState() (string, error) {
	return c.Request(wsprotocol.MethodGetState, nil)
}

// ListModes asks for the mode catalog.
func (c *Client) ListModes() (string, error) {
	return c.Request(wsprotocol.MethodListModes, nil)
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
