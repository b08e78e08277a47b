package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bridgewatch/internal/codec"
	"bridgewatch/internal/model"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 15 * time.Second
	maxMessageSize   = 8 << 20
)

// Config holds session settings for a node connection.
type Config struct {
	URL          string
	IdleTimeout  time.Duration
	PingInterval time.Duration
}

// Client is one JSON-RPC session to a Zenon node over WebSocket. Reads are
// driven by a single caller; Call and Next must not be used concurrently.
type Client struct {
	cfg    Config
	conn   *websocket.Conn
	logger *zap.Logger

	nextID  uint64
	pending [][]byte

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Dial opens a session. The session is torn down when ctx is done or Close is called.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("node url is required")
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, &TransportError{Op: "dial", Err: fmt.Errorf("status %d: %w", resp.StatusCode, err)}
		}
		return nil, &TransportError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		cfg:    cfg,
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
	conn.SetPingHandler(func(data string) error {
		c.extendDeadline()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	c.wg.Add(1)
	go c.watch(ctx)
	if cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop()
	}
	return c, nil
}

// Close ends the session.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	c.wg.Wait()
	return err
}

// Call performs a JSON-RPC request and decodes the result into out. Notifications
// that arrive before the response are queued for Next.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	c.nextID++
	id := c.nextID
	if params == nil {
		params = []interface{}{}
	}
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return c.transportErr(ctx, "write "+method, err)
	}

	for {
		frame, err := c.read(ctx)
		if err != nil {
			return err
		}
		var resp rpcResponse
		if err := json.Unmarshal(frame, &resp); err != nil {
			c.logger.Warn("discard unparseable frame", zap.Error(err))
			continue
		}
		if resp.Method != "" {
			c.pending = append(c.pending, frame)
			continue
		}
		if resp.ID == nil || *resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}

// Next returns the next notification frame, queued ones first.
func (c *Client) Next(ctx context.Context) ([]byte, error) {
	if len(c.pending) > 0 {
		frame := c.pending[0]
		c.pending[0] = nil
		c.pending = c.pending[1:]
		return frame, nil
	}
	for {
		frame, err := c.read(ctx)
		if err != nil {
			return nil, err
		}
		var resp rpcResponse
		if err := json.Unmarshal(frame, &resp); err == nil && resp.Method == "" {
			continue
		}
		return frame, nil
	}
}

// Subscribe subscribes to account blocks of address and returns the subscription id.
func (c *Client) Subscribe(ctx context.Context, address string) (string, error) {
	var id string
	if err := c.Call(ctx, "ledger.subscribe", []interface{}{"accountBlocksByAddress", address}, &id); err != nil {
		return "", err
	}
	return id, nil
}

// FrontierHeight returns the height of the newest block on the account chain, or
// zero for an empty chain.
func (c *Client) FrontierHeight(ctx context.Context, address string) (uint64, error) {
	var block *model.AccountBlock
	if err := c.Call(ctx, "ledger.getFrontierAccountBlock", []interface{}{address}, &block); err != nil {
		return 0, err
	}
	if block == nil {
		return 0, nil
	}
	return block.Height, nil
}

type accountBlockList struct {
	List  json.RawMessage `json:"list"`
	Count uint64          `json:"count"`
	More  bool            `json:"more"`
}

// AccountBlocksByHeight returns up to count blocks of the account chain starting at height.
func (c *Client) AccountBlocksByHeight(ctx context.Context, address string, height, count uint64) ([]model.AccountBlock, error) {
	var page accountBlockList
	if err := c.Call(ctx, "ledger.getAccountBlocksByHeight", []interface{}{address, height, count}, &page); err != nil {
		return nil, err
	}
	return codec.ParseBlocks(page.List)
}

func (c *Client) read(ctx context.Context) ([]byte, error) {
	for {
		c.extendDeadline()
		msgType, frame, err := c.conn.ReadMessage()
		if err != nil {
			return nil, c.transportErr(ctx, "read", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		return frame, nil
	}
}

func (c *Client) extendDeadline() {
	if c.cfg.IdleTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
	}
}

func (c *Client) transportErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Op: op, Err: ErrIdleTimeout}
	}
	return &TransportError{Op: op, Err: err}
}

func (c *Client) watch(ctx context.Context) {
	defer c.wg.Done()
	select {
	case <-ctx.Done():
		_ = c.conn.Close()
	case <-c.done:
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}
