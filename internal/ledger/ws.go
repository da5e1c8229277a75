package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSClient speaks JSON-RPC over a websocket to the settlement endpoint.
// Calls are serialized on one connection; a failed call drops the
// connection and the next call redials, which pairs with the queue's
// retry/backoff loop.
type WSClient struct {
	url string

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64

	dialTimeout time.Duration
	callTimeout time.Duration
}

func NewWSClient(url string) *WSClient {
	return &WSClient{
		url:         url,
		dialTimeout: 10 * time.Second,
		callTimeout: 30 * time.Second,
	}
}

type rpcRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *WSClient) Transfer(ctx context.Context, req TransferReq) (Receipt, error) {
	var r Receipt
	if err := c.call(ctx, "transfer", req, &r); err != nil {
		return Receipt{}, err
	}
	return r, nil
}

func (c *WSClient) BalanceOf(ctx context.Context, account string) (int64, error) {
	var out struct {
		Balance int64 `json:"balance"`
	}
	params := map[string]string{"account": account}
	if err := c.call(ctx, "balance_of", params, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *WSClient) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnLocked(ctx); err != nil {
		return err
	}

	c.nextID++
	req := rpcRequest{ID: c.nextID, Method: method, Params: params}

	deadline := time.Now().Add(c.callTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		c.dropLocked()
		return fmt.Errorf("%s: write: %w", method, err)
	}

	_ = c.conn.SetReadDeadline(deadline)
	for {
		var resp rpcResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.dropLocked()
			return fmt.Errorf("%s: read: %w", method, err)
		}
		if resp.ID != req.ID {
			// Stale response from a previously abandoned call; skip it.
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	}
}

func (c *WSClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.conn = conn
	return nil
}

func (c *WSClient) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
