package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// fakeRPCServer answers transfer/balance_of over a websocket the way the
// settlement endpoint does.
func fakeRPCServer(t *testing.T, balances map[string]int64) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := rpcResponse{ID: req.ID}
			switch req.Method {
			case "balance_of":
				params, _ := req.Params.(map[string]any)
				acct, _ := params["account"].(string)
				resp.Result = mustJSON(t, map[string]int64{"balance": balances[acct]})
			case "transfer":
				resp.Result = mustJSON(t, Receipt{
					TxHash:      "0xabc123",
					NetAmount:   97,
					PlatformFee: 2,
					CityFee:     1,
				})
			default:
				resp.Error = &rpcError{Code: -32601, Message: "method not found"}
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClient_BalanceOf(t *testing.T) {
	srv := fakeRPCServer(t, map[string]int64{"A1": 420})
	defer srv.Close()

	c := NewWSClient(wsURL(srv))
	defer c.Close()

	bal, err := c.BalanceOf(context.Background(), "A1")
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if bal != 420 {
		t.Fatalf("balance = %d", bal)
	}
	bal, err = c.BalanceOf(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("BalanceOf unknown: %v", err)
	}
	if bal != 0 {
		t.Fatalf("unknown balance = %d", bal)
	}
}

func TestWSClient_Transfer(t *testing.T) {
	srv := fakeRPCServer(t, nil)
	defer srv.Close()

	c := NewWSClient(wsURL(srv))
	defer c.Close()

	r, err := c.Transfer(context.Background(), TransferReq{
		From: "A1", To: "A2", Amount: 100, CityFeeBps: 100,
		IdempotencyKey: "job:0",
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if r.TxHash != "0xabc123" || r.NetAmount != 97 {
		t.Fatalf("receipt = %+v", r)
	}
}

func TestWSClient_RPCErrorSurfaces(t *testing.T) {
	srv := fakeRPCServer(t, nil)
	defer srv.Close()

	c := NewWSClient(wsURL(srv))
	defer c.Close()

	err := c.call(context.Background(), "mint", nil, nil)
	if err == nil {
		t.Fatalf("unknown method succeeded")
	}
	if !strings.Contains(err.Error(), "method not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestWSClient_RedialsAfterServerDrop(t *testing.T) {
	srv := fakeRPCServer(t, map[string]int64{"A1": 7})
	c := NewWSClient(wsURL(srv))
	defer c.Close()

	if _, err := c.BalanceOf(context.Background(), "A1"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	srv.CloseClientConnections()

	// The dropped connection fails one call, then the client redials.
	if _, err := c.BalanceOf(context.Background(), "A1"); err == nil {
		t.Fatalf("call on dropped connection succeeded")
	}
	bal, err := c.BalanceOf(context.Background(), "A1")
	if err != nil {
		t.Fatalf("redial call: %v", err)
	}
	if bal != 7 {
		t.Fatalf("balance = %d", bal)
	}
	srv.Close()
}
