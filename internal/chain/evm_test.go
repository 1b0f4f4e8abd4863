package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// rpcStub serves canned JSON-RPC results per method.
func rpcStub(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
		}
		result, ok := results[req.Method]
		if !ok {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%s}`, result)
	}))
}

func newEVMGateway(t *testing.T, rpcURL string, confirmations int) *EVMGateway {
	t.Helper()
	g, err := NewEVMGateway(EVMGatewayConfig{
		ChainID:       "evm-test",
		RPCURL:        rpcURL,
		SubmitterURL:  "http://submitter.local",
		ContractAddr:  "0x1111111111111111111111111111111111111111",
		Confirmations: confirmations,
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return g
}

func TestEVMGatewayValidatesAddress(t *testing.T) {
	_, err := NewEVMGateway(EVMGatewayConfig{
		ChainID:      "evm",
		RPCURL:       "http://node.local",
		SubmitterURL: "http://submitter.local",
		ContractAddr: "not-an-address",
	})
	if err == nil {
		t.Fatal("expected error for invalid contract address")
	}
}

func TestEVMConfirmationPendingWithoutReceipt(t *testing.T) {
	srv := rpcStub(t, map[string]string{"eth_getTransactionReceipt": `null`})
	defer srv.Close()

	g := newEVMGateway(t, srv.URL, 3)
	status, err := g.ConfirmationStatus(context.Background(), "0xtx")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if status != ConfirmPending {
		t.Fatalf("expected pending, got %s", status)
	}
}

func TestEVMConfirmationFailedReceipt(t *testing.T) {
	srv := rpcStub(t, map[string]string{
		"eth_getTransactionReceipt": `{"status":"0x0","blockNumber":"0x10"}`,
	})
	defer srv.Close()

	g := newEVMGateway(t, srv.URL, 3)
	status, err := g.ConfirmationStatus(context.Background(), "0xtx")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if status != ConfirmFailed {
		t.Fatalf("expected failed, got %s", status)
	}
}

func TestEVMConfirmationDepth(t *testing.T) {
	tests := []struct {
		name string
		head string
		want ConfirmStatus
	}{
		{"too shallow", "0x11", ConfirmPending},     // depth 2 of 3
		{"exact depth", "0x12", ConfirmConfirmed},   // depth 3 of 3
		{"deeply buried", "0x20", ConfirmConfirmed}, // depth 17
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := rpcStub(t, map[string]string{
				"eth_getTransactionReceipt": `{"status":"0x1","blockNumber":"0x10"}`,
				"eth_blockNumber":           fmt.Sprintf("%q", tc.head),
			})
			defer srv.Close()

			g := newEVMGateway(t, srv.URL, 3)
			status, err := g.ConfirmationStatus(context.Background(), "0xtx")
			if err != nil {
				t.Fatalf("confirm: %v", err)
			}
			if status != tc.want {
				t.Fatalf("head %s: expected %s, got %s", tc.head, tc.want, status)
			}
		})
	}
}

func TestClientRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"unknown transaction"}}`)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.Call(context.Background(), "getapplicationlog", []any{"0xtx"})
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if rpcErr.Code != -32000 || rpcErr.Message != "unknown transaction" {
		t.Fatalf("unexpected rpc error %+v", rpcErr)
	}
}
