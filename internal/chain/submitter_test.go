package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmitFulfillment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/fulfillments" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.RequestID != "req-1" || req.RandomValue != "0xbeef" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"tx_hash":"0xdeadbeef"}`))
	}))
	defer srv.Close()

	c, err := NewSubmitterClient(srv.URL, 0)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	txHash, err := c.SubmitFulfillment(context.Background(), "c1", Fulfillment{
		RequestID:   "req-1",
		RandomValue: "0xbeef",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if txHash != "0xdeadbeef" {
		t.Fatalf("expected tx hash, got %s", txHash)
	}
}

func TestSubmitFulfillmentErrorCodes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		wantErr error
	}{
		{"chain rejected", `{"code":"chain_rejected","error":"already fulfilled"}`, 200, ErrChainRejected},
		{"insufficient funds", `{"code":"insufficient_funds","error":"gas too low"}`, 200, ErrInsufficientGasOrFunds},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c, _ := NewSubmitterClient(srv.URL, 0)
			_, err := c.SubmitFulfillment(context.Background(), "c1", Fulfillment{RequestID: "r"})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSubmitFulfillmentServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewSubmitterClient(srv.URL, 0)
	_, err := c.SubmitFulfillment(context.Background(), "c1", Fulfillment{RequestID: "r"})

	var gw *GatewayError
	if !errors.As(err, &gw) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if !Retryable(err) {
		t.Fatal("transport failure must be retryable")
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(ErrChainRejected) {
		t.Fatal("chain rejection is a terminal no-op, not a retry")
	}
	if !Retryable(ErrInsufficientGasOrFunds) {
		t.Fatal("underfunded account retries after top-up")
	}
	if !Retryable(&GatewayError{Chain: "c1", Op: "submit", Err: errors.New("timeout")}) {
		t.Fatal("gateway errors are retryable")
	}
	if Retryable(errors.New("random")) {
		t.Fatal("unknown errors are not retryable")
	}
}
