package chain

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testContractHash = "0x726cb6e0cd8628a1350a611384688911ab75f51b"

func newNeoGateway(t *testing.T, rpcURL string) *NeoGateway {
	t.Helper()
	g, err := NewNeoGateway(NeoGatewayConfig{
		ChainID:       "neo-test",
		RPCURL:        rpcURL,
		SubmitterURL:  "http://submitter.local",
		ContractHash:  testContractHash,
		Confirmations: 1,
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return g
}

func TestNeoGatewayValidatesContractHash(t *testing.T) {
	_, err := NewNeoGateway(NeoGatewayConfig{
		ChainID:      "neo",
		RPCURL:       "http://node.local",
		SubmitterURL: "http://submitter.local",
		ContractHash: "not-a-hash",
	})
	if err == nil {
		t.Fatal("expected error for invalid contract hash")
	}
}

func TestNeoConfirmationStatus(t *testing.T) {
	tests := []struct {
		name string
		log  string
		want ConfirmStatus
	}{
		{
			"halted execution",
			`{"executions":[{"trigger":"Application","vmstate":"HALT"}]}`,
			ConfirmConfirmed,
		},
		{
			"faulted execution",
			`{"executions":[{"trigger":"Application","vmstate":"FAULT","exception":"assert failed"}]}`,
			ConfirmFailed,
		},
		{
			"no application trigger",
			`{"executions":[{"trigger":"Verification","vmstate":"HALT"}]}`,
			ConfirmPending,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := rpcStub(t, map[string]string{"getapplicationlog": tc.log})
			defer srv.Close()

			g := newNeoGateway(t, srv.URL)
			status, err := g.ConfirmationStatus(context.Background(), "0xtx")
			if err != nil {
				t.Fatalf("confirm: %v", err)
			}
			if status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, status)
			}
		})
	}
}

func TestNeoConfirmationUnknownTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-100,"message":"Unknown transaction"}}`)
	}))
	defer srv.Close()

	g := newNeoGateway(t, srv.URL)
	status, err := g.ConfirmationStatus(context.Background(), "0xtx")
	if err != nil {
		t.Fatalf("unknown transaction should not be an error: %v", err)
	}
	if status != ConfirmPending {
		t.Fatalf("expected pending, got %s", status)
	}
}

func TestNeoIsProofUsed(t *testing.T) {
	srv := rpcStub(t, map[string]string{
		"invokefunction": `{"state":"HALT","stack":[{"type":"Boolean","value":true}]}`,
	})
	defer srv.Close()

	g := newNeoGateway(t, srv.URL)
	used, err := g.IsProofUsed(context.Background(), strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("isProofUsed: %v", err)
	}
	if !used {
		t.Fatal("expected proof to be reported used")
	}
}

func TestNeoIsProofUsedRejectsBadIdentity(t *testing.T) {
	g := newNeoGateway(t, "http://node.local")
	if _, err := g.IsProofUsed(context.Background(), "not-hex"); err == nil {
		t.Fatal("expected error for non-hex identity")
	}
}

func TestNeoGetRequestFee(t *testing.T) {
	srv := rpcStub(t, map[string]string{
		"invokefunction": `{"state":"HALT","stack":[{"type":"Integer","value":"2500"}]}`,
	})
	defer srv.Close()

	g := newNeoGateway(t, srv.URL)
	fee, err := g.GetRequestFee(context.Background())
	if err != nil {
		t.Fatalf("getRequestFee: %v", err)
	}
	if fee != 2500 {
		t.Fatalf("expected fee 2500, got %d", fee)
	}
}

func TestNeoInvokeFaultIsGatewayError(t *testing.T) {
	srv := rpcStub(t, map[string]string{
		"invokefunction": `{"state":"FAULT","exception":"storage read failed","stack":[]}`,
	})
	defer srv.Close()

	g := newNeoGateway(t, srv.URL)
	_, err := g.GetRequestFee(context.Background())
	gwErr, ok := err.(*GatewayError)
	if !ok {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gwErr.Op != "getRequestFee" {
		t.Fatalf("unexpected op %q", gwErr.Op)
	}
}
