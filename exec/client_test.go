package exec

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gapscanner/types"
)

// well-known test key, never funded
const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestClient_DryRunReturnsSyntheticID(t *testing.T) {
	c, err := NewClient(Config{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, err := c.PlaceOrder(context.Background(), types.Order{
		WagerID: "w-1", TokenID: "123", Direction: types.Up, Price: 0.55, Amount: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(id, "DRY_") {
		t.Fatalf("expected DRY_ id, got %q", id)
	}
}

func TestClient_RejectsInvalidOrders(t *testing.T) {
	c, _ := NewClient(Config{DryRun: true})
	if _, err := c.PlaceOrder(context.Background(), types.Order{Price: 1.2, Amount: decimal.NewFromInt(1)}); err == nil {
		t.Fatalf("expected price error")
	}
	if _, err := c.PlaceOrder(context.Background(), types.Order{Price: 0.5, Amount: decimal.Zero}); err == nil {
		t.Fatalf("expected amount error")
	}
}

func TestClient_LiveRequiresKey(t *testing.T) {
	if _, err := NewClient(Config{DryRun: false}); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
	if _, err := NewClient(Config{DryRun: true, PrivateKey: "zz"}); err == nil {
		t.Fatalf("expected invalid key error")
	}
}

func TestClient_LiveOrderSigned(t *testing.T) {
	var got map[string]interface{}
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"orderID":"0xabc","status":"matched"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, PrivateKey: "0x" + testKey, APIKey: "k", APISecret: "c2VjcmV0", Passphrase: "p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, err := c.PlaceOrder(context.Background(), types.Order{
		WagerID: "w-2", TokenID: "tok", Direction: types.Down, Price: 0.40, Amount: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "0xabc" {
		t.Fatalf("expected order id, got %q", id)
	}
	if got["size"] != "25" || got["side"] != "BUY" || got["tokenID"] != "tok" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if headers.Get("POLY_SIGNATURE") == "" || headers.Get("POLY_API_KEY") != "k" {
		t.Fatalf("expected L2 auth headers, got %+v", headers)
	}

	sig, err := hexutil.Decode(got["signature"].(string))
	if err != nil || len(sig) != crypto.SignatureLength {
		t.Fatalf("expected 65-byte signature, got %d (%v)", len(sig), err)
	}
	if c.Address() == "" {
		t.Fatalf("expected wallet address")
	}
}

func TestClient_GetBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"balance":"123.45"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL, DryRun: true})
	b, err := c.GetBalance(context.Background())
	if err != nil || !b.Equal(decimal.NewFromFloat(123.45)) {
		t.Fatalf("expected 123.45, got %s (%v)", b, err)
	}
}
