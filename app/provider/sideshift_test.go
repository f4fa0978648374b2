package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerifySideShiftSignature(t *testing.T) {
	payload := []byte(`{"id":"shift_1","status":"settled"}`)
	secret := "whsec_test"

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	sig := hex.EncodeToString(mac.Sum(nil))

	if !verifySideShiftSignature(payload, sig, secret) {
		t.Fatal("expected signature to validate")
	}
	if !verifySideShiftSignature(payload, "sha256="+sig, secret) {
		t.Fatal("expected prefixed signature to validate")
	}
	if verifySideShiftSignature(payload, sig, "wrong-secret") {
		t.Fatal("expected signature with wrong secret to fail")
	}
	if verifySideShiftSignature(payload, "", secret) {
		t.Fatal("expected empty signature to fail")
	}
}

func TestSideShiftCreateOrder(t *testing.T) {
	var received sideShiftCreateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/shifts/variable" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-sideshift-secret") != "secret" {
			t.Fatalf("missing secret header")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"shift_1","status":"waiting","depositAddress":"bc1qdeposit","depositMin":"0.0001","depositMax":"1.5"}`))
	}))
	defer server.Close()

	p := NewSideShiftProvider(SideShiftConfig{BaseURL: server.URL, Secret: "secret", AffiliateID: "aff"})
	order, err := p.CreateOrder(context.Background(), &CreateOrderInput{
		Deposit:       Asset{Coin: "BTC", Network: "bitcoin"},
		Settle:        Asset{Coin: "USDC", Network: "base"},
		SettleAddress: "0xcustody",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.ID != "shift_1" || order.DepositAddress != "bc1qdeposit" || order.Status != StatusWaiting {
		t.Fatalf("unexpected order: %+v", order)
	}
	if !order.DepositMin.Valid || order.DepositMin.Decimal.String() != "0.0001" {
		t.Fatalf("unexpected deposit min: %+v", order.DepositMin)
	}
	if received.AffiliateID != "aff" || received.SettleCoin != "USDC" || received.SettleNetwork != "base" {
		t.Fatalf("unexpected request body: %+v", received)
	}
}

func TestSideShiftCreateOrderRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid settle address"}}`))
	}))
	defer server.Close()

	p := NewSideShiftProvider(SideShiftConfig{BaseURL: server.URL})
	_, err := p.CreateOrder(context.Background(), &CreateOrderInput{
		Deposit:       Asset{Coin: "BTC", Network: "bitcoin"},
		Settle:        Asset{Coin: "USDC", Network: "base"},
		SettleAddress: "bad",
	})
	if !errors.Is(err, ErrOrderCreation) {
		t.Fatalf("expected ErrOrderCreation, got %v", err)
	}
}

func TestSideShiftGetOrderClassifiesErrors(t *testing.T) {
	status := http.StatusNotFound
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
	}))
	defer server.Close()

	p := NewSideShiftProvider(SideShiftConfig{BaseURL: server.URL})
	if _, err := p.GetOrder(context.Background(), "shift_1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	status = http.StatusBadGateway
	if _, err := p.GetOrder(context.Background(), "shift_1"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestSideShiftGetOrderParsesAmounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shifts/shift_9" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":"shift_9","status":"Settled","depositAmount":"0.01","settleAmount":"612.55","depositHash":"0xdep","settleHash":""}`))
	}))
	defer server.Close()

	p := NewSideShiftProvider(SideShiftConfig{BaseURL: server.URL})
	order, err := p.GetOrder(context.Background(), "shift_9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != StatusSettled {
		t.Fatalf("expected normalized status, got %s", order.Status)
	}
	if order.SettleAmount.Decimal.String() != "612.55" {
		t.Fatalf("unexpected settle amount: %s", order.SettleAmount.Decimal)
	}
	if order.DepositHash == nil || *order.DepositHash != "0xdep" {
		t.Fatalf("unexpected deposit hash: %v", order.DepositHash)
	}
	if order.SettleHash != nil {
		t.Fatalf("expected empty settle hash to be nil")
	}
}

func TestSideShiftGetPair(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pair/eth-ethereum/usdc-base" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"min":"0.005","max":"12","rate":"2450.1"}`))
	}))
	defer server.Close()

	p := NewSideShiftProvider(SideShiftConfig{BaseURL: server.URL})
	pair, err := p.GetPair(context.Background(), Asset{Coin: "ETH", Network: "ethereum"}, Asset{Coin: "USDC", Network: "base"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pair.Rate.String() != "2450.1" || pair.Min.String() != "0.005" {
		t.Fatalf("unexpected pair: %+v", pair)
	}
}

func TestSideShiftParseWebhook(t *testing.T) {
	p := NewSideShiftProvider(SideShiftConfig{})

	notification, err := p.ParseWebhook([]byte(`{"id":"shift_1","status":"SETTLED","settleAmount":100}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notification.OrderID != "shift_1" || notification.Status != StatusSettled {
		t.Fatalf("unexpected notification: %+v", notification)
	}
	if !notification.SettleAmount.Valid || notification.SettleAmount.Decimal.String() != "100" {
		t.Fatalf("unexpected settle amount: %+v", notification.SettleAmount)
	}
	if notification.DepositAmount.Valid {
		t.Fatal("expected deposit amount to be absent")
	}

	if _, err := p.ParseWebhook([]byte(`{"status":"settled"}`), ""); !errors.Is(err, ErrInvalidWebhook) {
		t.Fatalf("expected ErrInvalidWebhook, got %v", err)
	}
}

func TestSideShiftParseWebhookRequiresSignature(t *testing.T) {
	p := NewSideShiftProvider(SideShiftConfig{WebhookSecret: "hook"})
	payload := []byte(`{"id":"shift_1","status":"settled"}`)

	if _, err := p.ParseWebhook(payload, "deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	mac := hmac.New(sha256.New, []byte("hook"))
	_, _ = mac.Write(payload)
	if _, err := p.ParseWebhook(payload, hex.EncodeToString(mac.Sum(nil))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
