package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	ErrTransferRejected  = errors.New("transfer rejected")
	ErrAccountCreation   = errors.New("wallet account creation failed")
	ErrWalletUnavailable = errors.New("wallet service unavailable")
)

type Account struct {
	Address    string
	IsDeployed bool
	Balance    decimal.Decimal
}

// TransferError carries the wallet's reason for refusing or failing a transfer.
type TransferError struct {
	From   string
	To     string
	Amount decimal.Decimal
	Reason string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s from %s to %s failed: %s", e.Amount.String(), e.From, e.To, e.Reason)
}

func (e *TransferError) Unwrap() error {
	return ErrTransferRejected
}

type Wallet interface {
	CreateAccount(ctx context.Context, owner string) (*Account, error)
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (string, error)
}

type Config struct {
	BaseURL     string
	APIKey      string
	Token       string
	HTTPTimeout time.Duration
}

type HTTPWallet struct {
	cfg    Config
	client *http.Client
}

func NewHTTPWallet(cfg Config) *HTTPWallet {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	return &HTTPWallet{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type accountResponse struct {
	Address    string              `json:"address"`
	IsDeployed bool                `json:"isDeployed"`
	Balance    decimal.NullDecimal `json:"balance"`
}

type balanceResponse struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

type transferRequest struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Token  string          `json:"token,omitempty"`
}

type transferResponse struct {
	TransactionHash string `json:"transactionHash"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (w *HTTPWallet) CreateAccount(ctx context.Context, owner string) (*Account, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrAccountCreation)
	}

	var resp accountResponse
	status, message, err := w.do(ctx, http.MethodPost, "/accounts", map[string]string{"owner": owner}, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: status=%d message=%s", ErrAccountCreation, status, message)
	}
	if strings.TrimSpace(resp.Address) == "" {
		return nil, fmt.Errorf("%w: empty account address", ErrAccountCreation)
	}

	return &Account{
		Address:    strings.ToLower(strings.TrimSpace(resp.Address)),
		IsDeployed: resp.IsDeployed,
		Balance:    resp.Balance.Decimal,
	}, nil
}

func (w *HTTPWallet) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return decimal.Zero, errors.New("address is required")
	}

	var resp balanceResponse
	status, message, err := w.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(address)+"/balance", nil, &resp)
	if err != nil {
		return decimal.Zero, err
	}
	if status >= 400 {
		return decimal.Zero, fmt.Errorf("balance lookup failed: status=%d message=%s", status, message)
	}
	return resp.Balance, nil
}

// Transfer moves amount of the settlement token and returns the on-chain
// transaction hash. Any non-success answer is a *TransferError.
func (w *HTTPWallet) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", &TransferError{From: from, To: to, Amount: amount, Reason: "amount must be positive"}
	}

	var resp transferResponse
	status, message, err := w.do(ctx, http.MethodPost, "/transfers", transferRequest{
		From:   from,
		To:     to,
		Amount: amount,
		Token:  w.cfg.Token,
	}, &resp)
	if err != nil {
		return "", &TransferError{From: from, To: to, Amount: amount, Reason: err.Error()}
	}
	if status >= 400 {
		return "", &TransferError{From: from, To: to, Amount: amount, Reason: fmt.Sprintf("status=%d message=%s", status, message)}
	}
	if strings.TrimSpace(resp.TransactionHash) == "" {
		return "", &TransferError{From: from, To: to, Amount: amount, Reason: "missing transaction hash"}
	}

	return resp.TransactionHash, nil
}

func (w *HTTPWallet) do(ctx context.Context, method, path string, payload interface{}, target interface{}) (int, string, error) {
	if w.cfg.BaseURL == "" {
		return 0, "", fmt.Errorf("%w: base url is not configured", ErrWalletUnavailable)
	}

	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, "", err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, w.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if w.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		var payload errorResponse
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			return resp.StatusCode, payload.Error, nil
		}
		return resp.StatusCode, truncate(string(body), 512), nil
	}

	if target != nil && len(body) > 0 {
		if err := json.Unmarshal(body, target); err != nil {
			return resp.StatusCode, "", fmt.Errorf("could not parse wallet response: %v", err)
		}
	}
	return resp.StatusCode, "", nil
}

// truncate cuts value to at most limit bytes without splitting a rune.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
