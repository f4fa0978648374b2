package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideShiftName           = "sideshift"
	defaultSideShiftBaseURL = "https://sideshift.ai/api/v2"
)

type SideShiftConfig struct {
	BaseURL       string
	Secret        string
	AffiliateID   string
	WebhookSecret string
	HTTPTimeout   time.Duration
}

type SideShiftProvider struct {
	cfg    SideShiftConfig
	client *http.Client
}

func NewSideShiftProvider(cfg SideShiftConfig) *SideShiftProvider {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSideShiftBaseURL
	}

	return &SideShiftProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *SideShiftProvider) Name() string {
	return SideShiftName
}

type sideShiftCreateRequest struct {
	SettleAddress  string `json:"settleAddress"`
	AffiliateID    string `json:"affiliateId,omitempty"`
	DepositCoin    string `json:"depositCoin"`
	DepositNetwork string `json:"depositNetwork"`
	SettleCoin     string `json:"settleCoin"`
	SettleNetwork  string `json:"settleNetwork"`
	RefundAddress  string `json:"refundAddress,omitempty"`
}

type sideShiftShift struct {
	ID             string              `json:"id"`
	Status         string              `json:"status"`
	DepositAddress string              `json:"depositAddress"`
	DepositMin     decimal.NullDecimal `json:"depositMin"`
	DepositMax     decimal.NullDecimal `json:"depositMax"`
	DepositAmount  decimal.NullDecimal `json:"depositAmount"`
	SettleAmount   decimal.NullDecimal `json:"settleAmount"`
	DepositHash    string              `json:"depositHash"`
	SettleHash     string              `json:"settleHash"`
}

type sideShiftPair struct {
	Min  decimal.Decimal `json:"min"`
	Max  decimal.Decimal `json:"max"`
	Rate decimal.Decimal `json:"rate"`
}

type sideShiftError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *SideShiftProvider) CreateOrder(ctx context.Context, input *CreateOrderInput) (*Order, error) {
	if input == nil || strings.TrimSpace(input.SettleAddress) == "" {
		return nil, fmt.Errorf("%w: settle address is required", ErrOrderCreation)
	}

	body := sideShiftCreateRequest{
		SettleAddress:  input.SettleAddress,
		AffiliateID:    p.cfg.AffiliateID,
		DepositCoin:    input.Deposit.Coin,
		DepositNetwork: input.Deposit.Network,
		SettleCoin:     input.Settle.Coin,
		SettleNetwork:  input.Settle.Network,
		RefundAddress:  input.RefundAddress,
	}

	shift, err := doSideShiftRequest[sideShiftShift](ctx, p, http.MethodPost, "/shifts/variable", body)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrOrderCreation, err)
	}
	if strings.TrimSpace(shift.ID) == "" || strings.TrimSpace(shift.DepositAddress) == "" {
		return nil, fmt.Errorf("%w: incomplete shift response", ErrOrderCreation)
	}

	return shift.toOrder(), nil
}

func (p *SideShiftProvider) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, ErrOrderNotFound
	}

	shift, err := doSideShiftRequest[sideShiftShift](ctx, p, http.MethodGet, "/shifts/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}
	return shift.toOrder(), nil
}

func (p *SideShiftProvider) GetPair(ctx context.Context, deposit, settle Asset) (*Pair, error) {
	path := "/pair/" + url.PathEscape(deposit.String()) + "/" + url.PathEscape(settle.String())
	pair, err := doSideShiftRequest[sideShiftPair](ctx, p, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return &Pair{
		Deposit: deposit,
		Settle:  settle,
		Min:     pair.Min,
		Max:     pair.Max,
		Rate:    pair.Rate,
	}, nil
}

// ParseWebhook decodes a shift status notification. When a webhook secret is
// configured the signature must be the hex HMAC-SHA256 of the raw payload.
func (p *SideShiftProvider) ParseWebhook(payload []byte, signature string) (*WebhookNotification, error) {
	if secret := strings.TrimSpace(p.cfg.WebhookSecret); secret != "" {
		if !verifySideShiftSignature(payload, signature, secret) {
			return nil, ErrInvalidSignature
		}
	}

	var body struct {
		ID            string              `json:"id"`
		Status        string              `json:"status"`
		DepositAmount decimal.NullDecimal `json:"depositAmount"`
		SettleAmount  decimal.NullDecimal `json:"settleAmount"`
		SettleAddress string              `json:"settleAddress"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if strings.TrimSpace(body.ID) == "" || strings.TrimSpace(body.Status) == "" {
		return nil, fmt.Errorf("%w: id and status are required", ErrInvalidWebhook)
	}

	return &WebhookNotification{
		OrderID:       strings.TrimSpace(body.ID),
		Status:        NormalizeStatus(body.Status),
		DepositAmount: body.DepositAmount,
		SettleAmount:  body.SettleAmount,
		SettleAddress: strings.TrimSpace(body.SettleAddress),
	}, nil
}

func (s *sideShiftShift) toOrder() *Order {
	return &Order{
		ID:             strings.TrimSpace(s.ID),
		Status:         NormalizeStatus(s.Status),
		DepositAddress: strings.TrimSpace(s.DepositAddress),
		DepositMin:     s.DepositMin,
		DepositMax:     s.DepositMax,
		DepositAmount:  s.DepositAmount,
		SettleAmount:   s.SettleAmount,
		DepositHash:    optionalString(s.DepositHash),
		SettleHash:     optionalString(s.SettleHash),
	}
}

func doSideShiftRequest[T any](ctx context.Context, p *SideShiftProvider, method, path string, payload interface{}) (*T, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.cfg.Secret != "" {
		req.Header.Set("x-sideshift-secret", p.cfg.Secret)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, sideShiftErrorMessage(body))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrProviderUnavailable, resp.StatusCode, sideShiftErrorMessage(body))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("sideshift request failed: status=%d message=%s", resp.StatusCode, sideShiftErrorMessage(body))
	}

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("could not parse sideshift response with status %d: %v", resp.StatusCode, err)
	}
	return &result, nil
}

func sideShiftErrorMessage(body []byte) string {
	var payload sideShiftError
	if json.Unmarshal(body, &payload) == nil && strings.TrimSpace(payload.Error.Message) != "" {
		return payload.Error.Message
	}
	if len(body) > 512 {
		return string(body[:512])
	}
	return string(body)
}

func verifySideShiftSignature(payload []byte, signature, secret string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return false
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

func optionalString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
