package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	HeaderSignature = "X-ShiftStream-Signature"
	HeaderEvent     = "X-ShiftStream-Event"
	HeaderTimestamp = "X-ShiftStream-Timestamp"
	HeaderDelivery  = "X-ShiftStream-Delivery"
)

// WebhookPayload is the JSON body posted to subscriber endpoints.
type WebhookPayload struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type DeliveryResult struct {
	StatusCode int
	Success    bool
	Err        error
	Duration   time.Duration
}

// Sign returns the signature header value for body: sha256=<hex hmac>.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header produced by Sign.
func Verify(body []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

type WebhookSender struct {
	client *http.Client
}

func NewWebhookSender(timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSender) Send(ctx context.Context, url, secret, deliveryID string, payload *WebhookPayload) DeliveryResult {
	started := time.Now()

	body, err := json.Marshal(payload)
	if err != nil {
		return DeliveryResult{Err: err, Duration: time.Since(started)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return DeliveryResult{Err: err, Duration: time.Since(started)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(body, secret))
	req.Header.Set(HeaderEvent, payload.Event)
	req.Header.Set(HeaderTimestamp, payload.Timestamp)
	req.Header.Set(HeaderDelivery, deliveryID)

	resp, err := s.client.Do(req)
	if err != nil {
		return DeliveryResult{Err: err, Duration: time.Since(started)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	result := DeliveryResult{
		StatusCode: resp.StatusCode,
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		Duration:   time.Since(started),
	}
	if !result.Success {
		result.Err = fmt.Errorf("endpoint responded with status %d", resp.StatusCode)
	}
	return result
}
