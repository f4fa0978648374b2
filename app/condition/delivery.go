package condition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

const (
	ShipmentDelivered = "delivered"
	ShipmentInTransit = "in_transit"
	ShipmentNotFound  = "not_found"
	ShipmentException = "exception"
	ShipmentPending   = "pending"
)

var ErrTrackerUnavailable = errors.New("shipment tracker unavailable")

type ShipmentStatus struct {
	TrackingNumber string
	Status         string
	Location       string
}

type ShipmentTracker interface {
	Track(ctx context.Context, trackingNumber string) (*ShipmentStatus, error)
}

type DeliveryChecker struct {
	tracker ShipmentTracker
}

func NewDeliveryChecker(tracker ShipmentTracker) *DeliveryChecker {
	return &DeliveryChecker{tracker: tracker}
}

func (c *DeliveryChecker) Type() string {
	return entity.ConditionTypeDelivery
}

func (c *DeliveryChecker) Check(ctx context.Context, link *entity.PaymentLink, _ time.Time) (Result, error) {
	trackingNumber := strings.TrimSpace(link.EscrowCondition.TrackingNumber)
	if trackingNumber == "" {
		return Result{
			Detail:   "tracking number is not set",
			Guidance: "delivery escrow requires a tracking number",
		}, nil
	}

	shipment, err := c.tracker.Track(ctx, trackingNumber)
	if err != nil {
		return Result{}, err
	}

	switch shipment.Status {
	case ShipmentDelivered:
		return Result{Met: true, Detail: fmt.Sprintf("shipment %s delivered", trackingNumber)}, nil
	case ShipmentInTransit:
		detail := fmt.Sprintf("shipment %s is in transit", trackingNumber)
		if shipment.Location != "" {
			detail += " at " + shipment.Location
		}
		return Result{
			Detail:   detail,
			Guidance: "wait for the carrier to confirm delivery",
		}, nil
	case ShipmentNotFound:
		return Result{
			Detail:   fmt.Sprintf("shipment %s was not found", trackingNumber),
			Guidance: "check the tracking number with the carrier",
		}, nil
	default:
		return Result{
			Detail:   fmt.Sprintf("shipment %s status is %s", trackingNumber, shipment.Status),
			Guidance: "wait for the carrier to confirm delivery",
		}, nil
	}
}

// PrefixTracker is a deterministic tracker for demos and tests: numbers
// starting with WIN are delivered, SHIP are in transit, anything else is
// unknown.
type PrefixTracker struct{}

func NewPrefixTracker() *PrefixTracker {
	return &PrefixTracker{}
}

func (t *PrefixTracker) Track(_ context.Context, trackingNumber string) (*ShipmentStatus, error) {
	upper := strings.ToUpper(strings.TrimSpace(trackingNumber))
	status := ShipmentNotFound
	switch {
	case strings.HasPrefix(upper, "WIN"):
		status = ShipmentDelivered
	case strings.HasPrefix(upper, "SHIP"):
		status = ShipmentInTransit
	}
	return &ShipmentStatus{TrackingNumber: trackingNumber, Status: status}, nil
}

type HTTPTrackerConfig struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
}

// HTTPTracker queries a carrier aggregation API at GET {base}/trackings/{number}.
type HTTPTracker struct {
	cfg    HTTPTrackerConfig
	client *http.Client
}

func NewHTTPTracker(cfg HTTPTrackerConfig) *HTTPTracker {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &HTTPTracker{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTracker) Track(ctx context.Context, trackingNumber string) (*ShipmentStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.BaseURL+"/trackings/"+url.PathEscape(trackingNumber), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &ShipmentStatus{TrackingNumber: trackingNumber, Status: ShipmentNotFound}, nil
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrTrackerUnavailable, resp.StatusCode, string(body))
	}

	var payload struct {
		Status   string `json:"status"`
		Location string `json:"location"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("could not parse tracker response: %w", err)
	}

	return &ShipmentStatus{
		TrackingNumber: trackingNumber,
		Status:         normalizeShipmentStatus(payload.Status),
		Location:       payload.Location,
	}, nil
}

func normalizeShipmentStatus(status string) string {
	normalized := strings.ToLower(strings.TrimSpace(status))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch normalized {
	case "intransit", "out_for_delivery":
		return ShipmentInTransit
	case "":
		return ShipmentPending
	}
	return normalized
}
