package types

import (
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
)

const sideShiftSignatureHeader = "X-Sideshift-Signature"

func NewCreateWebhookSubscriptionRequestFromContext(ctx echo.Context) (*CreateWebhookSubscriptionRequest, error) {
	var body CreateWebhookSubscriptionRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Owner = strings.ToLower(strings.TrimSpace(body.Owner))
	body.Url = strings.TrimSpace(body.Url)
	body.Events = normalizeEvents(body.Events)
	return &body, nil
}

func (r *CreateWebhookSubscriptionRequest) Validate() error {
	if r.GetOwner() == "" {
		return errors.New("owner is required")
	}
	if err := validateWebhookURL(r.GetUrl()); err != nil {
		return err
	}
	if len(r.GetEvents()) == 0 {
		return errors.New("events are required")
	}
	return validateEvents(r.GetEvents())
}

func NewListWebhookSubscriptionsRequestFromContext(ctx echo.Context) (*ListWebhookSubscriptionsRequest, error) {
	return &ListWebhookSubscriptionsRequest{Owner: strings.ToLower(strings.TrimSpace(ctx.QueryParam("owner")))}, nil
}

func (r *ListWebhookSubscriptionsRequest) Validate() error {
	if r.GetOwner() == "" {
		return errors.New("owner is required")
	}
	return nil
}

func NewUpdateWebhookSubscriptionRequestFromContext(ctx echo.Context) (*UpdateWebhookSubscriptionRequest, error) {
	var body UpdateWebhookSubscriptionRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Id = strings.TrimSpace(ctx.Param("id"))
	body.Owner = strings.ToLower(strings.TrimSpace(body.Owner))
	if body.Url != nil {
		trimmed := strings.TrimSpace(*body.Url)
		body.Url = &trimmed
	}
	if body.Events != nil {
		body.Events = normalizeEvents(body.Events)
	}
	return &body, nil
}

func (r *UpdateWebhookSubscriptionRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid subscription id")
	}
	if r.GetOwner() == "" {
		return errors.New("owner is required")
	}
	if r.GetUrl() != nil {
		if err := validateWebhookURL(*r.GetUrl()); err != nil {
			return err
		}
	}
	if r.Events != nil {
		if len(r.GetEvents()) == 0 {
			return errors.New("events cannot be empty")
		}
		if err := validateEvents(r.GetEvents()); err != nil {
			return err
		}
	}
	return nil
}

func NewDeleteWebhookSubscriptionRequestFromContext(ctx echo.Context) (*DeleteWebhookSubscriptionRequest, error) {
	return &DeleteWebhookSubscriptionRequest{
		Id:    strings.TrimSpace(ctx.Param("id")),
		Owner: strings.ToLower(strings.TrimSpace(ctx.QueryParam("owner"))),
	}, nil
}

func (r *DeleteWebhookSubscriptionRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid subscription id")
	}
	if r.GetOwner() == "" {
		return errors.New("owner is required")
	}
	return nil
}

func NewHandleSwapWebhookRequestFromContext(ctx echo.Context, provider string) (*HandleSwapWebhookRequest, error) {
	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	return &HandleSwapWebhookRequest{
		RequestId: strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID)),
		Provider:  provider,
		Signature: strings.TrimSpace(ctx.Request().Header.Get(sideShiftSignatureHeader)),
		Payload:   string(rawBody),
	}, nil
}

func (r *HandleSwapWebhookRequest) Validate() error {
	if strings.TrimSpace(r.GetProvider()) == "" {
		return errors.New("provider is required")
	}
	if strings.TrimSpace(r.GetPayload()) == "" {
		return errors.New("payload is required")
	}
	return nil
}

func validateWebhookURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return errors.New("url must be an absolute http(s) URL")
	}
	return nil
}

func validateEvents(events []string) error {
	for _, event := range events {
		if !isKnownEvent(event) {
			return errors.New("unknown event: " + event)
		}
	}
	return nil
}

func isKnownEvent(event string) bool {
	for _, known := range entity.WebhookEvents {
		if known == event {
			return true
		}
	}
	return false
}

func normalizeEvents(events []string) []string {
	result := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, event := range events {
		event = strings.ToLower(strings.TrimSpace(event))
		if event == "" {
			continue
		}
		if _, ok := seen[event]; ok {
			continue
		}
		seen[event] = struct{}{}
		result = append(result, event)
	}
	return result
}
