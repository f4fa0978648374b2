package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-shiftstream/app/entity"
	"github.com/vibast-solutions/ms-go-shiftstream/app/factory"
	"github.com/vibast-solutions/ms-go-shiftstream/app/notify"
	"github.com/vibast-solutions/ms-go-shiftstream/config"
)

var emailTemplateByEvent = map[string]string{
	entity.EventLinkCreated:      notify.EmailLinkCreated,
	entity.EventPaymentReceived:  notify.EmailPaymentReceived,
	entity.EventEscrowReleased:   notify.EmailEscrowReleased,
	entity.EventSplitDistributed: notify.EmailSplitDistributed,
}

type notificationRepository interface {
	Create(ctx context.Context, n *entity.Notification) error
	Update(ctx context.Context, n *entity.Notification) error
	ListDue(ctx context.Context, now time.Time, limit int32) ([]*entity.Notification, error)
}

type webhookSubscriptionRepository interface {
	Create(ctx context.Context, sub *entity.WebhookSubscription) error
	FindByID(ctx context.Context, id string) (*entity.WebhookSubscription, error)
	ListByOwner(ctx context.Context, owner string) ([]*entity.WebhookSubscription, error)
	ListActiveByOwner(ctx context.Context, owner string) ([]*entity.WebhookSubscription, error)
	Update(ctx context.Context, sub *entity.WebhookSubscription) error
	Delete(ctx context.Context, id string) error
}

type webhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *entity.WebhookDelivery) error
	ListSucceededSubscriptionIDs(ctx context.Context, notificationID uint64) ([]string, error)
}

type linkFinder interface {
	FindByID(ctx context.Context, id string) (*entity.PaymentLink, error)
}

type webhookSender interface {
	Send(ctx context.Context, url, secret, deliveryID string, payload *notify.WebhookPayload) notify.DeliveryResult
}

// NotificationService owns the notification outbox and the owners' webhook
// subscriptions. Settlement code only enqueues; delivery happens in the
// dispatch job.
type NotificationService struct {
	notificationRepo notificationRepository
	subscriptionRepo webhookSubscriptionRepository
	deliveryRepo     webhookDeliveryRepository
	linkRepo         linkFinder
	sender           webhookSender
	mailer           notify.Mailer
	cfg              config.NotificationsConfig
	logger           logrus.FieldLogger
	now              func() time.Time
}

func NewNotificationService(
	notificationRepo notificationRepository,
	subscriptionRepo webhookSubscriptionRepository,
	deliveryRepo webhookDeliveryRepository,
	linkRepo linkFinder,
	sender webhookSender,
	mailer notify.Mailer,
	cfg config.NotificationsConfig,
) *NotificationService {
	return &NotificationService{
		notificationRepo: notificationRepo,
		subscriptionRepo: subscriptionRepo,
		deliveryRepo:     deliveryRepo,
		linkRepo:         linkRepo,
		sender:           sender,
		mailer:           mailer,
		cfg:              cfg,
		logger:           factory.NewModuleLogger("notification-service"),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue stores a pending notification for link. extra is merged over the
// link summary that every notification carries.
func (s *NotificationService) Enqueue(ctx context.Context, link *entity.PaymentLink, event string, extra map[string]interface{}) error {
	data := map[string]interface{}{
		"link_id":         link.ID,
		"kind":            string(link.Kind),
		"owner":           link.Owner,
		"status":          string(link.Status),
		"coin":            link.DepositCoin,
		"deposit_coin":    link.DepositCoin,
		"deposit_network": link.DepositNetwork,
		"deposit_address": link.DepositAddress,
		"settle_address":  link.SettleAddress,
	}
	if link.ReceivedAmount.Valid {
		data["received_amount"] = link.ReceivedAmount.Decimal.String()
	}
	if link.SettledAmount.Valid {
		data["settled_amount"] = link.SettledAmount.Decimal.String()
	}
	for key, value := range extra {
		data[key] = value
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	now := s.now()
	notification := &entity.Notification{
		LinkID:        link.ID,
		Owner:         link.Owner,
		Event:         event,
		PayloadJSON:   string(raw),
		Status:        entity.NotificationPending,
		NextAttemptAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.notificationRepo.Create(ctx, notification); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"link_id": link.ID,
			"event":   event,
		}).Warn("Failed to enqueue notification")
		return err
	}

	return nil
}

func (s *NotificationService) RunDispatchNotificationsBatch(ctx context.Context) error {
	now := s.now()
	items, err := s.notificationRepo.ListDue(ctx, now, defaultBatchSize)
	if err != nil {
		return err
	}

	var firstErr error
	for _, notification := range items {
		if notification == nil {
			continue
		}
		if err := s.dispatch(ctx, notification, now); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func (s *NotificationService) dispatch(ctx context.Context, notification *entity.Notification, now time.Time) error {
	if notification.Attempts == 0 {
		s.sendEmail(ctx, notification)
	}

	subs, err := s.subscriptionRepo.ListActiveByOwner(ctx, notification.Owner)
	if err != nil {
		return s.recordDispatchFailure(ctx, notification, now, err)
	}
	delivered, err := s.deliveryRepo.ListSucceededSubscriptionIDs(ctx, notification.ID)
	if err != nil {
		return s.recordDispatchFailure(ctx, notification, now, err)
	}
	skip := make(map[string]struct{}, len(delivered))
	for _, id := range delivered {
		skip[id] = struct{}{}
	}

	payload := &notify.WebhookPayload{
		Event:     notification.Event,
		Timestamp: notification.CreatedAt.UTC().Format(time.RFC3339),
		Data:      json.RawMessage(notification.PayloadJSON),
	}

	failures := make([]string, 0)
	for _, sub := range subs {
		if sub == nil || !sub.Subscribed(notification.Event) {
			continue
		}
		if _, ok := skip[sub.ID]; ok {
			continue
		}

		result := s.sender.Send(ctx, sub.URL, sub.Secret, uuid.NewString(), payload)
		delivery := &entity.WebhookDelivery{
			SubscriptionID: sub.ID,
			NotificationID: notification.ID,
			Event:          notification.Event,
			Success:        result.Success,
			DurationMs:     result.Duration.Milliseconds(),
			CreatedAt:      now,
		}
		if result.StatusCode > 0 {
			code := int32(result.StatusCode)
			delivery.StatusCode = &code
		}
		if result.Err != nil {
			msg := truncate(result.Err.Error(), 1024)
			delivery.Error = &msg
		}
		if err := s.deliveryRepo.Create(ctx, delivery); err != nil {
			s.logger.WithError(err).WithField("subscription_id", sub.ID).Warn("Failed to record webhook delivery")
		}

		if !result.Success {
			failures = append(failures, fmt.Sprintf("%s: %v", sub.ID, result.Err))
		}
	}

	if len(failures) > 0 {
		sort.Strings(failures)
		return s.recordDispatchFailure(ctx, notification, now, errors.New(strings.Join(failures, "; ")))
	}

	notification.Attempts++
	notification.Status = entity.NotificationSent
	notification.NextAttemptAt = nil
	notification.LastError = nil
	notification.UpdatedAt = now

	return s.notificationRepo.Update(ctx, notification)
}

func (s *NotificationService) recordDispatchFailure(ctx context.Context, notification *entity.Notification, now time.Time, dispatchErr error) error {
	notification.Attempts++
	trimmed := truncate(dispatchErr.Error(), 1024)
	notification.LastError = &trimmed

	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	if notification.Attempts >= maxAttempts {
		notification.Status = entity.NotificationFailed
		notification.NextAttemptAt = nil
	} else {
		retryInterval := s.cfg.RetryInterval
		if retryInterval <= 0 {
			retryInterval = 5 * time.Minute
		}
		next := now.Add(retryInterval)
		notification.Status = entity.NotificationPending
		notification.NextAttemptAt = &next
	}
	notification.UpdatedAt = now

	if err := s.notificationRepo.Update(ctx, notification); err != nil {
		return err
	}

	return dispatchErr
}

// sendEmail mails the link owner when the link has a notify address and the
// event has a template. Failures are logged only.
func (s *NotificationService) sendEmail(ctx context.Context, notification *entity.Notification) {
	templateName, ok := emailTemplateByEvent[notification.Event]
	if !ok || s.mailer == nil || s.linkRepo == nil {
		return
	}

	link, err := s.linkRepo.FindByID(ctx, notification.LinkID)
	if err != nil || link == nil || link.NotifyEmail == nil || strings.TrimSpace(*link.NotifyEmail) == "" {
		return
	}

	data := emailData(notification.PayloadJSON)
	data["dashboard_url"] = s.cfg.DashboardURL

	msg, err := notify.RenderEmail(templateName, *link.NotifyEmail, data)
	if err != nil {
		s.logger.WithError(err).WithField("link_id", link.ID).Warn("Failed to render email")
		return
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"link_id": link.ID,
			"event":   notification.Event,
		}).Warn("Failed to send email notification")
	}
}

func emailData(payloadJSON string) map[string]string {
	raw := map[string]interface{}{}
	_ = json.Unmarshal([]byte(payloadJSON), &raw)

	data := make(map[string]string, len(raw)+1)
	for key, value := range raw {
		data[key] = fmt.Sprint(value)
	}
	if _, ok := data["total_amount"]; !ok {
		data["total_amount"] = data["amount"]
	}
	return data
}
