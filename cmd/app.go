package cmd

import (
	"database/sql"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-shiftstream/app/condition"
	"github.com/vibast-solutions/ms-go-shiftstream/app/factory"
	"github.com/vibast-solutions/ms-go-shiftstream/app/notify"
	"github.com/vibast-solutions/ms-go-shiftstream/app/provider"
	"github.com/vibast-solutions/ms-go-shiftstream/app/repository"
	"github.com/vibast-solutions/ms-go-shiftstream/app/service"
	"github.com/vibast-solutions/ms-go-shiftstream/app/wallet"
	"github.com/vibast-solutions/ms-go-shiftstream/config"
)

type application struct {
	cfg           *config.Config
	settlement    *service.SettlementService
	notifications *service.NotificationService
	invoices      *service.InvoiceService
}

func mustCreateApplication() (*application, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	linkRepo := repository.NewLinkRepository(db)
	txRepo := repository.NewTransactionRepository(db)
	eventRepo := repository.NewLinkEventRepository(db)
	callbackRepo := repository.NewProviderCallbackRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	subscriptionRepo := repository.NewWebhookSubscriptionRepository(db)
	deliveryRepo := repository.NewWebhookDeliveryRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)

	swapProvider := provider.NewSideShiftProvider(provider.SideShiftConfig{
		BaseURL:       cfg.SideShift.BaseURL,
		Secret:        cfg.SideShift.Secret,
		AffiliateID:   cfg.SideShift.AffiliateID,
		WebhookSecret: cfg.SideShift.WebhookSecret,
		HTTPTimeout:   cfg.SideShift.HTTPTimeout,
	})

	settlementWallet := wallet.NewHTTPWallet(wallet.Config{
		BaseURL:     cfg.Wallet.BaseURL,
		APIKey:      cfg.Wallet.APIKey,
		Token:       cfg.Wallet.Token,
		HTTPTimeout: cfg.Wallet.HTTPTimeout,
	})

	conditions := condition.NewRegistry(
		condition.NewDeliveryChecker(newShipmentTracker(cfg.Delivery)),
		condition.NewManualChecker(),
		condition.NewTimeChecker(),
	)

	notificationService := service.NewNotificationService(
		notificationRepo,
		subscriptionRepo,
		deliveryRepo,
		linkRepo,
		notify.NewWebhookSender(cfg.Notifications.HTTPTimeout),
		newMailer(cfg),
		cfg.Notifications,
	)

	invoiceService := service.NewInvoiceService(invoiceRepo, linkRepo)

	settlementService := service.NewSettlementService(
		linkRepo,
		txRepo,
		eventRepo,
		callbackRepo,
		swapProvider,
		settlementWallet,
		conditions,
		notificationService,
		invoiceService,
		cfg.Settlement,
	)

	cleanup := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return &application{
		cfg:           cfg,
		settlement:    settlementService,
		notifications: notificationService,
		invoices:      invoiceService,
	}, cleanup
}

func newShipmentTracker(cfg config.DeliveryConfig) condition.ShipmentTracker {
	if strings.EqualFold(strings.TrimSpace(cfg.Tracker), "http") {
		return condition.NewHTTPTracker(condition.HTTPTrackerConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			HTTPTimeout: cfg.HTTPTimeout,
		})
	}
	return condition.NewPrefixTracker()
}

func newMailer(cfg *config.Config) notify.Mailer {
	if strings.TrimSpace(cfg.Email.BaseURL) == "" || strings.TrimSpace(cfg.Email.APIKey) == "" {
		return notify.NewLogMailer(factory.NewModuleLogger("mailer"))
	}
	return notify.NewHTTPMailer(notify.HTTPMailerConfig{
		BaseURL:     cfg.Email.BaseURL,
		APIKey:      cfg.Email.APIKey,
		From:        cfg.Email.From,
		HTTPTimeout: cfg.Notifications.HTTPTimeout,
	})
}
