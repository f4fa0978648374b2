package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	MySQL             MySQLConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	SideShift         SideShiftConfig
	Wallet            WalletConfig
	Delivery          DeliveryConfig
	Email             EmailConfig
	Settlement        SettlementConfig
	Notifications     NotificationsConfig
	Jobs              JobsConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

type SideShiftConfig struct {
	BaseURL       string
	Secret        string
	AffiliateID   string
	WebhookSecret string
	HTTPTimeout   time.Duration
}

type WalletConfig struct {
	BaseURL     string
	APIKey      string
	Token       string
	HTTPTimeout time.Duration
}

type DeliveryConfig struct {
	Tracker     string
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
}

type EmailConfig struct {
	BaseURL string
	APIKey  string
	From    string
}

type SettlementConfig struct {
	SettleCoin            string
	SettleNetwork         string
	StatusFetchTimeout    time.Duration
	TransferTimeout       time.Duration
	ReleaseLeaseTTL       time.Duration
	AlertAttemptThreshold int32
	AutoEscrowEvaluation  bool
	SplitConcurrency      int
	PollStaleAfter        time.Duration
	PollConcurrency       int
	JobBatchSize          int32
}

type NotificationsConfig struct {
	MaxAttempts   int32
	RetryInterval time.Duration
	HTTPTimeout   time.Duration
	DashboardURL  string
}

type JobsConfig struct {
	PollInterval                 time.Duration
	NotificationDispatchInterval time.Duration
	AlertScanInterval            time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "shiftstream-service"),
			APIKey:      getEnv("APP_API_KEY", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		SideShift: SideShiftConfig{
			BaseURL:       getEnv("SIDESHIFT_BASE_URL", "https://sideshift.ai/api/v2"),
			Secret:        getEnv("SIDESHIFT_SECRET", ""),
			AffiliateID:   getEnv("SIDESHIFT_AFFILIATE_ID", ""),
			WebhookSecret: getEnv("SIDESHIFT_WEBHOOK_SECRET", ""),
			HTTPTimeout:   getSecondsEnv("SIDESHIFT_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Wallet: WalletConfig{
			BaseURL:     getEnv("WALLET_BASE_URL", ""),
			APIKey:      getEnv("WALLET_API_KEY", ""),
			Token:       getEnv("WALLET_TOKEN", "usdc"),
			HTTPTimeout: getSecondsEnv("WALLET_HTTP_TIMEOUT_SECONDS", 30*time.Second),
		},
		Delivery: DeliveryConfig{
			Tracker:     strings.ToLower(getEnv("DELIVERY_TRACKER", "prefix")),
			BaseURL:     getEnv("DELIVERY_TRACKER_BASE_URL", ""),
			APIKey:      getEnv("DELIVERY_TRACKER_API_KEY", ""),
			HTTPTimeout: getSecondsEnv("DELIVERY_TRACKER_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Email: EmailConfig{
			BaseURL: getEnv("EMAIL_API_BASE_URL", "https://api.resend.com"),
			APIKey:  getEnv("EMAIL_API_KEY", ""),
			From:    getEnv("EMAIL_FROM", "ShiftStream <notifications@shiftstream.app>"),
		},
		Settlement: SettlementConfig{
			SettleCoin:            getEnv("SETTLEMENT_SETTLE_COIN", "USDC"),
			SettleNetwork:         getEnv("SETTLEMENT_SETTLE_NETWORK", "base"),
			StatusFetchTimeout:    getSecondsEnv("SETTLEMENT_STATUS_FETCH_TIMEOUT_SECONDS", 10*time.Second),
			TransferTimeout:       getSecondsEnv("SETTLEMENT_TRANSFER_TIMEOUT_SECONDS", 30*time.Second),
			ReleaseLeaseTTL:       getMinutesEnv("SETTLEMENT_RELEASE_LEASE_MINUTES", 5*time.Minute),
			AlertAttemptThreshold: int32(getIntEnv("SETTLEMENT_ALERT_ATTEMPT_THRESHOLD", 3)),
			AutoEscrowEvaluation:  getBoolEnv("SETTLEMENT_AUTO_ESCROW_EVALUATION", true),
			SplitConcurrency:      getIntEnv("SETTLEMENT_SPLIT_CONCURRENCY", 4),
			PollStaleAfter:        getSecondsEnv("SETTLEMENT_POLL_STALE_AFTER_SECONDS", 30*time.Second),
			PollConcurrency:       getIntEnv("SETTLEMENT_POLL_CONCURRENCY", 8),
			JobBatchSize:          int32(getIntEnv("SETTLEMENT_JOB_BATCH_SIZE", 100)),
		},
		Notifications: NotificationsConfig{
			MaxAttempts:   int32(getIntEnv("NOTIFICATIONS_MAX_ATTEMPTS", 10)),
			RetryInterval: getMinutesEnv("NOTIFICATIONS_RETRY_INTERVAL_MINUTES", 5*time.Minute),
			HTTPTimeout:   getSecondsEnv("NOTIFICATIONS_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			DashboardURL:  getEnv("NOTIFICATIONS_DASHBOARD_URL", "https://shiftstream.vercel.app/dashboard"),
		},
		Jobs: JobsConfig{
			PollInterval:                 getSecondsEnv("JOBS_POLL_INTERVAL_SECONDS", 30*time.Second),
			NotificationDispatchInterval: getMinutesEnv("JOBS_NOTIFICATION_DISPATCH_INTERVAL_MINUTES", time.Minute),
			AlertScanInterval:            getMinutesEnv("JOBS_ALERT_SCAN_INTERVAL_MINUTES", 10*time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
