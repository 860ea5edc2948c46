package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig
	Ledger    LedgerConfig
	Carriers  CarriersConfig
	Import    ImportConfig
	Reconcile ReconcileConfig
	Listener  ListenerConfig
	Notify    NotifyConfig
	Formance  FormanceConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path             string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	ConnMaxIdleTime  time.Duration
	PingTimeout      time.Duration
	BusyTimeout      time.Duration
	CreateDummyUsers bool
}

// LedgerConfig controls how balance writes are serialized per user.
type LedgerConfig struct {
	LockBackend       string // "memory" or "redis"
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	LockTTL           time.Duration
	LockRetry         time.Duration
	MaxRetries        int
	DefaultMinBalance decimal.Decimal
}

// CarriersConfig holds the carrier catalogue location and call deadlines.
type CarriersConfig struct {
	CatalogFile     string
	InitTimeout     time.Duration
	ProductsTimeout time.Duration
	LabelTimeout    time.Duration
	DefaultTimeout  time.Duration
}

// ImportConfig holds batch import settings
type ImportConfig struct {
	BufferSize  int
	OrderPrefix string
	IdLeaseStep int
	NodeId      int64
}

// ReconcileConfig holds settlement file processing settings
type ReconcileConfig struct {
	HeaderSentinel string
	Currency       string
}

// ListenerConfig holds settlement inbox listener settings
type ListenerConfig struct {
	InboxDir        string
	PollingInterval time.Duration
	CleanupInterval time.Duration
	MetricsAddr     string
}

// NotifyConfig holds outbound email settings. An empty SMTPHost logs
// notifications instead of sending them.
type NotifyConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
}

// FormanceConfig holds the optional Formance ledger mirror settings.
// The mirror is disabled when StackURL is empty.
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}
