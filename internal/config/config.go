/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"label-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	var err error
	d := func(key string, def time.Duration) time.Duration {
		if err != nil {
			return def
		}
		var v time.Duration
		v, err = getEnvDuration(key, def)
		return v
	}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Path:             getEnvString("DATABASE_PATH", "settlement.db"),
			MaxOpenConns:     getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  d("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime:  d("DB_CONN_MAX_IDLE_TIME", 30*time.Second),
			PingTimeout:      d("DB_PING_TIMEOUT", 5*time.Second),
			BusyTimeout:      d("DB_BUSY_TIMEOUT", 5*time.Second),
			CreateDummyUsers: getEnvBool("CREATE_DUMMY_USERS", false),
		},
		Ledger: models.LedgerConfig{
			LockBackend:   getEnvString("LEDGER_LOCK_BACKEND", "memory"),
			RedisAddr:     getEnvString("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnvString("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			LockTTL:       d("LEDGER_LOCK_TTL", 2*time.Minute),
			LockRetry:     d("LEDGER_LOCK_RETRY", 25*time.Millisecond),
			MaxRetries:    getEnvInt("LEDGER_MAX_RETRIES", 3),
		},
		Carriers: models.CarriersConfig{
			CatalogFile:     getEnvString("CARRIERS_FILE", "carriers.yaml"),
			InitTimeout:     d("CARRIER_INIT_TIMEOUT", 15*time.Second),
			ProductsTimeout: d("CARRIER_PRODUCTS_TIMEOUT", 20*time.Second),
			LabelTimeout:    d("CARRIER_LABEL_TIMEOUT", 45*time.Second),
			DefaultTimeout:  d("CARRIER_DEFAULT_TIMEOUT", 20*time.Second),
		},
		Import: models.ImportConfig{
			BufferSize:  getEnvInt("IMPORT_BUFFER_SIZE", 16),
			OrderPrefix: getEnvString("IMPORT_ORDER_PREFIX", "LS"),
			IdLeaseStep: getEnvInt("ID_LEASE_STEP", 50),
			NodeId:      int64(getEnvInt("NODE_ID", 1)),
		},
		Reconcile: models.ReconcileConfig{
			HeaderSentinel: getEnvString("RECONCILE_HEADER_SENTINEL", "Tracking Number"),
			Currency:       getEnvString("RECONCILE_CURRENCY", "USD"),
		},
		Listener: models.ListenerConfig{
			InboxDir:        getEnvString("SETTLEMENT_INBOX_DIR", "inbox"),
			PollingInterval: d("LISTENER_POLLING_INTERVAL", 30*time.Second),
			CleanupInterval: d("LISTENER_CLEANUP_INTERVAL", 15*time.Minute),
			MetricsAddr:     getEnvString("METRICS_ADDR", ":9090"),
		},
		Notify: models.NotifyConfig{
			SMTPHost: getEnvString("SMTP_HOST", ""),
			SMTPPort: getEnvInt("SMTP_PORT", 587),
			Username: getEnvString("SMTP_USERNAME", ""),
			Password: getEnvString("SMTP_PASSWORD", ""),
			From:     getEnvString("SMTP_FROM", "settlement@localhost"),
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "label-settlement"),
		},
	}
	if err != nil {
		return nil, err
	}

	if cfg.Ledger.DefaultMinBalance, err = getEnvDecimal("DEFAULT_MIN_BALANCE", decimal.Zero); err != nil {
		return nil, err
	}
	if cfg.Ledger.LockBackend != "memory" && cfg.Ledger.LockBackend != "redis" {
		return nil, fmt.Errorf("invalid LEDGER_LOCK_BACKEND %q: want memory or redis", cfg.Ledger.LockBackend)
	}
	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return d, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
