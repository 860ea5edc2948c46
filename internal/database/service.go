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

package database

import (
	"context"
	"database/sql"
	"fmt"

	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	busyMs := cfg.BusyTimeout.Milliseconds()
	if busyMs <= 0 {
		busyMs = 5000
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	// _txlock=immediate takes the write lock at BEGIN so read-then-write
	// transactions queue on the busy timeout instead of failing on upgrade.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=%d&_txlock=immediate", cfg.Path, busyMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.initSchema(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	if cfg.CreateDummyUsers {
		service.seedDummyUsers(ctx)
	} else {
		zap.L().Info("Skipping dummy user creation (CREATE_DUMMY_USERS=false)")
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema(ctx context.Context) error {
	schema := `
	-- Tenants and their prepaid funds. version guards every balance write.
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'client',
		balance TEXT NOT NULL DEFAULT '0',
		deposit TEXT NOT NULL DEFAULT '0',
		min_balance TEXT NOT NULL DEFAULT '0',
		currency TEXT NOT NULL DEFAULT 'USD',
		uploading BOOLEAN NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

	CREATE TABLE IF NOT EXISTS carrier_accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		carrier TEXT NOT NULL,
		account_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT 1,
		pay_offline BOOLEAN NOT NULL DEFAULT 0,
		fee TEXT NOT NULL DEFAULT '{}',
		facility TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT 'USD',
		services TEXT NOT NULL DEFAULT '[]',
		credentials TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_carrier_accounts_user ON carrier_accounts(user_id);

	CREATE TABLE IF NOT EXISTS shipments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		sender TEXT NOT NULL DEFAULT '{}',
		recipient TEXT NOT NULL DEFAULT '{}',
		return_address TEXT NOT NULL DEFAULT 'null',
		packages TEXT NOT NULL DEFAULT '[]',
		carrier TEXT NOT NULL DEFAULT '',
		service TEXT NOT NULL DEFAULT '',
		service_code TEXT NOT NULL DEFAULT '',
		carrier_account TEXT NOT NULL DEFAULT '',
		facility TEXT NOT NULL DEFAULT '',
		customs TEXT NOT NULL DEFAULT 'null',
		status TEXT NOT NULL DEFAULT 'PENDING',
		labels TEXT NOT NULL DEFAULT '[]',
		forms TEXT NOT NULL DEFAULT '[]',
		tracking_id TEXT NOT NULL DEFAULT '',
		rate TEXT NOT NULL DEFAULT 'null',
		manifested BOOLEAN NOT NULL DEFAULT 0,
		accounting_status TEXT NOT NULL DEFAULT '',
		accounting_diff TEXT NOT NULL DEFAULT '0',
		accounting_weight TEXT NOT NULL DEFAULT '0',
		accounting_weight_unit TEXT NOT NULL DEFAULT '',
		remark TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_shipments_user_status ON shipments(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_shipments_tracking ON shipments(tracking_id);

	-- Billing history. Rows are only ever amended by reconciliation and
	-- cancellation, never deleted.
	CREATE TABLE IF NOT EXISTS billing_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		account TEXT NOT NULL DEFAULT '',
		total TEXT NOT NULL DEFAULT '0',
		balance TEXT NOT NULL DEFAULT '0',
		currency TEXT NOT NULL DEFAULT 'USD',
		details TEXT NOT NULL DEFAULT 'null',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		accounting_status TEXT NOT NULL DEFAULT '',
		accounting_diff TEXT NOT NULL DEFAULT '0',
		accounting_weight TEXT NOT NULL DEFAULT '0',
		accounting_weight_unit TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_billing_user_description ON billing_records(user_id, description);
	CREATE INDEX IF NOT EXISTS idx_billing_user_created ON billing_records(user_id, created_at);

	CREATE TABLE IF NOT EXISTS reconciliation_records (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		date TIMESTAMP NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS accounting_items (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		tracking_number TEXT NOT NULL,
		status TEXT NOT NULL,
		weight TEXT NOT NULL DEFAULT '0',
		weight_unit TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL DEFAULT '0',
		original_total TEXT NOT NULL DEFAULT '0',
		new_total TEXT NOT NULL DEFAULT '0',
		diff TEXT NOT NULL DEFAULT '0',
		zone TEXT NOT NULL DEFAULT '',
		document_name TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		account TEXT NOT NULL DEFAULT '',
		remark TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(tracking_number, record_id)
	);

	CREATE INDEX IF NOT EXISTS idx_accounting_items_record ON accounting_items(record_id);

	-- Leased id sequences (order numbers and the like).
	CREATE TABLE IF NOT EXISTS sequences (
		namespace TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// seedDummyUsers inserts three funded demo users for local testing.
func (s *Service) seedDummyUsers(ctx context.Context) {
	users := []struct {
		name    string
		email   string
		role    string
		balance string
	}{
		{"Alice Johnson", "alice.johnson@example.com", "admin", "500.00"},
		{"Bob Smith", "bob.smith@example.com", "client", "100.00"},
		{"Carol Williams", "carol.williams@example.com", "client", "0"},
	}

	for _, u := range users {
		id := uuid.New().String()
		bal := decimal.RequireFromString(u.balance)
		res, err := s.db.ExecContext(ctx, queryInsertSeedUser, id, u.name, u.email, u.role, "0", "0")
		if err != nil {
			zap.L().Error("Failed to insert dummy user", zap.String("name", u.name), zap.Error(err))
			continue
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		if bal.IsPositive() {
			// Opening balance goes through a billing record so history adds up.
			_, err = s.ApplyBalanceDelta(ctx, store.BalanceDeltaParams{
				UserId:       id,
				TotalDelta:   bal,
				DepositDelta: bal,
				Entry:        &models.BillingRecord{Type: models.BillingTypeDeposit, Description: "opening balance", Total: bal, Currency: "USD"},
			})
			if err != nil {
				zap.L().Error("Failed to fund dummy user", zap.String("name", u.name), zap.Error(err))
			}
		}
		zap.L().Info("Dummy user created", zap.String("id", id), zap.String("name", u.name))
	}
}
