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

package api

import (
	"context"
	"errors"
	"fmt"

	"label-settlement-go/internal/ledger"
	"label-settlement-go/internal/models"
	"label-settlement-go/internal/roles"

	"github.com/shopspring/decimal"
)

var ErrForbidden = errors.New("not permitted")

// Store is the read side the façade needs.
type Store interface {
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	ListBillingRecords(ctx context.Context, userId string, limit, offset int) ([]models.BillingRecord, error)
}

// BalanceMirror reads a user's balance from the external ledger.
type BalanceMirror interface {
	GetUserBalance(ctx context.Context, userId, currency string) (decimal.Decimal, error)
}

// LedgerService provides minimal API
type LedgerService struct {
	db     Store
	ledger *ledger.Service
	mirror BalanceMirror
}

// NewLedgerService builds the façade. mirror may be nil.
func NewLedgerService(db Store, l *ledger.Service, mirror BalanceMirror) *LedgerService {
	return &LedgerService{
		db:     db,
		ledger: l,
		mirror: mirror,
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	_, err := s.db.GetUsers(ctx)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// authorize lets users read their own data and support staff read anyone's.
// A context without an actor is a trusted local caller.
func authorize(ctx context.Context, userId string, required roles.Role) error {
	actor := models.ActorFrom(ctx)
	if actor.UserId == "" && actor.Role == "" {
		return nil
	}
	if actor.UserId == userId && required <= roles.Client {
		return nil
	}
	if actor.UserId != userId {
		required = max(required, roles.Support)
	}
	if roles.NameAtLeast(actor.Role, required) {
		return nil
	}
	return fmt.Errorf("%w: %s requires %s", ErrForbidden, actor.Role, required)
}
