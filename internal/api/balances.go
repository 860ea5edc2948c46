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

	"label-settlement-go/internal/models"
	"label-settlement-go/internal/roles"
	"label-settlement-go/internal/store"

	"go.uber.org/zap"
)

// GetUserBalance returns the current balance for a user
func (s *LedgerService) GetUserBalance(ctx context.Context, userId string) (*models.UserBalance, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if err := authorize(ctx, userId, roles.Client); err != nil {
		return nil, err
	}

	user, err := s.db.GetUserById(ctx, userId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("user %s not found", userId)
		}
		zap.L().Error("Failed to get user balance", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve balance")
	}

	return &models.UserBalance{
		UserId:     user.Id,
		Balance:    user.Balance,
		Deposit:    user.Deposit,
		MinBalance: user.MinBalance,
		Currency:   user.Currency,
	}, nil
}

// GetBillingHistory returns paginated billing history for a user, newest first
func (s *LedgerService) GetBillingHistory(ctx context.Context, userId string, limit, offset int) ([]models.BillingEntry, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if err := authorize(ctx, userId, roles.Client); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	records, err := s.db.ListBillingRecords(ctx, userId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get billing history", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve billing history")
	}

	result := make([]models.BillingEntry, len(records))
	for i, r := range records {
		result[i] = models.BillingEntry{
			Id:          r.Id,
			Type:        r.Type,
			Description: r.Description,
			Total:       r.Total,
			Balance:     r.Balance,
			Status:      r.Status,
			CreatedAt:   r.CreatedAt,
		}
	}

	return result, nil
}

// ReconcileUserBalance recomputes a user's balance from billing history and
// compares it with the stored balance and the mirror.
func (s *LedgerService) ReconcileUserBalance(ctx context.Context, userId string) (*models.BalanceCheck, error) {
	if err := authorize(ctx, userId, roles.Support); err != nil {
		return nil, err
	}

	expected, stored, err := s.ledger.Verify(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to verify balance for user %s: %w", userId, err)
	}
	check := &models.BalanceCheck{
		UserId:   userId,
		Stored:   stored,
		Expected: expected,
		Matches:  expected.Equal(stored),
	}

	if s.mirror != nil {
		mirrored, err := s.mirror.GetUserBalance(ctx, userId, "USD")
		if err != nil {
			zap.L().Warn("Mirror balance unavailable", zap.String("user_id", userId), zap.Error(err))
		} else {
			m := mirrored.StringFixed(2)
			check.Mirrored = &m
			check.Matches = check.Matches && mirrored.Equal(stored)
		}
	}
	return check, nil
}
