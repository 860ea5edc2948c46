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

	"label-settlement-go/internal/ledger"
	"label-settlement-go/internal/models"
	"label-settlement-go/internal/roles"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AdjustBalance is an admin deposit (addFund) or deduction. Rejections come
// back in the result rather than as an error.
func (s *LedgerService) AdjustBalance(ctx context.Context, userId string, amount decimal.Decimal, addFund bool, description string) (*models.AdjustmentResult, error) {
	zap.L().Info("Processing balance adjustment",
		zap.String("user_id", userId),
		zap.String("amount", amount.String()),
		zap.Bool("add_fund", addFund))

	if userId == "" || !amount.IsPositive() {
		zap.L().Error("Invalid adjustment parameters",
			zap.String("user_id", userId),
			zap.String("amount", amount.String()))
		return &models.AdjustmentResult{
			Success: false,
			Error:   "invalid adjustment parameters",
		}, nil
	}
	if err := authorize(ctx, userId, roles.Admin); err != nil {
		return &models.AdjustmentResult{Success: false, UserId: userId, Error: err.Error()}, nil
	}

	snap, _, err := s.ledger.Adjust(ctx, userId, amount, addFund, description)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			zap.L().Warn("Adjustment rejected", zap.String("user_id", userId), zap.Error(err))
		} else {
			zap.L().Error("Adjustment failed",
				zap.String("user_id", userId),
				zap.String("amount", amount.String()),
				zap.Error(err))
		}
		return &models.AdjustmentResult{
			Success: false,
			UserId:  userId,
			Error:   err.Error(),
		}, nil
	}

	return &models.AdjustmentResult{
		Success:    true,
		UserId:     userId,
		Amount:     amount,
		NewBalance: snap.Balance,
	}, nil
}
