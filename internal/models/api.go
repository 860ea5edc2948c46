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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserBalance is the balance view returned to callers
type UserBalance struct {
	UserId     string          `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	Deposit    decimal.Decimal `json:"deposit"`
	MinBalance decimal.Decimal `json:"min_balance"`
	Currency   string          `json:"currency"`
}

// BillingEntry represents a billing record in the user's history
type BillingEntry struct {
	Id          string          `json:"id"`
	Type        string          `json:"type"` // "label", "deposit", "refund", "adjustment"
	Description string          `json:"description"`
	Total       decimal.Decimal `json:"total"`
	Balance     decimal.Decimal `json:"balance"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AdjustmentResult represents the result of an admin balance adjustment
type AdjustmentResult struct {
	Success    bool            `json:"success"`
	UserId     string          `json:"user_id,omitempty"`
	Amount     decimal.Decimal `json:"amount,omitempty"`
	NewBalance decimal.Decimal `json:"new_balance,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// BalanceCheck compares the stored balance with the billing history and, when
// a ledger mirror is configured, with the mirrored balance
type BalanceCheck struct {
	UserId   string          `json:"user_id"`
	Stored   decimal.Decimal `json:"stored"`
	Expected decimal.Decimal `json:"expected"`
	Mirrored *string         `json:"mirrored,omitempty"`
	Matches  bool            `json:"matches"`
}
