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

// User is a tenant of the platform. Balance is the prepaid amount available
// for label purchases; MinBalance is the floor below which purchases are blocked.
type User struct {
	Id         string          `db:"id"`
	Name       string          `db:"name"`
	Email      string          `db:"email"`
	Role       string          `db:"role"`
	Balance    decimal.Decimal `db:"balance"`
	Deposit    decimal.Decimal `db:"deposit"`
	MinBalance decimal.Decimal `db:"min_balance"`
	Currency   string          `db:"currency"`
	Uploading  bool            `db:"uploading"`
	Version    int64           `db:"version"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

// BalanceSnapshot is the state of a user's funds right after a ledger write.
type BalanceSnapshot struct {
	UserId  string
	Balance decimal.Decimal
	Deposit decimal.Decimal
	Version int64
}

// BillingRecord types
const (
	BillingTypeLabel      = "label"
	BillingTypeDeposit    = "deposit"
	BillingTypeRefund     = "refund"
	BillingTypeAdjustment = "adjustment"
)

// BillingRecord statuses
const (
	BillingStatusActive  = "ACTIVE"
	BillingStatusDeleted = "DELETED"
)

// Accounting statuses shared by billing records and shipments.
const (
	AccountingReconciled   = "reconciled"
	AccountingManualReview = "manual_review"
)

// CostDetails is the breakdown of a label charge.
type CostDetails struct {
	ShippingCost decimal.Decimal `json:"shippingCost"`
	Fee          decimal.Decimal `json:"fee"`
}

// BillingRecord is one immutable entry in a user's billing history. Total is
// the amount moved, Balance the user's balance right after it was applied.
// Description holds the shipment order id for label charges.
type BillingRecord struct {
	Id                   string          `db:"id"`
	UserId               string          `db:"user_id"`
	Type                 string          `db:"type"`
	Description          string          `db:"description"`
	Account              string          `db:"account"`
	Total                decimal.Decimal `db:"total"`
	Balance              decimal.Decimal `db:"balance"`
	Currency             string          `db:"currency"`
	Details              *CostDetails    `db:"details"`
	Status               string          `db:"status"`
	AccountingStatus     string          `db:"accounting_status"`
	AccountingDiff       decimal.Decimal `db:"accounting_diff"`
	AccountingWeight     decimal.Decimal `db:"accounting_weight"`
	AccountingWeightUnit string          `db:"accounting_weight_unit"`
	CreatedAt            time.Time       `db:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at"`
}
