package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fee bases
const (
	FeeBasisFlat       = "flat"
	FeeBasisPercentage = "percentage"
	FeeBasisWeight     = "weight"
)

// FeeConfig describes how the platform fee is derived for an account.
// Amount is the flat fee per order, the percentage points, or the fee per
// WeightUnit depending on Basis.
type FeeConfig struct {
	Basis      string          `json:"basis"`
	Amount     decimal.Decimal `json:"amount"`
	WeightUnit string          `json:"weightUnit,omitempty"`
	Currency   string          `json:"currency,omitempty"`
}

// ServiceOverride maps a user-facing custom service name to a carrier service.
type ServiceOverride struct {
	Name           string `json:"name"`
	Code           string `json:"code,omitempty"`
	CarrierService string `json:"carrierService"`
	CarrierCode    string `json:"carrierCode,omitempty"`
}

// CarrierAccount is a user's credentialed account with one carrier.
// AccountId is the identifier denormalized onto shipments.
type CarrierAccount struct {
	Id          string            `db:"id"`
	UserId      string            `db:"user_id"`
	Carrier     string            `db:"carrier"`
	AccountId   string            `db:"account_id"`
	Name        string            `db:"name"`
	Active      bool              `db:"active"`
	PayOffline  bool              `db:"pay_offline"`
	Fee         FeeConfig         `db:"fee"`
	Facility    string            `db:"facility"`
	Currency    string            `db:"currency"`
	Services    []ServiceOverride `db:"services"`
	Credentials map[string]string `db:"credentials"`
	CreatedAt   time.Time         `db:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at"`
}

// FeesApply reports whether the platform charges this account's purchases.
func (a *CarrierAccount) FeesApply() bool {
	return !a.PayOffline
}
