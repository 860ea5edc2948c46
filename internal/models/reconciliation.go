package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ReconciliationPending  = "pending"
	ReconciliationFinished = "finished"

	AccountingItemSuccess = "success"
	AccountingItemFailed  = "failed"
)

// ReconciliationRecord is the header of one uploaded carrier settlement file.
type ReconciliationRecord struct {
	Id        string    `db:"id"`
	Name      string    `db:"name"`
	Date      time.Time `db:"date"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// AccountingItem is the outcome of reconciling one settlement line.
// It is unique per (TrackingNumber, RecordId).
type AccountingItem struct {
	Id             string          `db:"id"`
	RecordId       string          `db:"record_id"`
	TrackingNumber string          `db:"tracking_number"`
	Status         string          `db:"status"`
	Weight         decimal.Decimal `db:"weight"`
	WeightUnit     string          `db:"weight_unit"`
	Amount         decimal.Decimal `db:"amount"`
	OriginalTotal  decimal.Decimal `db:"original_total"`
	NewTotal       decimal.Decimal `db:"new_total"`
	Diff           decimal.Decimal `db:"diff"`
	Zone           string          `db:"zone"`
	DocumentName   string          `db:"document_name"`
	UserId         string          `db:"user_id"`
	Account        string          `db:"account"`
	Remark         string          `db:"remark"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// SettlementLine is one parsed row of a carrier settlement file.
type SettlementLine struct {
	Row            int
	TrackingNumber string
	Weight         decimal.Decimal
	WeightUnit     string
	Amount         decimal.Decimal
	Zone           string
	DocumentName   string
}
