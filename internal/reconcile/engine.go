// Package reconcile applies carrier settlement files to the ledger. Each line
// reports what the carrier actually charged for a tracking number; the engine
// re-prices the label from that amount and books the difference.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"label-settlement-go/internal/fees"
	"label-settlement-go/internal/ledger"
	"label-settlement-go/internal/metrics"
	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultHeaderSentinel = "Tracking Number"
	itemSkipped           = "skipped"
)

type Store interface {
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetCarrierAccount(ctx context.Context, accountId string) (*models.CarrierAccount, error)
	GetShipmentByTracking(ctx context.Context, trackingId string) (*models.Shipment, error)
	UpdateShipmentAccounting(ctx context.Context, shipment *models.Shipment) error
	GetBillingRecordByDescription(ctx context.Context, userId, description, recordType string) (*models.BillingRecord, error)
	store.ReconciliationStore
}

// Ledger is the single write path for balance corrections. A line is read
// and booked under the user's lock so cancellations cannot interleave.
type Ledger interface {
	WithUserLock(ctx context.Context, userId string, fn func(ctx context.Context, sess *ledger.Session) error) error
}

type Job struct {
	FileName string
	Path     string
	Columns  Columns
}

type Result struct {
	RecordId  string
	Rows      int
	Succeeded int
	Failed    int
	Skipped   int
	Adjusted  decimal.Decimal
}

type Engine struct {
	store    Store
	ledger   Ledger
	metrics  *metrics.SettlementMetrics
	sentinel string
	currency string
}

// NewEngine builds a reconciliation engine. m may be nil.
func NewEngine(st Store, l Ledger, m *metrics.SettlementMetrics, cfg models.ReconcileConfig) *Engine {
	e := &Engine{store: st, ledger: l, metrics: m, sentinel: cfg.HeaderSentinel, currency: strings.ToUpper(cfg.Currency)}
	if e.sentinel == "" {
		e.sentinel = DefaultHeaderSentinel
	}
	if e.currency == "" {
		e.currency = fees.DefaultCurrency
	}
	return e
}

// Process reconciles one settlement file. Row problems are recorded as failed
// accounting items and never stop the file. Once the file is open, the record
// is finished and the file removed however the rows went.
func (e *Engine) Process(ctx context.Context, job Job) (*Result, error) {
	if job.FileName == "" {
		job.FileName = filepath.Base(job.Path)
	}
	cols := job.Columns.orDefault()

	src, err := openSource(job.Path)
	if err != nil {
		return nil, err
	}
	record, err := e.store.GetOrCreateReconciliationRecord(ctx, job.FileName, time.Now().UTC())
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	zap.L().Info("Reconciliation started",
		zap.String("record_id", record.Id),
		zap.String("file", job.FileName))

	result := &Result{RecordId: record.Id, Adjusted: decimal.Zero}
	streamErr := e.stream(ctx, src, record, cols, result)

	if err := src.Close(); err != nil {
		zap.L().Warn("Failed to close settlement file", zap.String("path", job.Path), zap.Error(err))
	}
	e.finish(context.WithoutCancel(ctx), record, job, result)
	return result, streamErr
}

func (e *Engine) stream(ctx context.Context, src rowSource, record *models.ReconciliationRecord, cols Columns, result *Result) error {
	row := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := src.Next()
		if err == io.EOF {
			return nil
		}
		row++
		if err != nil {
			// A malformed line in a text file does not stop the rest.
			zap.L().Warn("Unreadable settlement row", zap.Int("row", row), zap.Error(err))
			e.count(result, itemSkipped)
			continue
		}

		tracking := cell(raw, cols.TrackingNumber)
		if tracking == "" || strings.EqualFold(tracking, e.sentinel) {
			continue
		}
		result.Rows++

		line, currency, err := parseLine(raw, row, cols, e.currency)
		if err != nil {
			e.upsert(ctx, result, failedItem(record.Id, line, "", "", err.Error()))
			continue
		}

		item, err := e.reconcile(ctx, record.Id, line, currency)
		if err != nil {
			zap.L().Error("Settlement row skipped",
				zap.String("record_id", record.Id),
				zap.Int("row", row),
				zap.String("tracking_number", line.TrackingNumber),
				zap.Error(err))
			e.count(result, itemSkipped)
			continue
		}
		if item.Status == models.AccountingItemSuccess {
			result.Adjusted = result.Adjusted.Add(item.Diff)
		}
		e.upsert(ctx, result, item)
	}
}

// reconcile settles one line. A returned error is unexpected and skips the
// row; expected problems come back as a failed item.
func (e *Engine) reconcile(ctx context.Context, recordId string, line models.SettlementLine, currency string) (*models.AccountingItem, error) {
	owner, err := e.store.GetShipmentByTracking(ctx, line.TrackingNumber)
	if errors.Is(err, store.ErrNotFound) {
		return failedItem(recordId, line, "", "", "shipment not found"), nil
	} else if err != nil {
		return nil, err
	}

	var item *models.AccountingItem
	err = e.ledger.WithUserLock(ctx, owner.UserId, func(ctx context.Context, sess *ledger.Session) error {
		var err error
		item, err = e.book(ctx, sess, recordId, line, currency)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// book runs under the shipment owner's lock. The shipment and its billing
// record are read again here so a cancellation that won the lock is seen.
func (e *Engine) book(ctx context.Context, sess *ledger.Session, recordId string, line models.SettlementLine, currency string) (*models.AccountingItem, error) {
	sh, err := e.store.GetShipmentByTracking(ctx, line.TrackingNumber)
	if errors.Is(err, store.ErrNotFound) {
		return failedItem(recordId, line, "", "", "shipment not found"), nil
	} else if err != nil {
		return nil, err
	}
	if sh.Status == models.ShipmentDelPending || sh.Status == models.ShipmentDeleted {
		return failedItem(recordId, line, sh.UserId, sh.CarrierAccount, "pending/deleted"), nil
	}

	billing, err := e.store.GetBillingRecordByDescription(ctx, sh.UserId, sh.OrderId, models.BillingTypeLabel)
	if errors.Is(err, store.ErrNotFound) {
		return failedItem(recordId, line, sh.UserId, sh.CarrierAccount, fmt.Sprintf("no billing record for order %s", sh.OrderId)), nil
	} else if err != nil {
		return nil, err
	}
	if billing.Status != models.BillingStatusActive {
		return failedItem(recordId, line, sh.UserId, billing.Account, fmt.Sprintf("billing record for order %s is %s", sh.OrderId, billing.Status)), nil
	}
	if billing.Details == nil {
		return failedItem(recordId, line, sh.UserId, sh.CarrierAccount, fmt.Sprintf("billing record for order %s has no cost breakdown", sh.OrderId)), nil
	}
	if !strings.EqualFold(currency, fees.DefaultCurrency) || !strings.EqualFold(billing.Currency, fees.DefaultCurrency) {
		return failedItem(recordId, line, sh.UserId, billing.Account,
			fmt.Sprintf("multi-currency reconciliation is not supported (%s/%s)", currency, billing.Currency)), nil
	}

	user, err := e.store.GetUserById(ctx, sh.UserId)
	if errors.Is(err, store.ErrNotFound) {
		return failedItem(recordId, line, sh.UserId, billing.Account, "user not found"), nil
	} else if err != nil {
		return nil, err
	}
	account, err := e.store.GetCarrierAccount(ctx, sh.CarrierAccount)
	if errors.Is(err, store.ErrNotFound) {
		return failedItem(recordId, line, user.Id, sh.CarrierAccount, "carrier account not found"), nil
	} else if err != nil {
		return nil, err
	}

	charge, err := fees.ComputeFeeWithAmount(line.Amount, currency, line.Weight, line.WeightUnit, account.Fee)
	if err != nil {
		return failedItem(recordId, line, user.Id, billing.Account, err.Error()), nil
	}
	diff := charge.Total.Sub(billing.Total)

	amend := *billing
	amend.Total = charge.Total
	amend.Details = charge.Details()
	amend.AccountingStatus = models.AccountingReconciled
	amend.AccountingDiff = billing.AccountingDiff.Add(diff)
	amend.AccountingWeight = line.Weight
	amend.AccountingWeightUnit = line.WeightUnit

	snap, err := sess.ApplyDelta(ctx, diff.Neg(), decimal.Zero, nil, &amend)
	if errors.Is(err, store.ErrStaleRecord) {
		return failedItem(recordId, line, user.Id, billing.Account, fmt.Sprintf("billing record for order %s changed during reconciliation", sh.OrderId)), nil
	} else if err != nil {
		return nil, fmt.Errorf("unable to book correction for order %s: %w", sh.OrderId, err)
	}

	item := &models.AccountingItem{
		RecordId:       recordId,
		TrackingNumber: line.TrackingNumber,
		Status:         models.AccountingItemSuccess,
		Weight:         line.Weight,
		WeightUnit:     line.WeightUnit,
		Amount:         line.Amount,
		OriginalTotal:  billing.Total,
		NewTotal:       charge.Total,
		Diff:           diff,
		Zone:           line.Zone,
		DocumentName:   line.DocumentName,
		UserId:         user.Id,
		Account:        billing.Account,
	}

	sh.AccountingStatus = models.AccountingReconciled
	sh.AccountingDiff = amend.AccountingDiff
	sh.AccountingWeight = line.Weight
	sh.AccountingWeightUnit = line.WeightUnit
	if err := e.store.UpdateShipmentAccounting(ctx, sh); err != nil {
		zap.L().Error("Correction booked but shipment not updated",
			zap.String("order_id", sh.OrderId),
			zap.String("tracking_number", line.TrackingNumber),
			zap.Error(err))
		item.Remark = "shipment accounting fields not updated"
	}

	zap.L().Info("Settlement line reconciled",
		zap.String("user_id", user.Id),
		zap.String("order_id", sh.OrderId),
		zap.String("tracking_number", line.TrackingNumber),
		zap.String("original_total", billing.Total.String()),
		zap.String("new_total", charge.Total.String()),
		zap.String("diff", diff.String()),
		zap.String("balance", snap.Balance.String()))
	return item, nil
}

func failedItem(recordId string, line models.SettlementLine, userId, account, remark string) *models.AccountingItem {
	return &models.AccountingItem{
		RecordId:       recordId,
		TrackingNumber: line.TrackingNumber,
		Status:         models.AccountingItemFailed,
		Weight:         line.Weight,
		WeightUnit:     line.WeightUnit,
		Amount:         line.Amount,
		Zone:           line.Zone,
		DocumentName:   line.DocumentName,
		UserId:         userId,
		Account:        account,
		Remark:         remark,
	}
}

func (e *Engine) upsert(ctx context.Context, result *Result, item *models.AccountingItem) {
	if err := e.store.UpsertAccountingItem(ctx, item); err != nil {
		zap.L().Error("Failed to record accounting item",
			zap.String("record_id", item.RecordId),
			zap.String("tracking_number", item.TrackingNumber),
			zap.String("status", item.Status),
			zap.Error(err))
		e.count(result, itemSkipped)
		return
	}
	e.count(result, item.Status)
}

func (e *Engine) count(result *Result, status string) {
	switch status {
	case models.AccountingItemSuccess:
		result.Succeeded++
	case models.AccountingItemFailed:
		result.Failed++
	default:
		result.Skipped++
	}
	e.metrics.ReconcileItem(status)
}

func (e *Engine) finish(ctx context.Context, record *models.ReconciliationRecord, job Job, result *Result) {
	if err := e.store.FinishReconciliationRecord(ctx, record.Id); err != nil {
		zap.L().Error("Failed to finish reconciliation record",
			zap.String("record_id", record.Id),
			zap.Error(err))
	}
	if err := os.Remove(job.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		zap.L().Warn("Failed to remove settlement file",
			zap.String("path", job.Path),
			zap.Error(err))
	}

	zap.L().Info("Reconciliation finished",
		zap.String("record_id", record.Id),
		zap.String("file", job.FileName),
		zap.Int("rows", result.Rows),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.String("adjusted", result.Adjusted.String()))
}
