package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"label-settlement-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GetOrCreateReconciliationRecord returns the header for a settlement file,
// creating it as pending on first sight.
func (s *Service) GetOrCreateReconciliationRecord(ctx context.Context, name string, date time.Time) (*models.ReconciliationRecord, error) {
	var r models.ReconciliationRecord
	err := s.db.QueryRowContext(ctx, queryGetReconciliationRecordByName, name).
		Scan(&r.Id, &r.Name, &r.Date, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err == nil {
		return &r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("unable to query reconciliation record: %w", err)
	}

	now := time.Now().UTC()
	r = models.ReconciliationRecord{
		Id:        uuid.New().String(),
		Name:      name,
		Date:      date,
		Status:    models.ReconciliationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.ExecContext(ctx, queryInsertReconciliationRecord, r.Id, r.Name, r.Date, r.Status, r.CreatedAt, r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("unable to insert reconciliation record: %w", err)
	}

	zap.L().Info("Reconciliation record created", zap.String("record_id", r.Id), zap.String("name", name))
	return &r, nil
}

func (s *Service) FinishReconciliationRecord(ctx context.Context, recordId string) error {
	if _, err := s.db.ExecContext(ctx, queryFinishReconciliationRecord, models.ReconciliationFinished, time.Now().UTC(), recordId); err != nil {
		return fmt.Errorf("unable to finish reconciliation record: %w", err)
	}
	return nil
}

// UpsertAccountingItem writes the outcome for one settlement line keyed by
// (tracking number, record). Reprocessing a file overwrites earlier outcomes.
func (s *Service) UpsertAccountingItem(ctx context.Context, item *models.AccountingItem) error {
	if item.Id == "" {
		item.Id = uuid.New().String()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	var id string
	err := s.db.QueryRowContext(ctx, queryUpsertAccountingItem,
		item.Id, item.RecordId, item.TrackingNumber, item.Status, item.Weight.String(), item.WeightUnit,
		item.Amount.String(), item.OriginalTotal.String(), item.NewTotal.String(), item.Diff.String(), item.Zone,
		item.DocumentName, item.UserId, item.Account, item.Remark, item.CreatedAt, item.UpdatedAt).Scan(&id)
	if err != nil {
		return fmt.Errorf("unable to upsert accounting item: %w", err)
	}
	item.Id = id
	return nil
}

func (s *Service) ListAccountingItems(ctx context.Context, recordId string) ([]models.AccountingItem, error) {
	rows, err := s.db.QueryContext(ctx, queryListAccountingItems, recordId)
	if err != nil {
		return nil, fmt.Errorf("unable to query accounting items: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var items []models.AccountingItem
	for rows.Next() {
		var it models.AccountingItem
		err := rows.Scan(&it.Id, &it.RecordId, &it.TrackingNumber, &it.Status, &it.Weight, &it.WeightUnit,
			&it.Amount, &it.OriginalTotal, &it.NewTotal, &it.Diff, &it.Zone, &it.DocumentName, &it.UserId,
			&it.Account, &it.Remark, &it.CreatedAt, &it.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("unable to scan accounting item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounting item rows: %w", err)
	}
	return items, nil
}
