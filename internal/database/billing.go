package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"go.uber.org/zap"
)

func insertBillingRecord(ctx context.Context, tx *sql.Tx, r *models.BillingRecord) error {
	details, err := toJSON(r.Details)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, queryInsertBillingRecord,
		r.Id, r.UserId, r.Type, r.Description, r.Account, r.Total.String(), r.Balance.String(), r.Currency,
		details, r.Status, r.AccountingStatus, r.AccountingDiff.String(), r.AccountingWeight.String(),
		r.AccountingWeightUnit, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert billing record: %w", err)
	}
	return nil
}

func amendBillingRecord(ctx context.Context, tx *sql.Tx, userId string, r *models.BillingRecord) error {
	details, err := toJSON(r.Details)
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, queryAmendBillingRecord,
		r.Total.String(), details, r.Status, r.AccountingStatus, r.AccountingDiff.String(),
		r.AccountingWeight.String(), r.AccountingWeightUnit, r.UpdatedAt, r.Id, userId, models.BillingStatusActive)
	if err != nil {
		return fmt.Errorf("failed to amend billing record: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var status string
	err = tx.QueryRowContext(ctx, queryGetBillingStatus, r.Id, userId).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("billing record %s: %w", r.Id, store.ErrNotFound)
	} else if err != nil {
		return fmt.Errorf("failed to read billing record status: %w", err)
	}
	return fmt.Errorf("billing record %s is %s: %w", r.Id, status, store.ErrStaleRecord)
}

func scanBillingRecord(row scanner) (*models.BillingRecord, error) {
	var r models.BillingRecord
	var details string
	err := row.Scan(&r.Id, &r.UserId, &r.Type, &r.Description, &r.Account, &r.Total, &r.Balance, &r.Currency,
		&details, &r.Status, &r.AccountingStatus, &r.AccountingDiff, &r.AccountingWeight,
		&r.AccountingWeightUnit, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(details, &r.Details); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Service) GetBillingRecordByDescription(ctx context.Context, userId, description, recordType string) (*models.BillingRecord, error) {
	r, err := scanBillingRecord(s.db.QueryRowContext(ctx, queryGetBillingByDescription, userId, description, recordType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("billing record for %s: %w", description, store.ErrNotFound)
		}
		return nil, fmt.Errorf("unable to query billing record: %w", err)
	}
	return r, nil
}

// ListBillingRecords returns a user's billing history, newest first. A
// non-positive limit returns everything.
func (s *Service) ListBillingRecords(ctx context.Context, userId string, limit, offset int) ([]models.BillingRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, queryListBillingRecords, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("unable to query billing records: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var records []models.BillingRecord
	for rows.Next() {
		r, err := scanBillingRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan billing record: %w", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating billing rows: %w", err)
	}
	return records, nil
}
