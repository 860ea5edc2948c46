package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ApplyBalanceDelta atomically moves a user's balance and deposit, records the
// producing billing entry and amends an existing one, all in one transaction.
func (s *Service) ApplyBalanceDelta(ctx context.Context, params store.BalanceDeltaParams) (*models.BalanceSnapshot, error) {

	zap.L().Info("Applying balance delta",
		zap.String("user_id", params.UserId),
		zap.String("total_delta", params.TotalDelta.String()),
		zap.String("deposit_delta", params.DepositDelta.String()),
		zap.Int64("expected_version", params.ExpectedVersion))

	// Start database transaction for atomicity
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var balance, deposit decimal.Decimal
	var version int64
	err = tx.QueryRowContext(ctx, queryGetUserBalance, params.UserId).Scan(&balance, &deposit, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", params.UserId, store.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	}

	if params.ExpectedVersion != 0 && params.ExpectedVersion != version {
		return nil, fmt.Errorf("balance version %d, expected %d - %w", version, params.ExpectedVersion, store.ErrConcurrentModification)
	}

	newBalance := balance.Add(params.TotalDelta)
	newDeposit := deposit.Add(params.DepositDelta)
	now := time.Now().UTC()

	// Update balance (with optimistic locking)
	result, err := tx.ExecContext(ctx, queryUpdateUserBalance, newBalance.String(), newDeposit.String(), now, params.UserId, version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	if entry := params.Entry; entry != nil {
		if entry.Id == "" {
			entry.Id = uuid.New().String()
		}
		if entry.Status == "" {
			entry.Status = models.BillingStatusActive
		}
		entry.UserId = params.UserId
		entry.Balance = newBalance
		entry.CreatedAt = now
		entry.UpdatedAt = now
		if err := insertBillingRecord(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	if amend := params.Amend; amend != nil {
		amend.UpdatedAt = now
		if err := amendBillingRecord(ctx, tx, params.UserId, amend); err != nil {
			return nil, err
		}
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Balance delta applied",
		zap.String("user_id", params.UserId),
		zap.String("old_balance", balance.String()),
		zap.String("new_balance", newBalance.String()),
		zap.Int64("version", version+1))

	return &models.BalanceSnapshot{
		UserId:  params.UserId,
		Balance: newBalance,
		Deposit: newDeposit,
		Version: version + 1,
	}, nil
}
