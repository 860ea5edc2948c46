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
	"go.uber.org/zap"
)

func (s *Service) CreateCarrierAccount(ctx context.Context, a *models.CarrierAccount) error {
	if a.Id == "" {
		a.Id = uuid.New().String()
	}
	if a.Currency == "" {
		a.Currency = "USD"
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	fee, err := toJSON(a.Fee)
	if err != nil {
		return err
	}
	services, err := toJSON(a.Services)
	if err != nil {
		return err
	}
	creds, err := toJSON(a.Credentials)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, queryInsertCarrierAccount,
		a.Id, a.UserId, a.Carrier, a.AccountId, a.Name, a.Active, a.PayOffline, fee, a.Facility, a.Currency,
		services, creds, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("unable to insert carrier account: %w", err)
	}

	zap.L().Info("Carrier account created",
		zap.String("user_id", a.UserId),
		zap.String("carrier", a.Carrier),
		zap.String("account_id", a.AccountId))
	return nil
}

func scanCarrierAccount(row scanner) (*models.CarrierAccount, error) {
	var a models.CarrierAccount
	var fee, services, creds string
	err := row.Scan(&a.Id, &a.UserId, &a.Carrier, &a.AccountId, &a.Name, &a.Active, &a.PayOffline, &fee,
		&a.Facility, &a.Currency, &services, &creds, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(fee, &a.Fee); err != nil {
		return nil, err
	}
	if err := fromJSON(services, &a.Services); err != nil {
		return nil, err
	}
	if err := fromJSON(creds, &a.Credentials); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetCarrierAccount looks an account up by the identifier stored on shipments.
func (s *Service) GetCarrierAccount(ctx context.Context, accountId string) (*models.CarrierAccount, error) {
	a, err := scanCarrierAccount(s.db.QueryRowContext(ctx, queryGetCarrierAccount, accountId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("carrier account %s: %w", accountId, store.ErrNotFound)
		}
		return nil, fmt.Errorf("unable to query carrier account: %w", err)
	}
	return a, nil
}

func (s *Service) ListCarrierAccounts(ctx context.Context, userId string) ([]models.CarrierAccount, error) {
	rows, err := s.db.QueryContext(ctx, queryListCarrierAccounts, userId)
	if err != nil {
		return nil, fmt.Errorf("unable to query carrier accounts: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var accounts []models.CarrierAccount
	for rows.Next() {
		a, err := scanCarrierAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan carrier account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating carrier account rows: %w", err)
	}
	return accounts, nil
}
