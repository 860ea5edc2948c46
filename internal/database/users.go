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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"go.uber.org/zap"
)

func scanUser(row scanner) (*models.User, error) {
	var user models.User
	err := row.Scan(&user.Id, &user.Name, &user.Email, &user.Role, &user.Balance, &user.Deposit,
		&user.MinBalance, &user.Currency, &user.Uploading, &user.Version, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) GetUsers(ctx context.Context) ([]models.User, error) {
	zap.L().Debug("Querying active users")

	rows, err := s.db.QueryContext(ctx, queryGetActiveUsers)
	if err != nil {
		zap.L().Error("Failed to query users", zap.Error(err))
		return nil, fmt.Errorf("unable to query users: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			zap.L().Error("Failed to scan user row", zap.Error(err))
			return nil, fmt.Errorf("unable to scan user row: %w", err)
		}
		users = append(users, *user)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during user row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	zap.L().Info("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}

func (s *Service) GetUserById(ctx context.Context, userId string) (*models.User, error) {
	zap.L().Debug("Querying user by ID", zap.String("user_id", userId))

	user, err := scanUser(s.db.QueryRowContext(ctx, queryGetUserById, userId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userId, store.ErrNotFound)
		}
		zap.L().Error("Failed to query user by ID", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("unable to query user by ID: %w", err)
	}

	return user, nil
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	zap.L().Debug("Querying user by email", zap.String("email", email))

	user, err := scanUser(s.db.QueryRowContext(ctx, queryGetUserByEmail, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", email, store.ErrNotFound)
		}
		zap.L().Error("Failed to query user by email", zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("unable to query user by email: %w", err)
	}

	return user, nil
}

func (s *Service) CreateUser(ctx context.Context, params store.CreateUserParams) (*models.User, error) {
	zap.L().Info("Creating user",
		zap.String("id", params.Id),
		zap.String("name", params.Name),
		zap.String("email", params.Email),
		zap.String("role", params.Role))

	role := params.Role
	if role == "" {
		role = "client"
	}
	currency := params.Currency
	if currency == "" {
		currency = "USD"
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, queryInsertUser,
		params.Id, params.Name, params.Email, role, params.MinBalance.String(), currency, now, now)
	if err != nil {
		zap.L().Error("Failed to insert user", zap.String("email", params.Email), zap.Error(err))
		return nil, fmt.Errorf("unable to insert user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("user with email %s: %w", params.Email, store.ErrDuplicate)
	}

	zap.L().Info("User created successfully", zap.String("id", params.Id), zap.String("email", params.Email))
	return s.GetUserById(ctx, params.Id)
}

// SetUploading sets or clears the per-user batch import flag. Setting is a
// conditional write so only one import can hold the flag at a time.
func (s *Service) SetUploading(ctx context.Context, userId string, uploading bool) error {
	now := time.Now().UTC()
	if !uploading {
		if _, err := s.db.ExecContext(ctx, queryClearUploading, now, userId); err != nil {
			return fmt.Errorf("unable to clear uploading flag: %w", err)
		}
		return nil
	}

	result, err := s.db.ExecContext(ctx, querySetUploading, now, userId)
	if err != nil {
		return fmt.Errorf("unable to set uploading flag: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetUserById(ctx, userId); err != nil {
			return err
		}
		return store.ErrUploadInProgress
	}
	return nil
}
