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

package common

import (
	"context"
	"fmt"

	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"go.uber.org/zap"
)

// InitializeUsers retrieves users based on an optional email filter.
// If emailFilter is provided, returns a single user with that email.
// If emailFilter is empty, returns all users.
func InitializeUsers(ctx context.Context, dbService store.UserStore, emailFilter string, logger *zap.Logger) ([]models.User, error) {
	if emailFilter != "" {
		logger.Info("Looking up user by email", zap.String("email", emailFilter))
		user, err := dbService.GetUserByEmail(ctx, emailFilter)
		if err != nil {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		return []models.User{*user}, nil
	}

	users, err := dbService.GetUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	logger.Info("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}

// ResolveUser accepts either a user id or an email address.
func ResolveUser(ctx context.Context, dbService store.UserStore, ref string) (*models.User, error) {
	if ref == "" {
		return nil, fmt.Errorf("a user id or email is required")
	}
	user, err := dbService.GetUserById(ctx, ref)
	if err == nil {
		return user, nil
	}
	user, emailErr := dbService.GetUserByEmail(ctx, ref)
	if emailErr != nil {
		return nil, fmt.Errorf("user %s not found: %w", ref, err)
	}
	return user, nil
}
