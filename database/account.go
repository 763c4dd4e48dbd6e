/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/blnkfinance/eventledger/internal/apierror"
	"github.com/blnkfinance/eventledger/model"
)

// CreateAccount inserts the account row at version 1.
// Returns model.DuplicateAccountError if the account id is already taken.
func (d Datasource) CreateAccount(ctx context.Context, account *model.Account) error {
	ctx, span := tracer.Start(ctx, "CreateAccount")
	defer span.End()

	account.Version = 1
	_, err := d.db().ExecContext(ctx, `
		INSERT INTO ledger.accounts (account_id, owner_id, balance, status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, account.AccountID, account.OwnerID, account.Balance, account.Status, account.CreatedAt, account.UpdatedAt, account.Version)
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return &model.DuplicateAccountError{AccountID: account.AccountID}
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create account", err)
	}
	return nil
}

// GetAccountByID retrieves an account by its id.
// Returns model.AccountNotFoundError when no such account exists.
func (d Datasource) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	account := &model.Account{}
	err := d.db().QueryRowContext(ctx, `
		SELECT account_id, owner_id, balance, status, created_at, updated_at, version
		FROM ledger.accounts
		WHERE account_id = $1
	`, id).Scan(&account.AccountID, &account.OwnerID, &account.Balance, &account.Status,
		&account.CreatedAt, &account.UpdatedAt, &account.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &model.AccountNotFoundError{AccountID: id}
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve account", err)
	}
	return account, nil
}

// UpdateAccount writes balance and status back if the stored version still matches
// account.Version, then bumps the version in place.
func (d Datasource) UpdateAccount(ctx context.Context, account *model.Account) error {
	ctx, span := tracer.Start(ctx, "UpdateAccount")
	defer span.End()

	result, err := d.db().ExecContext(ctx, `
		UPDATE ledger.accounts
		SET balance = $2, status = $3, updated_at = $4, version = version + 1
		WHERE account_id = $1 AND version = $5
	`, account.AccountID, account.Balance, account.Status, account.UpdatedAt, account.Version)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update account", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return &model.ConcurrencyConflictError{AccountID: account.AccountID, ExpectedVersion: account.Version}
	}

	account.Version++
	return nil
}

func (d Datasource) GetAccounts(ctx context.Context, limit, offset int) ([]model.Account, error) {
	rows, err := d.db().QueryContext(ctx, `
		SELECT account_id, owner_id, balance, status, created_at, updated_at, version
		FROM ledger.accounts
		ORDER BY created_at ASC, account_id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve accounts", err)
	}
	defer rows.Close()

	accounts := []model.Account{}
	for rows.Next() {
		account := model.Account{}
		err := rows.Scan(&account.AccountID, &account.OwnerID, &account.Balance, &account.Status,
			&account.CreatedAt, &account.UpdatedAt, &account.Version)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan account data", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over accounts", err)
	}
	return accounts, nil
}
