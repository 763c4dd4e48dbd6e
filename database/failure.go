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
	"fmt"
	"time"

	"github.com/blnkfinance/eventledger/internal/apierror"
	"github.com/blnkfinance/eventledger/model"
	"github.com/wacul/ptr"
)

const failureColumns = `id, event_id, event_kind, entity_id, failure_reason, failure_time, retry_count, last_retry_time, resolved_at, flagged_stale_at, status`

func scanFailure(row rowScanner) (*model.FailureRecord, error) {
	record := &model.FailureRecord{}
	var lastRetry, resolvedAt, flaggedAt sql.NullTime
	err := row.Scan(&record.ID, &record.EventID, &record.EventKind, &record.EntityID, &record.FailureReason,
		&record.FailureTime, &record.RetryCount, &lastRetry, &resolvedAt, &flaggedAt, &record.Status)
	if err != nil {
		return nil, err
	}
	record.LastRetryTime = nullTimePtr(lastRetry)
	record.ResolvedAt = nullTimePtr(resolvedAt)
	record.FlaggedStaleAt = nullTimePtr(flaggedAt)
	return record, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return ptr.Time(t.Time)
}

func scanFailures(rows *sql.Rows) ([]model.FailureRecord, error) {
	defer rows.Close()

	records := []model.FailureRecord{}
	for rows.Next() {
		record, err := scanFailure(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan failure record", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over failure records", err)
	}
	return records, nil
}

// RecordFailure opens a PENDING record for the event. If the event already has an
// open record, its reason and failure time are refreshed instead and the retry
// count is kept.
func (d Datasource) RecordFailure(ctx context.Context, record *model.FailureRecord) (*model.FailureRecord, error) {
	ctx, span := tracer.Start(ctx, "RecordFailure")
	defer span.End()

	row := d.db().QueryRowContext(ctx, `
		INSERT INTO ledger.event_failures (event_id, event_kind, entity_id, failure_reason, failure_time, retry_count, status)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		ON CONFLICT (event_id) WHERE status IN ('PENDING', 'RETRYING')
		DO UPDATE SET failure_reason = EXCLUDED.failure_reason, failure_time = EXCLUDED.failure_time
		RETURNING `+failureColumns,
		record.EventID, record.EventKind, record.EntityID, record.FailureReason, record.FailureTime, model.FailurePending)
	saved, err := scanFailure(row)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record event failure", err)
	}
	return saved, nil
}

// GetRetryableFailures returns open records that still have retries left, oldest first.
func (d Datasource) GetRetryableFailures(ctx context.Context, maxRetries, limit int) ([]model.FailureRecord, error) {
	rows, err := d.db().QueryContext(ctx, `
		SELECT `+failureColumns+` FROM ledger.event_failures
		WHERE status IN ($1, $2) AND retry_count < $3
		ORDER BY failure_time ASC, id ASC
		LIMIT $4
	`, model.FailurePending, model.FailureRetrying, maxRetries, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve retryable failures", err)
	}
	return scanFailures(rows)
}

// IncrementFailureRetry counts one more failed attempt. The record becomes
// EXHAUSTED once the count reaches maxRetries and RETRYING otherwise.
func (d Datasource) IncrementFailureRetry(ctx context.Context, id int64, maxRetries int, reason string) (*model.FailureRecord, error) {
	ctx, span := tracer.Start(ctx, "IncrementFailureRetry")
	defer span.End()

	row := d.db().QueryRowContext(ctx, `
		UPDATE ledger.event_failures
		SET retry_count = retry_count + 1,
			last_retry_time = $2,
			failure_reason = $3,
			status = CASE WHEN retry_count + 1 >= $4 THEN $5 ELSE $6 END
		WHERE id = $1 AND status IN ('PENDING', 'RETRYING')
		RETURNING `+failureColumns,
		id, time.Now().UTC(), reason, maxRetries, model.FailureExhausted, model.FailureRetrying)
	record, err := scanFailure(row)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Open failure record '%d' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update failure record", err)
	}
	return record, nil
}

func (d Datasource) MarkFailureResolved(ctx context.Context, id int64) error {
	result, err := d.db().ExecContext(ctx, `
		UPDATE ledger.event_failures SET status = $2, resolved_at = $3
		WHERE id = $1 AND status IN ('PENDING', 'RETRYING')
	`, id, model.FailureResolved, time.Now().UTC())
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to resolve failure record", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Open failure record '%d' not found", id), nil)
	}
	return nil
}

// ResolveFailuresForEvent resolves every open record of the event and returns how many changed.
func (d Datasource) ResolveFailuresForEvent(ctx context.Context, eventID int64) (int64, error) {
	result, err := d.db().ExecContext(ctx, `
		UPDATE ledger.event_failures SET status = $2, resolved_at = $3
		WHERE event_id = $1 AND status IN ('PENDING', 'RETRYING')
	`, eventID, model.FailureResolved, time.Now().UTC())
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to resolve event failures", err)
	}
	return result.RowsAffected()
}

func (d Datasource) GetFailuresByEntityID(ctx context.Context, entityID string) ([]model.FailureRecord, error) {
	rows, err := d.db().QueryContext(ctx, `
		SELECT `+failureColumns+` FROM ledger.event_failures
		WHERE entity_id = $1
		ORDER BY failure_time DESC, id DESC
	`, entityID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve failure records", err)
	}
	return scanFailures(rows)
}

// FlagStaleFailures stamps open, unflagged records whose last activity is before cutoff.
func (d Datasource) FlagStaleFailures(ctx context.Context, cutoff time.Time) ([]model.FailureRecord, error) {
	ctx, span := tracer.Start(ctx, "FlagStaleFailures")
	defer span.End()

	rows, err := d.db().QueryContext(ctx, `
		UPDATE ledger.event_failures SET flagged_stale_at = $2
		WHERE status IN ('PENDING', 'RETRYING')
			AND flagged_stale_at IS NULL
			AND COALESCE(last_retry_time, failure_time) < $1
		RETURNING `+failureColumns,
		cutoff, time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to flag stale failures", err)
	}
	return scanFailures(rows)
}
