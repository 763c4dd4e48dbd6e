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

// GetSnapshot returns the latest snapshot of the entity, or nil if none was taken.
func (d Datasource) GetSnapshot(ctx context.Context, entityID string) (*model.Snapshot, error) {
	snapshot := &model.Snapshot{}
	err := d.db().QueryRowContext(ctx, `
		SELECT entity_id, balance, snapshot_date, last_event_id
		FROM ledger.snapshots
		WHERE entity_id = $1
	`, entityID).Scan(&snapshot.EntityID, &snapshot.Balance, &snapshot.SnapshotDate, &snapshot.LastEventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve snapshot", err)
	}
	return snapshot, nil
}

// SaveSnapshot upserts the entity's snapshot. An older snapshot never replaces a newer one.
func (d Datasource) SaveSnapshot(ctx context.Context, snapshot *model.Snapshot) error {
	ctx, span := tracer.Start(ctx, "SaveSnapshot")
	defer span.End()

	_, err := d.db().ExecContext(ctx, `
		INSERT INTO ledger.snapshots (entity_id, balance, snapshot_date, last_event_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_id) DO UPDATE
		SET balance = EXCLUDED.balance, snapshot_date = EXCLUDED.snapshot_date, last_event_id = EXCLUDED.last_event_id
		WHERE ledger.snapshots.last_event_id <= EXCLUDED.last_event_id
	`, snapshot.EntityID, snapshot.Balance, snapshot.SnapshotDate, snapshot.LastEventID)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save snapshot", err)
	}
	return nil
}
