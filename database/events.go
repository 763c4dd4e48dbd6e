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
	"go.opentelemetry.io/otel/attribute"
)

const eventColumns = `id, entity_id, kind, event_date, correlation_id, causation_id, actor_id, schema_version, payload, status, version, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*model.Event, error) {
	event := &model.Event{}
	var payload []byte
	err := row.Scan(
		&event.ID, &event.EntityID, &event.Kind, &event.EventDate,
		&event.Metadata.CorrelationID, &event.Metadata.CausationID, &event.Metadata.ActorID, &event.Metadata.SchemaVersion,
		&payload, &event.Status, &event.Version, &event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	event.Payload, err = model.DecodePayload(event.Kind, payload)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to decode payload of event %d", event.ID), err)
	}
	return event, nil
}

func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan event", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over events", err)
	}
	return events, nil
}

// AppendEvent stores event as PENDING at version 0 and fills in its id and creation time.
// An event dated before the entity's latest stored event is rejected with
// model.OutOfOrderEventError; equal dates are accepted.
func (d Datasource) AppendEvent(ctx context.Context, event *model.Event) (*model.Event, error) {
	ctx, span := tracer.Start(ctx, "AppendEvent")
	defer span.End()
	span.SetAttributes(attribute.String("entity_id", event.EntityID), attribute.String("kind", string(event.Kind)))

	var lastDate time.Time
	err := d.db().QueryRowContext(ctx, `
		SELECT event_date FROM ledger.events
		WHERE entity_id = $1
		ORDER BY event_date DESC, id DESC
		LIMIT 1
	`, event.EntityID).Scan(&lastDate)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read latest event date", err)
	}
	if err == nil && event.EventDate.Before(lastDate) {
		return nil, &model.OutOfOrderEventError{EntityID: event.EntityID, EventDate: event.EventDate, LastEventDate: lastDate}
	}

	payload, err := event.MarshalPayload()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal event payload", err)
	}
	if event.Metadata.SchemaVersion == "" {
		event.Metadata.SchemaVersion = model.CurrentSchemaVersion
	}

	event.Status = model.EventPending
	event.Version = 0
	err = d.db().QueryRowContext(ctx, `
		INSERT INTO ledger.events (entity_id, kind, event_date, correlation_id, causation_id, actor_id, schema_version, payload, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, event.EntityID, event.Kind, event.EventDate, event.Metadata.CorrelationID, event.Metadata.CausationID,
		event.Metadata.ActorID, event.Metadata.SchemaVersion, payload, event.Status, event.Version,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to append event", err)
	}

	return event, nil
}

// UpdateEventStatus sets the processing status of an event. Setting the status it
// already has changes nothing, including the version.
func (d Datasource) UpdateEventStatus(ctx context.Context, eventID int64, status model.EventStatus) error {
	ctx, span := tracer.Start(ctx, "UpdateEventStatus")
	defer span.End()

	result, err := d.db().ExecContext(ctx, `
		UPDATE ledger.events SET status = $2, version = version + 1
		WHERE id = $1 AND status <> $2
	`, eventID, status)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update event status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists bool
	err = d.db().QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM ledger.events WHERE id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check event existence", err)
	}
	if !exists {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Event with ID '%d' not found", eventID), nil)
	}
	return nil
}

func (d Datasource) GetEvent(ctx context.Context, eventID int64) (*model.Event, error) {
	row := d.db().QueryRowContext(ctx, `SELECT `+eventColumns+` FROM ledger.events WHERE id = $1`, eventID)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Event with ID '%d' not found", eventID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve event", err)
	}
	return event, nil
}

// GetLatestEvent returns the newest event of the entity by date, or nil when it has none.
func (d Datasource) GetLatestEvent(ctx context.Context, entityID string) (*model.Event, error) {
	row := d.db().QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM ledger.events
		WHERE entity_id = $1
		ORDER BY event_date DESC, id DESC
		LIMIT 1
	`, entityID)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve latest event", err)
	}
	return event, nil
}

// GetEventsByEntity returns the full history of the entity, oldest first.
func (d Datasource) GetEventsByEntity(ctx context.Context, entityID string) ([]model.Event, error) {
	ctx, span := tracer.Start(ctx, "GetEventsByEntity")
	defer span.End()

	rows, err := d.db().QueryContext(ctx, `
		SELECT `+eventColumns+` FROM ledger.events
		WHERE entity_id = $1
		ORDER BY event_date ASC, id ASC
	`, entityID)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve events", err)
	}
	return scanEvents(rows)
}

func (d Datasource) GetEventsByEntitySince(ctx context.Context, entityID string, since time.Time) ([]model.Event, error) {
	ctx, span := tracer.Start(ctx, "GetEventsByEntitySince")
	defer span.End()

	rows, err := d.db().QueryContext(ctx, `
		SELECT `+eventColumns+` FROM ledger.events
		WHERE entity_id = $1 AND event_date > $2
		ORDER BY event_date ASC, id ASC
	`, entityID, since)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve events", err)
	}
	return scanEvents(rows)
}

func (d Datasource) GetEventsByCorrelationID(ctx context.Context, correlationID string) ([]model.Event, error) {
	rows, err := d.db().QueryContext(ctx, `
		SELECT `+eventColumns+` FROM ledger.events
		WHERE correlation_id = $1
		ORDER BY event_date ASC, id ASC
	`, correlationID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve correlated events", err)
	}
	return scanEvents(rows)
}

func (d Datasource) GetEventsByActor(ctx context.Context, actorID string, limit, offset int) ([]model.Event, error) {
	rows, err := d.db().QueryContext(ctx, `
		SELECT `+eventColumns+` FROM ledger.events
		WHERE actor_id = $1
		ORDER BY event_date DESC, id DESC
		LIMIT $2 OFFSET $3
	`, actorID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve actor events", err)
	}
	return scanEvents(rows)
}

func (d Datasource) CountEventsAfter(ctx context.Context, entityID string, afterID int64) (int64, error) {
	var count int64
	err := d.db().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger.events WHERE entity_id = $1 AND id > $2
	`, entityID, afterID).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count events", err)
	}
	return count, nil
}

func (d Datasource) CountUnsettledEvents(ctx context.Context, entityID string) (int64, error) {
	var count int64
	err := d.db().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger.events WHERE entity_id = $1 AND status <> $2
	`, entityID, model.EventProcessed).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count unsettled events", err)
	}
	return count, nil
}

// GetStalePendingEvents returns PENDING events created more than olderThan ago, oldest first.
func (d Datasource) GetStalePendingEvents(ctx context.Context, olderThan time.Duration, limit int) ([]model.Event, error) {
	ctx, span := tracer.Start(ctx, "GetStalePendingEvents")
	defer span.End()

	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := d.db().QueryContext(ctx, `
		SELECT `+eventColumns+` FROM ledger.events
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, model.EventPending, cutoff, limit)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stale pending events", err)
	}
	return scanEvents(rows)
}
