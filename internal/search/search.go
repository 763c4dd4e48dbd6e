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

package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blnkfinance/eventledger/model"
	"github.com/sirupsen/logrus"
	"github.com/typesense/typesense-go/typesense"
	"github.com/typesense/typesense-go/typesense/api"
)

const CollectionEvents = "ledger_events"

// TypesenseClient wraps the Typesense client and provides methods to interact with it.
type TypesenseClient struct {
	Client *typesense.Client
}

// NewTypesenseClient initializes and returns a new Typesense client instance.
func NewTypesenseClient(apiKey string, hosts []string) *TypesenseClient {
	client := typesense.NewClient(
		typesense.WithServer(hosts[0]),
		typesense.WithAPIKey(apiKey),
		typesense.WithConnectionTimeout(5*time.Second),
		typesense.WithCircuitBreakerMaxRequests(50),
		typesense.WithCircuitBreakerInterval(2*time.Minute),
		typesense.WithCircuitBreakerTimeout(1*time.Minute),
	)
	return &TypesenseClient{Client: client}
}

// EnsureEventCollection creates the event collection if it is missing and adds
// any field the live schema lacks.
func (t *TypesenseClient) EnsureEventCollection(ctx context.Context) error {
	resp, err := t.CreateCollection(ctx, getEventSchema())
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", CollectionEvents, err)
	}
	if resp != nil {
		return nil
	}
	return t.MigrateTypeSenseSchema(ctx, CollectionEvents)
}

// CreateCollection creates a collection in Typesense based on the provided schema.
// If the collection already exists, it will return without error.
func (t *TypesenseClient) CreateCollection(ctx context.Context, schema *api.CollectionSchema) (*api.CollectionResponse, error) {
	resp, err := t.Client.Collections().Create(ctx, schema)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil, nil
		}
		return nil, err
	}
	return resp, nil
}

// Search performs a search query on a specific collection with the provided search parameters.
func (t *TypesenseClient) Search(ctx context.Context, collection string, searchParams *api.SearchCollectionParams) (*api.SearchResult, error) {
	return t.Client.Collection(collection).Documents().Search(ctx, searchParams)
}

// IndexEvent upserts one event document keyed by the event id.
func (t *TypesenseClient) IndexEvent(ctx context.Context, event model.Event) error {
	_, err := t.Client.Collection(CollectionEvents).Documents().Upsert(ctx, EventDocument(event))
	if err != nil {
		return fmt.Errorf("failed to upsert event %d in Typesense: %w", event.ID, err)
	}
	return nil
}

// EventDocument flattens an event into the indexed document shape. Amounts are
// kept as strings so no precision is lost.
func EventDocument(event model.Event) map[string]interface{} {
	doc := map[string]interface{}{
		"id":             strconv.FormatInt(event.ID, 10),
		"event_id":       event.ID,
		"entity_id":      event.EntityID,
		"kind":           string(event.Kind),
		"status":         string(event.Status),
		"correlation_id": event.Metadata.CorrelationID,
		"actor_id":       event.Metadata.ActorID,
		"schema_version": string(event.Metadata.SchemaVersion),
		"event_date":     event.EventDate.Unix(),
		"created_at":     event.CreatedAt.Unix(),
	}
	if event.Metadata.CausationID != "" {
		doc["causation_id"] = event.Metadata.CausationID
	}
	if amount, ok := event.Amount(); ok {
		doc["amount"] = amount.String()
	}
	switch p := event.Payload.(type) {
	case model.MoneyTransferredOut:
		doc["counterparty_id"] = p.ToAccountID
	case model.MoneyTransferredIn:
		doc["counterparty_id"] = p.FromAccountID
	case model.BalanceChangeFailed:
		doc["reason"] = p.Reason
		if p.CounterpartyID != "" {
			doc["counterparty_id"] = p.CounterpartyID
		}
	}
	return doc
}

// MigrateTypeSenseSchema adds new fields from the latest schema to the existing collection schema in Typesense.
func (t *TypesenseClient) MigrateTypeSenseSchema(ctx context.Context, collectionName string) error {
	if collectionName != CollectionEvents {
		return fmt.Errorf("unknown collection: %s", collectionName)
	}
	collection := t.Client.Collection(collectionName)

	currentSchemaResponse, err := collection.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve current schema: %w", err)
	}

	currentSchema := &api.CollectionSchema{
		Name:   currentSchemaResponse.Name,
		Fields: currentSchemaResponse.Fields,
	}

	for _, field := range compareSchemas(currentSchema, getEventSchema()) {
		_, err := collection.Update(ctx, &api.CollectionUpdateSchema{Fields: []api.Field{field}})
		if err != nil {
			return fmt.Errorf("failed to add field %s: %w", field.Name, err)
		}
		logrus.Infof("Added new field %s to collection %s", field.Name, collectionName)
	}

	return nil
}

// compareSchemas returns the fields of newSchema that oldSchema lacks.
func compareSchemas(oldSchema, newSchema *api.CollectionSchema) []api.Field {
	var newFields []api.Field
	oldFieldMap := make(map[string]bool)

	for _, field := range oldSchema.Fields {
		oldFieldMap[field.Name] = true
	}
	for _, field := range newSchema.Fields {
		if !oldFieldMap[field.Name] {
			newFields = append(newFields, field)
		}
	}

	return newFields
}

func getEventSchema() *api.CollectionSchema {
	facet := true
	optional := true
	sortBy := "event_date"
	return &api.CollectionSchema{
		Name: CollectionEvents,
		Fields: []api.Field{
			{Name: "event_id", Type: "int64"},
			{Name: "entity_id", Type: "string", Facet: &facet},
			{Name: "kind", Type: "string", Facet: &facet},
			{Name: "status", Type: "string", Facet: &facet},
			{Name: "correlation_id", Type: "string", Facet: &facet},
			{Name: "causation_id", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "actor_id", Type: "string", Facet: &facet},
			{Name: "schema_version", Type: "string", Facet: &facet},
			{Name: "amount", Type: "string", Optional: &optional},
			{Name: "counterparty_id", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "reason", Type: "string", Optional: &optional},
			{Name: "event_date", Type: "int64", Facet: &facet},
			{Name: "created_at", Type: "int64", Facet: &facet},
		},
		DefaultSortingField: &sortBy,
	}
}
