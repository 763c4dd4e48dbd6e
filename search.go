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

package eventledger

import (
	"context"

	"github.com/blnkfinance/eventledger/internal/apierror"
	"github.com/blnkfinance/eventledger/internal/search"
	"github.com/blnkfinance/eventledger/model"
	"github.com/typesense/typesense-go/typesense/api"
)

var errSearchDisabled = apierror.NewAPIError(apierror.ErrBadRequest, "search is not configured", nil)

// SearchEvents runs query against the event index.
func (l *Ledger) SearchEvents(ctx context.Context, query *api.SearchCollectionParams) (*api.SearchResult, error) {
	if l.search == nil {
		return nil, errSearchDisabled
	}
	return l.search.Search(ctx, search.CollectionEvents, query)
}

// IndexEvent writes one event to the search index.
func (l *Ledger) IndexEvent(ctx context.Context, event model.Event) error {
	if l.search == nil {
		return errSearchDisabled
	}
	return l.search.IndexEvent(ctx, event)
}

// EnsureEventCollection prepares the event index for writes.
func (l *Ledger) EnsureEventCollection(ctx context.Context) error {
	if l.search == nil {
		return nil
	}
	return l.search.EnsureEventCollection(ctx)
}

// EventReindexer returns a service that rebuilds the event index in pages of
// batchSize accounts. A non-positive batchSize uses the consistency page size.
func (l *Ledger) EventReindexer(batchSize int) (*search.ReindexService, error) {
	if l.search == nil {
		return nil, errSearchDisabled
	}
	if batchSize <= 0 {
		batchSize = l.consistencyPageSize
	}
	return search.NewReindexService(l.search, l.datasource, search.ReindexConfig{BatchSize: batchSize}), nil
}

// ReindexEvents rebuilds the event index from the event store.
func (l *Ledger) ReindexEvents(ctx context.Context) (search.ReindexProgress, error) {
	reindexer, err := l.EventReindexer(0)
	if err != nil {
		return search.ReindexProgress{}, err
	}
	return reindexer.StartReindex(ctx)
}
