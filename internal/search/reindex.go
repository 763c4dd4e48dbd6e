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
	"strings"
	"sync"
	"time"

	"github.com/blnkfinance/eventledger/database"
	"github.com/sirupsen/logrus"
)

// ReindexProgress tracks the progress of a reindex operation.
type ReindexProgress struct {
	Status           string     `json:"status"` // "in_progress", "completed", "failed"
	Phase            string     `json:"phase"`
	TotalRecords     int64      `json:"total_records"`
	ProcessedRecords int64      `json:"processed_records"`
	Errors           []string   `json:"errors,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// ReindexConfig holds configuration for reindexing.
type ReindexConfig struct {
	BatchSize int
}

// ReindexService rebuilds the event index from the event store.
type ReindexService struct {
	client     *TypesenseClient
	datasource database.IDataSource
	config     ReindexConfig
	progress   *ReindexProgress
	mu         sync.RWMutex
}

func NewReindexService(client *TypesenseClient, datasource database.IDataSource, config ReindexConfig) *ReindexService {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	return &ReindexService{
		client:     client,
		datasource: datasource,
		config:     config,
		progress: &ReindexProgress{
			Status: "pending",
		},
	}
}

// GetProgress returns a copy of the current progress.
func (r *ReindexService) GetProgress() ReindexProgress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.progress
}

func (r *ReindexService) updateProgress(phase string, processed int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.Phase = phase
	r.progress.ProcessedRecords = processed
	r.progress.TotalRecords = processed
}

func (r *ReindexService) addError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.Errors = append(r.progress.Errors, err)
}

// StartReindex drops the event collection, recreates it and indexes the
// history of every account page by page.
func (r *ReindexService) StartReindex(ctx context.Context) (ReindexProgress, error) {
	r.mu.Lock()
	r.progress = &ReindexProgress{
		Status:    "in_progress",
		Phase:     "starting",
		StartedAt: time.Now(),
	}
	r.mu.Unlock()

	logrus.Info("Starting event reindex")

	r.updateProgress("drop_collection", 0)
	if err := r.client.DropCollection(ctx, CollectionEvents); err != nil {
		return r.failWithError(err, "drop_collection")
	}

	r.updateProgress("create_collection", 0)
	if err := r.client.EnsureEventCollection(ctx); err != nil {
		return r.failWithError(err, "create_collection")
	}

	if err := r.indexEvents(ctx); err != nil {
		return r.failWithError(err, "indexing_events")
	}

	r.mu.Lock()
	now := time.Now()
	r.progress.Status = "completed"
	r.progress.Phase = "done"
	r.progress.CompletedAt = &now
	r.mu.Unlock()

	progress := r.GetProgress()
	logrus.WithFields(logrus.Fields{
		"processed_records": progress.ProcessedRecords,
		"duration":          time.Since(progress.StartedAt).String(),
	}).Info("Event reindex completed")

	return progress, nil
}

func (r *ReindexService) failWithError(err error, phase string) (ReindexProgress, error) {
	r.mu.Lock()
	now := time.Now()
	r.progress.Status = "failed"
	r.progress.Phase = phase
	r.progress.CompletedAt = &now
	r.progress.Errors = append(r.progress.Errors, err.Error())
	r.mu.Unlock()

	logrus.WithError(err).WithField("phase", phase).Error("Event reindex failed")
	return r.GetProgress(), err
}

func (r *ReindexService) indexEvents(ctx context.Context) error {
	r.updateProgress("indexing_events", 0)

	var (
		offset       int
		totalIndexed int64
	)
	for {
		accounts, err := r.datasource.GetAccounts(ctx, r.config.BatchSize, offset)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			break
		}

		for _, account := range accounts {
			events, err := r.datasource.GetEventsByEntity(ctx, account.AccountID)
			if err != nil {
				r.addError(fmt.Sprintf("account %s: %v", account.AccountID, err))
				continue
			}
			for _, event := range events {
				if err := r.client.IndexEvent(ctx, event); err != nil {
					r.addError(fmt.Sprintf("event %d: %v", event.ID, err))
					continue
				}
				totalIndexed++
			}
		}

		r.updateProgress("indexing_events", totalIndexed)
		offset += len(accounts)
	}

	logrus.WithField("total", totalIndexed).Info("Event indexing completed")
	return nil
}

// DropCollection deletes a collection from Typesense.
func (t *TypesenseClient) DropCollection(ctx context.Context, collectionName string) error {
	_, err := t.Client.Collection(collectionName).Delete(ctx)
	if err != nil && !strings.Contains(err.Error(), "not found") && !strings.Contains(err.Error(), "Not Found") {
		return err
	}
	return nil
}
