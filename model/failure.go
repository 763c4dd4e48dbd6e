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

package model

import "time"

type FailureStatus string

const (
	FailurePending   FailureStatus = "PENDING"
	FailureRetrying  FailureStatus = "RETRYING"
	FailureResolved  FailureStatus = "RESOLVED"
	FailureExhausted FailureStatus = "EXHAUSTED"
)

// FailureRecord tracks a dispatch failure until it is resolved or retries run out.
type FailureRecord struct {
	ID             int64         `json:"id"`
	EventID        int64         `json:"event_id"`
	EventKind      EventKind     `json:"event_kind"`
	EntityID       string        `json:"entity_id"`
	FailureReason  string        `json:"failure_reason"`
	FailureTime    time.Time     `json:"failure_time"`
	RetryCount     int           `json:"retry_count"`
	LastRetryTime  *time.Time    `json:"last_retry_time,omitempty"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	FlaggedStaleAt *time.Time    `json:"flagged_stale_at,omitempty"`
	Status         FailureStatus `json:"status"`
}

// IsTerminal reports whether the record will never be retried again.
func (f FailureRecord) IsTerminal() bool {
	return f.Status == FailureResolved || f.Status == FailureExhausted
}

// NewFailureRecord opens a pending failure for event.
func NewFailureRecord(event Event, reason string, at time.Time) *FailureRecord {
	return &FailureRecord{
		EventID:       event.ID,
		EventKind:     event.Kind,
		EntityID:      event.EntityID,
		FailureReason: reason,
		FailureTime:   at,
		Status:        FailurePending,
	}
}
