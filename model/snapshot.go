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

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the materialized balance of an entity up to LastEventID.
type Snapshot struct {
	EntityID     string          `json:"entity_id"`
	Balance      decimal.Decimal `json:"balance"`
	SnapshotDate time.Time       `json:"snapshot_date"`
	LastEventID  int64           `json:"last_event_id"`
}

// AccountView is the read-side projection of an account.
type AccountView struct {
	AccountID   string          `json:"account_id"`
	Balance     decimal.Decimal `json:"balance"`
	LastUpdated time.Time       `json:"last_updated"`
	LastEventID int64           `json:"last_event_id"`
}
