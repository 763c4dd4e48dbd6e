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
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix returns a uuid prefixed with module, e.g. "corr_<uuid>".
func GenerateUUIDWithSuffix(module string) string {
	return fmt.Sprintf("%s_%s", module, uuid.New().String())
}

// NewCorrelationID groups the events of one logical command.
func NewCorrelationID() string {
	return GenerateUUIDWithSuffix("corr")
}

// NormalizeEventTime drops precision the store cannot keep so ordering checks
// agree before and after a round trip.
func NormalizeEventTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Epoch is the starting point for entities that have never been snapshotted.
var Epoch = time.Unix(0, 0).UTC()
