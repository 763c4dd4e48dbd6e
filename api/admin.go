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

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (a Api) RetryFailedEvents(c *gin.Context) {
	result, err := a.ledger.RetryFailedEvents(c.Request.Context())
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a Api) CheckStaleFailures(c *gin.Context) {
	records, err := a.ledger.CheckStaleFailures(c.Request.Context())
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flagged": len(records), "records": records})
}

func (a Api) ValidateConsistency(c *gin.Context) {
	report, err := a.ledger.ValidateConsistency(c.Request.Context())
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// RecoverPendingEvents dispatches events left PENDING for longer than
// ?threshold_sec= seconds (default 60).
func (a Api) RecoverPendingEvents(c *gin.Context) {
	thresholdSec, ok := queryInt(c, "threshold_sec", 60)
	if !ok {
		return
	}
	recovered, err := a.ledger.RecoverPendingEvents(c.Request.Context(), time.Duration(thresholdSec)*time.Second)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recovered": recovered})
}
