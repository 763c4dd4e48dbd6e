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

import "github.com/shopspring/decimal"

type CreateAccount struct {
	AccountID string `json:"account_id"`
	OwnerID   string `json:"owner_id"`
	ActorID   string `json:"actor_id"`
}

type BalanceChange struct {
	Amount  decimal.Decimal `json:"amount"`
	ActorID string          `json:"actor_id"`
}

type Transfer struct {
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	ActorID       string          `json:"actor_id"`
}

type Replay struct {
	Since string `json:"since"`
}
