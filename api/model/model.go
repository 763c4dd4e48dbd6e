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
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

const dateFormat = "2006-01-02T15:04:05Z07:00"

func positiveAmount(value interface{}) error {
	amount, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("invalid type for amount")
	}
	if !amount.IsPositive() {
		return errors.New("must be greater than zero")
	}
	return nil
}

func validateDateFormat(value interface{}) error {
	dateStr, ok := value.(string)
	if !ok {
		return errors.New("invalid type for date")
	}
	if _, err := time.Parse(dateFormat, dateStr); err != nil {
		return errors.New("please format the date as 'YYYY-MM-DDTHH:MM:SS+00:00' (e.g., 2024-04-22T15:28:03+00:00)")
	}
	return nil
}

func (a *CreateAccount) ValidateCreateAccount() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.OwnerID, validation.Required),
		validation.Field(&a.ActorID, validation.Required),
		validation.Field(&a.AccountID, validation.Length(0, 64)),
	)
}

func (b *BalanceChange) ValidateBalanceChange() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.Amount, validation.By(positiveAmount)),
		validation.Field(&b.ActorID, validation.Required),
	)
}

func (t *Transfer) ValidateTransfer() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.FromAccountID, validation.Required),
		validation.Field(&t.ToAccountID, validation.Required, validation.By(func(value interface{}) error {
			if value == t.FromAccountID {
				return errors.New("must differ from from_account_id")
			}
			return nil
		})),
		validation.Field(&t.Amount, validation.By(positiveAmount)),
		validation.Field(&t.ActorID, validation.Required),
	)
}

func (r *Replay) ValidateReplay() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Since, validation.When(r.Since != "", validation.By(validateDateFormat))),
	)
}

// SinceTime returns the replay lower bound, the zero value when none was given.
func (r *Replay) SinceTime() time.Time {
	if r.Since == "" {
		return time.Time{}
	}
	since, _ := time.Parse(dateFormat, r.Since)
	return since
}
