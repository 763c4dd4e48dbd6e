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

package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/blnkfinance/eventledger/model"
	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrUnprocessable  ErrorCode = "UNPROCESSABLE"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// FromError classifies any error returned by the ledger into an APIError.
func FromError(err error) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var (
		invalidAmount *model.InvalidAmountError
		selfTransfer  *model.SelfTransferError
		duplicate     *model.DuplicateAccountError
		notFound      *model.AccountNotFoundError
		inactive      *model.AccountInactiveError
		insufficient  *model.InsufficientBalanceError
		conflict      *model.ConcurrencyConflictError
		outOfOrder    *model.OutOfOrderEventError
	)
	switch {
	case errors.As(err, &invalidAmount), errors.As(err, &selfTransfer):
		return APIError{Code: ErrInvalidInput, Message: err.Error()}
	case errors.As(err, &duplicate), errors.As(err, &conflict), errors.As(err, &outOfOrder):
		return APIError{Code: ErrConflict, Message: err.Error()}
	case errors.As(err, &notFound):
		return APIError{Code: ErrNotFound, Message: err.Error()}
	case errors.As(err, &inactive), errors.As(err, &insufficient):
		return APIError{Code: ErrUnprocessable, Message: err.Error()}
	}
	return APIError{Code: ErrInternalServer, Message: err.Error()}
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		apiErr = FromError(err)
	}
	switch apiErr.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrInvalidInput, ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnprocessable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
