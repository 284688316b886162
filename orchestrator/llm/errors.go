// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Category classifies a failure and drives the failover policy.
type Category string

// Error categories.
const (
	// CategoryRateLimit covers quota exhaustion and provider throttling.
	CategoryRateLimit Category = "RATE_LIMIT"
	// CategoryAuth covers missing or rejected credentials.
	CategoryAuth Category = "AUTH"
	// CategoryService covers unavailable backends and malformed responses.
	CategoryService Category = "SERVICE"
	// CategoryValidation covers malformed caller input. Never retried.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal covers configuration and precondition failures.
	CategoryInternal Category = "INTERNAL"
)

// Failover reports whether the bus may try the next provider after a
// failure of this category.
func (c Category) Failover() bool {
	return c != CategoryValidation
}

// ProviderError is the single error type returned across the assistant
// pipeline. Context carries structured, credential-free detail.
type ProviderError struct {
	Provider   string                 `json:"provider,omitempty"`
	Category   Category               `json:"category"`
	Message    string                 `json:"message"`
	StatusCode int                    `json:"status_code,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	switch {
	case e.Provider != "" && e.StatusCode > 0:
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	case e.Provider != "":
		return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
	default:
		return e.Message
	}
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider string, category Category, message string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Category: category,
		Message:  message,
	}
}

// Errorf builds a ProviderError with a formatted message.
func Errorf(provider string, category Category, format string, args ...interface{}) *ProviderError {
	return NewProviderError(provider, category, fmt.Sprintf(format, args...))
}

// WithContext returns e after setting a context key.
func (e *ProviderError) WithContext(key string, value interface{}) *ProviderError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause returns e after attaching the underlying error.
func (e *ProviderError) WithCause(err error) *ProviderError {
	e.Cause = err
	return e
}

// CategoryForStatus maps an HTTP status to a category. Success statuses
// map to the empty category.
func CategoryForStatus(status int) Category {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CategoryAuth
	case status == http.StatusTooManyRequests:
		return CategoryRateLimit
	default:
		return CategoryService
	}
}

// AsProviderError converts any error into a ProviderError. Errors that are
// not already classified become SERVICE for context deadlines and
// cancellations, INTERNAL otherwise.
func AsProviderError(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProviderError(provider, CategoryService, err.Error()).WithCause(err)
	}
	return NewProviderError(provider, CategoryInternal, err.Error()).WithCause(err)
}

// CategoryOf returns the category of err, or INTERNAL when unclassified.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	return AsProviderError("", err).Category
}
