// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipelineerr defines the error taxonomy shared by every pipeline
// stage: validation, not-found, unauthorized, forbidden, conflict,
// too-many-requests, config, provider, and unknown. Internal code checks
// Category with errors.As instead of string matching; the HTTP handlers in
// internal/httpapi do not consult the Category when choosing a status.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Category tags an Error with the taxonomy bucket it belongs to.
type Category string

const (
	Validation      Category = "validation"
	NotFound        Category = "not-found"
	Unauthorized    Category = "unauthorized"
	Forbidden       Category = "forbidden"
	Conflict        Category = "conflict"
	TooManyRequests Category = "too-many-requests"
	Config          Category = "config"
	Provider        Category = "provider"
	Unknown         Category = "unknown"
)

// Error wraps an underlying cause with a taxonomy Category and, for
// provider errors, whether the queue should retry the enclosing job.
type Error struct {
	Category  Category
	Retryable bool
	Stage     string
	Err       error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Category, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged error for the given category.
func New(cat Category, stage string, err error) *Error {
	return &Error{Category: cat, Stage: stage, Err: err}
}

// NewRetryable builds a provider-category error marked retryable by the
// queue's backoff policy.
func NewRetryable(stage string, err error) *Error {
	return &Error{Category: Provider, Retryable: true, Stage: stage, Err: err}
}

// NewParseError builds a provider-category error that is not retryable:
// the response was well-formed HTTP but its body did not match the
// expected shape, so retrying would reproduce the same failure.
func NewParseError(stage string, err error) *Error {
	return &Error{Category: Provider, Retryable: false, Stage: stage, Err: err}
}

// CategoryOf recovers the taxonomy Category of err, defaulting to Unknown
// when err was not produced by this package.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return Unknown
}

// IsRetryable reports whether err should be retried by the queue's backoff
// policy. Errors not tagged by this package are treated as non-retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
