// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package openapi

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingDatasetID is returned when GetDataset is called without an ID.
	ErrMissingDatasetID = errors.New("missing dataset ID")

	// ErrUnauthorized is returned when the credential is rejected.
	ErrUnauthorized = errors.New("unauthorized: credential rejected by the API")

	// ErrNotFound is returned when the dataset does not exist.
	ErrNotFound = errors.New("dataset not found")

	// ErrRateLimited is returned when the API rate limit is exceeded.
	ErrRateLimited = errors.New("rate limited: too many requests")
)

// APIError represents an error returned by the metadata API.
type APIError struct {
	StatusCode int
	Status     string
	Action     string
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: API error %d (%s): %s", e.Action, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: API error %d: %s", e.Action, e.StatusCode, e.Status)
}

// Is implements errors.Is for common error comparisons.
func (e *APIError) Is(target error) bool {
	switch {
	case e.StatusCode == 401 || e.StatusCode == 403:
		return target == ErrUnauthorized
	case e.StatusCode == 404 || e.Code == "NotFound" || e.Code == "DatasetNotFound":
		return target == ErrNotFound
	case e.StatusCode == 429:
		return target == ErrRateLimited
	default:
		return false
	}
}
