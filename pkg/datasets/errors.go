// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"errors"
	"fmt"
)

// Common errors returned by the package.
var (
	// ErrInvalidDataset is matched by every metadata-resolution failure.
	ErrInvalidDataset = errors.New("invalid dataset")

	// ErrInvalidURL is matched by every URL the downloader cannot handle.
	ErrInvalidURL = errors.New("invalid url")

	// ErrEmptyDataset is returned by New when neither an ID, a local path
	// nor a TOS source is given.
	ErrEmptyDataset = errors.New("dataset needs an ID, a local path or a TOS source")

	// ErrNoLocalPath is returned when a copy is requested from a handle
	// without a local root.
	ErrNoLocalPath = errors.New("dataset has no local path")

	// ErrNoObjectStore is returned when a tos:// URL is downloaded without
	// an object-store client.
	ErrNoObjectStore = errors.New("no object store configured")
)

// ErrorKind classifies an Error.
type ErrorKind int

const (
	// KindInvalidDataset marks failures to fetch or decode a descriptor.
	KindInvalidDataset ErrorKind = iota + 1
	// KindInvalidURL marks URLs with an unsupported scheme or no path.
	KindInvalidURL
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidDataset:
		return "invalid dataset"
	case KindInvalidURL:
		return "invalid url"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidDataset:
		return ErrInvalidDataset
	case KindInvalidURL:
		return ErrInvalidURL
	default:
		return nil
	}
}

// Error is a domain error carrying its kind and the underlying cause.
type Error struct {
	Kind   ErrorKind
	Op     string
	Target string // dataset ID or URL
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Target, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Target, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// HTTPStatusError is returned when a download answers with a non-2xx status.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: bad status: %s", e.URL, e.Status)
}

// RecordError wraps the failure of one record during whole-dataset
// materialization. Records before Index were materialized.
type RecordError struct {
	Index  int
	Source string
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d (%s): %v", e.Index, e.Source, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
