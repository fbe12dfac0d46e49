// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"context"
	"time"

	"github.com/mlplatform/dataset-sdk/pkg/openapi"
)

// LocalMetadataFilename is the manifest file kept in a dataset's local root.
const LocalMetadataFilename = "local_metadata.manifest"

// DefaultChunkSize is the write size used when streaming HTTP downloads.
const DefaultChunkSize = 8192

// Descriptor is the remote description of a dataset.
type Descriptor = openapi.Dataset

// Record is one manifest entry. Its Data.FilePath is rewritten in place
// once the file has been materialized.
type Record = openapi.DataRecord

// MetadataAPI fetches dataset descriptors.
type MetadataAPI interface {
	GetDataset(ctx context.Context, datasetID string) (*openapi.GetDatasetResponse, error)
}

// ObjectStore writes one object to a local file.
type ObjectStore interface {
	DownloadFile(ctx context.Context, dst, bucket, key string) error
}

// Settings tune materialization.
type Settings struct {
	// ChunkSize is the buffer size for streamed HTTP downloads.
	// If <= 0, defaults to 8192.
	ChunkSize int

	// StrictDirs makes directory-creation failures fatal. By default they
	// are logged as warnings and the write that follows reports the error.
	StrictDirs bool
}

// DefaultSettings returns Settings with defaults filled in.
func DefaultSettings() Settings {
	return Settings{ChunkSize: DefaultChunkSize}
}

// State is the resolution state of a dataset's descriptor.
type State int

const (
	StateUnresolved State = iota
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "unresolved"
	}
}

// ProgressEvent reports materialization progress.
//
// Event is one of:
//   - "resolve_start", "resolve_done": descriptor lookup
//   - "plan_item": a record is about to be materialized
//   - "file_start", "file_progress", "file_done": per-record transfer
//   - "error": a record or the resolution failed
//   - "done": every record was materialized
type ProgressEvent struct {
	Time       time.Time `json:"time"`
	Level      string    `json:"level,omitempty"`
	Event      string    `json:"event"`
	DatasetID  string    `json:"datasetId,omitempty"`
	Index      int       `json:"index,omitempty"`
	Source     string    `json:"source,omitempty"`
	Path       string    `json:"path,omitempty"`
	Total      int64     `json:"total,omitempty"`
	Downloaded int64     `json:"downloaded,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// ProgressFunc receives progress events. Events are delivered from the
// goroutine running the materialization.
type ProgressFunc func(ProgressEvent)
