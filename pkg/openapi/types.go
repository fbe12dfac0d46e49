// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package openapi

import "encoding/json"

// ResponseMetadata is present on every API response.
type ResponseMetadata struct {
	RequestID string         `json:"RequestId,omitempty"`
	Action    string         `json:"Action,omitempty"`
	Version   string         `json:"Version,omitempty"`
	Service   string         `json:"Service,omitempty"`
	Region    string         `json:"Region,omitempty"`
	Error     *ResponseError `json:"Error,omitempty"`
}

// ResponseError is the error block embedded in ResponseMetadata.
type ResponseError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

type envelope interface {
	metadata() ResponseMetadata
}

// GetDatasetResponse is the envelope returned by GetDataset.
type GetDatasetResponse struct {
	ResponseMetadata ResponseMetadata `json:"ResponseMetadata"`
	Result           Dataset          `json:"Result"`
}

func (r *GetDatasetResponse) metadata() ResponseMetadata { return r.ResponseMetadata }

// Dataset is the remote descriptor of a dataset: where it lives and which
// records it contains.
type Dataset struct {
	DatasetID   string       `json:"DatasetID"`
	Name        string       `json:"Name,omitempty"`
	Description string       `json:"Description,omitempty"`
	StoragePath string       `json:"StoragePath"`
	DataCount   int          `json:"DataCount,omitempty"`
	Data        []DataRecord `json:"Data"`
}

// DataRecord is one manifest entry.
type DataRecord struct {
	Data       RecordData      `json:"Data"`
	Annotation json.RawMessage `json:"Annotation,omitempty"`
}

// RecordData locates the file behind a record.
type RecordData struct {
	// FilePath is the authoritative location of the file. It is rewritten
	// to the local path once the file is materialized.
	FilePath    string `json:"FilePath"`
	URL         string `json:"URL,omitempty"`
	Size        int64  `json:"Size,omitempty"`
	ContentType string `json:"ContentType,omitempty"`
}
