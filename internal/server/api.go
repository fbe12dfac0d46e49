// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mlplatform/dataset-sdk/pkg/credential"
	"github.com/mlplatform/dataset-sdk/pkg/datasets"
	"github.com/mlplatform/dataset-sdk/pkg/openapi"
)

const describeTimeout = 60 * time.Second

// DownloadRequest is the request body for starting a download.
// The output path is not configurable via API; jobs always write under
// the server's OutputDir.
type DownloadRequest struct {
	DatasetID string `json:"datasetId"`
	TOSSource string `json:"tosSource,omitempty"`
}

// DescribeResponse is the resolved descriptor of a dataset.
type DescribeResponse struct {
	DatasetID   string         `json:"datasetId"`
	Name        string         `json:"name,omitempty"`
	StoragePath string         `json:"storagePath"`
	Files       []DescribeFile `json:"files"`
	TotalSize   int64          `json:"totalSize"`
	TotalFiles  int            `json:"totalFiles"`
}

// DescribeFile is one record of a described dataset.
type DescribeFile struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Source string `json:"source,omitempty"`
}

// SettingsResponse represents current settings.
type SettingsResponse struct {
	AccessKey   string `json:"accessKey,omitempty"`
	Region      string `json:"region"`
	OutputDir   string `json:"outputDir"`
	APIEndpoint string `json:"apiEndpoint,omitempty"`
	TOSEndpoint string `json:"tosEndpoint,omitempty"`
	ChunkSize   int    `json:"chunkSize"`
	StrictDirs  bool   `json:"strictDirs"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a simple success message.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// validateDatasetID rejects IDs that cannot name a directory under the
// output root.
func validateDatasetID(id string) error {
	switch {
	case id == "":
		return errors.New("missing required field: datasetId")
	case id == "." || id == "..", strings.ContainsAny(id, `/\`):
		return fmt.Errorf("invalid datasetId %q", id)
	}
	return nil
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.config.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	req.DatasetID = strings.TrimSpace(req.DatasetID)
	if err := validateDatasetID(req.DatasetID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	job, wasExisting, err := s.jobs.CreateJob(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create job", err.Error())
		return
	}

	if wasExisting {
		writeJSON(w, http.StatusOK, map[string]any{
			"job":     job,
			"message": "Download already in progress",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleDescribe resolves a dataset without downloading it.
func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	req.DatasetID = strings.TrimSpace(req.DatasetID)
	if err := validateDatasetID(req.DatasetID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	cfg := s.jobs.Config()
	ds, err := datasets.New(
		datasets.WithID(req.DatasetID),
		datasets.WithTOSSource(req.TOSSource),
		datasets.WithCredential(cfg.Credential),
		datasets.WithAPI(cfg.API),
		datasets.WithObjectStore(cfg.Objects),
		datasets.WithLogger(s.log),
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create dataset handle", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), describeTimeout)
	defer cancel()
	if err := ds.Resolve(ctx); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, openapi.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, openapi.ErrUnauthorized):
			status = http.StatusUnauthorized
		}
		writeError(w, status, "Failed to resolve dataset", err.Error())
		return
	}

	desc, _ := ds.Descriptor()
	resp := DescribeResponse{
		DatasetID:   req.DatasetID,
		Name:        desc.Name,
		StoragePath: desc.StoragePath,
		Files:       make([]DescribeFile, 0, len(desc.Data)),
		TotalFiles:  len(desc.Data),
	}
	for _, rec := range desc.Data {
		src, _ := ds.RecordURL(rec)
		resp.Files = append(resp.Files, DescribeFile{Path: rec.Data.FilePath, Size: rec.Data.Size, Source: src})
		resp.TotalSize += rec.Data.Size
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	job, ok := s.jobs.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", "")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	if s.jobs.CancelJob(id) {
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Job cancelled"})
		return
	}
	writeError(w, http.StatusNotFound, "Job not found or already completed", "")
}

// handleGetSettings returns current settings. The access key is masked
// and the secret key is never returned.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg := s.jobs.Config()
	writeJSON(w, http.StatusOK, SettingsResponse{
		AccessKey:   credential.Mask(cfg.Credential.AccessKeyID),
		Region:      cfg.Credential.RegionOrDefault(),
		OutputDir:   cfg.OutputDir,
		APIEndpoint: cfg.APIEndpoint,
		TOSEndpoint: cfg.TOSEndpoint,
		ChunkSize:   cfg.ChunkSize,
		StrictDirs:  cfg.StrictDirs,
	})
}

// handleUpdateSettings updates materialization settings for new jobs.
// Credentials and the output directory cannot be changed via API.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChunkSize  *int  `json:"chunkSize,omitempty"`
		StrictDirs *bool `json:"strictDirs,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.ChunkSize != nil && *req.ChunkSize <= 0 {
		writeError(w, http.StatusBadRequest, "chunkSize must be positive", "")
		return
	}

	s.jobs.UpdateSettings(req.ChunkSize, req.StrictDirs)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Settings updated"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}
