// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlplatform/dataset-sdk/pkg/openapi"
)

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv.Handler(), "GET", "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "test", resp["version"])
}

func TestAPI_GetSettings_KeyMasked(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv.Handler(), "GET", "/api/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SettingsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "********mnop", resp.AccessKey)
	assert.Equal(t, "cn-beijing", resp.Region)
	assert.Equal(t, 4096, resp.ChunkSize)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestAPI_UpdateSettings(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Handler()

	w := do(t, h, "POST", "/api/settings", map[string]any{"chunkSize": 1024, "strictDirs": true})
	require.Equal(t, http.StatusOK, w.Code)
	cfg := srv.jobs.Config()
	assert.Equal(t, 1024, cfg.ChunkSize)
	assert.True(t, cfg.StrictDirs)

	w = do(t, h, "POST", "/api/settings", map[string]any{"chunkSize": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, "POST", "/api/settings", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_StartDownload_Validation(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Handler()

	tests := []struct {
		name string
		body any
	}{
		{"malformed body", "not json"},
		{"missing id", map[string]string{}},
		{"path separator", map[string]string{"datasetId": "../etc"}},
		{"dot dot", map[string]string{"datasetId": ".."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, "POST", "/api/download", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, srv.jobs.ListJobs())
}

func TestAPI_StartDownload(t *testing.T) {
	files := fileServer(t)
	api := &fakeAPI{descs: map[string]openapi.Dataset{
		"d-1": {DatasetID: "d-1", Data: []openapi.DataRecord{
			{Data: openapi.RecordData{FilePath: "a.txt", URL: files.URL + "/x/a.txt"}},
		}},
	}}
	srv := newTestServer(t, api)
	h := srv.Handler()

	w := do(t, h, "POST", "/api/download", DownloadRequest{DatasetID: "d-1"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var job Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "d-1", job.DatasetID)
	assert.NotEmpty(t, job.ID)

	srv.jobs.Wait()

	w = do(t, h, "GET", "/api/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Progress.CompletedFiles)

	w = do(t, h, "GET", "/api/jobs", nil)
	var list struct {
		Jobs  []Job `json:"jobs"`
		Count int   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
}

func TestAPI_Jobs_NotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Handler()

	assert.Equal(t, http.StatusNotFound, do(t, h, "GET", "/api/jobs/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, "DELETE", "/api/jobs/nope", nil).Code)
}

func TestAPI_Describe(t *testing.T) {
	api := &fakeAPI{descs: map[string]openapi.Dataset{
		"d-1": {
			DatasetID:   "d-1",
			Name:        "cats",
			StoragePath: "tos://bucket.example/cats",
			Data: []openapi.DataRecord{
				{Data: openapi.RecordData{FilePath: "img/1.jpg", Size: 10}},
				{Data: openapi.RecordData{FilePath: "img/2.jpg", Size: 32, URL: "https://cdn/2.jpg"}},
			},
		},
	}}
	srv := newTestServer(t, api)
	h := srv.Handler()

	w := do(t, h, "POST", "/api/describe", DownloadRequest{DatasetID: "d-1"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp DescribeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cats", resp.Name)
	assert.Equal(t, 2, resp.TotalFiles)
	assert.EqualValues(t, 42, resp.TotalSize)
	assert.Equal(t, "tos://bucket.example/cats/img/1.jpg", resp.Files[0].Source)
	assert.Equal(t, "https://cdn/2.jpg", resp.Files[1].Source)

	w = do(t, h, "POST", "/api/describe", DownloadRequest{DatasetID: "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, "POST", "/api/describe", DownloadRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_CORS(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.config.AllowedOrigins = []string{"https://allowed.example"}
	h := srv.Handler()

	req := httptest.NewRequest("OPTIONS", "/api/jobs", nil)
	req.Header.Set("Origin", "https://allowed.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://allowed.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
