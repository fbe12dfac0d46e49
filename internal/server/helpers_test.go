// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mlplatform/dataset-sdk/pkg/credential"
	"github.com/mlplatform/dataset-sdk/pkg/openapi"
)

// fakeAPI serves descriptors by dataset ID. When gate is set, calls block
// until it is closed or the context ends.
type fakeAPI struct {
	mu    sync.Mutex
	descs map[string]openapi.Dataset
	gate  chan struct{}
	calls int
}

func (f *fakeAPI) GetDataset(ctx context.Context, id string) (*openapi.GetDatasetResponse, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	desc, ok := f.descs[id]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, &openapi.APIError{StatusCode: http.StatusNotFound, Status: "404 Not Found", Action: "GetDataset"}
	}
	desc.Data = append([]openapi.DataRecord(nil), desc.Data...)
	return &openapi.GetDatasetResponse{Result: desc}, nil
}

type fakeStore struct{}

func (fakeStore) DownloadFile(ctx context.Context, dst, bucket, key string) error {
	return os.WriteFile(dst, []byte(bucket+"/"+key), 0o644)
}

// fileServer serves "body:<path>" for every GET.
func fileServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, api *fakeAPI) *Server {
	t.Helper()
	if api == nil {
		api = &fakeAPI{}
	}
	srv := New(Config{
		Addr:       "127.0.0.1",
		OutputDir:  t.TempDir(),
		Credential: credential.New("AKLTabcdefghijklmnop", "secret", ""),
		ChunkSize:  4096,
		Version:    "test",
		API:        api,
		Objects:    fakeStore{},
	})
	t.Cleanup(srv.jobs.Shutdown)
	return srv
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
