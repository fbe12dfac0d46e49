// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlplatform/dataset-sdk/pkg/openapi"
)

type fakeAPI struct {
	mu    sync.Mutex
	desc  openapi.Dataset
	err   error
	calls int
}

func (f *fakeAPI) GetDataset(ctx context.Context, id string) (*openapi.GetDatasetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	// Hand out a fresh copy so callers can mutate records.
	desc := f.desc
	desc.Data = append([]openapi.DataRecord(nil), f.desc.Data...)
	return &openapi.GetDatasetResponse{Result: desc}, nil
}

type objectCall struct {
	dst, bucket, key string
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]string // "bucket/key" -> body
	calls   []objectCall
	err     error
}

func (f *fakeStore) DownloadFile(ctx context.Context, dst, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, objectCall{dst: dst, bucket: bucket, key: key})
	if f.err != nil {
		return f.err
	}
	body, ok := f.objects[bucket+"/"+key]
	if !ok {
		return os.ErrNotExist
	}
	return os.WriteFile(dst, []byte(body), 0o644)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}
