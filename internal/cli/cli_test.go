// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlplatform/dataset-sdk/pkg/datasets"
	"github.com/mlplatform/dataset-sdk/pkg/initializer"
	"github.com/mlplatform/dataset-sdk/pkg/openapi"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Cleanup(initializer.Reset)

	var out bytes.Buffer
	root := newRootCmd("1.2.3")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// platform serves GetDataset for "d-1" and file bodies for every other path.
func platform(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("Action") != "GetDataset" {
			w.Write([]byte("body:" + r.URL.Path))
			return
		}
		assert.Equal(t, "ak-123456", r.Header.Get("X-Mlp-Access-Key"))
		resp := openapi.GetDatasetResponse{Result: openapi.Dataset{
			DatasetID:   "d-1",
			Name:        "demo",
			StoragePath: "tos://bucket.example/demo",
			Data: []openapi.DataRecord{
				{Data: openapi.RecordData{FilePath: "a.txt", URL: srv.URL + "/files/a.txt", Size: 17}},
				{Data: openapi.RecordData{FilePath: "b.txt", URL: srv.URL + "/files/sub/b.txt", Size: 21}},
			},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)

	out, err = run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mlpdataset 1.2.3")
	assert.Contains(t, out, openapi.APIVersion)
}

func TestConfigCommands(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "conf", "mlpdataset.yaml")

	out, err := run(t, "--config", cfgPath, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, cfgPath)
	assert.FileExists(t, cfgPath)

	_, err = run(t, "--config", cfgPath, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "--config", cfgPath, "config", "init", "--force")
	require.NoError(t, err)

	out, err = run(t, "--config", cfgPath, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, cfgPath+"\n", out)

	out, err = run(t, "--config", cfgPath, "--access-key", "ak-123456", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Config file: "+cfgPath)
	assert.Contains(t, out, "********3456")
	assert.Contains(t, out, "chunk_size: 8192")
}

func TestConfigFileValues(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "mlp.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("chunk_size: 4096\nregion: cn-shanghai\n"), 0o600))

	out, err := run(t, "--config", cfgPath, "--chunk-size", "1024", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "chunk_size: 1024", "flags override the file")
	assert.Contains(t, out, "region: cn-shanghai")
}

func TestDownload_JSON(t *testing.T) {
	api := platform(t)
	outDir := t.TempDir()

	out, err := run(t, "download", "d-1",
		"--api-endpoint", api.URL, "--access-key", "ak-123456", "--secret-key", "sk",
		"-o", outDir, "--json")
	require.NoError(t, err)

	var events []datasets.ProgressEvent
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var ev datasets.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev), line)
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, "done", events[len(events)-1].Event)

	dest := filepath.Join(outDir, "d-1")
	b, err := os.ReadFile(filepath.Join(dest, "files", "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "body:/files/sub/b.txt", string(b))

	recs, err := datasets.LoadManifest(afero.NewOsFs(), dest)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, filepath.Join(dest, "files", "a.txt"), recs[0].Data.FilePath)
}

func TestDownload_DefaultCommand(t *testing.T) {
	api := platform(t)
	outDir := t.TempDir()

	out, err := run(t, "d-1", "--api-endpoint", api.URL, "--access-key", "ak-123456",
		"-o", outDir, "--flat", "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "materialized 2 records")
	assert.FileExists(t, filepath.Join(outDir, "files", "a.txt"))
}

func TestDownload_MissingID(t *testing.T) {
	_, err := run(t, "download", "--quiet")
	assert.ErrorContains(t, err, "missing DATASET_ID")
}

func TestCopy(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	dst := filepath.Join(t.TempDir(), "dst")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "x", "f.txt"), []byte("F"), 0o644))
	require.NoError(t, datasets.SaveManifest(afero.NewOsFs(), src, []datasets.Record{
		{Data: openapi.RecordData{FilePath: filepath.Join(src, "x", "f.txt")}},
	}))

	out, err := run(t, "copy", "--from", src, "--to", dst, "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "materialized 1 records")

	b, err := os.ReadFile(filepath.Join(dst, "x", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "F", string(b))

	_, err = run(t, "copy", "--from", src)
	assert.Error(t, err)
}

func TestDownloadThenCopy_RelativeDirs(t *testing.T) {
	api := platform(t)
	t.Chdir(t.TempDir())

	_, err := run(t, "download", "d-1", "--api-endpoint", api.URL, "--access-key", "ak-123456",
		"-o", "Datasets", "--quiet")
	require.NoError(t, err)

	out, err := run(t, "copy", "--from", filepath.Join("Datasets", "d-1"), "--to", "copied", "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "materialized 2 records")

	b, err := os.ReadFile(filepath.Join("copied", "files", "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "body:/files/sub/b.txt", string(b))
}

func TestDescribe(t *testing.T) {
	api := platform(t)

	out, err := run(t, "describe", "d-1", "--api-endpoint", api.URL, "--access-key", "ak-123456", "--format", "json")
	require.NoError(t, err)
	var desc openapi.Dataset
	require.NoError(t, json.Unmarshal([]byte(out), &desc))
	assert.Equal(t, "demo", desc.Name)
	assert.Len(t, desc.Data, 2)

	out, err = run(t, "describe", "d-1", "--api-endpoint", api.URL, "--access-key", "ak-123456")
	require.NoError(t, err)
	assert.Contains(t, out, "Dataset d-1 (demo)")
	assert.Contains(t, out, "Records: 2")
	assert.Contains(t, out, api.URL+"/files/a.txt")
}

func TestCliProgress(t *testing.T) {
	var buf bytes.Buffer
	fn := cliProgress(&buf)
	fn(datasets.ProgressEvent{Event: "file_start", Source: "https://h/a"})
	fn(datasets.ProgressEvent{Event: "file_done", Path: "/out/a"})
	fn(datasets.ProgressEvent{Event: "error", Message: "boom"})
	fn(datasets.ProgressEvent{Event: "file_progress"})

	out := buf.String()
	assert.Contains(t, out, "fetching: https://h/a")
	assert.Contains(t, out, "/out/a")
	assert.Contains(t, out, "boom")
	assert.Equal(t, 3, strings.Count(out, "\n"))
}
