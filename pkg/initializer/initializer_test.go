// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package initializer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlplatform/dataset-sdk/pkg/credential"
)

func TestInit_Defaults(t *testing.T) {
	t.Cleanup(Reset)

	require.NoError(t, Init())
	cfg := Global()
	assert.Equal(t, DefaultAPIEndpoint, cfg.APIEndpoint)
	assert.Equal(t, DefaultTOSEndpoint, cfg.TOSEndpoint)
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, credential.DefaultRegion, cfg.Credential.Region)
}

func TestInit_FileEnvAndOverrides(t *testing.T) {
	t.Cleanup(Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "mlp.yaml")
	body := "access_key_id: file-ak\nsecret_access_key: file-sk\napi_endpoint: https://api.example\nchunk_size: 4096\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv("MLP_TOS_ENDPOINT", "https://tos.example")

	require.NoError(t, Init(
		WithConfigFile(path),
		WithCredential(credential.Credential{AccessKeyID: "opt-ak"}),
	))

	cfg := Global()
	assert.Equal(t, "opt-ak", cfg.Credential.AccessKeyID)
	assert.Equal(t, "file-sk", cfg.Credential.SecretAccessKey)
	assert.Equal(t, "https://api.example", cfg.APIEndpoint)
	assert.Equal(t, "https://tos.example", cfg.TOSEndpoint)
	assert.Equal(t, 4096, cfg.ChunkSize)
	assert.Equal(t, "opt-ak", GetCredential().AccessKeyID)
}

func TestInit_ViperValuesWin(t *testing.T) {
	t.Cleanup(Reset)

	v := viper.New()
	v.Set(KeyOutput, "/data/out")
	v.Set(KeyStrictDirs, true)
	require.NoError(t, Init(WithViper(v)))

	assert.Equal(t, "/data/out", Global().Output)
	assert.True(t, Global().StrictDirs)
}

func TestInit_MissingFile(t *testing.T) {
	t.Cleanup(Reset)

	err := Init(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
