// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package openapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlplatform/dataset-sdk/pkg/credential"
)

func TestGetDataset(t *testing.T) {
	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-Mlp-Access-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"ResponseMetadata": {"RequestId": "req-1", "Action": "GetDataset"},
			"Result": {
				"DatasetID": "d-123",
				"StoragePath": "tos://bucket.tos-cn-beijing.volces.com/datasets/d-123",
				"Data": [
					{"Data": {"FilePath": "/src/a/1.jpg", "URL": "https://cdn.example/a/1.jpg"}, "Annotation": {"label": "cat"}},
					{"Data": {"FilePath": "/src/b/2.jpg"}}
				]
			}
		}`))
	}))
	defer srv.Close()

	c := New(credential.New("ak", "sk", ""), WithEndpoint(srv.URL+"/"))
	resp, err := c.GetDataset(context.Background(), "d-123")
	require.NoError(t, err)

	assert.Contains(t, gotQuery, "Action=GetDataset")
	assert.Contains(t, gotQuery, "DatasetID=d-123")
	assert.Contains(t, gotQuery, "Version="+APIVersion)
	assert.Equal(t, "ak", gotKey)

	assert.Equal(t, "req-1", resp.ResponseMetadata.RequestID)
	assert.Equal(t, "tos://bucket.tos-cn-beijing.volces.com/datasets/d-123", resp.Result.StoragePath)
	require.Len(t, resp.Result.Data, 2)
	assert.Equal(t, "/src/a/1.jpg", resp.Result.Data[0].Data.FilePath)
	assert.Equal(t, "https://cdn.example/a/1.jpg", resp.Result.Data[0].Data.URL)
	assert.JSONEq(t, `{"label": "cat"}`, string(resp.Result.Data[0].Annotation))
}

func TestGetDataset_Errors(t *testing.T) {
	t.Run("missing id", func(t *testing.T) {
		_, err := New(credential.Credential{}).GetDataset(context.Background(), "")
		assert.ErrorIs(t, err, ErrMissingDatasetID)
	})

	t.Run("http status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"ResponseMetadata": {"RequestId": "r", "Error": {"Code": "DatasetNotFound", "Message": "no such dataset"}}}`))
		}))
		defer srv.Close()

		_, err := New(credential.Credential{}, WithEndpoint(srv.URL)).GetDataset(context.Background(), "x")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "DatasetNotFound", apiErr.Code)
		assert.Equal(t, "no such dataset", apiErr.Message)
	})

	t.Run("embedded error with 200", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"ResponseMetadata": {"Error": {"Code": "InvalidAccessKey", "Message": "bad key"}}}`))
		}))
		defer srv.Close()

		_, err := New(credential.Credential{}, WithEndpoint(srv.URL)).GetDataset(context.Background(), "x")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "InvalidAccessKey", apiErr.Code)
	})

	t.Run("unauthorized", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		_, err := New(credential.Credential{}, WithEndpoint(srv.URL)).GetDataset(context.Background(), "x")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{not json`))
		}))
		defer srv.Close()

		_, err := New(credential.Credential{}, WithEndpoint(srv.URL)).GetDataset(context.Background(), "x")
		assert.ErrorContains(t, err, "decode response")
	})
}
