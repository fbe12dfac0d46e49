// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package openapi is a minimal client for the platform's metadata API.
package openapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mlplatform/dataset-sdk/pkg/credential"
)

// DefaultEndpoint is the public metadata API endpoint.
const DefaultEndpoint = "https://open.volcengineapi.com"

// APIVersion is the version sent with every action.
const APIVersion = "2021-10-01"

const defaultUserAgent = "mlpdataset/1"

// Client calls the metadata API on behalf of one credential.
type Client struct {
	endpoint  string
	cred      credential.Credential
	httpc     *http.Client
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint sets the API endpoint, e.g. for private deployments.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = strings.TrimSuffix(endpoint, "/")
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpc = h
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New builds a client borrowing cred.
func New(cred credential.Credential, opts ...Option) *Client {
	c := &Client{
		endpoint:  DefaultEndpoint,
		cred:      cred,
		httpc:     BuildHTTPClient(),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the configured endpoint.
func (c *Client) Endpoint() string { return c.endpoint }

// BuildHTTPClient creates an HTTP client with sensible defaults. It sets
// no overall timeout; callers bound requests with a context.
func BuildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

// addAuth adds credential and user-agent headers to a request.
func (c *Client) addAuth(req *http.Request) {
	if c.cred.AccessKeyID != "" {
		req.Header.Set("X-Mlp-Access-Key", c.cred.AccessKeyID)
		req.Header.Set("X-Mlp-Secret-Key", c.cred.SecretAccessKey)
	}
	if c.cred.SessionToken != "" {
		req.Header.Set("X-Security-Token", c.cred.SessionToken)
	}
	req.Header.Set("X-Mlp-Region", c.cred.RegionOrDefault())
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
}

func (c *Client) actionURL(action string, params url.Values) string {
	q := url.Values{}
	q.Set("Action", action)
	q.Set("Version", APIVersion)
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return c.endpoint + "/?" + q.Encode()
}

// do performs one GET action and decodes the envelope into out.
func (c *Client) do(ctx context.Context, action string, params url.Values, out envelope) error {
	reqURL := c.actionURL(action, params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	c.addAuth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", action, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Action: action}
		var meta struct {
			ResponseMetadata ResponseMetadata `json:"ResponseMetadata"`
		}
		if json.Unmarshal(body, &meta) == nil && meta.ResponseMetadata.Error != nil {
			apiErr.Code = meta.ResponseMetadata.Error.Code
			apiErr.Message = meta.ResponseMetadata.Error.Message
			apiErr.RequestID = meta.ResponseMetadata.RequestID
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", action, err)
	}
	if e := out.metadata().Error; e != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Action:     action,
			Code:       e.Code,
			Message:    e.Message,
			RequestID:  out.metadata().RequestID,
		}
	}
	return nil
}

// GetDataset fetches the descriptor of one dataset.
func (c *Client) GetDataset(ctx context.Context, datasetID string) (*GetDatasetResponse, error) {
	if datasetID == "" {
		return nil, ErrMissingDatasetID
	}
	var out GetDatasetResponse
	if err := c.do(ctx, "GetDataset", url.Values{"DatasetID": {datasetID}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
