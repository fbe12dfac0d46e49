// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package credential holds the access credential shared by the platform
// API client and the object-storage client.
package credential

import (
	"os"
	"strings"
)

// Environment variables read by FromEnv.
const (
	EnvAccessKeyID     = "MLP_ACCESS_KEY_ID"
	EnvSecretAccessKey = "MLP_SECRET_ACCESS_KEY"
	EnvSessionToken    = "MLP_SESSION_TOKEN"
	EnvRegion          = "MLP_REGION"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "cn-beijing"

// Credential is an opaque access credential. It is passed by value and
// never mutated by the clients that borrow it.
type Credential struct {
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key" mapstructure:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty" yaml:"session_token,omitempty" mapstructure:"session_token"`
	Region          string `json:"region,omitempty" yaml:"region,omitempty" mapstructure:"region"`
}

// New returns a credential for the given key pair and region.
func New(accessKeyID, secretAccessKey, region string) Credential {
	return Credential{
		AccessKeyID:     strings.TrimSpace(accessKeyID),
		SecretAccessKey: strings.TrimSpace(secretAccessKey),
		Region:          strings.TrimSpace(region),
	}
}

// FromEnv reads a credential from the MLP_* environment variables.
func FromEnv() Credential {
	return Credential{
		AccessKeyID:     strings.TrimSpace(os.Getenv(EnvAccessKeyID)),
		SecretAccessKey: strings.TrimSpace(os.Getenv(EnvSecretAccessKey)),
		SessionToken:    strings.TrimSpace(os.Getenv(EnvSessionToken)),
		Region:          strings.TrimSpace(os.Getenv(EnvRegion)),
	}
}

// IsZero reports whether no key pair is set.
func (c Credential) IsZero() bool {
	return c.AccessKeyID == "" && c.SecretAccessKey == ""
}

// RegionOrDefault returns the configured region, or DefaultRegion.
func (c Credential) RegionOrDefault() string {
	if c.Region == "" {
		return DefaultRegion
	}
	return c.Region
}

// Merge returns c with empty fields filled from other.
func (c Credential) Merge(other Credential) Credential {
	if c.AccessKeyID == "" {
		c.AccessKeyID = other.AccessKeyID
	}
	if c.SecretAccessKey == "" {
		c.SecretAccessKey = other.SecretAccessKey
	}
	if c.SessionToken == "" {
		c.SessionToken = other.SessionToken
	}
	if c.Region == "" {
		c.Region = other.Region
	}
	return c
}

// Redacted returns the access key with everything but the last four
// characters masked. Safe to log.
func (c Credential) Redacted() string {
	return Mask(c.AccessKeyID)
}

// Mask hides all but the last four characters of s.
func Mask(s string) string {
	if s == "" {
		return ""
	}
	return "********" + s[max(0, len(s)-4):]
}
