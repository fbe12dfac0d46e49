// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/mlplatform/dataset-sdk/pkg/tos"
)

// SourceKind is the transport a URL is fetched with.
type SourceKind int

const (
	SourceUnsupported SourceKind = iota
	SourceHTTP
	SourceObjectStorage
)

func (k SourceKind) String() string {
	switch k {
	case SourceHTTP:
		return "http"
	case SourceObjectStorage:
		return "object-storage"
	default:
		return "unsupported"
	}
}

// Source is a parsed download URL. The kind is decided once, here, so
// unsupported schemes are rejected before anything touches the disk.
type Source struct {
	Kind SourceKind
	URL  *url.URL

	// RelPath is the destination path relative to the destination root,
	// in slash form. It keeps the URL's escaping and never escapes the root.
	RelPath string

	// Bucket and Key are set for SourceObjectStorage.
	Bucket string
	Key    string
}

// ParseSource classifies raw. Unsupported schemes and URLs without a file
// path yield an *Error of kind KindInvalidURL.
func ParseSource(raw string) (Source, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Source{}, &Error{Kind: KindInvalidURL, Op: "parse", Target: raw, Err: err}
	}

	src := Source{URL: u}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		src.Kind = SourceHTTP
	case tos.Scheme:
		src.Kind = SourceObjectStorage
	default:
		return Source{Kind: SourceUnsupported, URL: u}, &Error{
			Kind:   KindInvalidURL,
			Op:     "parse",
			Target: raw,
			Err:    fmt.Errorf("unsupported scheme %q", u.Scheme),
		}
	}

	if u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return Source{Kind: SourceUnsupported, URL: u}, &Error{
			Kind:   KindInvalidURL,
			Op:     "parse",
			Target: raw,
			Err:    fmt.Errorf("url has no file path"),
		}
	}
	// Object keys and local names use the path as written; "%20" stays
	// "%20". Cleaning a rooted path drops leading "..", so the result stays
	// under the destination root.
	escaped := u.EscapedPath()
	src.RelPath = strings.TrimPrefix(path.Clean("/"+escaped), "/")

	if src.Kind == SourceObjectStorage {
		src.Bucket = strings.Split(u.Hostname(), ".")[0]
		src.Key = strings.TrimPrefix(escaped, "/")
		if src.Bucket == "" {
			return Source{Kind: SourceUnsupported, URL: u}, &Error{
				Kind:   KindInvalidURL,
				Op:     "parse",
				Target: raw,
				Err:    fmt.Errorf("no bucket in host %q", u.Host),
			}
		}
	}
	return src, nil
}
