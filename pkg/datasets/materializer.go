// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/otiai10/copy"
	"go.uber.org/zap"

	"github.com/mlplatform/dataset-sdk/pkg/openapi"
)

// Materializer copies or downloads single files into a destination tree.
// The zero value copies files and downloads HTTP(S) URLs with a default
// client; Objects must be set to download tos:// URLs.
type Materializer struct {
	HTTPClient *http.Client
	Objects    ObjectStore
	Logger     *zap.Logger
	StrictDirs bool
	Progress   ProgressFunc
}

func (m *Materializer) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

func (m *Materializer) httpClient() *http.Client {
	if m.HTTPClient == nil {
		return openapi.BuildHTTPClient()
	}
	return m.HTTPClient
}

func (m *Materializer) emit(ev ProgressEvent) {
	if m.Progress == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	m.Progress(ev)
}

// ensureDir creates dir and its parents. An existing directory is not an
// error. Other failures are logged and swallowed unless StrictDirs is set,
// in which case they are returned.
func (m *Materializer) ensureDir(dir string) error {
	err := os.MkdirAll(dir, 0o755)
	if err == nil {
		return nil
	}
	if m.StrictDirs {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	m.logger().Warn("Cannot create directory", zap.String("dir", dir), zap.Error(err))
	return nil
}

// Copy places the file at rec.Data.FilePath under destRoot at the same
// position it has relative to sourceRoot, then rewrites rec.Data.FilePath
// to the new location. A file outside sourceRoot yields a relative path
// with ".." segments and is placed accordingly.
func (m *Materializer) Copy(rec *Record, sourceRoot, destRoot string) error {
	src := rec.Data.FilePath
	if src == "" {
		return fmt.Errorf("copy: record has no file path")
	}
	dir, name := filepath.Split(src)
	if dir == "" {
		dir = "."
	}
	// Rel needs both sides in the same form.
	rel, err := filepath.Rel(absPath(sourceRoot), absPath(dir))
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	targetDir := filepath.Join(destRoot, rel)
	if err := m.ensureDir(targetDir); err != nil {
		return err
	}
	target := absPath(filepath.Join(targetDir, name))

	// Copying a file onto itself would truncate it.
	if absPath(src) != target {
		if err := copy.Copy(src, target); err != nil {
			return fmt.Errorf("copy %s: %w", src, err)
		}
	}

	rec.Data.FilePath = target
	return nil
}

// Download fetches rawURL into destRoot/<url path> and returns the local
// path. HTTP(S) bodies are streamed in chunkSize writes; tos:// URLs are
// delegated to the object store. Unsupported schemes, and tos:// URLs
// without an object store, fail before any directory is created. There is no retry.
func (m *Materializer) Download(ctx context.Context, rawURL, destRoot string, chunkSize int) (string, error) {
	src, err := ParseSource(rawURL)
	if err != nil {
		m.logger().Warn("Cannot handle url scheme", zap.String("url", rawURL), zap.Error(err))
		return "", err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if src.Kind == SourceObjectStorage && m.Objects == nil {
		return "", ErrNoObjectStore
	}

	dst := filepath.Join(destRoot, filepath.FromSlash(src.RelPath))
	if err := m.ensureDir(filepath.Dir(dst)); err != nil {
		return "", err
	}

	switch src.Kind {
	case SourceHTTP:
		err = m.fetchHTTP(ctx, src, dst, chunkSize)
	case SourceObjectStorage:
		err = m.Objects.DownloadFile(ctx, dst, src.Bucket, src.Key)
	}
	if err != nil {
		return "", err
	}
	return absPath(dst), nil
}

// fetchHTTP streams a GET response into dst. The file is closed on every
// path; a partial file stays on disk after a failed transfer.
func (m *Materializer) fetchHTTP(ctx context.Context, src Source, dst string, chunkSize int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL.String(), nil)
	if err != nil {
		return err
	}
	resp, err := m.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{URL: src.URL.String(), StatusCode: resp.StatusCode, Status: resp.Status}
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	var body io.Reader = resp.Body
	if m.Progress != nil {
		body = newProgressReader(resp.Body, resp.ContentLength, src.RelPath, m.emit)
	}

	buf := make([]byte, chunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	return out.Close()
}

func absPath(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}

// progressReader wraps an io.Reader and emits progress events during reads.
type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	reported   int64
	path       string
	emit       func(ProgressEvent)
	lastEmit   time.Time
	interval   time.Duration
}

func newProgressReader(r io.Reader, total int64, path string, emit func(ProgressEvent)) *progressReader {
	return &progressReader{
		reader:   r,
		total:    total,
		path:     path,
		emit:     emit,
		lastEmit: time.Now(),
		interval: 200 * time.Millisecond, // at most 5 events per second
	}
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	pr.downloaded += int64(n)
	due := n > 0 && time.Since(pr.lastEmit) >= pr.interval
	final := err == io.EOF && pr.downloaded != pr.reported
	if due || final {
		pr.emit(ProgressEvent{
			Event:      "file_progress",
			Path:       pr.path,
			Downloaded: pr.downloaded,
			Total:      pr.total,
		})
		pr.reported = pr.downloaded
		pr.lastEmit = time.Now()
	}
	return n, err
}
