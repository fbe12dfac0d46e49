// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mlplatform/dataset-sdk/pkg/credential"
	"github.com/mlplatform/dataset-sdk/pkg/initializer"
	"github.com/mlplatform/dataset-sdk/pkg/openapi"
	"github.com/mlplatform/dataset-sdk/pkg/tos"
)

// Dataset is a handle on one dataset: its remote identity, its local
// materialization state and the collaborators used to fetch it.
//
// A Dataset is not safe for concurrent use.
type Dataset struct {
	id        string
	localPath string
	tosSource string
	created   bool
	dataCount int

	state      State
	descriptor *Descriptor
	resolveErr error
	local      []Record // manifest records of localPath
	// sources holds the records as first seen, before any path rewrite.
	// Download URLs are derived from these, so a retry on the same handle
	// fetches the same objects.
	sources []Record

	cred     credential.Credential
	credSet  bool
	api      MetadataAPI
	objects  ObjectStore
	httpc    *http.Client
	fs       afero.Fs
	logger   *zap.Logger
	settings Settings
	setsSet  bool
	progress ProgressFunc

	m *Materializer
}

// Option configures a Dataset.
type Option func(*Dataset)

// WithID sets the remote dataset identifier.
func WithID(id string) Option {
	return func(d *Dataset) { d.id = strings.TrimSpace(id) }
}

// WithLocalPath sets the local root of an already materialized dataset.
func WithLocalPath(p string) Option {
	return func(d *Dataset) { d.localPath = p }
}

// WithTOSSource sets an object-storage location records are fetched from
// when the descriptor carries no storage path.
func WithTOSSource(s string) Option {
	return func(d *Dataset) { d.tosSource = s }
}

// WithCredential sets the credential. Without it the process-wide default
// from the initializer package is borrowed.
func WithCredential(c credential.Credential) Option {
	return func(d *Dataset) {
		d.cred = c
		d.credSet = true
	}
}

// WithAPI replaces the metadata API client.
func WithAPI(api MetadataAPI) Option {
	return func(d *Dataset) { d.api = api }
}

// WithObjectStore replaces the object-storage client.
func WithObjectStore(s ObjectStore) Option {
	return func(d *Dataset) { d.objects = s }
}

// WithHTTPClient sets the client used for the metadata API and for HTTP(S)
// downloads.
func WithHTTPClient(h *http.Client) Option {
	return func(d *Dataset) { d.httpc = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dataset) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithSettings overrides the process-wide materialization settings.
func WithSettings(s Settings) Option {
	return func(d *Dataset) {
		d.settings = s
		d.setsSet = true
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(d *Dataset) { d.progress = fn }
}

// WithFs sets the filesystem the manifest file is read from and written to.
func WithFs(fs afero.Fs) Option {
	return func(d *Dataset) {
		if fs != nil {
			d.fs = fs
		}
	}
}

// New creates a dataset handle from an ID, a local path or a TOS source.
// Collaborators that are not supplied are built from the credential and
// the process-wide endpoints.
func New(opts ...Option) (*Dataset, error) {
	d := &Dataset{
		fs:     afero.NewOsFs(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.id == "" && d.localPath == "" && d.tosSource == "" {
		return nil, ErrEmptyDataset
	}

	global := initializer.Global()
	if !d.credSet {
		d.cred = initializer.GetCredential()
	}
	if !d.setsSet {
		d.settings = Settings{ChunkSize: global.ChunkSize, StrictDirs: global.StrictDirs}
	}
	if d.settings.ChunkSize <= 0 {
		d.settings.ChunkSize = DefaultChunkSize
	}
	if d.httpc == nil {
		d.httpc = openapi.BuildHTTPClient()
	}
	if d.api == nil {
		d.api = openapi.New(d.cred,
			openapi.WithEndpoint(global.APIEndpoint),
			openapi.WithHTTPClient(d.httpc))
	}
	if d.objects == nil {
		d.objects = tos.New(d.cred,
			tos.WithEndpoint(global.TOSEndpoint),
			tos.WithLogger(d.logger))
	}

	d.logger = d.logger.With(zap.String("dataset_id", d.id))
	d.m = &Materializer{
		HTTPClient: d.httpc,
		Objects:    d.objects,
		Logger:     d.logger,
		StrictDirs: d.settings.StrictDirs,
		Progress:   d.emit,
	}
	return d, nil
}

// ID returns the remote identifier, or "" for a purely local dataset.
func (d *Dataset) ID() string { return d.id }

// LocalPath returns the local root. After a successful materialization it
// is the destination root, made absolute.
func (d *Dataset) LocalPath() string { return d.localPath }

// TOSSource returns the alternate object-storage location.
func (d *Dataset) TOSSource() string { return d.tosSource }

// Created reports whether the dataset is known to exist remotely.
func (d *Dataset) Created() bool { return d.created }

// DataCount returns the number of records materialized by the last run.
func (d *Dataset) DataCount() int { return d.dataCount }

// State returns the descriptor resolution state.
func (d *Dataset) State() State { return d.state }

// Settings returns the effective materialization settings.
func (d *Dataset) Settings() Settings { return d.settings }

// Descriptor returns the resolved descriptor, if any.
func (d *Dataset) Descriptor() (*Descriptor, bool) {
	if d.state != StateResolved {
		return nil, false
	}
	return d.descriptor, true
}

// StoragePath returns the descriptor's storage path, or "" when nothing
// has been resolved.
func (d *Dataset) StoragePath() string {
	if d.state != StateResolved || d.descriptor == nil {
		return ""
	}
	return d.descriptor.StoragePath
}

// ManifestPath returns the manifest file location in the local root.
func (d *Dataset) ManifestPath() string {
	return manifestPath(d.localPath)
}

func (d *Dataset) emit(ev ProgressEvent) {
	if d.progress == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.DatasetID == "" {
		ev.DatasetID = d.id
	}
	d.progress(ev)
}

// Resolve fetches the descriptor from the metadata API, replacing any
// previous one. Without an ID it does nothing. Any failure is returned as
// an *Error of kind KindInvalidDataset wrapping the cause.
func (d *Dataset) Resolve(ctx context.Context) error {
	if d.id == "" {
		return nil
	}
	d.emit(ProgressEvent{Event: "resolve_start"})

	resp, err := d.api.GetDataset(ctx, d.id)
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		d.logger.Error("get dataset detail failed", zap.Error(err))
		d.state = StateFailed
		d.descriptor = nil
		d.resolveErr = &Error{Kind: KindInvalidDataset, Op: "resolve", Target: d.id, Err: err}
		d.emit(ProgressEvent{Level: "error", Event: "error", Message: d.resolveErr.Error()})
		return d.resolveErr
	}

	desc := resp.Result
	d.descriptor = &desc
	d.sources = append([]Record(nil), desc.Data...)
	d.state = StateResolved
	d.resolveErr = nil
	d.created = true
	d.logger.Debug("dataset resolved",
		zap.String("storage_path", desc.StoragePath),
		zap.Int("records", len(desc.Data)))
	d.emit(ProgressEvent{Event: "resolve_done", Total: int64(len(desc.Data)), Message: desc.StoragePath})
	return nil
}

// ensureResolved resolves on first need. A failed resolution is reported
// again without another remote call; call Resolve to retry.
func (d *Dataset) ensureResolved(ctx context.Context) error {
	switch d.state {
	case StateResolved:
		return nil
	case StateFailed:
		return d.resolveErr
	default:
		return d.Resolve(ctx)
	}
}

// Records returns the manifest records: the descriptor's when the dataset
// has an ID, otherwise those of the manifest file in the local root.
func (d *Dataset) Records(ctx context.Context) ([]Record, error) {
	if d.id != "" {
		if err := d.ensureResolved(ctx); err != nil {
			return nil, err
		}
		return d.descriptor.Data, nil
	}
	return d.localRecords()
}

// localRecords returns the records materialized under the local root,
// loading the manifest file on first use.
func (d *Dataset) localRecords() ([]Record, error) {
	if d.local == nil {
		if d.localPath == "" {
			return nil, ErrNoLocalPath
		}
		recs, err := LoadManifest(d.fs, d.localPath)
		if err != nil {
			return nil, err
		}
		d.local = recs
		if d.id == "" {
			d.sources = append([]Record(nil), recs...)
		}
	}
	return d.local, nil
}

// sourceRecord returns record i as it was before materialization
// rewrote its file path.
func (d *Dataset) sourceRecord(i int, rec Record) Record {
	if i < len(d.sources) {
		return d.sources[i]
	}
	return rec
}

// remoteBase is the location relative record paths are resolved against.
func (d *Dataset) remoteBase() string {
	if p := d.StoragePath(); p != "" {
		return p
	}
	return d.tosSource
}

// RecordURL returns the URL a record is downloaded from: its own URL if
// set, otherwise its file path under the storage path (or TOS source).
func (d *Dataset) RecordURL(rec Record) (string, error) {
	if rec.Data.URL != "" {
		return rec.Data.URL, nil
	}
	fp := strings.ReplaceAll(rec.Data.FilePath, "\\", "/")
	if strings.Contains(fp, "://") {
		return fp, nil
	}
	base := d.remoteBase()
	if base == "" || fp == "" {
		return "", &Error{
			Kind:   KindInvalidURL,
			Op:     "locate",
			Target: rec.Data.FilePath,
			Err:    errors.New("record has no URL and dataset has no storage path"),
		}
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(fp, "/"), nil
}

// CopyFile copies one record from sourceRoot into destRoot and rewrites
// its file path.
func (d *Dataset) CopyFile(rec *Record, sourceRoot, destRoot string) error {
	return d.m.Copy(rec, sourceRoot, destRoot)
}

// DownloadFile downloads one URL into destRoot and returns the local path.
func (d *Dataset) DownloadFile(ctx context.Context, rawURL, destRoot string, chunkSize int) (string, error) {
	return d.m.Download(ctx, rawURL, destRoot, chunkSize)
}

// Download materializes every record into destRoot by URL, in manifest
// order, rewriting each record's file path as it succeeds. The first
// failure aborts the run and is returned as a *RecordError; records
// already materialized keep their new paths. URLs always come from the
// records as resolved, so calling Download again after a failure is safe.
// On success the local root moves to destRoot and the manifest file is
// written there.
func (d *Dataset) Download(ctx context.Context, destRoot string) error {
	recs, err := d.Records(ctx)
	if err != nil {
		return err
	}
	return d.materialize(ctx, recs, destRoot, func(i int, rec *Record) (string, error) {
		u, err := d.RecordURL(d.sourceRecord(i, *rec))
		if err != nil {
			return "", err
		}
		d.emit(ProgressEvent{Event: "file_start", Index: i, Source: u, Total: rec.Data.Size})
		local, err := d.m.Download(ctx, u, destRoot, d.settings.ChunkSize)
		if err != nil {
			return u, err
		}
		rec.Data.FilePath = local
		return u, nil
	})
}

// CopyTo materializes every record into destRoot by copying it from the
// current local root, preserving the directory layout. Records already
// materialized by this handle are copied as they are; otherwise they come
// from the resolved descriptor, or from the manifest file when there is no
// ID. A relative file path is taken as relative to the local root.
func (d *Dataset) CopyTo(ctx context.Context, destRoot string) error {
	if d.localPath == "" {
		return ErrNoLocalPath
	}
	sourceRoot := d.localPath
	recs, err := d.copyRecords(ctx)
	if err != nil {
		return err
	}
	return d.materialize(ctx, recs, destRoot, func(i int, rec *Record) (string, error) {
		r := *rec
		if r.Data.FilePath != "" && !filepath.IsAbs(r.Data.FilePath) {
			r.Data.FilePath = filepath.Join(sourceRoot, r.Data.FilePath)
		}
		src := r.Data.FilePath
		d.emit(ProgressEvent{Event: "file_start", Index: i, Source: src, Total: rec.Data.Size})
		if err := d.m.Copy(&r, sourceRoot, destRoot); err != nil {
			return src, err
		}
		*rec = r
		return src, nil
	})
}

func (d *Dataset) copyRecords(ctx context.Context) ([]Record, error) {
	if d.local != nil || d.id == "" {
		return d.localRecords()
	}
	return d.Records(ctx)
}

func (d *Dataset) materialize(ctx context.Context, recs []Record, destRoot string, one func(int, *Record) (string, error)) error {
	d.dataCount = 0
	for i := range recs {
		d.emit(ProgressEvent{Event: "plan_item", Index: i, Path: recs[i].Data.FilePath, Total: recs[i].Data.Size})
	}

	for i := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := &recs[i]
		src, err := one(i, rec)
		if err != nil {
			d.logger.Error("materialize record failed", zap.Int("index", i), zap.String("source", src), zap.Error(err))
			d.emit(ProgressEvent{Level: "error", Event: "error", Index: i, Source: src, Message: err.Error()})
			return &RecordError{Index: i, Source: src, Err: err}
		}
		d.dataCount++
		d.emit(ProgressEvent{Event: "file_done", Index: i, Source: src, Path: rec.Data.FilePath})
	}

	if err := SaveManifest(d.fs, destRoot, recs); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	d.localPath = absPath(destRoot)
	d.local = recs

	d.emit(ProgressEvent{
		Event:   "done",
		Total:   int64(len(recs)),
		Path:    d.localPath,
		Message: fmt.Sprintf("materialized %d records", d.dataCount),
	})
	return nil
}
