// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mlplatform/dataset-sdk/pkg/datasets"
)

// JobStatus represents the state of a download job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) active() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// Job is one materialization of a dataset into the server's output
// directory.
type Job struct {
	ID        string            `json:"id"`
	DatasetID string            `json:"datasetId"`
	TOSSource string            `json:"tosSource,omitempty"`
	OutputDir string            `json:"outputDir"`
	Status    JobStatus         `json:"status"`
	Progress  JobProgress       `json:"progress"`
	Error     string            `json:"error,omitempty"`
	FailedAt  *int              `json:"failedAt,omitempty"` // record index of the failure
	CreatedAt time.Time         `json:"createdAt"`
	StartedAt *time.Time        `json:"startedAt,omitempty"`
	EndedAt   *time.Time        `json:"endedAt,omitempty"`
	Files     []JobFileProgress `json:"files,omitempty"`

	ctx     context.Context
	cancel  context.CancelFunc
	current int
}

// JobProgress holds aggregate progress info.
type JobProgress struct {
	TotalFiles      int   `json:"totalFiles"`
	CompletedFiles  int   `json:"completedFiles"`
	TotalBytes      int64 `json:"totalBytes"`
	DownloadedBytes int64 `json:"downloadedBytes"`
}

// JobFileProgress holds per-record progress.
type JobFileProgress struct {
	Path       string `json:"path"`
	Source     string `json:"source,omitempty"`
	TotalBytes int64  `json:"totalBytes"`
	Downloaded int64  `json:"downloaded"`
	Status     string `json:"status"` // pending, active, complete, error
}

// snapshot copies the exported state; callers hold the manager lock.
func (j *Job) snapshot() *Job {
	c := &Job{
		ID:        j.ID,
		DatasetID: j.DatasetID,
		TOSSource: j.TOSSource,
		OutputDir: j.OutputDir,
		Status:    j.Status,
		Progress:  j.Progress,
		Error:     j.Error,
		FailedAt:  j.FailedAt,
		CreatedAt: j.CreatedAt,
		StartedAt: j.StartedAt,
		EndedAt:   j.EndedAt,
	}
	if len(j.Files) > 0 {
		c.Files = append([]JobFileProgress(nil), j.Files...)
	}
	return c
}

// JobManager manages download jobs.
type JobManager struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	config Config
	log    *zap.Logger
	wg     sync.WaitGroup

	listeners  []chan *Job
	listenerMu sync.RWMutex
	wsHub      *WSHub

	base   context.Context
	stopFn context.CancelFunc
}

// NewJobManager creates a new job manager.
func NewJobManager(cfg Config, wsHub *WSHub) *JobManager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &JobManager{
		jobs:   make(map[string]*Job),
		config: cfg,
		log:    cfg.Logger.Named("jobs"),
		wsHub:  wsHub,
		base:   base,
		stopFn: stop,
	}
}

// Config returns the current configuration.
func (m *JobManager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// UpdateSettings changes the materialization settings used by jobs
// created afterwards.
func (m *JobManager) UpdateSettings(chunkSize *int, strictDirs *bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if chunkSize != nil && *chunkSize > 0 {
		m.config.ChunkSize = *chunkSize
	}
	if strictDirs != nil {
		m.config.StrictDirs = *strictDirs
	}
}

// CreateJob creates and starts a download job. An active job for the
// same dataset is returned instead of starting another one.
func (m *JobManager) CreateJob(req DownloadRequest) (*Job, bool, error) {
	if err := validateDatasetID(req.DatasetID); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	for _, existing := range m.jobs {
		if existing.DatasetID == req.DatasetID &&
			existing.TOSSource == req.TOSSource &&
			existing.Status.active() {
			snap := existing.snapshot()
			m.mu.Unlock()
			return snap, true, nil
		}
	}

	ctx, cancel := context.WithCancel(m.base)
	job := &Job{
		ID:        uuid.NewString(),
		DatasetID: req.DatasetID,
		TOSSource: req.TOSSource,
		OutputDir: filepath.Join(m.config.OutputDir, req.DatasetID),
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		current:   -1,
	}
	m.jobs[job.ID] = job
	settings := datasets.Settings{ChunkSize: m.config.ChunkSize, StrictDirs: m.config.StrictDirs}
	snap := job.snapshot()
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runJob(job, settings)

	return snap, false, nil
}

// GetJob returns a snapshot of a job.
func (m *JobManager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return job.snapshot(), true
}

// ListJobs returns snapshots of all jobs, oldest first.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

// CancelJob cancels a running or queued job.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || !job.Status.active() {
		m.mu.Unlock()
		return false
	}
	job.cancel()
	job.Status = JobStatusCancelled
	now := time.Now()
	job.EndedAt = &now
	snap := job.snapshot()
	m.mu.Unlock()

	m.notifyListeners(snap)
	return true
}

// DeleteJob removes a job, cancelling it first if it is still active.
func (m *JobManager) DeleteJob(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false
	}
	if job.Status.active() {
		job.cancel()
	}
	delete(m.jobs, id)
	return true
}

// Shutdown cancels every job and waits for them to stop.
func (m *JobManager) Shutdown() {
	m.stopFn()
	m.wg.Wait()
}

// Wait blocks until every started job has finished.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// Subscribe adds a listener for job updates.
func (m *JobManager) Subscribe() chan *Job {
	ch := make(chan *Job, 100)
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes a listener.
func (m *JobManager) Unsubscribe(ch chan *Job) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *JobManager) notifyListeners(job *Job) {
	m.listenerMu.RLock()
	for _, ch := range m.listeners {
		select {
		case ch <- job:
		default:
			// slow listener
		}
	}
	m.listenerMu.RUnlock()

	if m.wsHub != nil {
		m.wsHub.PublishJob(job)
	}
}

// update applies fn to the job under the lock and notifies listeners
// with the resulting snapshot.
func (m *JobManager) update(job *Job, fn func(*Job)) {
	m.mu.Lock()
	fn(job)
	snap := job.snapshot()
	m.mu.Unlock()
	m.notifyListeners(snap)
}

func (m *JobManager) runJob(job *Job, settings datasets.Settings) {
	defer m.wg.Done()
	defer job.cancel()

	m.update(job, func(j *Job) {
		if j.Status != JobStatusQueued {
			return
		}
		j.Status = JobStatusRunning
		now := time.Now()
		j.StartedAt = &now
	})

	ds, err := datasets.New(
		datasets.WithID(job.DatasetID),
		datasets.WithTOSSource(job.TOSSource),
		datasets.WithCredential(m.config.Credential),
		datasets.WithAPI(m.config.API),
		datasets.WithObjectStore(m.config.Objects),
		datasets.WithSettings(settings),
		datasets.WithLogger(m.log.With(zap.String("job", job.ID))),
		datasets.WithProgress(func(ev datasets.ProgressEvent) {
			m.update(job, func(j *Job) { j.apply(ev) })
			if m.wsHub != nil {
				m.wsHub.PublishRecord(job.ID, job.DatasetID, ev)
			}
		}),
	)
	if err == nil {
		err = ds.Download(job.ctx, job.OutputDir)
	}

	m.update(job, func(j *Job) {
		if !j.Status.active() {
			return
		}
		now := time.Now()
		j.EndedAt = &now
		var recErr *datasets.RecordError
		switch {
		case j.ctx.Err() != nil:
			j.Status = JobStatusCancelled
		case err != nil:
			j.Status = JobStatusFailed
			j.Error = err.Error()
			if errors.As(err, &recErr) {
				idx := recErr.Index
				j.FailedAt = &idx
			}
		default:
			j.Status = JobStatusCompleted
		}
	})
	if err != nil {
		m.log.Warn("job finished with error", zap.String("job", job.ID), zap.Error(err))
	}
}

// apply folds a progress event into the job; callers hold the lock.
func (j *Job) apply(ev datasets.ProgressEvent) {
	switch ev.Event {
	case "plan_item":
		j.Progress.TotalFiles++
		j.Progress.TotalBytes += ev.Total
		j.Files = append(j.Files, JobFileProgress{
			Path:       ev.Path,
			TotalBytes: ev.Total,
			Status:     "pending",
		})

	case "file_start":
		if f := j.file(ev.Index); f != nil {
			j.current = ev.Index
			f.Status = "active"
			f.Source = ev.Source
		}

	case "file_progress":
		if f := j.file(j.current); f != nil {
			f.Downloaded = ev.Downloaded
			if ev.Total > 0 {
				f.TotalBytes = ev.Total
			}
		}
		j.recount()

	case "file_done":
		if f := j.file(ev.Index); f != nil {
			f.Status = "complete"
			f.Path = ev.Path
			if f.Downloaded < f.TotalBytes {
				f.Downloaded = f.TotalBytes
			}
		}
		j.Progress.CompletedFiles++
		j.recount()

	case "error":
		if f := j.file(ev.Index); f != nil && ev.Source != "" {
			f.Status = "error"
		}
	}
}

func (j *Job) file(i int) *JobFileProgress {
	if i < 0 || i >= len(j.Files) {
		return nil
	}
	return &j.Files[i]
}

func (j *Job) recount() {
	var total int64
	for _, f := range j.Files {
		total += f.Downloaded
	}
	j.Progress.DownloadedBytes = total
}
