// Package jobs runs transcodes in the background and tracks their state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"github.com/google/uuid"

	"github.com/smazurov/segmentcast/internal/logging"
	"github.com/smazurov/segmentcast/internal/media"
	"github.com/smazurov/segmentcast/internal/pipeline"
	"github.com/smazurov/segmentcast/internal/preview"
	"github.com/smazurov/segmentcast/internal/upload"
)

// State is the lifecycle state of a job.
type State string

// Job states.
const (
	StateRunning   State = "running"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

var (
	// ErrNotFound is returned for unknown job IDs.
	ErrNotFound = errors.New("job not found")
	// ErrNotRunning is returned when cancelling a finished job.
	ErrNotRunning = errors.New("job not running")
	// ErrNoPreview is returned before the first preview snapshot exists.
	ErrNoPreview = errors.New("no preview available")
	// ErrShuttingDown is returned by Submit after Shutdown.
	ErrShuttingDown = errors.New("job manager shutting down")
)

// Job is a point-in-time copy of a job's state.
type Job struct {
	ID         string              `json:"id" doc:"Run ID"`
	File       string              `json:"file" doc:"Input file path"`
	Title      string              `json:"title,omitempty" doc:"Title from the input's metadata"`
	Preset     string              `json:"preset,omitempty" doc:"Preset the encode config came from"`
	Encode     media.EncoderConfig `json:"encode" doc:"Encode configuration"`
	State      State               `json:"state" enum:"running,done,failed,cancelled" doc:"Job state"`
	Segments   []string            `json:"segments" doc:"Uploaded segment filenames in order"`
	Frames     int64               `json:"frames" doc:"Frames rendered to the preview sinks"`
	Position   string              `json:"position,omitempty" doc:"Timestamp of the last rendered frame"`
	ErrorKind  string              `json:"error_kind,omitempty" doc:"Failure kind"`
	Error      string              `json:"error,omitempty" doc:"Failure message"`
	StartedAt  time.Time           `json:"started_at" doc:"Start time"`
	FinishedAt *time.Time          `json:"finished_at,omitempty" doc:"Finish time"`
}

// Request describes a transcode to start.
type Request struct {
	Path   string
	Preset string
	Encode media.EncoderConfig
}

// Runner runs one pipeline. *pipeline.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.RunState, error)
}

// Options configures a Manager.
type Options struct {
	Runner   Runner
	Uploader upload.Uploader

	// SnapshotEvery keeps a WebP preview of every Nth rendered frame.
	// Zero disables snapshots.
	SnapshotEvery int
	// StatsInterval is how often frame rates are logged. Zero disables it.
	StatsInterval time.Duration
}

type job struct {
	mu         sync.Mutex
	id         string
	file       string
	title      string
	preset     string
	encode     media.EncoderConfig
	state      State
	segments   []string
	errKind    string
	errMsg     string
	startedAt  time.Time
	finishedAt time.Time

	stats    *preview.Stats
	snapshot *preview.Snapshot
	cancel   context.CancelFunc
	done     chan struct{}
}

// Manager starts and tracks jobs.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	jobs   map[string]*job
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a job manager.
func NewManager(opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		logger: logging.GetLogger("jobs"),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit opens req.Path and starts a run for it. The returned job is in
// the running state; the run continues after Submit returns.
func (m *Manager) Submit(req Request) (Job, error) {
	if req.Path == "" {
		return Job{}, errors.New("path is required")
	}
	f, err := os.Open(req.Path)
	if err != nil {
		return Job{}, fmt.Errorf("failed to open input: %w", err)
	}

	title, err := readTitle(f)
	if err != nil {
		f.Close()
		return Job{}, fmt.Errorf("failed to rewind input: %w", err)
	}

	j := &job{
		id:        uuid.NewString(),
		file:      req.Path,
		title:     title,
		preset:    req.Preset,
		encode:    req.Encode.WithDefaults(),
		state:     StateRunning,
		segments:  []string{},
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	j.stats = preview.NewStats(j.id, m.opts.StatsInterval)
	if m.opts.SnapshotEvery > 0 {
		j.snapshot = preview.NewSnapshot(m.opts.SnapshotEvery)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		f.Close()
		return Job{}, ErrShuttingDown
	}
	ctx, cancel := context.WithCancel(m.ctx)
	j.cancel = cancel
	m.jobs[j.id] = j
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, j, f)

	m.logger.Info("Job submitted", "job_id", j.id, "file", req.Path, "preset", req.Preset)
	return j.snapshotJob(), nil
}

func (m *Manager) run(ctx context.Context, j *job, f *os.File) {
	defer m.wg.Done()
	defer close(j.done)
	defer j.cancel()
	defer f.Close()

	sinks := []func(*media.Frame){j.stats.Render}
	if j.snapshot != nil {
		sinks = append(sinks, j.snapshot.Render)
	}

	_, err := m.opts.Runner.Run(ctx, pipeline.Options{
		File:         f,
		EncodeConfig: j.encode,
		RenderFrame:  preview.Chain(sinks...),
		RunID:        j.id,
		Uploader:     m.trackingUploader(j),
	})

	j.mu.Lock()
	defer j.mu.Unlock()
	j.finishedAt = time.Now()
	switch {
	case err == nil:
		j.state = StateDone
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		j.state = StateCancelled
		j.errMsg = err.Error()
	default:
		j.state = StateFailed
		j.errMsg = err.Error()
		if kind, ok := media.KindOf(err); ok {
			j.errKind = string(kind)
		}
	}
}

// trackingUploader records each successful segment on the job.
func (m *Manager) trackingUploader(j *job) upload.Uploader {
	return upload.UploaderFunc(func(ctx context.Context, file upload.File) error {
		if err := m.opts.Uploader.UploadFile(ctx, file); err != nil {
			return err
		}
		j.mu.Lock()
		j.segments = append(j.segments, file.Filename)
		j.mu.Unlock()
		return nil
	})
}

// Get returns the job with id.
func (m *Manager) Get(id string) (Job, error) {
	j, err := m.lookup(id)
	if err != nil {
		return Job{}, err
	}
	return j.snapshotJob(), nil
}

// List returns all jobs, newest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.snapshotJob())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out
}

// Cancel stops a running job and waits for it to finish.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	j, err := m.lookup(id)
	if err != nil {
		return err
	}
	j.mu.Lock()
	running := j.state == StateRunning
	j.mu.Unlock()
	if !running {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}

	j.cancel()
	select {
	case <-j.done:
		m.logger.Info("Job cancelled", "job_id", id)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the job finishes and returns its final state.
func (m *Manager) Wait(ctx context.Context, id string) (Job, error) {
	j, err := m.lookup(id)
	if err != nil {
		return Job{}, err
	}
	select {
	case <-j.done:
		return j.snapshotJob(), nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Preview returns the latest WebP snapshot of a job.
func (m *Manager) Preview(id string) ([]byte, time.Duration, error) {
	j, err := m.lookup(id)
	if err != nil {
		return nil, 0, err
	}
	if j.snapshot == nil {
		return nil, 0, ErrNoPreview
	}
	data, ts := j.snapshot.Latest()
	if data == nil {
		return nil, 0, ErrNoPreview
	}
	return data, ts, nil
}

// Shutdown cancels all running jobs and waits for them to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) lookup(id string) (*job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, nil
}

func (j *job) snapshotJob() Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := Job{
		ID:        j.id,
		File:      j.file,
		Title:     j.title,
		Preset:    j.preset,
		Encode:    j.encode,
		State:     j.state,
		Segments:  slices.Clone(j.segments),
		Frames:    j.stats.Frames(),
		ErrorKind: j.errKind,
		Error:     j.errMsg,
		StartedAt: j.startedAt,
	}
	if out.Frames > 0 {
		out.Position = j.stats.Position().String()
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		out.FinishedAt = &t
	}
	return out
}

// readTitle reads the title from the file's metadata atoms, if any, and
// rewinds the file.
func readTitle(f io.ReadSeeker) (string, error) {
	var title string
	if meta, err := tag.ReadFrom(f); err == nil {
		title = strings.TrimSpace(meta.Title())
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return title, nil
}
