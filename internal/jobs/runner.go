package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/shirou/gopsutil/v4/disk"

	"media-encoder/internal/bitrate"
	"media-encoder/internal/domain"
	"media-encoder/internal/handbrake"
)

// ErrBatchAlreadyRunning is returned when Start is called while a
// previous batch is still processing.
var ErrBatchAlreadyRunning = errors.New("batch already running")

// processRunner isolates the encoder process supervision behind an
// interface.
type processRunner interface {
	Run(ctx context.Context, req handbrake.RunRequest) error
}

// Options configures a batch runner.
type Options struct {
	// MaxConcurrent bounds simultaneous encoder processes; 1 keeps
	// jobs strictly sequential.
	MaxConcurrent int
	// Calc derives video bitrates for jobs in bitrate mode.
	Calc bitrate.Calc
	// ArgsFor builds the encoder argument list for one job. Supplied
	// by the presentation layer, which owns preset and override
	// selection.
	ArgsFor func(job domain.EncodeJob) ([]string, error)
	// EstimateRF derives an RF value for quality-mode jobs that have
	// none set. Optional.
	EstimateRF func(ctx context.Context, job domain.EncodeJob) (float64, error)
	// DiskFree reports free bytes at a directory; defaults to
	// gopsutil.
	DiskFree func(dir string) (uint64, error)
	// RemoveFile deletes the source after success; defaults to
	// os.Remove.
	RemoveFile func(path string) error
	// Logger receives operational logs; defaults to slog.Default().
	Logger *slog.Logger
}

// Runner processes the queue FIFO, supervising one encoder process
// per concurrency slot and publishing every observable change to the
// event bus. Only the runner mutates job status.
type Runner struct {
	queue   *Queue
	bus     *EventBus
	encoder processRunner
	opts    Options

	mu      sync.Mutex
	active  bool
	cancels map[string]context.CancelFunc
}

// NewRunner wires a runner to its queue, bus, and encoder.
func NewRunner(queue *Queue, bus *EventBus, encoder processRunner, opts Options) *Runner {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.DiskFree == nil {
		opts.DiskFree = diskFreeBytes
	}
	if opts.RemoveFile == nil {
		opts.RemoveFile = os.Remove
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Runner{
		queue:   queue,
		bus:     bus,
		encoder: encoder,
		opts:    opts,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start drains the queue and blocks until every claimed job reaches a
// terminal state, then publishes a batch summary. One job's failure
// never halts the batch.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return ErrBatchAlreadyRunning
	}
	r.active = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for i := 0; i < r.opts.MaxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				job, jobCtx, cancel, ok := r.claimJob(ctx)
				if !ok {
					return
				}
				r.runJob(jobCtx, cancel, job)
			}
		}()
	}
	wg.Wait()

	r.publishSummary()
	return ctx.Err()
}

// IsActive reports whether a batch is currently processing.
func (r *Runner) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// claimJob atomically claims the next pending job and registers its
// cancel func. CancelJob holds the same lock, so it can never observe
// a claimed job without a registered cancel func.
func (r *Runner) claimJob(ctx context.Context) (domain.EncodeJob, context.Context, context.CancelFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.queue.claimNext()
	if !ok {
		return domain.EncodeJob{}, nil, nil, false
	}
	jobCtx, cancel := context.WithCancel(ctx)
	r.cancels[job.ID] = cancel
	return job, jobCtx, cancel, true
}

// CancelJob cancels one job: running jobs get their process
// terminated, pending jobs are marked cancelled without ever running.
func (r *Runner) CancelJob(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel := r.cancels[id]; cancel != nil {
		cancel()
		return nil
	}

	job, ok := r.queue.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("%w: %s is %s", ErrJobNotPending, id, job.Status)
	}
	if err := r.queue.transition(id, domain.JobStatusCancelled); err != nil {
		return err
	}
	r.publishStatus(job, domain.JobStatusCancelled, "Cancelled before start")
	return nil
}

// CancelAll cancels every pending job and every running process.
// Pending jobs drop first so a freed worker cannot claim one mid
// cancellation.
func (r *Runner) CancelAll() {
	for _, job := range r.queue.Snapshot() {
		if job.Status == domain.JobStatusPending {
			if err := r.queue.transition(job.ID, domain.JobStatusCancelled); err == nil {
				r.publishStatus(job, domain.JobStatusCancelled, "Cancelled before start")
			}
		}
	}

	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.cancels))
	for _, cancel := range r.cancels {
		cancels = append(cancels, cancel)
	}
	r.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// runJob supervises a single encode from claim to terminal state. The
// job context and cancel func come from claimJob.
func (r *Runner) runJob(jobCtx context.Context, cancel context.CancelFunc, job domain.EncodeJob) {
	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.cancels, job.ID)
		r.mu.Unlock()
	}()

	r.publishStatus(job, domain.JobStatusRunning, "Encoding started")

	if err := r.preflightDiskSpace(job); err != nil {
		r.failJob(job, err)
		return
	}

	job, err := r.resolveRate(jobCtx, job)
	if err != nil {
		if jobCtx.Err() != nil {
			r.cancelJobState(job)
			return
		}
		r.failJob(job, err)
		return
	}

	args, err := r.opts.ArgsFor(job)
	if err != nil {
		r.failJob(job, err)
		return
	}

	lastWhole := -1
	err = r.encoder.Run(jobCtx, handbrake.RunRequest{
		Args:     args,
		Priority: job.Priority,
		OnProgress: func(percent float64) {
			r.queue.setProgress(job.ID, percent)
			// Whole-percent granularity keeps the event history from
			// being dominated by progress updates.
			if whole := int(percent); whole != lastWhole {
				lastWhole = whole
				r.bus.Publish(Event{
					JobID:      job.ID,
					Type:       EventTypeProgress,
					Progress:   percent,
					SourcePath: job.SourcePath,
				})
			}
		},
		OnOutput: func(line string) {
			r.bus.Publish(Event{
				JobID:   job.ID,
				Type:    EventTypeLog,
				Message: line,
			})
		},
	})
	if err != nil {
		if jobCtx.Err() != nil || errors.Is(err, context.Canceled) {
			r.cancelJobState(job)
			return
		}
		r.failJob(job, err)
		return
	}

	r.queue.setProgress(job.ID, 100)
	if err := r.queue.transition(job.ID, domain.JobStatusSucceeded); err != nil {
		r.opts.Logger.Error("job state error", "job", job.ID, "error", err)
		return
	}
	r.publishStatus(job, domain.JobStatusSucceeded, "Encoding completed")

	if job.DeleteSource {
		if err := r.opts.RemoveFile(job.SourcePath); err != nil {
			// Deletion failure is a warning; the encode stays
			// succeeded.
			r.opts.Logger.Warn("delete source failed", "job", job.ID, "path", job.SourcePath, "error", err)
			r.bus.Publish(Event{
				JobID:      job.ID,
				Type:       EventTypeWarning,
				Message:    fmt.Sprintf("could not delete source: %v", err),
				SourcePath: job.SourcePath,
			})
		}
	}
}

// resolveRate fills in the computed bitrate or estimated RF when the
// job does not carry one yet.
func (r *Runner) resolveRate(ctx context.Context, job domain.EncodeJob) (domain.EncodeJob, error) {
	switch job.Mode {
	case domain.EncodeModeBitrate:
		if job.VideoBitrateKbps > 0 {
			return job, nil
		}
		kbps, err := r.opts.Calc.ComputeVideoBitrate(job.TargetSizeBytes, job.DurationSeconds, job.AudioBitratesKbps)
		if err != nil {
			return job, err
		}
		job.VideoBitrateKbps = kbps
		r.queue.setRate(job.ID, kbps, 0)
		return job, nil
	case domain.EncodeModeQuality:
		if job.Quality > 0 {
			return job, nil
		}
		if r.opts.EstimateRF == nil {
			return job, fmt.Errorf("quality mode requires an RF value or an estimator")
		}
		rf, err := r.opts.EstimateRF(ctx, job)
		if err != nil {
			return job, err
		}
		job.Quality = rf
		r.queue.setRate(job.ID, 0, rf)
		return job, nil
	default:
		return job, fmt.Errorf("unknown encode mode %q", job.Mode)
	}
}

// preflightDiskSpace rejects a job when the destination cannot hold
// the target size. Probe failures only log; the encoder gets to try.
func (r *Runner) preflightDiskSpace(job domain.EncodeJob) error {
	free, err := r.opts.DiskFree(filepath.Dir(job.OutputPath))
	if err != nil {
		r.opts.Logger.Warn("disk preflight unavailable", "job", job.ID, "error", err)
		return nil
	}
	if free < uint64(job.TargetSizeBytes) {
		return fmt.Errorf("insufficient disk space at %s: %d bytes free, %d needed",
			filepath.Dir(job.OutputPath), free, job.TargetSizeBytes)
	}
	return nil
}

// failJob moves a running job to failed and surfaces the reason.
func (r *Runner) failJob(job domain.EncodeJob, cause error) {
	message := cause.Error()
	stderr := ""
	var exitErr *handbrake.ExitError
	if errors.As(cause, &exitErr) {
		stderr = exitErr.Stderr
	}

	r.queue.setError(job.ID, message)
	if err := r.queue.transition(job.ID, domain.JobStatusFailed); err != nil {
		r.opts.Logger.Error("job state error", "job", job.ID, "error", err)
		return
	}

	r.opts.Logger.Error("encode failed", "job", job.ID, "source", job.SourcePath, "error", cause)
	r.bus.Publish(Event{
		JobID:      job.ID,
		Type:       EventTypeError,
		Status:     domain.JobStatusFailed,
		Message:    message,
		SourcePath: job.SourcePath,
		Stderr:     stderr,
	})
}

// cancelJobState finalizes a job whose process was terminated.
func (r *Runner) cancelJobState(job domain.EncodeJob) {
	if err := r.queue.transition(job.ID, domain.JobStatusCancelled); err != nil {
		r.opts.Logger.Error("job state error", "job", job.ID, "error", err)
		return
	}
	r.publishStatus(job, domain.JobStatusCancelled, "Encoding cancelled")
}

// publishStatus sends a normalized status event.
func (r *Runner) publishStatus(job domain.EncodeJob, status domain.JobStatus, message string) {
	r.bus.Publish(Event{
		JobID:      job.ID,
		Type:       EventTypeStatus,
		Status:     status,
		Message:    message,
		SourcePath: job.SourcePath,
		OutputPath: job.OutputPath,
	})
}

// publishSummary reports terminal counts once a batch drains.
func (r *Runner) publishSummary() {
	succeeded, failed, cancelled := 0, 0, 0
	for _, job := range r.queue.Snapshot() {
		switch job.Status {
		case domain.JobStatusSucceeded:
			succeeded++
		case domain.JobStatusFailed:
			failed++
		case domain.JobStatusCancelled:
			cancelled++
		}
	}

	r.opts.Logger.Info("batch finished", "succeeded", succeeded, "failed", failed, "cancelled", cancelled)
	r.bus.Publish(Event{
		Type:      EventTypeSummary,
		Message:   fmt.Sprintf("Batch finished: %d succeeded, %d failed, %d cancelled", succeeded, failed, cancelled),
		Succeeded: succeeded,
		Failed:    failed,
		Cancelled: cancelled,
	})
}

// diskFreeBytes reports free space at path via gopsutil.
func diskFreeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
