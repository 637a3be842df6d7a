// Package runner implements the multi-job runner (spec.md §4.7, L5b): a
// long-lived loop that polls an external job queue, builds and drives one
// single-job executor per slot, and reports terminal states back to the
// queue. The bounded-slot-array-plus-poll-loop shape follows the same
// cooperative-worker-pool idiom the teacher's loader package uses for its
// subscription consumers.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/copperd/piper/piper"
)

var (
	jobsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "copper_jobs_running",
		Help: "Number of pipeline jobs currently occupying a runner slot.",
	})
	jobsPolled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copper_jobs_queued_poll_total",
		Help: "Number of job-queue poll attempts that returned a job.",
	})
	jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "copper_job_duration_seconds",
		Help:    "Wall-clock duration of a single pipeline job run.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(jobsRunning, jobsPolled, jobDuration)
}

// Config bounds the runner's concurrency and timing.
type Config struct {
	MaxRunningJobs        int
	StreamChannelCapacity int
	BlobFragmentSize      int
	AsyncPollAwait        time.Duration
}

// Runner owns the bounded slot array and the job-queue client.
type Runner struct {
	cfg         Config
	dispatcher  *piper.Dispatcher
	queue       piper.JobQueueClient
	objectStore piper.ObjectStore
	itemDB      piper.ItemDBOpener
	log         *logrus.Entry

	sem sync.WaitGroup // tracks in-flight slots for a clean Run exit
}

// New builds a Runner.
func New(cfg Config, dispatcher *piper.Dispatcher, queue piper.JobQueueClient, objectStore piper.ObjectStore, itemDB piper.ItemDBOpener, log *logrus.Entry) *Runner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.MaxRunningJobs < 1 {
		cfg.MaxRunningJobs = 1
	}
	if cfg.AsyncPollAwait <= 0 {
		cfg.AsyncPollAwait = 500 * time.Millisecond
	}
	return &Runner{cfg: cfg, dispatcher: dispatcher, queue: queue, objectStore: objectStore, itemDB: itemDB, log: log}
}

// Run drives the poll loop until ctx is cancelled, then waits for every
// in-flight job to reach a terminal state before returning.
func (r *Runner) Run(ctx context.Context) error {
	slots := make(chan struct{}, r.cfg.MaxRunningJobs)

	for {
		select {
		case <-ctx.Done():
			r.sem.Wait()
			return ctx.Err()
		case slots <- struct{}{}:
		}

		job, err := r.queue.PopNext(ctx)
		if err != nil {
			<-slots
			if err == piper.ErrNoJob {
				r.sleep(ctx)
				continue
			}
			r.log.WithError(err).Warn("job queue poll failed")
			r.sleep(ctx)
			continue
		}
		if job == nil {
			<-slots
			r.sleep(ctx)
			continue
		}

		jobsPolled.Inc()
		jobsRunning.Inc()
		r.sem.Add(1)
		go func(job *piper.QueuedJob) {
			defer func() {
				<-slots
				jobsRunning.Dec()
				r.sem.Done()
			}()
			r.runOne(ctx, job)
		}(job)
	}
}

func (r *Runner) sleep(ctx context.Context) {
	t := time.NewTimer(r.cfg.AsyncPollAwait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// runOne builds, executes, and reports the outcome of one job. The
// item-db transaction is opened before the build, since node factories
// consult it while the pipeline is built. A build failure rolls it back
// and never starts an executor; otherwise it commits exactly once, on
// Success, or rolls back on any other terminal state.
func (r *Runner) runOne(ctx context.Context, job *piper.QueuedJob) {
	log := r.log.WithField("job_id", job.JobID)
	started := time.Now()
	defer func() { jobDuration.Observe(time.Since(started).Seconds()) }()

	tx, err := r.itemDB.Open(ctx, job.JobID)
	if err != nil {
		log.WithError(err).Error("opening item-db transaction")
		r.reportBuildError(ctx, job.JobID, fmt.Sprintf("opening item-db transaction: %v", err))
		return
	}

	jobCtx := piper.NewJobContext(job.JobID, job.Owner, r.objectStore, tx, r.cfg.StreamChannelCapacity, r.cfg.BlobFragmentSize)

	pipeline, err := piper.Build(job.Pipeline, jobCtx, r.dispatcher)
	if err != nil {
		_ = r.itemDB.Rollback(ctx, tx)
		log.WithError(err).Warn("pipeline build failed")
		r.reportBuildError(ctx, job.JobID, err.Error())
		return
	}

	executor := piper.NewExecutor(pipeline, jobCtx, r.dispatcher, log)
	result := executor.Run(ctx, job.Inputs)

	switch result.State {
	case piper.JobSuccess:
		if err := r.itemDB.Commit(ctx, tx); err != nil {
			log.WithError(err).Error("committing item-db transaction")
			r.reportFail(ctx, job.JobID)
			return
		}
		r.reportSuccess(ctx, job.JobID, result.Outputs)
	default:
		_ = r.itemDB.Rollback(ctx, tx)
		log.WithError(result.Err).Warn("pipeline run failed")
		r.reportFail(ctx, job.JobID)
	}
}

func (r *Runner) reportSuccess(ctx context.Context, jobID string, outputs map[string]piper.Value) {
	if err := r.queue.Success(ctx, jobID, outputs); err != nil {
		r.log.WithError(err).WithField("job_id", jobID).Error("reporting job success, terminal state may be lost")
	}
}

func (r *Runner) reportFail(ctx context.Context, jobID string) {
	if err := r.queue.Fail(ctx, jobID); err != nil {
		r.log.WithError(err).WithField("job_id", jobID).Error("reporting job failure, terminal state may be lost")
	}
}

func (r *Runner) reportBuildError(ctx context.Context, jobID, message string) {
	if err := r.queue.BuildError(ctx, jobID, message); err != nil {
		r.log.WithError(err).WithField("job_id", jobID).Error("reporting build error, terminal state may be lost")
	}
}

// NewJobID returns a fresh job id. Exposed for adapters and CLI tooling
// that submit jobs rather than run them.
func NewJobID() string { return uuid.NewString() }
