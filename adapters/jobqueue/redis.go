package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/copperd/piper/piper"
)

// Redis is a redis/go-redis-backed piper.JobQueueClient. Queued jobs sit
// on a pending list; PopNext moves one atomically onto a processing list
// via RPopLPush (non-blocking: an empty pending list yields
// piper.ErrNoJob), so a runner that dies mid-job leaves the job visible on
// the processing list rather than losing it outright. Success/Fail/
// BuildError remove the job from the processing list and mark its JSON
// job record as no longer running; Success also stores the encoded result
// under the job key plus ":result", and BuildError stores the message
// under the job key plus ":build_error".
type Redis struct {
	client *redis.Client

	pendingKey    string
	processingKey string
	jobKeyPrefix  string
}

// NewRedis builds a Redis-backed job queue. keyPrefix namespaces all keys
// this client touches, so multiple queues can share one Redis instance.
func NewRedis(client *redis.Client, keyPrefix string) *Redis {
	return &Redis{
		client:        client,
		pendingKey:    keyPrefix + ":pending",
		processingKey: keyPrefix + ":processing",
		jobKeyPrefix:  keyPrefix + ":job:",
	}
}

func (r *Redis) jobKey(jobID string) string { return r.jobKeyPrefix + jobID }

// jobRecord is the JSON payload, stored as a plain string value under the
// job's key, backing one queued/running job.
type jobRecord struct {
	JobID    string     `json:"job_id"`
	Owner    string     `json:"owner"`
	Pipeline piper.Spec `json:"pipeline"`
	Inputs   []byte     `json:"inputs"`
	Running  bool       `json:"running"`
}

func (r *Redis) AddJob(ctx context.Context, jobID, owner, pipeline string, inputs map[string]piper.Value) error {
	var spec piper.Spec
	if err := json.Unmarshal([]byte(pipeline), &spec); err != nil {
		return fmt.Errorf("jobqueue: decoding pipeline spec: %w", err)
	}
	encodedInputs, err := encodeValues(inputs)
	if err != nil {
		return err
	}

	rec := jobRecord{JobID: jobID, Owner: owner, Pipeline: spec, Inputs: encodedInputs}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.jobKey(jobID), payload, 0).Err(); err != nil {
		return fmt.Errorf("jobqueue: storing job record: %w", err)
	}
	if err := r.client.LPush(ctx, r.pendingKey, jobID).Err(); err != nil {
		return fmt.Errorf("jobqueue: enqueuing job: %w", err)
	}
	return nil
}

func (r *Redis) PopNext(ctx context.Context) (*piper.QueuedJob, error) {
	jobID, err := r.client.RPopLPush(ctx, r.pendingKey, r.processingKey).Result()
	if err == redis.Nil {
		return nil, piper.ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("jobqueue: popping next job: %w", err)
	}

	rec, err := r.loadRecord(ctx, jobID)
	if err != nil {
		return nil, err
	}
	rec.Running = true
	if err := r.saveRecord(ctx, jobID, rec); err != nil {
		return nil, err
	}

	inputs, err := decodeValues(rec.Inputs)
	if err != nil {
		return nil, err
	}
	spec := rec.Pipeline
	return &piper.QueuedJob{JobID: jobID, Owner: rec.Owner, Pipeline: &spec, Inputs: inputs}, nil
}

func (r *Redis) Success(ctx context.Context, jobID string, result map[string]piper.Value) error {
	encoded, err := encodeValues(result)
	if err != nil {
		return err
	}
	return r.finish(ctx, jobID, func(rec *jobRecord) error {
		return r.client.Set(ctx, r.jobKey(jobID)+":result", encoded, 0).Err()
	})
}

func (r *Redis) Fail(ctx context.Context, jobID string) error {
	return r.finish(ctx, jobID, func(rec *jobRecord) error { return nil })
}

func (r *Redis) BuildError(ctx context.Context, jobID, message string) error {
	return r.finish(ctx, jobID, func(rec *jobRecord) error {
		return r.client.Set(ctx, r.jobKey(jobID)+":build_error", message, 0).Err()
	})
}

// finish removes jobID from the processing list and invokes recordOutcome
// to persist whatever terminal-state payload the caller needs, failing
// with piper.ErrNotRunning if the job isn't on the processing list.
func (r *Redis) finish(ctx context.Context, jobID string, recordOutcome func(*jobRecord) error) error {
	rec, err := r.loadRecord(ctx, jobID)
	if err != nil {
		return err
	}
	if !rec.Running {
		return piper.ErrNotRunning
	}

	n, err := r.client.LRem(ctx, r.processingKey, 1, jobID).Result()
	if err != nil {
		return fmt.Errorf("jobqueue: removing job from processing list: %w", err)
	}
	if n == 0 {
		return piper.ErrNotRunning
	}

	if err := recordOutcome(&rec); err != nil {
		return err
	}

	rec.Running = false
	return r.saveRecord(ctx, jobID, rec)
}

func (r *Redis) loadRecord(ctx context.Context, jobID string) (jobRecord, error) {
	payload, err := r.client.Get(ctx, r.jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return jobRecord{}, piper.ErrNotRunning
	}
	if err != nil {
		return jobRecord{}, fmt.Errorf("jobqueue: loading job record: %w", err)
	}
	var rec jobRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return jobRecord{}, fmt.Errorf("jobqueue: decoding job record: %w", err)
	}
	return rec, nil
}

func (r *Redis) saveRecord(ctx context.Context, jobID string, rec jobRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.jobKey(jobID), payload, 0).Err()
}
