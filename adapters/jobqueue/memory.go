package jobqueue

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"

	"github.com/copperd/piper/piper"
)

type jobState int

const (
	stateQueued jobState = iota
	stateRunning
)

type record struct {
	job   piper.QueuedJob
	state jobState
}

// Memory is an in-memory piper.JobQueueClient, FIFO ordered. It exists
// for tests; the Redis adapter is the production implementation.
type Memory struct {
	mu      sync.Mutex
	pending *list.List // of *record, queued
	byID    map[string]*record
}

// NewMemory returns an empty in-memory job queue.
func NewMemory() *Memory {
	return &Memory{pending: list.New(), byID: make(map[string]*record)}
}

func (m *Memory) AddJob(_ context.Context, jobID, owner, pipeline string, inputs map[string]piper.Value) error {
	var spec piper.Spec
	if err := json.Unmarshal([]byte(pipeline), &spec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[jobID]; exists {
		return nil
	}
	r := &record{job: piper.QueuedJob{JobID: jobID, Owner: owner, Pipeline: &spec, Inputs: inputs}, state: stateQueued}
	m.byID[jobID] = r
	m.pending.PushBack(r)
	return nil
}

func (m *Memory) PopNext(_ context.Context) (*piper.QueuedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	front := m.pending.Front()
	if front == nil {
		return nil, piper.ErrNoJob
	}
	r := front.Value.(*record)
	m.pending.Remove(front)
	r.state = stateRunning
	job := r.job
	return &job, nil
}

func (m *Memory) Success(_ context.Context, jobID string, _ map[string]piper.Value) error {
	return m.finish(jobID)
}

func (m *Memory) Fail(_ context.Context, jobID string) error {
	return m.finish(jobID)
}

func (m *Memory) BuildError(_ context.Context, jobID, _ string) error {
	return m.finish(jobID)
}

func (m *Memory) finish(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[jobID]
	if !ok || r.state != stateRunning {
		return piper.ErrNotRunning
	}
	delete(m.byID, jobID)
	return nil
}
