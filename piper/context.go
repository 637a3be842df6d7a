package piper

import (
	"context"
	"sync"
)

// JobContext is the immutable bundle passed to every node at construction
// (spec.md §3). It is built once per job and shared by every node
// instance in that job's graph; nodes must not share state except
// through the channels the executor wires up for them.
type JobContext struct {
	JobID  string
	UserID string

	ObjectStore ObjectStore

	// StreamChannelCapacity bounds the mailbox depth on every data edge.
	StreamChannelCapacity int
	// BlobFragmentSize bounds the size, in bytes, of a single byte-stream
	// fragment.
	BlobFragmentSize int

	tx *serializedTx
}

// NewJobContext builds a JobContext, wrapping tx with the single-owner
// lock described in spec.md §9 (no node holds this lock across a
// suspension point that might block another node on the same lock - each
// call is a single, non-blocking-on-other-nodes operation against the
// transaction).
func NewJobContext(jobID, userID string, store ObjectStore, tx ItemTx, streamChannelCapacity, blobFragmentSize int) *JobContext {
	return &JobContext{
		JobID:                 jobID,
		UserID:                userID,
		ObjectStore:           store,
		StreamChannelCapacity: streamChannelCapacity,
		BlobFragmentSize:      blobFragmentSize,
		tx:                    &serializedTx{inner: tx},
	}
}

// ItemDB returns the per-job, exclusive-access adapter over the item-db
// transaction. Safe to call concurrently from multiple node tasks; calls
// into the underlying ItemTx are serialized on an internal lock, never
// held across a suspension point belonging to another node.
func (c *JobContext) ItemDB() ItemTx { return c.tx }

// serializedTx adapts a single ItemTx so concurrent node tasks in the
// same job can share it without a data race, per spec.md §9's
// replacement for the original's Arc<Mutex<...>>.
type serializedTx struct {
	mu    sync.Mutex
	inner ItemTx
}

func (t *serializedTx) GetClass(ctx context.Context, classID int64) (Class, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.GetClass(ctx, classID)
}

func (t *serializedTx) GetDataset(ctx context.Context, datasetID int64) (Dataset, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.GetDataset(ctx, datasetID)
}

func (t *serializedTx) GetItem(ctx context.Context, classID, itemID int64) (Item, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.GetItem(ctx, classID, itemID)
}

func (t *serializedTx) AddItem(ctx context.Context, classID int64, attrs map[string]AttrValue, onConflict UniqueViolationPolicy) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.AddItem(ctx, classID, attrs, onConflict)
}

func (t *serializedTx) CountItems(ctx context.Context, classID int64) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.CountItems(ctx, classID)
}

func (t *serializedTx) ListItems(ctx context.Context, classID int64, limit, offset int) ([]Item, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.ListItems(ctx, classID, limit, offset)
}
