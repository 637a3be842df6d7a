// Package itemdb provides item-database backends for piper.ItemTx /
// piper.ItemDBOpener: an in-memory reference implementation for tests, and
// a lib/pq-backed Postgres implementation for production use.
package itemdb

import (
	"context"
	"sync"

	"github.com/copperd/piper/piper"
)

// Memory is a process-local, in-memory item database. It implements
// piper.ItemDBOpener directly: every "transaction" is just a view over the
// same shared store, serialized by a single mutex. No snapshot is taken:
// writes take effect immediately, and Commit and Rollback do nothing.
type Memory struct {
	mu      sync.Mutex
	classes map[int64]piper.Class
	datasets map[int64]piper.Dataset
	items   map[int64]map[int64]piper.Item // classID -> itemID -> item
	nextID  int64
}

// NewMemory returns an empty in-memory item database.
func NewMemory() *Memory {
	return &Memory{
		classes:  make(map[int64]piper.Class),
		datasets: make(map[int64]piper.Dataset),
		items:    make(map[int64]map[int64]piper.Item),
		nextID:   1,
	}
}

// SeedDataset adds a dataset directly, for test setup.
func (m *Memory) SeedDataset(d piper.Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[d.DatasetID] = d
}

// SeedClass adds a class directly, for test setup.
func (m *Memory) SeedClass(c piper.Class) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[c.ClassID] = c
	if _, ok := m.items[c.ClassID]; !ok {
		m.items[c.ClassID] = make(map[int64]piper.Item)
	}
}

// SeedItem pre-populates a row, for test setup (spec.md §8 scenario 6).
func (m *Memory) SeedItem(classID int64, attrs map[string]piper.AttrValue) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.items[classID][id] = piper.Item{ClassID: classID, ItemID: id, Attrs: attrs}
	return id
}

// memTx is a transaction handle over Memory. Because Memory serializes
// every call on its own mutex, memTx needs no state of its own: it is a
// pass-through that exists so callers hold a piper.ItemTx value, not a
// *Memory, matching the adapter boundary in spec.md §6.
type memTx struct{ db *Memory }

// Open begins a new transaction. Memory has no write-ahead log, so Commit
// is a no-op and Rollback discards nothing already committed - every
// AddItem call takes effect immediately. This is adequate for tests
// exercising node logic; it does not model true transactional isolation.
func (m *Memory) Open(_ context.Context, _ string) (piper.ItemTx, error) {
	return &memTx{db: m}, nil
}

func (m *Memory) Commit(_ context.Context, _ piper.ItemTx) error   { return nil }
func (m *Memory) Rollback(_ context.Context, _ piper.ItemTx) error { return nil }

func (t *memTx) GetClass(_ context.Context, classID int64) (piper.Class, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	c, ok := t.db.classes[classID]
	if !ok {
		return piper.Class{}, &piper.ItemNotFoundError{What: "class"}
	}
	return c, nil
}

func (t *memTx) GetDataset(_ context.Context, datasetID int64) (piper.Dataset, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	d, ok := t.db.datasets[datasetID]
	if !ok {
		return piper.Dataset{}, &piper.ItemNotFoundError{What: "dataset"}
	}
	return d, nil
}

func (t *memTx) GetItem(_ context.Context, classID, itemID int64) (piper.Item, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	item, ok := t.db.items[classID][itemID]
	if !ok {
		return piper.Item{}, &piper.ItemNotFoundError{What: "item"}
	}
	return item, nil
}

func (t *memTx) AddItem(_ context.Context, classID int64, attrs map[string]piper.AttrValue, onConflict piper.UniqueViolationPolicy) (int64, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	class, ok := t.db.classes[classID]
	if !ok {
		return 0, &piper.ItemNotFoundError{What: "class"}
	}

	for name, schema := range class.Attributes {
		av, present := attrs[name]
		if !present || isNoneAttr(av) {
			if !schema.Nullable {
				return 0, &piper.NotNullViolatedError{Attribute: name}
			}
			continue
		}
		if !av.Stub.IsSubtypeOf(schema.Stub) {
			return 0, &piper.AttrTypeMismatchError{Attribute: name, Expected: schema.Stub, Got: av.Stub}
		}
	}

	for name, schema := range class.Attributes {
		if !schema.Unique {
			continue
		}
		av, present := attrs[name]
		if !present {
			continue
		}
		for existingID, existing := range t.db.items[classID] {
			if eav, ok := existing.Attrs[name]; ok && attrValuesEqual(eav.Value, av.Value) {
				if onConflict == piper.OnUniqueViolationSelect {
					return existingID, nil
				}
				return 0, &piper.UniqueViolatedError{ConflictingIDs: []int64{existingID}}
			}
		}
	}

	id := t.db.nextID
	t.db.nextID++
	t.db.items[classID][id] = piper.Item{ClassID: classID, ItemID: id, Attrs: attrs}
	return id, nil
}

func (t *memTx) CountItems(_ context.Context, classID int64) (int64, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	return int64(len(t.db.items[classID])), nil
}

func (t *memTx) ListItems(_ context.Context, classID int64, limit, offset int) ([]piper.Item, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	ids := make([]int64, 0, len(t.db.items[classID]))
	for id := range t.db.items[classID] {
		ids = append(ids, id)
	}
	sortInt64s(ids)

	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if end > len(ids) || limit <= 0 {
		end = len(ids)
	}

	out := make([]piper.Item, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, t.db.items[classID][id])
	}
	return out, nil
}

func isNoneAttr(av piper.AttrValue) bool {
	_, ok := av.Value.(piper.NoneValue)
	return ok
}

func attrValuesEqual(a, b piper.Value) bool {
	switch av := a.(type) {
	case piper.TextValue:
		bv, ok := b.(piper.TextValue)
		return ok && av == bv
	case piper.IntegerValue:
		bv, ok := b.(piper.IntegerValue)
		return ok && av.N == bv.N
	case piper.FloatValue:
		bv, ok := b.(piper.FloatValue)
		return ok && av.N == bv.N
	case piper.BooleanValue:
		bv, ok := b.(piper.BooleanValue)
		return ok && av == bv
	case piper.HashValue:
		bv, ok := b.(piper.HashValue)
		return ok && av.Kind == bv.Kind && string(av.Bytes) == string(bv.Bytes)
	case piper.ReferenceValue:
		bv, ok := b.(piper.ReferenceValue)
		return ok && av == bv
	default:
		return false
	}
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
