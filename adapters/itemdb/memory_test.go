package itemdb

import (
	"context"
	"errors"
	"testing"

	"github.com/copperd/piper/piper"
)

func newSeededMemory() (*Memory, int64) {
	const classID = 10
	db := NewMemory()
	db.SeedDataset(piper.Dataset{DatasetID: 1, Name: "ds"})
	db.SeedClass(piper.Class{
		ClassID:   classID,
		DatasetID: 1,
		Name:      "widgets",
		Attributes: map[string]piper.AttrSchema{
			"sku":  {Stub: piper.TextStub{}, Unique: true},
			"note": {Stub: piper.TextStub{}, Nullable: true},
		},
	})
	return db, classID
}

func TestMemoryAddItemAndGetItem(t *testing.T) {
	db, classID := newSeededMemory()
	tx, err := db.Open(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	id, err := tx.AddItem(context.Background(), classID, map[string]piper.AttrValue{
		"sku": {Stub: piper.TextStub{}, Value: piper.TextValue("W-1")},
	}, piper.OnUniqueViolationFail)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	item, err := tx.GetItem(context.Background(), classID, id)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item.Attrs["sku"].Value != piper.Value(piper.TextValue("W-1")) {
		t.Errorf("unexpected sku: %#v", item.Attrs["sku"])
	}
}

func TestMemoryAddItemRejectsNotNullViolation(t *testing.T) {
	db, classID := newSeededMemory()
	tx, _ := db.Open(context.Background(), "job-1")

	_, err := tx.AddItem(context.Background(), classID, map[string]piper.AttrValue{}, piper.OnUniqueViolationFail)
	var nn *piper.NotNullViolatedError
	if !errors.As(err, &nn) {
		t.Fatalf("expected NotNullViolatedError, got %v", err)
	}
}

func TestMemoryAddItemUniqueViolationFailAndSelect(t *testing.T) {
	db, classID := newSeededMemory()
	tx, _ := db.Open(context.Background(), "job-1")

	id1, err := tx.AddItem(context.Background(), classID, map[string]piper.AttrValue{
		"sku": {Stub: piper.TextStub{}, Value: piper.TextValue("W-1")},
	}, piper.OnUniqueViolationFail)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	_, err = tx.AddItem(context.Background(), classID, map[string]piper.AttrValue{
		"sku": {Stub: piper.TextStub{}, Value: piper.TextValue("W-1")},
	}, piper.OnUniqueViolationFail)
	var uv *piper.UniqueViolatedError
	if !errors.As(err, &uv) {
		t.Fatalf("expected UniqueViolatedError, got %v", err)
	}

	id2, err := tx.AddItem(context.Background(), classID, map[string]piper.AttrValue{
		"sku": {Stub: piper.TextStub{}, Value: piper.TextValue("W-1")},
	}, piper.OnUniqueViolationSelect)
	if err != nil {
		t.Fatalf("AddItem with select policy: %v", err)
	}
	if id2 != id1 {
		t.Fatalf("expected select policy to return the existing id %d, got %d", id1, id2)
	}
}

func TestMemoryListItemsPaginates(t *testing.T) {
	db, classID := newSeededMemory()
	tx, _ := db.Open(context.Background(), "job-1")

	for i := 0; i < 5; i++ {
		_, err := tx.AddItem(context.Background(), classID, map[string]piper.AttrValue{
			"sku": {Stub: piper.TextStub{}, Value: piper.TextValue(string(rune('a' + i)))},
		}, piper.OnUniqueViolationFail)
		if err != nil {
			t.Fatalf("AddItem: %v", err)
		}
	}

	page1, err := tx.ListItems(context.Background(), classID, 2, 0)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page1))
	}

	n, err := tx.CountItems(context.Background(), classID)
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected count 5, got %d", n)
	}
}

func TestMemoryGetClassNotFound(t *testing.T) {
	db := NewMemory()
	tx, _ := db.Open(context.Background(), "job-1")

	_, err := tx.GetClass(context.Background(), 999)
	var notFound *piper.ItemNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ItemNotFoundError, got %v", err)
	}
}
