package nodes

import (
	"context"
	"testing"

	"github.com/copperd/piper/adapters/itemdb"
	"github.com/copperd/piper/piper"
)

func newTestAddItemContext(t *testing.T, classID, datasetID int64, attrs map[string]piper.AttrSchema) (*piper.JobContext, *itemdb.Memory) {
	t.Helper()
	db := itemdb.NewMemory()
	db.SeedDataset(piper.Dataset{DatasetID: datasetID, Name: "ds"})
	db.SeedClass(piper.Class{ClassID: classID, DatasetID: datasetID, Name: "widgets", Attributes: attrs})

	tx, err := db.Open(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return piper.NewJobContext("job-1", "user-1", nil, tx, 4, 1<<20), db
}

func TestAddItemInsertsRowAndEmitsReference(t *testing.T) {
	ctx := context.Background()
	jc, _ := newTestAddItemContext(t, 10, 1, map[string]piper.AttrSchema{
		"name": {Stub: piper.TextStub{}},
	})

	f := &addItemFactory{}
	params := piper.ParamMap{"class": piper.IntegerParam(10), "dataset": piper.IntegerParam(1)}
	n, err := f.New(jc, params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var ref piper.Value
	emit := func(port piper.PortID, v piper.Value) error {
		ref = v
		return nil
	}

	res, err := n.Run(ctx, []piper.Delivery{{Port: "name", Value: piper.TextValue("widget-1")}}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != piper.Done {
		t.Fatalf("expected Done, got %v", res.Status)
	}
	rv, ok := ref.(piper.ReferenceValue)
	if !ok || rv.ClassID != 10 {
		t.Fatalf("expected a Reference into class 10, got %#v", ref)
	}
}

func TestAddItemUniqueViolationFailsByDefault(t *testing.T) {
	ctx := context.Background()
	jc, db := newTestAddItemContext(t, 10, 1, map[string]piper.AttrSchema{
		"name": {Stub: piper.TextStub{}, Unique: true},
	})
	db.SeedItem(10, map[string]piper.AttrValue{"name": {Stub: piper.TextStub{}, Value: piper.TextValue("widget-1")}})

	f := &addItemFactory{}
	params := piper.ParamMap{"class": piper.IntegerParam(10), "dataset": piper.IntegerParam(1)}
	n, err := f.New(jc, params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = n.Run(ctx, []piper.Delivery{{Port: "name", Value: piper.TextValue("widget-1")}}, func(piper.PortID, piper.Value) error { return nil })
	if err == nil {
		t.Fatal("expected a unique-violation error")
	}
}

func TestAddItemUniqueViolationSelectReturnsExisting(t *testing.T) {
	ctx := context.Background()
	jc, db := newTestAddItemContext(t, 10, 1, map[string]piper.AttrSchema{
		"name": {Stub: piper.TextStub{}, Unique: true},
	})
	existingID := db.SeedItem(10, map[string]piper.AttrValue{"name": {Stub: piper.TextStub{}, Value: piper.TextValue("widget-1")}})

	f := &addItemFactory{}
	params := piper.ParamMap{
		"class":               piper.IntegerParam(10),
		"dataset":             piper.IntegerParam(1),
		"on_unique_violation": piper.StringParam("select"),
	}
	n, err := f.New(jc, params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var ref piper.Value
	emit := func(port piper.PortID, v piper.Value) error {
		ref = v
		return nil
	}
	res, err := n.Run(ctx, []piper.Delivery{{Port: "name", Value: piper.TextValue("widget-1")}}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != piper.Done {
		t.Fatalf("expected Done, got %v", res.Status)
	}
	rv, ok := ref.(piper.ReferenceValue)
	if !ok || rv.ItemID != existingID {
		t.Fatalf("expected a Reference to the existing item %d, got %#v", existingID, ref)
	}
}

func TestAddItemRejectsDatasetMismatch(t *testing.T) {
	jc, _ := newTestAddItemContext(t, 10, 1, map[string]piper.AttrSchema{"name": {Stub: piper.TextStub{}}})

	f := &addItemFactory{}
	params := piper.ParamMap{"class": piper.IntegerParam(10), "dataset": piper.IntegerParam(99)}
	if _, err := f.New(jc, params); err == nil {
		t.Fatal("expected an error when dataset does not own the class")
	}
}
