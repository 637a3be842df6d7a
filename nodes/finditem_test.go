package nodes

import (
	"context"
	"testing"

	"github.com/copperd/piper/adapters/itemdb"
	"github.com/copperd/piper/piper"
)

func TestFindItemFindsExistingRow(t *testing.T) {
	db := itemdb.NewMemory()
	db.SeedDataset(piper.Dataset{DatasetID: 1, Name: "ds"})
	db.SeedClass(piper.Class{ClassID: 10, DatasetID: 1, Name: "widgets", Attributes: map[string]piper.AttrSchema{
		"sku": {Stub: piper.TextStub{}, Unique: true},
	}})
	existingID := db.SeedItem(10, map[string]piper.AttrValue{"sku": {Stub: piper.TextStub{}, Value: piper.TextValue("W-1")}})

	tx, err := db.Open(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	jc := piper.NewJobContext("job-1", "user-1", nil, tx, 4, 1<<20)

	f := &findItemFactory{}
	params := piper.ParamMap{"class": piper.IntegerParam(10), "attribute": piper.StringParam("sku")}
	n, err := f.New(jc, params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var got piper.Value
	emit := func(port piper.PortID, v piper.Value) error {
		got = v
		return nil
	}
	res, err := n.Run(context.Background(), []piper.Delivery{{Port: "value", Value: piper.TextValue("W-1")}}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != piper.Done {
		t.Fatalf("expected Done, got %v", res.Status)
	}
	rv, ok := got.(piper.ReferenceValue)
	if !ok || rv.ItemID != existingID {
		t.Fatalf("expected a Reference to item %d, got %#v", existingID, got)
	}
}

func TestFindItemReturnsNoneWhenMissing(t *testing.T) {
	db := itemdb.NewMemory()
	db.SeedDataset(piper.Dataset{DatasetID: 1, Name: "ds"})
	db.SeedClass(piper.Class{ClassID: 10, DatasetID: 1, Name: "widgets", Attributes: map[string]piper.AttrSchema{
		"sku": {Stub: piper.TextStub{}, Unique: true},
	}})

	tx, err := db.Open(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	jc := piper.NewJobContext("job-1", "user-1", nil, tx, 4, 1<<20)

	f := &findItemFactory{}
	params := piper.ParamMap{"class": piper.IntegerParam(10), "attribute": piper.StringParam("sku")}
	n, err := f.New(jc, params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var got piper.Value
	emit := func(port piper.PortID, v piper.Value) error {
		got = v
		return nil
	}
	res, err := n.Run(context.Background(), []piper.Delivery{{Port: "value", Value: piper.TextValue("does-not-exist")}}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != piper.Done {
		t.Fatalf("expected Done, got %v", res.Status)
	}
	if _, ok := got.(piper.NoneValue); !ok {
		t.Fatalf("expected a typed None, got %#v", got)
	}
}

func TestFindItemFactoryRejectsNonUniqueAttribute(t *testing.T) {
	db := itemdb.NewMemory()
	db.SeedDataset(piper.Dataset{DatasetID: 1, Name: "ds"})
	db.SeedClass(piper.Class{ClassID: 10, DatasetID: 1, Name: "widgets", Attributes: map[string]piper.AttrSchema{
		"sku": {Stub: piper.TextStub{}, Unique: false},
	}})

	tx, err := db.Open(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	jc := piper.NewJobContext("job-1", "user-1", nil, tx, 4, 1<<20)

	f := &findItemFactory{}
	params := piper.ParamMap{"class": piper.IntegerParam(10), "attribute": piper.StringParam("sku")}
	if _, _, err := f.Info(jc, params); err == nil {
		t.Fatal("expected an error for a non-unique attribute")
	}
}
