package nodes

import (
	"context"
	"testing"

	"github.com/copperd/piper/piper"
)

func TestConstantNodePassesThroughOnV(t *testing.T) {
	f := &constantFactory{}
	n, err := f.New(nil, piper.ParamMap{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var got piper.Value
	emit := func(port piper.PortID, v piper.Value) error {
		if port != "w" {
			t.Fatalf("unexpected emit port %q", port)
		}
		got = v
		return nil
	}

	res, err := n.Run(context.Background(), []piper.Delivery{{Port: "v", Value: piper.IntegerValue{N: 42}}}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != piper.Done {
		t.Fatalf("expected Done, got %v", res.Status)
	}
	iv, ok := got.(piper.IntegerValue)
	if !ok || iv.N != 42 {
		t.Fatalf("expected IntegerValue{N:42}, got %#v", got)
	}
}

func TestConstantNodePendingWithoutV(t *testing.T) {
	f := &constantFactory{}
	n, _ := f.New(nil, piper.ParamMap{})

	res, err := n.Run(context.Background(), nil, func(piper.PortID, piper.Value) error { return nil })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != piper.Pending {
		t.Fatalf("expected Pending, got %v", res.Status)
	}
}

func TestConstantFactoryRejectsUnexpectedParams(t *testing.T) {
	f := &constantFactory{}
	if _, _, err := f.Info(nil, piper.ParamMap{"extra": piper.StringParam("x")}); err == nil {
		t.Fatal("expected an error for an unexpected parameter")
	}
}
