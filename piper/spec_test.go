package piper

import "testing"

func TestLoadSpecYAMLRoundTrips(t *testing.T) {
	src := []byte(`
name: ingest
nodes:
  in:
    node_type: Input
    params:
      shape:
        type: String
        s: "Integer!"
  out:
    node_type: Passthrough
    params:
      threshold:
        type: Integer
        i: 3
      tags:
        type: List
        l:
          - type: String
            s: one
          - type: Boolean
            b: true
edges:
  e1:
    kind: Data
    source:
      node: in
      port: v
    target:
      node: out
      port: v
`)

	spec, err := LoadSpecYAML(src)
	if err != nil {
		t.Fatalf("LoadSpecYAML: %v", err)
	}

	if spec.Name != "ingest" {
		t.Fatalf("name = %q, want %q", spec.Name, "ingest")
	}
	if len(spec.Nodes) != 2 || len(spec.Edges) != 1 {
		t.Fatalf("unexpected spec shape: %+v", spec)
	}

	out := spec.Nodes["out"]
	threshold, ok := out.Params["threshold"].(IntegerParam)
	if !ok || threshold != 3 {
		t.Fatalf("threshold = %#v, want IntegerParam(3)", out.Params["threshold"])
	}

	tags, ok := out.Params["tags"].(ListParam)
	if !ok || len(tags) != 2 {
		t.Fatalf("tags = %#v, want a 2-element ListParam", out.Params["tags"])
	}
	if tags[0] != StringParam("one") {
		t.Errorf("tags[0] = %#v, want StringParam(\"one\")", tags[0])
	}
	if tags[1] != BooleanParam(true) {
		t.Errorf("tags[1] = %#v, want BooleanParam(true)", tags[1])
	}

	roundTripped, err := spec.ToYAML()
	if err != nil {
		t.Fatalf("ToYAML: %v", err)
	}
	spec2, err := LoadSpecYAML(roundTripped)
	if err != nil {
		t.Fatalf("LoadSpecYAML(ToYAML output): %v", err)
	}
	if spec2.Nodes["out"].Params["threshold"] != IntegerParam(3) {
		t.Errorf("round trip lost threshold: %#v", spec2.Nodes["out"].Params["threshold"])
	}
}

func TestLoadSpecYAMLRejectsMalformedParam(t *testing.T) {
	src := []byte(`
name: bad
nodes:
  in:
    node_type: Input
    params:
      shape:
        type: NotAType
edges: {}
`)
	if _, err := LoadSpecYAML(src); err == nil {
		t.Fatal("expected an error for an unknown parameter type")
	}
}
