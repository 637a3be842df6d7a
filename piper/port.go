package piper

// PortID is a short symbolic name, unique within a node's input set and
// within its output set (it may be reused between the two sets).
type PortID string

// PortSchema is an ordered mapping of PortID to Stub. Order is
// declaration order and is preserved across Get/Ordered calls; it exists
// so info output is deterministic, not because the executor relies on it.
type PortSchema struct {
	order []PortID
	stubs map[PortID]Stub
}

// PortEntry is one (PortID, Stub) pair used to build a PortSchema.
type PortEntry struct {
	ID   PortID
	Stub Stub
}

// NewPortSchema builds a PortSchema from an ordered list of entries.
func NewPortSchema(entries ...PortEntry) PortSchema {
	ps := PortSchema{stubs: make(map[PortID]Stub, len(entries))}
	for _, e := range entries {
		if _, exists := ps.stubs[e.ID]; !exists {
			ps.order = append(ps.order, e.ID)
		}
		ps.stubs[e.ID] = e.Stub
	}
	return ps
}

// Get returns the stub declared for a port id, and whether it exists.
func (p PortSchema) Get(id PortID) (Stub, bool) {
	s, ok := p.stubs[id]
	return s, ok
}

// Ordered returns the port ids in declaration order.
func (p PortSchema) Ordered() []PortID {
	out := make([]PortID, len(p.order))
	copy(out, p.order)
	return out
}

// Len returns the number of ports declared.
func (p PortSchema) Len() int { return len(p.order) }
