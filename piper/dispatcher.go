package piper

import "sync"

// InputNodeType is the well-known node type every pipeline's entry point
// must use (spec.md §6).
const InputNodeType = "Input"

// Dispatcher is the process-wide registry mapping node-type name to
// factory (spec.md §4.3). It is read-only after startup, so lookups take
// no lock beyond the one protecting the registration map itself - the
// teacher's pattern of "no lock needed on the hot path" (spec.md §9)
// holds here too, since Register only ever runs during init.
type Dispatcher struct {
	mu        sync.RWMutex
	factories map[string]NodeFactory
}

// NewDispatcher returns a Dispatcher with the built-in Input node type
// pre-registered.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{factories: map[string]NodeFactory{}}
	// Register can't fail here: InputNodeType is guaranteed unique in a
	// fresh registry.
	_ = d.Register(InputNodeType, &inputFactory{})
	return d
}

// Register adds a node-type factory. It fails with AlreadyExistsError if
// the name is already registered - including against the pre-registered
// Input type.
func (d *Dispatcher) Register(nodeType string, factory NodeFactory) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.factories[nodeType]; exists {
		return &AlreadyExistsError{NodeType: nodeType}
	}
	d.factories[nodeType] = factory
	return nil
}

// Info returns the inputs/outputs a node of nodeType would have for the
// given (context, params), without constructing it. Returns
// ErrUnknownNodeType if nodeType isn't registered.
func (d *Dispatcher) Info(nodeType string, ctx *JobContext, params ParamMap) (inputs, outputs PortSchema, err error) {
	f, ok := d.lookup(nodeType)
	if !ok {
		return PortSchema{}, PortSchema{}, ErrUnknownNodeType
	}
	return f.Info(ctx, params)
}

// New constructs a node instance of nodeType. Returns ErrUnknownNodeType
// if nodeType isn't registered.
func (d *Dispatcher) New(nodeType string, ctx *JobContext, params ParamMap) (Node, error) {
	f, ok := d.lookup(nodeType)
	if !ok {
		return nil, ErrUnknownNodeType
	}
	return f.New(ctx, params)
}

func (d *Dispatcher) lookup(nodeType string) (NodeFactory, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.factories[nodeType]
	return f, ok
}
