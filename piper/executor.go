package piper

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/copperd/piper/internal/graph"
)

var tracer = otel.Tracer("github.com/copperd/piper/piper")

// outEdge is one outgoing data edge of a node, resolved to the mailbox it
// feeds and the port on the far end.
type outEdge struct {
	dstPort PortID
	mailbox mailbox
}

// task is the executor's per-node bookkeeping.
type task struct {
	id      string
	node    Node
	rec     nodeRecord
	inbox   []mailbox // one per incoming data edge
	outEdge map[PortID][]outEdge
	written map[PortID]bool
	mu      sync.Mutex

	afterWG sync.WaitGroup // released once every After-dependency is Done

	// sink holds this task's emitted values when it has no outgoing data
	// edges, so Run's caller can report them as job outputs. Left nil for
	// non-sink nodes.
	sink *sinkValues
}

// Executor drives exactly one pipeline instance (spec.md §4.6, L5a).
type Executor struct {
	pipeline *Pipeline
	ctx      *JobContext
	dispatch *Dispatcher
	log      *logrus.Entry
}

// NewExecutor builds an executor for one job's pipeline run.
func NewExecutor(pipeline *Pipeline, ctx *JobContext, dispatch *Dispatcher, log *logrus.Entry) *Executor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{pipeline: pipeline, ctx: ctx, dispatch: dispatch, log: log.WithField("job_id", ctx.JobID)}
}

// Run drives the pipeline to a terminal state: every node task returns
// Done (Success), or one returns an error and the job is cancelled
// (Failed). Inputs supplies the named values delivered to the Input node.
func (e *Executor) Run(parent context.Context, inputs map[string]Value) JobResult {
	runCtx, span := tracer.Start(parent, "piper.Executor.Run", trace.WithAttributes(
		attribute.String("job_id", e.ctx.JobID),
		attribute.String("pipeline", e.pipeline.Name),
	))
	defer span.End()

	ctx, cancel := context.WithCancel(runCtx)
	defer cancel()

	e.log.WithField("pipeline", e.pipeline.Name).Debug("starting pipeline run")

	g := e.pipeline.graph
	n := g.NodeCount()

	tasks := make([]*task, n)
	for i := 0; i < n; i++ {
		rec := g.Node(graph.NodeIndex(i))
		node, err := e.dispatch.New(rec.NodeType, e.ctx, rec.Params)
		if err != nil {
			cancel()
			return JobResult{State: JobFailed, Err: fmt.Errorf("constructing node %q: %w", rec.ID, err)}
		}
		tasks[i] = &task{
			id:      rec.ID,
			node:    node,
			rec:     rec,
			outEdge: make(map[PortID][]outEdge),
			written: make(map[PortID]bool),
		}
	}

	// Wire mailboxes for data edges and after-dependency counters.
	for i := 0; i < n; i++ {
		for _, ed := range g.EdgesFrom(graph.NodeIndex(i)) {
			switch ed.Kind {
			case graph.Data:
				mb := newMailbox(e.ctx.StreamChannelCapacity)
				tasks[ed.Dst].inbox = append(tasks[ed.Dst].inbox, mb)
				tasks[i].outEdge[ed.Payload.Source.Port] = append(tasks[i].outEdge[ed.Payload.Source.Port], outEdge{
					dstPort: ed.Payload.Target.Port,
					mailbox: mb,
				})
			case graph.After:
				tasks[ed.Dst].afterWG.Add(1)
			}
		}
	}

	var wg sync.WaitGroup
	results := make([]error, n)

	inputNodeID := e.pipeline.InputNodeID()

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var seed []Delivery
			if tasks[i].id == inputNodeID {
				seed = make([]Delivery, 0, len(inputs))
				for port, v := range inputs {
					seed = append(seed, Delivery{Port: PortID(port), Value: v})
				}
			}
			results[i] = e.runTask(ctx, tasks, graph.NodeIndex(i), seed)
		}(i)
	}

	wg.Wait()

	for i, err := range results {
		if err != nil {
			cancel()
			span.RecordError(err)
			e.log.WithError(err).WithField("node_id", tasks[i].id).Warn("node task failed, job cancelled")
			return JobResult{State: JobFailed, Err: fmt.Errorf("node %q: %w", tasks[i].id, err)}
		}
	}

	e.log.Debug("pipeline run succeeded")

	outputs := make(map[string]Value)
	for i := 0; i < n; i++ {
		if tasks[i].sink == nil {
			continue
		}
		for port, v := range tasks[i].sink.snapshot() {
			outputs[fmt.Sprintf("%s.%s", tasks[i].id, port)] = v
		}
	}

	return JobResult{State: JobSuccess, Outputs: outputs}
}

// sinkValues records, for output-less (sink) nodes, the values their Run
// calls emitted, so Run's caller can report them on terminal Success.
type sinkValues struct {
	mu     sync.Mutex
	values map[PortID]Value
}

func (sv *sinkValues) record(port PortID, v Value) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.values[port] = v
}

func (sv *sinkValues) snapshot() map[PortID]Value {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make(map[PortID]Value, len(sv.values))
	for k, val := range sv.values {
		out[k] = val
	}
	return out
}

// runTask drives one node's task loop to completion: wait for its
// after-dependencies, then repeatedly feed it newly arrived deliveries
// until it returns Done or an error (spec.md §4.6.1-2).
func (e *Executor) runTask(ctx context.Context, tasks []*task, idx graph.NodeIndex, seed []Delivery) error {
	t := tasks[idx]

	taskCtx, span := tracer.Start(ctx, "piper.node", trace.WithAttributes(
		attribute.String("node_id", t.id),
	))
	defer span.End()

	afterDone := make(chan struct{})
	go func() { t.afterWG.Wait(); close(afterDone) }()
	select {
	case <-afterDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	isSink := len(t.outEdge) == 0
	if isSink {
		t.sink = &sinkValues{values: make(map[PortID]Value)}
	}

	emit := func(port PortID, v Value) error {
		t.mu.Lock()
		if t.written[port] {
			t.mu.Unlock()
			return &OutputPortSetTwiceError{NodeID: t.id, Port: port}
		}
		t.written[port] = true
		t.mu.Unlock()

		if isSink {
			t.sink.record(port, v)
		}

		edges := t.outEdge[port]
		if len(edges) == 0 {
			return nil
		}

		if bv, ok := v.(BlobValue); ok {
			if ss, ok := bv.Source.(StreamSource); ok && len(edges) > 1 {
				factories := newStreamMux(taskCtx, ss.Stream, len(edges), e.ctx.BlobFragmentSize, e.ctx.StreamChannelCapacity)
				for i, oe := range edges {
					if err := sendDelivery(taskCtx, oe.mailbox, Delivery{Port: oe.dstPort, Value: BlobValue{Mime: bv.Mime, Source: StreamSource{Stream: factories[i]}}}); err != nil {
						return err
					}
				}
				return nil
			}
		}

		for _, oe := range edges {
			if err := sendDelivery(taskCtx, oe.mailbox, Delivery{Port: oe.dstPort, Value: v}); err != nil {
				return err
			}
		}
		return nil
	}

	defer func() {
		for _, edges := range t.outEdge {
			for _, oe := range edges {
				close(oe.mailbox)
			}
		}
	}()

	if len(t.inbox) == 0 {
		res, err := t.node.Run(taskCtx, seed, emit)
		if err != nil {
			return err
		}
		if res.Status != Done {
			return MissingInput(fmt.Sprintf("node %q has no data inputs but returned Pending", t.id))
		}
		return t.checkAllOutputsWritten()
	}

	cases := make([]reflect.SelectCase, len(t.inbox)+1)
	for i, mb := range t.inbox {
		cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(mb)}
	}
	cases[len(t.inbox)] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())}

	openCount := len(t.inbox)
	for openCount > 0 {
		chosen, recv, recvOK := reflect.Select(cases)
		if chosen == len(t.inbox) {
			return ctx.Err()
		}
		if !recvOK {
			cases[chosen].Chan = reflect.ValueOf((chan Delivery)(nil))
			openCount--
			continue
		}
		d := recv.Interface().(Delivery)
		res, err := t.node.Run(taskCtx, []Delivery{d}, emit)
		if err != nil {
			return err
		}
		if res.Status == Done {
			return t.checkAllOutputsWritten()
		}
	}

	// All inbound edges closed without the node ever reaching Done.
	return MissingInput(fmt.Sprintf("node %q ran out of input before completing", t.id))
}

// checkAllOutputsWritten enforces the Done contract documented on
// Node.Run (piper/node.go) and spec.md §8: a node that terminates Done
// must have written every port its own Outputs() schema declares. A node
// bug that skips a port would otherwise surface as a silently absent job
// output instead of a failed job.
func (t *task) checkAllOutputsWritten() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, port := range t.node.Outputs().Ordered() {
		if !t.written[port] {
			return &OutputPortUnwrittenError{NodeID: t.id, Port: port}
		}
	}
	return nil
}

func sendDelivery(ctx context.Context, mb mailbox, d Delivery) error {
	select {
	case mb <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

