package flowstone

import (
	"context"
	"fmt"
	"sort"

	"github.com/flowstone-ai/flowstone/script"
)

// Graph is an immutable description of executors and the edges connecting
// them: direct, fan-out, fan-in and conditional switch. Build one with a
// GraphBuilder, then drive it with a Runner. A Graph holds no run state and
// may back any number of runs.
type Graph struct {
	name      string
	executors map[string]Executor
	start     string

	direct      map[string][]string
	fanOut      map[string][]string
	fanIn       map[string]*fanInSpec
	fanInSource map[string][]string
	switches    map[string]*switchSpec
}

// Name returns the graph name.
func (g *Graph) Name() string {
	return g.name
}

// Start returns the id of the start executor.
func (g *Graph) Start() string {
	return g.start
}

// ExecutorIDs returns the ids of all executors in the graph, sorted.
func (g *Graph) ExecutorIDs() []string {
	ids := make([]string, 0, len(g.executors))
	for id := range g.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Executor returns the executor with the given id.
func (g *Graph) Executor(id string) (Executor, bool) {
	e, ok := g.executors[id]
	return e, ok
}

// outgoingTargets returns every executor id reachable from the given
// executor across all edge kinds.
func (g *Graph) outgoingTargets(from string) []string {
	var targets []string
	targets = append(targets, g.direct[from]...)
	targets = append(targets, g.fanOut[from]...)
	targets = append(targets, g.fanInSource[from]...)
	if spec, ok := g.switches[from]; ok {
		for _, c := range spec.cases {
			targets = append(targets, c.Target)
		}
		targets = append(targets, spec.defaultTarget)
	}
	return targets
}

// isTerminal reports whether the executor has no outgoing edges. Only
// terminal executors may yield the workflow output.
func (g *Graph) isTerminal(id string) bool {
	return len(g.outgoingTargets(id)) == 0
}

func (g *Graph) hasTarget(from, to string) bool {
	for _, t := range g.outgoingTargets(from) {
		if t == to {
			return true
		}
	}
	return false
}

// GraphBuilder accumulates executors and edges and produces an immutable
// Graph. The zero value is not usable; create one with NewGraphBuilder.
type GraphBuilder struct {
	name      string
	executors []Executor
	start     string
	compiler  script.Compiler

	direct   map[string][]string
	fanOut   map[string][]string
	fanIns   []*fanInSpec
	switches map[string]*switchSpec
	err      error
}

// NewGraphBuilder returns a builder for a named graph.
func NewGraphBuilder(name string) *GraphBuilder {
	return &GraphBuilder{
		name:     name,
		direct:   map[string][]string{},
		fanOut:   map[string][]string{},
		switches: map[string]*switchSpec{},
	}
}

// WithCompiler sets the script compiler used for switch case conditions
// declared as expressions rather than Go predicates.
func (b *GraphBuilder) WithCompiler(compiler script.Compiler) *GraphBuilder {
	b.compiler = compiler
	return b
}

// AddExecutor registers an executor. Ids must be unique within the graph.
func (b *GraphBuilder) AddExecutor(e Executor) *GraphBuilder {
	b.executors = append(b.executors, e)
	return b
}

// AddExecutors registers multiple executors.
func (b *GraphBuilder) AddExecutors(executors ...Executor) *GraphBuilder {
	b.executors = append(b.executors, executors...)
	return b
}

// SetStart declares the start executor. Initiating messages enter the graph
// here.
func (b *GraphBuilder) SetStart(id string) *GraphBuilder {
	b.start = id
	return b
}

// AddEdge declares a direct edge: every message emitted by from (without an
// explicit target) is delivered to to.
func (b *GraphBuilder) AddEdge(from, to string) *GraphBuilder {
	b.direct[from] = append(b.direct[from], to)
	return b
}

// AddFanOutEdges declares a fan-out: each message emitted by from is
// duplicated to every target in the same logical step. Targets run
// concurrently with each other.
func (b *GraphBuilder) AddFanOutEdges(from string, targets ...string) *GraphBuilder {
	if len(targets) == 0 {
		b.fail(fmt.Errorf("fan-out from %q requires at least one target", from))
		return b
	}
	b.fanOut[from] = append(b.fanOut[from], targets...)
	return b
}

// AddFanInEdges declares a fan-in barrier: the target fires once per
// iteration, after exactly one message has arrived from each source, with
// its input being the buffered messages in source-declaration order.
func (b *GraphBuilder) AddFanInEdges(sources []string, target string) *GraphBuilder {
	if len(sources) == 0 {
		b.fail(fmt.Errorf("fan-in to %q requires at least one source", target))
		return b
	}
	seen := map[string]bool{}
	for _, s := range sources {
		if seen[s] {
			b.fail(fmt.Errorf("fan-in to %q lists source %q twice", target, s))
			return b
		}
		seen[s] = true
	}
	b.fanIns = append(b.fanIns, newFanInSpec(sources, target))
	return b
}

// AddSwitch declares conditional routing from an executor: cases are
// evaluated in order, the first match selects its target, and the default
// target is used when none match. Exactly one downstream target fires per
// evaluation.
func (b *GraphBuilder) AddSwitch(from string, cases []*SwitchCase, defaultTarget string) *GraphBuilder {
	if _, exists := b.switches[from]; exists {
		b.fail(fmt.Errorf("executor %q already has a switch", from))
		return b
	}
	if defaultTarget == "" {
		b.fail(fmt.Errorf("switch from %q requires a default target", from))
		return b
	}
	b.switches[from] = &switchSpec{from: from, cases: cases, defaultTarget: defaultTarget}
	return b
}

func (b *GraphBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func copyEdges(edges map[string][]string) map[string][]string {
	out := make(map[string][]string, len(edges))
	for from, targets := range edges {
		out[from] = append([]string(nil), targets...)
	}
	return out
}

// Build validates the accumulated topology and returns the immutable Graph.
func (b *GraphBuilder) Build(ctx context.Context) (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.name == "" {
		return nil, fmt.Errorf("graph name required")
	}
	if len(b.executors) == 0 {
		return nil, fmt.Errorf("graph requires at least one executor")
	}

	executors := make(map[string]Executor, len(b.executors))
	for _, e := range b.executors {
		if e == nil || e.ID() == "" {
			return nil, fmt.Errorf("executor id required")
		}
		if _, exists := executors[e.ID()]; exists {
			return nil, fmt.Errorf("duplicate executor id %q", e.ID())
		}
		executors[e.ID()] = e
	}

	if b.start == "" {
		return nil, fmt.Errorf("graph start executor required")
	}
	if _, ok := executors[b.start]; !ok {
		return nil, fmt.Errorf("start executor %q not registered", b.start)
	}

	// Copy the edge maps so reusing the builder cannot mutate the graph
	g := &Graph{
		name:        b.name,
		executors:   executors,
		start:       b.start,
		direct:      copyEdges(b.direct),
		fanOut:      copyEdges(b.fanOut),
		fanIn:       map[string]*fanInSpec{},
		fanInSource: map[string][]string{},
		switches:    make(map[string]*switchSpec, len(b.switches)),
	}
	for from, spec := range b.switches {
		g.switches[from] = spec
	}

	for _, spec := range b.fanIns {
		if _, exists := g.fanIn[spec.target]; exists {
			return nil, fmt.Errorf("executor %q is the target of two fan-ins", spec.target)
		}
		g.fanIn[spec.target] = spec
		for _, source := range spec.sources {
			g.fanInSource[source] = append(g.fanInSource[source], spec.target)
		}
	}

	// A switch owns all routing from its executor; unconditional edges from
	// the same executor would never be taken.
	for from := range g.switches {
		if len(g.direct[from])+len(g.fanOut[from])+len(g.fanInSource[from]) > 0 {
			return nil, fmt.Errorf("graph validation failed: executor %q has both a switch and unconditional edges", from)
		}
	}

	if err := g.validateEndpoints(); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}
	if err := g.validateReachability(); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}
	if err := compileSwitchConditions(ctx, b.compiler, b.switches); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) validateEndpoints() error {
	check := func(id string) error {
		if _, ok := g.executors[id]; !ok {
			return fmt.Errorf("edge references unknown executor %q", id)
		}
		return nil
	}
	for from, targets := range g.direct {
		if err := check(from); err != nil {
			return err
		}
		for _, to := range targets {
			if err := check(to); err != nil {
				return err
			}
		}
	}
	for from, targets := range g.fanOut {
		if err := check(from); err != nil {
			return err
		}
		for _, to := range targets {
			if err := check(to); err != nil {
				return err
			}
		}
	}
	for _, spec := range g.fanIn {
		if err := check(spec.target); err != nil {
			return err
		}
		for _, source := range spec.sources {
			if err := check(source); err != nil {
				return err
			}
		}
	}
	for from, spec := range g.switches {
		if err := check(from); err != nil {
			return err
		}
		for _, c := range spec.cases {
			if c.Target == "" {
				return fmt.Errorf("switch case from %q has no target", from)
			}
			if err := check(c.Target); err != nil {
				return err
			}
			if c.When == nil && c.Condition == "" {
				return fmt.Errorf("switch case from %q to %q has neither predicate nor condition", from, c.Target)
			}
		}
		if err := check(spec.defaultTarget); err != nil {
			return err
		}
	}
	return nil
}

// validateReachability ensures every non-start executor is reachable from
// the start executor.
func (g *Graph) validateReachability() error {
	visited := map[string]bool{g.start: true}
	queue := []string{g.start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.outgoingTargets(current) {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	for id := range g.executors {
		if !visited[id] {
			return fmt.Errorf("executor %q is not reachable from start %q", id, g.start)
		}
	}
	return nil
}

func compileSwitchConditions(ctx context.Context, compiler script.Compiler, switches map[string]*switchSpec) error {
	for from, spec := range switches {
		for _, c := range spec.cases {
			if c.Condition == "" {
				continue
			}
			if compiler == nil {
				return fmt.Errorf("switch case from %q has a script condition but no compiler is configured", from)
			}
			compiled, err := compiler.Compile(ctx, c.Condition)
			if err != nil {
				return fmt.Errorf("failed to compile switch condition from %q: %w", from, err)
			}
			c.compiled = compiled
		}
	}
	return nil
}

// evaluate selects the switch target for a message: the first matching case
// in declaration order, or the default target.
func (s *switchSpec) evaluate(ctx context.Context, msg Message) (string, error) {
	for _, c := range s.cases {
		if c.When != nil {
			if c.When(msg) {
				return c.Target, nil
			}
			continue
		}
		payload, err := msg.PayloadMap()
		if err != nil {
			return "", err
		}
		value, err := c.compiled.Evaluate(ctx, map[string]any{
			"payload":  payload,
			"msg_type": msg.Type,
		})
		if err != nil {
			return "", fmt.Errorf("failed to evaluate switch condition from %q: %w", s.from, err)
		}
		if value.IsTruthy() {
			return c.Target, nil
		}
	}
	return s.defaultTarget, nil
}
