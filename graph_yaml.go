package flowstone

import (
	"context"
	"fmt"
	"os"

	"github.com/flowstone-ai/flowstone/script"
	"gopkg.in/yaml.v3"
)

// GraphDef is the YAML form of a graph topology. Executors are declared by
// id only and bound to implementations at build time; switch conditions are
// script expressions evaluated against the message payload.
type GraphDef struct {
	Name      string       `json:"name" yaml:"name"`
	Start     string       `json:"start" yaml:"start"`
	Executors []string     `json:"executors" yaml:"executors"`
	Edges     []*EdgeDef   `json:"edges,omitempty" yaml:"edges,omitempty"`
	FanOuts   []*FanOut    `json:"fan_outs,omitempty" yaml:"fan_outs,omitempty"`
	FanIns    []*FanIn     `json:"fan_ins,omitempty" yaml:"fan_ins,omitempty"`
	Switches  []*SwitchDef `json:"switches,omitempty" yaml:"switches,omitempty"`
}

// EdgeDef declares a direct edge.
type EdgeDef struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// FanOut declares a fan-out edge.
type FanOut struct {
	From    string   `json:"from" yaml:"from"`
	Targets []string `json:"targets" yaml:"targets"`
}

// FanIn declares a fan-in barrier.
type FanIn struct {
	Sources []string `json:"sources" yaml:"sources"`
	Target  string   `json:"target" yaml:"target"`
}

// SwitchDef declares conditional routing.
type SwitchDef struct {
	From    string     `json:"from" yaml:"from"`
	Cases   []*CaseDef `json:"cases" yaml:"cases"`
	Default string     `json:"default" yaml:"default"`
}

// CaseDef is one switch case: a script expression and its target.
type CaseDef struct {
	Condition string `json:"condition" yaml:"condition"`
	Target    string `json:"target" yaml:"target"`
}

// BuildGraph binds the declared executor ids to implementations and builds
// the graph. Every declared id must have a matching executor; the compiler
// defaults to a risor engine.
func (d *GraphDef) BuildGraph(ctx context.Context, executors []Executor, compiler script.Compiler) (*Graph, error) {
	if compiler == nil {
		compiler = script.NewRisorEngine(script.DefaultGlobals())
	}
	byID := make(map[string]Executor, len(executors))
	for _, e := range executors {
		byID[e.ID()] = e
	}

	builder := NewGraphBuilder(d.Name).WithCompiler(compiler).SetStart(d.Start)
	for _, id := range d.Executors {
		executor, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("no executor bound for declared id %q", id)
		}
		builder.AddExecutor(executor)
	}
	for _, edge := range d.Edges {
		builder.AddEdge(edge.From, edge.To)
	}
	for _, fanOut := range d.FanOuts {
		builder.AddFanOutEdges(fanOut.From, fanOut.Targets...)
	}
	for _, fanIn := range d.FanIns {
		builder.AddFanInEdges(fanIn.Sources, fanIn.Target)
	}
	for _, sw := range d.Switches {
		cases := make([]*SwitchCase, 0, len(sw.Cases))
		for _, c := range sw.Cases {
			cases = append(cases, &SwitchCase{Condition: c.Condition, Target: c.Target})
		}
		builder.AddSwitch(sw.From, cases, sw.Default)
	}
	return builder.Build(ctx)
}

// LoadGraphFile loads a graph definition from a YAML file.
func LoadGraphFile(path string) (*GraphDef, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	return LoadGraphString(string(yamlData))
}

// LoadGraphString loads a graph definition from a YAML string.
func LoadGraphString(data string) (*GraphDef, error) {
	var def GraphDef
	if err := yaml.Unmarshal([]byte(data), &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph definition: %w", err)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("graph name required")
	}
	if def.Start == "" {
		return nil, fmt.Errorf("graph start executor required")
	}
	return &def, nil
}
