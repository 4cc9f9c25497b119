package flowstone

import (
	"github.com/flowstone-ai/flowstone/script"
)

// Predicate decides whether a switch case applies to a message.
type Predicate func(Message) bool

// SwitchCase is one conditional route of a switch edge. Exactly one of
// When (a Go predicate) or Condition (a script expression evaluated against
// the message payload) should be set. Cases are evaluated in declaration
// order and the first match wins.
type SwitchCase struct {
	When      Predicate
	Condition string
	Target    string

	compiled script.Script
}

type switchSpec struct {
	from          string
	cases         []*SwitchCase
	defaultTarget string
}

type fanInSpec struct {
	target  string
	sources []string
	// index maps a source executor id to its position in the declared
	// source order, which fixes the delivery order of the batch.
	index map[string]int
}

func newFanInSpec(sources []string, target string) *fanInSpec {
	index := make(map[string]int, len(sources))
	for i, source := range sources {
		index[source] = i
	}
	return &fanInSpec{target: target, sources: sources, index: index}
}

func edgeKey(from, to string) string {
	return from + "->" + to
}
