package gateway

import (
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
)

// callGraph is the validated dependency DAG of one batch, keyed by call id.
type callGraph struct {
	calls map[string]*renders.Call
	order []string
}

// buildCallGraph checks the batch's dependency structure up front: ids must
// be present and unique, edges must point at calls in the same batch, no
// self references, no cycles. A bad graph rejects the whole batch before
// anything is dispatched.
func buildCallGraph(calls []renders.Call) (*callGraph, error) {
	graph := &callGraph{calls: make(map[string]*renders.Call, len(calls))}

	for i := range calls {
		call := &calls[i]

		if call.ID == "" {
			return nil, fmt.Errorf("%w: call at index %d has no id", renders.ErrValidationFailed, i)
		}

		if _, ok := graph.calls[call.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate call id %q", renders.ErrValidationFailed, call.ID)
		}

		graph.calls[call.ID] = call
	}

	edges := make(map[string][]string, len(graph.calls))

	for id, call := range graph.calls {
		for _, dep := range call.DependsOn {
			if dep == id {
				return nil, fmt.Errorf("%w: call %q depends on itself", renders.ErrValidationFailed, id)
			}

			if _, ok := graph.calls[dep]; !ok {
				return nil, fmt.Errorf("%w: call %q depends on unknown call %q", renders.ErrValidationFailed, id, dep)
			}
		}

		edges[id] = call.DependsOn
	}

	order, err := topologicalOrder(edges)
	if err != nil {
		return nil, err
	}

	graph.order = order

	return graph, nil
}

// topologicalOrder runs Kahn's algorithm over the dependency edges and
// returns a dependencies-first order, or a validation error on a cycle.
func topologicalOrder(edges map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(edges))
	dependents := make(map[string][]string, len(edges))

	for id, deps := range edges {
		inDegree[id] = len(deps)

		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string

	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(edges))

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		order = append(order, id)

		for _, dependent := range dependents[id] {
			inDegree[dependent]--

			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(edges) {
		return nil, fmt.Errorf("%w: dependency cycle detected", renders.ErrValidationFailed)
	}

	return order, nil
}

var resultPlaceholder = regexp.MustCompile(`\{\{result:([^{}]+)\}\}`)

// injectDependencyOutputs replaces {{result:<callId>}} placeholders in the
// document with the named dependency's output as a base64 data url. Only
// declared dependencies are available for injection; anything else is left
// untouched.
func injectDependencyOutputs(document renders.Document, outputs map[string]*renders.Output) renders.Document {
	if len(outputs) == 0 || !resultPlaceholder.MatchString(document.HTML) {
		return document
	}

	document.HTML = resultPlaceholder.ReplaceAllStringFunc(document.HTML, func(match string) string {
		id := resultPlaceholder.FindStringSubmatch(match)[1]

		output, ok := outputs[id]
		if !ok {
			return match
		}

		return "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(output.Data)
	})

	return document
}
