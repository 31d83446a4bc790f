// Package flow validates and executes conversation automation graphs.
package flow

import (
	"fmt"

	"github.com/dukex/convoflow/pkg/models"
)

var (
	flowKinds = map[models.NodeKind]bool{
		models.NodeKindTrigger:   true,
		models.NodeKindCondition: true,
		models.NodeKindAction:    true,
		models.NodeKindMessage:   true,
	}

	chatbotKinds = map[models.NodeKind]bool{
		models.NodeKindTrigger: true,
		models.NodeKindMessage: true,
		models.NodeKindAI:      true,
	}
)

// Graph is a validated, indexed view over a set of nodes and edges. It is
// built once per load and never mutated.
type Graph struct {
	id       string
	trigger  string
	nodes    map[string]*models.Node
	outgoing map[string][]models.Edge
}

// Compile validates a flow and builds its indexes.
func Compile(flow *models.FlowGraph) (*Graph, error) {
	return compile(flow.ID, flow.Nodes, flow.Edges, flowKinds)
}

// CompileChatbot validates a chatbot graph and builds its indexes.
func CompileChatbot(bot *models.Chatbot) (*Graph, error) {
	return compile(bot.ID, bot.Nodes, bot.Edges, chatbotKinds)
}

func compile(id string, nodes map[string]*models.Node, edges []models.Edge, allowed map[models.NodeKind]bool) (*Graph, error) {
	graph := &Graph{
		id:       id,
		nodes:    make(map[string]*models.Node, len(nodes)),
		outgoing: make(map[string][]models.Edge, len(nodes)),
	}

	triggers := 0

	for key, node := range nodes {
		if node == nil || node.Body == nil {
			return nil, configError(id, key, ErrNodeWithoutBody)
		}

		if node.ID != key {
			return nil, configError(id, key, ErrNodeIDMismatch)
		}

		if !allowed[node.Kind()] {
			return nil, configError(id, key, fmt.Errorf("%w: %s", ErrNodeKindNotAllowed, node.Kind()))
		}

		if node.Kind() == models.NodeKindTrigger {
			triggers++
			graph.trigger = key
		}

		graph.nodes[key] = node
	}

	switch {
	case triggers == 0:
		return nil, configError(id, "", ErrNoTrigger)
	case triggers > 1:
		return nil, configError(id, "", ErrMultipleTriggers)
	}

	for _, edge := range edges {
		source, ok := graph.nodes[edge.Source]
		if !ok {
			return nil, configError(id, edge.Source, fmt.Errorf("%w: %s -> %s", ErrDanglingEdge, edge.Source, edge.Target))
		}

		if _, ok := graph.nodes[edge.Target]; !ok {
			return nil, configError(id, edge.Target, fmt.Errorf("%w: %s -> %s", ErrDanglingEdge, edge.Source, edge.Target))
		}

		if edge.Target == graph.trigger {
			return nil, configError(id, edge.Target, ErrTriggerHasIncoming)
		}

		err := checkBranch(source, edge, graph.outgoing[edge.Source])
		if err != nil {
			return nil, configError(id, edge.Source, err)
		}

		graph.outgoing[edge.Source] = append(graph.outgoing[edge.Source], edge)
	}

	for nodeID := range graph.reachableFrom(graph.trigger).missing(graph.nodes) {
		return nil, configError(id, nodeID, ErrUnreachableNode)
	}

	return graph, nil
}

func checkBranch(source *models.Node, edge models.Edge, existing []models.Edge) error {
	if source.Kind() != models.NodeKindCondition {
		if edge.Branch != models.BranchNone {
			return fmt.Errorf("%w: %q on a %s node", ErrInvalidBranch, edge.Branch, source.Kind())
		}

		if len(existing) > 0 {
			return ErrAmbiguousEdge
		}

		return nil
	}

	if edge.Branch != models.BranchTrue && edge.Branch != models.BranchFalse {
		return fmt.Errorf("%w: condition edges need a true or false branch", ErrInvalidBranch)
	}

	for _, other := range existing {
		if other.Branch == edge.Branch {
			return fmt.Errorf("%w: duplicate %q branch", ErrInvalidBranch, edge.Branch)
		}
	}

	return nil
}

type nodeSet map[string]bool

func (s nodeSet) missing(all map[string]*models.Node) nodeSet {
	out := nodeSet{}

	for id := range all {
		if !s[id] {
			out[id] = true
		}
	}

	return out
}

func (g *Graph) reachableFrom(start string) nodeSet {
	seen := nodeSet{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range g.outgoing[current] {
			if !seen[edge.Target] {
				seen[edge.Target] = true
				queue = append(queue, edge.Target)
			}
		}
	}

	return seen
}

// ID returns the flow or chatbot ID the graph was compiled from.
func (g *Graph) ID() string {
	return g.id
}

// Trigger returns the single trigger node.
func (g *Graph) Trigger() *models.Node {
	return g.nodes[g.trigger]
}

// Node looks a node up by ID.
func (g *Graph) Node(id string) (*models.Node, bool) {
	node, ok := g.nodes[id]

	return node, ok
}

// Outgoing returns the ordered outgoing edges of a node.
func (g *Graph) Outgoing(id string) []models.Edge {
	return g.outgoing[id]
}

// Next returns the target of the unbranched outgoing edge of a node.
func (g *Graph) Next(id string) (string, bool) {
	for _, edge := range g.outgoing[id] {
		if edge.Branch == models.BranchNone {
			return edge.Target, true
		}
	}

	return "", false
}

// Branch returns the target of the true or false edge of a condition node.
func (g *Graph) Branch(id string, result bool) (string, bool) {
	want := models.BranchFalse
	if result {
		want = models.BranchTrue
	}

	for _, edge := range g.outgoing[id] {
		if edge.Branch == want {
			return edge.Target, true
		}
	}

	return "", false
}
