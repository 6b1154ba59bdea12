package projection

import (
	"fmt"

	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

// NodeState is the closed set of agent-graph node states.
type NodeState string

const (
	NodeIdle    NodeState = "idle"
	NodePending NodeState = "pending"
	NodeActive  NodeState = "active"
	NodeDone    NodeState = "done"
	NodeError   NodeState = "error"
)

// Node is one role's position in the derived agent graph.
type Node struct {
	Role       orcmodel.TaskRole
	State      NodeState
	StatusText string
}

// Edge is a fixed pipeline edge between two roles.
type Edge struct {
	From   orcmodel.TaskRole
	To     orcmodel.TaskRole
	Active bool
}

// Graph is the derived view handed to UI consumers.
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// pipelineEdges is the fixed edge set spec.md §4.7 names; it is never
// computed from task data, only its Active flag is.
var pipelineEdges = []struct{ From, To orcmodel.TaskRole }{
	{orcmodel.RoleAnalystA, orcmodel.RoleConsensusBuilder},
	{orcmodel.RoleAnalystB, orcmodel.RoleConsensusBuilder},
	{orcmodel.RoleConsensusBuilder, orcmodel.RoleSplitter},
	{orcmodel.RoleSplitter, orcmodel.RoleImplementer},
	{orcmodel.RoleImplementer, orcmodel.RoleTester},
	{orcmodel.RoleTester, orcmodel.RoleReviewer},
	{orcmodel.RoleImplementer, orcmodel.RoleReviewer},
}

var allRoles = []orcmodel.TaskRole{
	orcmodel.RoleAnalystA, orcmodel.RoleAnalystB, orcmodel.RoleConsensusBuilder,
	orcmodel.RoleSplitter, orcmodel.RoleImplementer, orcmodel.RoleTester, orcmodel.RoleReviewer,
}

// DeriveAgentGraph is a pure function of (tasks, workers, agentStates):
// one node per role plus the fixed pipeline edges, with an edge marked
// active exactly when its source node is active.
func DeriveAgentGraph(tasks []*orcmodel.Task, workers []orcmodel.WorkerStatus, agentStates map[orcmodel.TaskRole]string) Graph {
	nodeState := map[orcmodel.TaskRole]NodeState{}
	statusText := map[orcmodel.TaskRole]string{}

	for _, role := range allRoles {
		nodeState[role] = NodeIdle
	}

	for _, t := range tasks {
		switch t.Status {
		case orcmodel.StatusReady, orcmodel.StatusBlocked:
			promoteState(nodeState, t.Role, NodePending)
		case orcmodel.StatusInProgress:
			promoteState(nodeState, t.Role, NodeActive)
		case orcmodel.StatusDone, orcmodel.StatusApproved:
			promoteState(nodeState, t.Role, NodeDone)
		case orcmodel.StatusError, orcmodel.StatusChangesRequested:
			promoteState(nodeState, t.Role, NodeError)
		}
		if t.WorkerOutcome != nil {
			statusText[t.Role] = fmt.Sprintf("%s: %s", t.WorkerOutcome.Status, t.WorkerOutcome.Summary)
		}
	}

	for _, w := range workers {
		if w.State == orcmodel.WorkerWorking {
			promoteState(nodeState, w.Role, NodeActive)
		} else if w.State == orcmodel.WorkerError {
			promoteState(nodeState, w.Role, NodeError)
		}
	}

	nodes := make([]Node, 0, len(allRoles))
	for _, role := range allRoles {
		text := statusText[role]
		if s, ok := agentStates[role]; ok && text == "" {
			text = s
		}
		nodes = append(nodes, Node{Role: role, State: nodeState[role], StatusText: text})
	}

	edges := make([]Edge, 0, len(pipelineEdges))
	for _, e := range pipelineEdges {
		edges = append(edges, Edge{From: e.From, To: e.To, Active: nodeState[e.From] == NodeActive})
	}

	return Graph{Nodes: nodes, Edges: edges}
}

// precedence ranks node states so a higher-precedence state (e.g. error)
// is never overwritten by a lower one (e.g. pending) when multiple
// signals touch the same role.
var statePrecedence = map[NodeState]int{
	NodeIdle:    0,
	NodePending: 1,
	NodeDone:    2,
	NodeActive:  3,
	NodeError:   4,
}

func promoteState(m map[orcmodel.TaskRole]NodeState, role orcmodel.TaskRole, candidate NodeState) {
	if statePrecedence[candidate] >= statePrecedence[m[role]] {
		m[role] = candidate
	}
}
