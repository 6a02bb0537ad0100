package repo

import (
	"fmt"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
)

// ValidateGateGraphIssues returns every structural problem with g: a
// duplicate gate id, a dangling upstream reference, or a cycle. Gate
// graph writes validate the full graph and reject on any issue.
func ValidateGateGraphIssues(g model.GateGraph) []string {
	var issues []string

	byID := map[string]model.GateDef{}
	for _, gate := range g.Gates {
		if _, dup := byID[gate.ID]; dup {
			issues = append(issues, fmt.Sprintf("duplicate gate id %q", gate.ID))
			continue
		}
		byID[gate.ID] = gate
	}

	for _, gate := range g.Gates {
		for _, up := range gate.Upstream {
			if _, ok := byID[up]; !ok {
				issues = append(issues, fmt.Sprintf("gate %q references undefined upstream %q", gate.ID, up))
			}
		}
	}

	if len(issues) == 0 {
		if cyc := findCycle(g); cyc != "" {
			issues = append(issues, fmt.Sprintf("gate graph has a cycle through %q", cyc))
		}
	}

	return issues
}

// findCycle runs a white/gray/black DFS over the upstream edges and
// returns one gate id on a cycle, or "" if the graph is acyclic.
func findCycle(g model.GateGraph) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	byID := map[string]model.GateDef{}
	for _, gate := range g.Gates {
		byID[gate.ID] = gate
	}
	color := map[string]int{}

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, up := range byID[id].Upstream {
			switch color[up] {
			case gray:
				return up
			case white:
				if cyc := visit(up); cyc != "" {
					return cyc
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, gate := range g.Gates {
		if color[gate.ID] == white {
			if cyc := visit(gate.ID); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}

// ValidateGateGraph returns a GraphInvalid error naming every issue, or
// nil if g is a valid DAG.
func ValidateGateGraph(g model.GateGraph) error {
	issues := ValidateGateGraphIssues(g)
	if len(issues) == 0 {
		return nil
	}
	return cerr.New(cerr.GraphInvalid, "invalid gate graph").WithDetail(issues)
}

func gateByID(r *model.Repo, id string) (model.GateDef, bool) {
	for _, g := range r.GateGraph.Gates {
		if g.ID == id {
			return g, true
		}
	}
	return model.GateDef{}, false
}

// isImmediateDownstream reports whether toGate lists fromGate among its
// upstream gates, i.e. promoting bundle from fromGate to toGate follows
// one edge of the gate graph.
func isImmediateDownstream(r *model.Repo, fromGate, toGate string) bool {
	gate, ok := gateByID(r, toGate)
	if !ok {
		return false
	}
	return contains(gate.Upstream, fromGate)
}
