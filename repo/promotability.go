package repo

import (
	"github.com/converge-vcs/converge/model"
)

// ComputePromotability derives a bundle's promotable flag from its
// content and the gate definition:
// reasons accumulates "superpositions_present" when the tree still has
// unresolved superpositions and the gate forbids them, and
// "approvals_missing" when approvalCount falls short of the gate's
// required_approvals. ok is true only when reasons is empty.
func ComputePromotability(gate model.GateDef, hasSuperpositions bool, approvalCount int) (ok bool, reasons []string) {
	if hasSuperpositions && !gate.AllowSuperpositions {
		reasons = append(reasons, "superpositions_present")
	}
	if approvalCount < int(gate.RequiredApprovals) {
		reasons = append(reasons, "approvals_missing")
	}
	return len(reasons) == 0, reasons
}
