// Package policy decides whether a worker may be admitted at a
// checkpoint. The decision is a pure function of the worker's roles
// and home ports against the checkpoint's policy — no clock, no I/O,
// no state — so the same check can run at cache admission, at fan-out
// filtering, and again at authentication time as a defense against a
// role change that has not yet propagated.
package policy

import "github.com/quaygate/quaygate/internal/quaygate/types"

// Authorized reports whether a worker with the given roles and home
// ports satisfies pol. Both conditions must hold: the checkpoint's
// port is one of the worker's home ports, and at least one of the
// worker's roles is in the checkpoint's allowed set. Empty inputs are
// never authorized.
func Authorized(roles, homePorts []string, pol types.CheckpointPolicy) bool {
	if !contains(homePorts, pol.PortID) {
		return false
	}
	for _, r := range roles {
		if contains(pol.AllowedRoles, r) {
			return true
		}
	}
	return false
}

// Admit is the record-level convenience used on the sync path.
func Admit(rec types.WorkerRecord, pol types.CheckpointPolicy) bool {
	return Authorized(rec.Roles, rec.HomePorts, pol)
}

func contains(set []string, want string) bool {
	for _, s := range set {
		if s == want {
			return true
		}
	}
	return false
}
