package auth

import (
	"github.com/quill/printhold/internal/core"
	"github.com/quill/printhold/internal/db"
)

// Operation is one guarded control action on a ledger entry.
type Operation string

const (
	OpHold    Operation = "hold"
	OpRelease Operation = "release"
	OpCancel  Operation = "cancel"
	OpClaim   Operation = "claim"
)

// Gate decides who may act on a job. It is stateless logic over the
// principal and the ledger row; the admin user and group lists are fixed
// at construction, not read from ambient state. The gate never mutates
// anything itself.
type Gate struct {
	adminUsers  map[string]bool
	adminGroups map[string]bool
}

func NewGate(adminUsers, adminGroups []string) *Gate {
	g := &Gate{
		adminUsers:  make(map[string]bool, len(adminUsers)),
		adminGroups: make(map[string]bool, len(adminGroups)),
	}
	for _, u := range adminUsers {
		g.adminUsers[u] = true
	}
	for _, grp := range adminGroups {
		g.adminGroups[grp] = true
	}
	return g
}

// IsAdmin reports full authority: an admin-scoped API key, or a session
// account on the admin list or in an admin group. Kiosks are never admin.
func (g *Gate) IsAdmin(p *Principal) bool {
	switch p.Kind {
	case KindAPIKey:
		return p.HasScope(ScopeAdmin)
	case KindSession:
		if g.adminUsers[p.Account] {
			return true
		}
		for _, grp := range p.Groups {
			if g.adminGroups[grp] {
				return true
			}
		}
	}
	return false
}

// CanView reports whether the principal may see the job at all. Kiosks
// see every live job (they are the walk-up release surface at the
// printer); everyone else sees their own jobs unless admin.
func (g *Gate) CanView(p *Principal, job *db.Job) bool {
	if g.IsAdmin(p) || p.Kind == KindKiosk {
		return true
	}
	return job.Owner != nil && *job.Owner == p.Account
}

// Authorize checks one control operation against the job's ownership.
// Rules, in order:
//   - claim is open to any authenticated non-kiosk principal, but only on
//     an UNCLAIMED job; it is the one operation allowed without ownership.
//   - admins act on any job.
//   - kiosks may release or cancel any non-terminal job, nothing else.
//   - owners act on their own jobs.
//
// Everything else is Forbidden.
func (g *Gate) Authorize(p *Principal, job *db.Job, op Operation) error {
	if op == OpClaim {
		if p.Kind == KindKiosk {
			return core.ErrForbidden
		}
		if p.Kind == KindAPIKey && !p.HasScope(ScopeWrite) {
			return core.ErrForbidden
		}
		// Claimed-already is the ledger's Conflict to report; the gate
		// only rules out principals that could never claim.
		return nil
	}

	if g.IsAdmin(p) {
		return nil
	}

	if p.Kind == KindKiosk {
		if op == OpRelease || op == OpCancel {
			return nil
		}
		return core.ErrForbidden
	}

	if p.Kind == KindAPIKey && !p.HasScope(ScopeWrite) {
		return core.ErrForbidden
	}

	if job.Owner != nil && *job.Owner == p.Account && p.Account != "" {
		return nil
	}
	return core.ErrForbidden
}
