// Package access decides record-level visibility and manage rights for
// workspace subjects. Every function is a pure function of its arguments so
// the predicates can be tested without stores or request plumbing.
package access

import (
	"github.com/hivedesk/hivedesk/modules/workspace/domain/types"
)

// GrantSet indexes a slice of grants for constant-time predicate lookups.
type GrantSet struct {
	byKey map[grantKey]types.AccessGrant
}

type grantKey struct {
	subjectType types.SubjectType
	subjectID   string
	userID      string
}

func NewGrantSet(grants []types.AccessGrant) GrantSet {
	m := make(map[grantKey]types.AccessGrant, len(grants))
	for _, g := range grants {
		m[grantKey{g.SubjectType, g.SubjectID, g.UserID}] = g
	}
	return GrantSet{byKey: m}
}

func (s GrantSet) Lookup(subjectType types.SubjectType, subjectID string, userID string) (types.AccessGrant, bool) {
	g, ok := s.byKey[grantKey{subjectType, subjectID, userID}]
	return g, ok
}

// Visible reports whether actorID may see the subject. Short-circuit order:
// non-private, creator, direct grant, then (tasks only) a grant on the
// parent project. Projects never inherit from their tasks.
func Visible(s types.Subject, actorID string, tenantID string, grants GrantSet) bool {
	if s.TenantID != tenantID {
		return false
	}
	if s.Visibility != types.VisibilityPrivate {
		return true
	}
	if s.CreatedBy == actorID {
		return true
	}
	if g, ok := grants.Lookup(s.Type, s.ID, actorID); ok && g.TenantID == tenantID {
		return true
	}
	if s.Type == types.SubjectTask && s.ProjectID != "" {
		if g, ok := grants.Lookup(types.SubjectProject, s.ProjectID, actorID); ok && g.TenantID == tenantID {
			return true
		}
	}
	return false
}

// Manageable reports whether actorID may administer grants on the subject:
// the creator, or the holder of an admin grant on that exact subject.
// Project-level admin grants do not cascade to manage rights on child tasks.
func Manageable(s types.Subject, actorID string, tenantID string, grants GrantSet) bool {
	if s.TenantID != tenantID {
		return false
	}
	if s.CreatedBy == actorID {
		return true
	}
	g, ok := grants.Lookup(s.Type, s.ID, actorID)
	return ok && g.TenantID == tenantID && g.Role == types.GrantRoleAdmin
}

// ReachableSet is the bulk pre-filter for list queries over private
// subjects: ids the actor can reach without evaluating Visible per row.
type ReachableSet struct {
	ProjectIDs []string
	TaskIDs    []string
}

// Reachable computes (own private creations) ∪ (direct grants) ∪ (task ids
// inherited through a granted parent project). Inputs are the tenant's
// private subjects and the actor's grants within the tenant.
func Reachable(actorID string, tenantID string, subjects []types.Subject, grants []types.AccessGrant) ReachableSet {
	grantedProjects := make(map[string]bool)
	grantedTasks := make(map[string]bool)
	for _, g := range grants {
		if g.UserID != actorID || g.TenantID != tenantID {
			continue
		}
		switch g.SubjectType {
		case types.SubjectProject:
			grantedProjects[g.SubjectID] = true
		case types.SubjectTask:
			grantedTasks[g.SubjectID] = true
		}
	}

	var out ReachableSet
	seenProjects := make(map[string]bool)
	seenTasks := make(map[string]bool)
	for _, s := range subjects {
		if s.TenantID != tenantID {
			continue
		}
		reachable := s.CreatedBy == actorID
		switch s.Type {
		case types.SubjectProject:
			reachable = reachable || grantedProjects[s.ID]
			if reachable && !seenProjects[s.ID] {
				seenProjects[s.ID] = true
				out.ProjectIDs = append(out.ProjectIDs, s.ID)
			}
		case types.SubjectTask:
			reachable = reachable || grantedTasks[s.ID] || grantedProjects[s.ProjectID]
			if reachable && !seenTasks[s.ID] {
				seenTasks[s.ID] = true
				out.TaskIDs = append(out.TaskIDs, s.ID)
			}
		}
	}
	return out
}
