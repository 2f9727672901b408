package access

import (
	"testing"

	"github.com/hivedesk/hivedesk/modules/workspace/domain/types"
)

func privateTask(id, project, creator string) types.Subject {
	return types.Subject{
		Type:       types.SubjectTask,
		ID:         id,
		TenantID:   "t1",
		CreatedBy:  creator,
		Visibility: types.VisibilityPrivate,
		ProjectID:  project,
	}
}

func privateProject(id, creator string) types.Subject {
	return types.Subject{
		Type:       types.SubjectProject,
		ID:         id,
		TenantID:   "t1",
		CreatedBy:  creator,
		Visibility: types.VisibilityPrivate,
	}
}

func TestVisible_NonPrivateAlwaysVisible(t *testing.T) {
	s := types.Subject{Type: types.SubjectProject, ID: "p1", TenantID: "t1", CreatedBy: "u1", Visibility: types.VisibilityTenant}
	if !Visible(s, "u2", "t1", NewGrantSet(nil)) {
		t.Fatal("tenant-visible subject must be visible without grants")
	}
}

func TestVisible_WrongTenantNeverVisible(t *testing.T) {
	s := types.Subject{Type: types.SubjectProject, ID: "p1", TenantID: "t1", CreatedBy: "u1", Visibility: types.VisibilityTenant}
	if Visible(s, "u1", "t2", NewGrantSet(nil)) {
		t.Fatal("subject must not be visible outside its tenant")
	}
}

func TestVisible_PrivateCreatorAndGrant(t *testing.T) {
	x := privateTask("x", "p1", "u1")

	if !Visible(x, "u1", "t1", NewGrantSet(nil)) {
		t.Fatal("creator must see own private task")
	}
	if Visible(x, "u2", "t1", NewGrantSet(nil)) {
		t.Fatal("u2 has no grant, must not see x")
	}

	grants := NewGrantSet([]types.AccessGrant{
		{SubjectType: types.SubjectTask, SubjectID: "x", UserID: "u2", TenantID: "t1", Role: types.GrantRoleViewer},
	})
	if !Visible(x, "u2", "t1", grants) {
		t.Fatal("viewer grant must make x visible to u2")
	}
}

func TestVisible_TaskInheritsProjectGrant(t *testing.T) {
	task := privateTask("x", "p1", "u1")
	project := privateProject("p1", "u1")

	grants := NewGrantSet([]types.AccessGrant{
		{SubjectType: types.SubjectProject, SubjectID: "p1", UserID: "u2", TenantID: "t1", Role: types.GrantRoleViewer},
	})
	if !Visible(task, "u2", "t1", grants) {
		t.Fatal("project grant must cascade to child task visibility")
	}

	// The reverse direction must not hold.
	taskOnly := NewGrantSet([]types.AccessGrant{
		{SubjectType: types.SubjectTask, SubjectID: "x", UserID: "u2", TenantID: "t1", Role: types.GrantRoleViewer},
	})
	if Visible(project, "u2", "t1", taskOnly) {
		t.Fatal("task grant must not make the parent project visible")
	}
}

func TestVisible_RevokeShrinksAudience(t *testing.T) {
	x := privateTask("x", "p1", "u1")
	granted := NewGrantSet([]types.AccessGrant{
		{SubjectType: types.SubjectTask, SubjectID: "x", UserID: "u2", TenantID: "t1", Role: types.GrantRoleViewer},
	})
	revoked := NewGrantSet(nil)

	if !Visible(x, "u2", "t1", granted) {
		t.Fatal("granted")
	}
	if Visible(x, "u2", "t1", revoked) {
		t.Fatal("revoked")
	}
	// Creator visibility is unaffected by grant churn.
	if !Visible(x, "u1", "t1", granted) || !Visible(x, "u1", "t1", revoked) {
		t.Fatal("creator must stay visible")
	}
}

func TestManageable(t *testing.T) {
	task := privateTask("x", "p1", "u1")

	if !Manageable(task, "u1", "t1", NewGrantSet(nil)) {
		t.Fatal("creator manages own subject")
	}

	viewer := NewGrantSet([]types.AccessGrant{
		{SubjectType: types.SubjectTask, SubjectID: "x", UserID: "u2", TenantID: "t1", Role: types.GrantRoleViewer},
	})
	if Manageable(task, "u2", "t1", viewer) {
		t.Fatal("viewer grant must not confer manage rights")
	}

	admin := NewGrantSet([]types.AccessGrant{
		{SubjectType: types.SubjectTask, SubjectID: "x", UserID: "u2", TenantID: "t1", Role: types.GrantRoleAdmin},
	})
	if !Manageable(task, "u2", "t1", admin) {
		t.Fatal("admin grant on the exact subject confers manage rights")
	}

	// Project-level admin does not cascade to task manage rights.
	projectAdmin := NewGrantSet([]types.AccessGrant{
		{SubjectType: types.SubjectProject, SubjectID: "p1", UserID: "u2", TenantID: "t1", Role: types.GrantRoleAdmin},
	})
	if Manageable(task, "u2", "t1", projectAdmin) {
		t.Fatal("project admin grant must not manage child tasks")
	}
	if !Visible(task, "u2", "t1", projectAdmin) {
		t.Fatal("project admin grant still confers task visibility")
	}
}

func TestReachable(t *testing.T) {
	subjects := []types.Subject{
		privateProject("p1", "u1"),
		privateProject("p2", "u9"),
		privateTask("a", "p1", "u9"),
		privateTask("b", "p2", "u9"),
		privateTask("c", "p2", "u1"),
	}
	grants := []types.AccessGrant{
		{SubjectType: types.SubjectProject, SubjectID: "p1", UserID: "u2", TenantID: "t1", Role: types.GrantRoleViewer},
		{SubjectType: types.SubjectTask, SubjectID: "b", UserID: "u2", TenantID: "t1", Role: types.GrantRoleViewer},
		{SubjectType: types.SubjectTask, SubjectID: "b", UserID: "u3", TenantID: "t2", Role: types.GrantRoleViewer},
	}

	got := Reachable("u2", "t1", subjects, grants)
	if len(got.ProjectIDs) != 1 || got.ProjectIDs[0] != "p1" {
		t.Fatalf("projects=%v", got.ProjectIDs)
	}
	// a via p1 grant, b via direct grant; c is neither granted nor authored.
	if len(got.TaskIDs) != 2 {
		t.Fatalf("tasks=%v", got.TaskIDs)
	}
	seen := map[string]bool{}
	for _, id := range got.TaskIDs {
		seen[id] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("tasks=%v", got.TaskIDs)
	}

	// Own creations are reachable without any grant.
	own := Reachable("u1", "t1", subjects, nil)
	if len(own.ProjectIDs) != 1 || own.ProjectIDs[0] != "p1" {
		t.Fatalf("projects=%v", own.ProjectIDs)
	}
	if len(own.TaskIDs) != 1 || own.TaskIDs[0] != "c" {
		t.Fatalf("tasks=%v", own.TaskIDs)
	}
}
