package services

import (
	"context"
	"testing"

	"github.com/hivedesk/hivedesk/modules/workspace/domain/types"
	"github.com/hivedesk/hivedesk/modules/workspace/infrastructure/persistence"
	"github.com/hivedesk/hivedesk/pkg/httperr"
)

type recordedNotification struct {
	tenantID  string
	projectID string
	subjectID string
	action    string
}

type recordingNotifier struct {
	got []recordedNotification
}

func (n *recordingNotifier) GrantChanged(tenantID string, projectID string, _ types.SubjectType, subjectID string, _ string, action string) {
	n.got = append(n.got, recordedNotification{tenantID, projectID, subjectID, action})
}

func newTestService(t *testing.T) (AccessService, *persistence.MemorySubjectStore, *recordingNotifier) {
	t.Helper()
	subjects := persistence.NewMemorySubjectStore()
	notifier := &recordingNotifier{}
	svc := NewAccessService(subjects, persistence.NewMemoryGrantStore(), notifier)

	subjects.Put(types.Subject{Type: types.SubjectProject, ID: "p1", TenantID: "t1", CreatedBy: "u1", Visibility: types.VisibilityPrivate})
	subjects.Put(types.Subject{Type: types.SubjectTask, ID: "x", TenantID: "t1", CreatedBy: "u1", Visibility: types.VisibilityPrivate, ProjectID: "p1"})
	return svc, subjects, notifier
}

func TestGrantThenVisible(t *testing.T) {
	svc, _, notifier := newTestService(t)
	ctx := context.Background()

	visible, err := svc.Visible(ctx, "t1", "u2", types.SubjectTask, "x")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if visible {
		t.Fatal("u2 must not see x before grant")
	}

	if _, err := svc.Grant(ctx, "t1", "u1", types.SubjectTask, "x", "u2", types.GrantRoleViewer); err != nil {
		t.Fatalf("grant: %v", err)
	}
	visible, err = svc.Visible(ctx, "t1", "u2", types.SubjectTask, "x")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !visible {
		t.Fatal("u2 must see x after grant")
	}

	if len(notifier.got) != 1 {
		t.Fatalf("notifications=%d", len(notifier.got))
	}
	n := notifier.got[0]
	if n.tenantID != "t1" || n.projectID != "p1" || n.subjectID != "x" || n.action != "granted" {
		t.Fatalf("notification=%+v", n)
	}
}

func TestRevokeRemovesVisibility(t *testing.T) {
	svc, _, notifier := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Grant(ctx, "t1", "u1", types.SubjectTask, "x", "u2", types.GrantRoleViewer); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := svc.Revoke(ctx, "t1", "u1", types.SubjectTask, "x", "u2"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	visible, err := svc.Visible(ctx, "t1", "u2", types.SubjectTask, "x")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if visible {
		t.Fatal("u2 must not see x after revoke")
	}
	if len(notifier.got) != 2 || notifier.got[1].action != "revoked" {
		t.Fatalf("notifications=%+v", notifier.got)
	}

	// Revoking an absent grant is quiet.
	if err := svc.Revoke(ctx, "t1", "u1", types.SubjectTask, "x", "u2"); err != nil {
		t.Fatalf("revoke absent: %v", err)
	}
	if len(notifier.got) != 2 {
		t.Fatalf("notifications=%d", len(notifier.got))
	}
}

func TestGrant_RequiresManageRights(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// u2 cannot even see x: surfaces as not-found, not forbidden.
	_, err := svc.Grant(ctx, "t1", "u2", types.SubjectTask, "x", "u3", types.GrantRoleViewer)
	if !httperr.IsNotFound(err) {
		t.Fatalf("err=%v", err)
	}

	// A viewer can see x but not administer its grants.
	if _, err := svc.Grant(ctx, "t1", "u1", types.SubjectTask, "x", "u2", types.GrantRoleViewer); err != nil {
		t.Fatalf("grant: %v", err)
	}
	_, err = svc.Grant(ctx, "t1", "u2", types.SubjectTask, "x", "u3", types.GrantRoleViewer)
	if !httperr.IsForbidden(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestGrant_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Grant(ctx, "t1", "u1", "folder", "x", "u2", types.GrantRoleViewer); !httperr.IsBadRequest(err) {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.Grant(ctx, "t1", "u1", types.SubjectTask, "x", "u2", "owner"); !httperr.IsBadRequest(err) {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.Grant(ctx, "t1", "u1", types.SubjectTask, "x", "", types.GrantRoleViewer); !httperr.IsBadRequest(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestReachableSubjects(t *testing.T) {
	svc, subjects, _ := newTestService(t)
	ctx := context.Background()

	subjects.Put(types.Subject{Type: types.SubjectTask, ID: "y", TenantID: "t1", CreatedBy: "u9", Visibility: types.VisibilityPrivate, ProjectID: "p1"})

	if _, err := svc.Grant(ctx, "t1", "u1", types.SubjectProject, "p1", "u2", types.GrantRoleViewer); err != nil {
		t.Fatalf("grant: %v", err)
	}

	set, err := svc.ReachableSubjects(ctx, "t1", "u2")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(set.ProjectIDs) != 1 || set.ProjectIDs[0] != "p1" {
		t.Fatalf("projects=%v", set.ProjectIDs)
	}
	// Both tasks inherit through p1.
	if len(set.TaskIDs) != 2 {
		t.Fatalf("tasks=%v", set.TaskIDs)
	}
}

func TestSubjectDeleted_DropsGrants(t *testing.T) {
	svc, subjects, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Grant(ctx, "t1", "u1", types.SubjectTask, "x", "u2", types.GrantRoleViewer); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := svc.SubjectDeleted(ctx, "t1", types.SubjectTask, "x"); err != nil {
		t.Fatalf("err=%v", err)
	}
	subjects.Remove("t1", types.SubjectTask, "x")

	set, err := svc.ReachableSubjects(ctx, "t1", "u2")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(set.TaskIDs) != 0 {
		t.Fatalf("tasks=%v", set.TaskIDs)
	}
}
