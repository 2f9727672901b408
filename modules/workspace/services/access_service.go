package services

import (
	"context"
	"time"

	"github.com/hivedesk/hivedesk/modules/workspace/domain/access"
	"github.com/hivedesk/hivedesk/modules/workspace/domain/ports"
	"github.com/hivedesk/hivedesk/modules/workspace/domain/types"
	"github.com/hivedesk/hivedesk/pkg/httperr"
)

// GrantNotifier receives grant mutations for realtime fanout. projectID is
// the room-owning project: the subject itself for project grants, the parent
// project for task grants.
type GrantNotifier interface {
	GrantChanged(tenantID string, projectID string, subjectType types.SubjectType, subjectID string, userID string, action string)
}

type noopNotifier struct{}

func (noopNotifier) GrantChanged(string, string, types.SubjectType, string, string, string) {}

type AccessService struct {
	subjects ports.SubjectStore
	grants   ports.GrantStore
	notify   GrantNotifier
	now      func() time.Time
}

func NewAccessService(subjects ports.SubjectStore, grants ports.GrantStore, notify GrantNotifier) AccessService {
	if notify == nil {
		notify = noopNotifier{}
	}
	return AccessService{subjects: subjects, grants: grants, notify: notify, now: time.Now}
}

// Visible answers the single-record visibility question. A missing subject
// and an invisible subject are indistinguishable to the caller.
func (s AccessService) Visible(ctx context.Context, tenantID string, actorID string, subjectType types.SubjectType, subjectID string) (bool, error) {
	subject, found, err := s.subjects.GetSubject(ctx, tenantID, subjectType, subjectID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	grants, err := s.grants.ListForActor(ctx, tenantID, actorID, subject)
	if err != nil {
		return false, err
	}
	return access.Visible(subject, actorID, tenantID, access.NewGrantSet(grants)), nil
}

func (s AccessService) manageableSubject(ctx context.Context, tenantID string, actorID string, subjectType types.SubjectType, subjectID string) (types.Subject, error) {
	subject, found, err := s.subjects.GetSubject(ctx, tenantID, subjectType, subjectID)
	if err != nil {
		return types.Subject{}, err
	}
	if !found {
		return types.Subject{}, httperr.NewNotFound("subject not found")
	}
	grants, err := s.grants.ListForActor(ctx, tenantID, actorID, subject)
	if err != nil {
		return types.Subject{}, err
	}
	set := access.NewGrantSet(grants)
	if !access.Manageable(subject, actorID, tenantID, set) {
		// Same surface as not-found so existence does not leak.
		if !access.Visible(subject, actorID, tenantID, set) {
			return types.Subject{}, httperr.NewNotFound("subject not found")
		}
		return types.Subject{}, httperr.NewForbidden("not a subject admin")
	}
	return subject, nil
}

func (s AccessService) Grant(ctx context.Context, tenantID string, actorID string, subjectType types.SubjectType, subjectID string, userID string, role types.GrantRole) (types.AccessGrant, error) {
	if !subjectType.Valid() {
		return types.AccessGrant{}, httperr.NewBadRequest("invalid subject type")
	}
	if !role.Valid() {
		return types.AccessGrant{}, httperr.NewBadRequest("invalid role")
	}
	if userID == "" {
		return types.AccessGrant{}, httperr.NewBadRequest("missing user id")
	}

	subject, err := s.manageableSubject(ctx, tenantID, actorID, subjectType, subjectID)
	if err != nil {
		return types.AccessGrant{}, err
	}

	g := types.AccessGrant{
		SubjectType: subjectType,
		SubjectID:   subjectID,
		UserID:      userID,
		TenantID:    tenantID,
		Role:        role,
		GrantedBy:   actorID,
		GrantedAt:   s.now().UTC(),
	}
	if err := s.grants.Create(ctx, g); err != nil {
		return types.AccessGrant{}, err
	}
	s.notify.GrantChanged(tenantID, owningProjectID(subject), subjectType, subjectID, userID, "granted")
	return g, nil
}

func (s AccessService) Revoke(ctx context.Context, tenantID string, actorID string, subjectType types.SubjectType, subjectID string, userID string) error {
	subject, err := s.manageableSubject(ctx, tenantID, actorID, subjectType, subjectID)
	if err != nil {
		return err
	}
	removed, err := s.grants.Delete(ctx, tenantID, subjectType, subjectID, userID)
	if err != nil {
		return err
	}
	if removed {
		s.notify.GrantChanged(tenantID, owningProjectID(subject), subjectType, subjectID, userID, "revoked")
	}
	return nil
}

func (s AccessService) ListGrants(ctx context.Context, tenantID string, actorID string, subjectType types.SubjectType, subjectID string) ([]types.AccessGrant, error) {
	if _, err := s.manageableSubject(ctx, tenantID, actorID, subjectType, subjectID); err != nil {
		return nil, err
	}
	return s.grants.ListBySubject(ctx, tenantID, subjectType, subjectID)
}

// ReachableSubjects is the bulk pre-filter: every private subject id the
// actor can reach, computed in two store reads instead of one query per row.
func (s AccessService) ReachableSubjects(ctx context.Context, tenantID string, actorID string) (access.ReachableSet, error) {
	subjects, err := s.subjects.ListPrivateSubjects(ctx, tenantID)
	if err != nil {
		return access.ReachableSet{}, err
	}
	grants, err := s.grants.ListForUser(ctx, tenantID, actorID)
	if err != nil {
		return access.ReachableSet{}, err
	}
	return access.Reachable(actorID, tenantID, subjects, grants), nil
}

// SubjectDeleted drops all grants for a deleted subject.
func (s AccessService) SubjectDeleted(ctx context.Context, tenantID string, subjectType types.SubjectType, subjectID string) error {
	return s.grants.DeleteForSubject(ctx, tenantID, subjectType, subjectID)
}

func owningProjectID(subject types.Subject) string {
	if subject.Type == types.SubjectTask {
		return subject.ProjectID
	}
	return subject.ID
}
