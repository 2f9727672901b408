package ports

import (
	"context"

	"github.com/hivedesk/hivedesk/modules/workspace/domain/types"
)

// SubjectStore reads the access-control projection of projects and tasks.
type SubjectStore interface {
	GetSubject(ctx context.Context, tenantID string, subjectType types.SubjectType, subjectID string) (types.Subject, bool, error)
	// ListPrivateSubjects returns every private subject in the tenant, for
	// the bulk reachable-set computation.
	ListPrivateSubjects(ctx context.Context, tenantID string) ([]types.Subject, error)
}

type GrantStore interface {
	Create(ctx context.Context, g types.AccessGrant) error
	Delete(ctx context.Context, tenantID string, subjectType types.SubjectType, subjectID string, userID string) (bool, error)
	// DeleteForSubject removes every grant on a subject; called when the
	// subject itself is deleted.
	DeleteForSubject(ctx context.Context, tenantID string, subjectType types.SubjectType, subjectID string) error
	ListBySubject(ctx context.Context, tenantID string, subjectType types.SubjectType, subjectID string) ([]types.AccessGrant, error)
	// ListForActor returns the grants relevant to evaluating one actor
	// against one subject: the direct grant plus, for tasks, the grant on
	// the parent project.
	ListForActor(ctx context.Context, tenantID string, userID string, s types.Subject) ([]types.AccessGrant, error)
	ListForUser(ctx context.Context, tenantID string, userID string) ([]types.AccessGrant, error)
}
