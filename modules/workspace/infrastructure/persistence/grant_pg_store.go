package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hivedesk/hivedesk/modules/workspace/domain/ports"
	"github.com/hivedesk/hivedesk/modules/workspace/domain/types"
)

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type GrantPGStore struct {
	q pgQuerier
}

func NewGrantPGStore(q pgQuerier) ports.GrantStore {
	return &GrantPGStore{q: q}
}

func (s *GrantPGStore) Create(ctx context.Context, g types.AccessGrant) error {
	_, err := s.q.Exec(ctx, `
INSERT INTO workspace.access_grants (tenant_id, subject_type, subject_id, user_id, role, granted_by, granted_at)
VALUES ($1, $2, $3::uuid, $4::uuid, $5, $6::uuid, $7)
ON CONFLICT (tenant_id, subject_type, subject_id, user_id) DO UPDATE SET
  role = EXCLUDED.role,
  granted_by = EXCLUDED.granted_by,
  granted_at = EXCLUDED.granted_at
`, g.TenantID, string(g.SubjectType), g.SubjectID, g.UserID, string(g.Role), g.GrantedBy, g.GrantedAt)
	return err
}

func (s *GrantPGStore) Delete(ctx context.Context, tenantID string, subjectType types.SubjectType, subjectID string, userID string) (bool, error) {
	tag, err := s.q.Exec(ctx, `
DELETE FROM workspace.access_grants
WHERE tenant_id = $1 AND subject_type = $2 AND subject_id = $3::uuid AND user_id = $4::uuid
`, tenantID, string(subjectType), subjectID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *GrantPGStore) DeleteForSubject(ctx context.Context, tenantID string, subjectType types.SubjectType, subjectID string) error {
	_, err := s.q.Exec(ctx, `
DELETE FROM workspace.access_grants
WHERE tenant_id = $1 AND subject_type = $2 AND subject_id = $3::uuid
`, tenantID, string(subjectType), subjectID)
	return err
}

func (s *GrantPGStore) ListBySubject(ctx context.Context, tenantID string, subjectType types.SubjectType, subjectID string) ([]types.AccessGrant, error) {
	rows, err := s.q.Query(ctx, `
SELECT tenant_id, subject_type, subject_id::text, user_id::text, role, granted_by::text, granted_at
FROM workspace.access_grants
WHERE tenant_id = $1 AND subject_type = $2 AND subject_id = $3::uuid
ORDER BY granted_at
`, tenantID, string(subjectType), subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (s *GrantPGStore) ListForActor(ctx context.Context, tenantID string, userID string, subject types.Subject) ([]types.AccessGrant, error) {
	rows, err := s.q.Query(ctx, `
SELECT tenant_id, subject_type, subject_id::text, user_id::text, role, granted_by::text, granted_at
FROM workspace.access_grants
WHERE tenant_id = $1 AND user_id = $2::uuid
  AND (
    (subject_type = $3 AND subject_id = $4::uuid)
    OR ($5 <> '' AND subject_type = 'project' AND subject_id = $5::uuid)
  )
`, tenantID, userID, string(subject.Type), subject.ID, subject.ProjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (s *GrantPGStore) ListForUser(ctx context.Context, tenantID string, userID string) ([]types.AccessGrant, error) {
	rows, err := s.q.Query(ctx, `
SELECT tenant_id, subject_type, subject_id::text, user_id::text, role, granted_by::text, granted_at
FROM workspace.access_grants
WHERE tenant_id = $1 AND user_id = $2::uuid
ORDER BY granted_at
`, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func scanGrants(rows pgx.Rows) ([]types.AccessGrant, error) {
	var out []types.AccessGrant
	for rows.Next() {
		var g types.AccessGrant
		var subjectType, role string
		if err := rows.Scan(&g.TenantID, &subjectType, &g.SubjectID, &g.UserID, &role, &g.GrantedBy, &g.GrantedAt); err != nil {
			return nil, err
		}
		g.SubjectType = types.SubjectType(subjectType)
		g.Role = types.GrantRole(role)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type SubjectPGStore struct {
	q pgQuerier
}

func NewSubjectPGStore(q pgQuerier) ports.SubjectStore {
	return &SubjectPGStore{q: q}
}

func (s *SubjectPGStore) GetSubject(ctx context.Context, tenantID string, subjectType types.SubjectType, subjectID string) (types.Subject, bool, error) {
	var row pgx.Row
	switch subjectType {
	case types.SubjectProject:
		row = s.q.QueryRow(ctx, `
SELECT id::text, tenant_id, created_by::text, visibility, ''
FROM workspace.projects
WHERE tenant_id = $1 AND id = $2::uuid AND deleted_at IS NULL
`, tenantID, subjectID)
	case types.SubjectTask:
		row = s.q.QueryRow(ctx, `
SELECT id::text, tenant_id, created_by::text, visibility, project_id::text
FROM workspace.tasks
WHERE tenant_id = $1 AND id = $2::uuid AND deleted_at IS NULL
`, tenantID, subjectID)
	default:
		return types.Subject{}, false, errors.New("persistence: unknown subject type")
	}

	out := types.Subject{Type: subjectType}
	var visibility string
	err := row.Scan(&out.ID, &out.TenantID, &out.CreatedBy, &visibility, &out.ProjectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Subject{}, false, nil
		}
		return types.Subject{}, false, err
	}
	out.Visibility = types.Visibility(visibility)
	return out, true, nil
}

func (s *SubjectPGStore) ListPrivateSubjects(ctx context.Context, tenantID string) ([]types.Subject, error) {
	rows, err := s.q.Query(ctx, `
SELECT 'project', id::text, tenant_id, created_by::text, ''
FROM workspace.projects
WHERE tenant_id = $1 AND visibility = 'private' AND deleted_at IS NULL
UNION ALL
SELECT 'task', id::text, tenant_id, created_by::text, project_id::text
FROM workspace.tasks
WHERE tenant_id = $1 AND visibility = 'private' AND deleted_at IS NULL
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Subject
	for rows.Next() {
		var s types.Subject
		var subjectType string
		if err := rows.Scan(&subjectType, &s.ID, &s.TenantID, &s.CreatedBy, &s.ProjectID); err != nil {
			return nil, err
		}
		s.Type = types.SubjectType(subjectType)
		s.Visibility = types.VisibilityPrivate
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
