package types

import "time"

type SubjectType string

const (
	SubjectProject SubjectType = "project"
	SubjectTask    SubjectType = "task"
)

func (t SubjectType) Valid() bool {
	return t == SubjectProject || t == SubjectTask
}

type Visibility string

const (
	VisibilityTenant  Visibility = "tenant"
	VisibilityPrivate Visibility = "private"
)

// Subject is the access-control view of a project or task: the fields the
// guard predicates need, nothing else about the record.
type Subject struct {
	Type       SubjectType
	ID         string
	TenantID   string
	CreatedBy  string
	Visibility Visibility

	// ProjectID is the parent project for tasks, empty for projects.
	ProjectID string
}

type GrantRole string

const (
	GrantRoleViewer GrantRole = "viewer"
	GrantRoleAdmin  GrantRole = "admin"
)

func (r GrantRole) Valid() bool {
	return r == GrantRoleViewer || r == GrantRoleAdmin
}

// AccessGrant gives one user explicit rights on one private subject.
// Deleted on revoke or when the subject itself is deleted.
type AccessGrant struct {
	SubjectType SubjectType
	SubjectID   string
	UserID      string
	TenantID    string
	Role        GrantRole
	GrantedBy   string
	GrantedAt   time.Time
}
