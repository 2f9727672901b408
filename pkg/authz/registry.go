package authz

const (
	RoleMember      = "member"
	RoleTenantAdmin = "tenant-admin"
	RoleAnonymous   = "anonymous"
	RoleSuperadmin  = "superadmin"
)

const (
	ActionRead  = "read"
	ActionWrite = "write"
	ActionAdmin = "admin"
)

// DomainPlatform scopes objects that exist outside any tenant.
const DomainPlatform = "platform"

const (
	ObjectIAMSession            = "iam.session"
	ObjectWorkspaceProjects     = "workspace.projects"
	ObjectWorkspaceTasks        = "workspace.tasks"
	ObjectWorkspaceGrants       = "workspace.grants"
	ObjectRealtimeSocket        = "realtime.socket"
	ObjectRealtimePresence      = "realtime.presence"
	ObjectPlatformTenants       = "platform.tenants"
	ObjectPlatformImpersonation = "platform.impersonation"
)
