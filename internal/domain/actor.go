package domain

// Role is the kind of principal making a request.
type Role string

const (
	RoleUser     Role = "USER"
	RoleAdmin    Role = "ADMIN"
	RoleService  Role = "SERVICE"
	RoleProvider Role = "PROVIDER"
)

// ProviderPrincipalPrefix prefixes the username of provider principals.
const ProviderPrincipalPrefix = "#P_"

// Actor is the authenticated principal of a request.
type Actor struct {
	Username   string `json:"username"`
	Role       Role   `json:"role"`
	Project    string `json:"project,omitempty"`
	ProviderID string `json:"providerId,omitempty"`
}

// SystemActor is used for operations initiated by the orchestrator itself.
var SystemActor = Actor{Username: "_ucloud", Role: RoleService}

// IsPrivileged reports whether the actor bypasses ownership filters.
func (a Actor) IsPrivileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleService
}

// IsProvider reports whether the actor is a provider principal.
func (a Actor) IsProvider() bool {
	return a.Role == RoleProvider && a.ProviderID != ""
}

// ProjectRole is a member's role within a project.
type ProjectRole string

const (
	ProjectRolePI    ProjectRole = "PI"
	ProjectRoleAdmin ProjectRole = "ADMIN"
	ProjectRoleUser  ProjectRole = "USER"
)

// IsAdmin reports whether the role may manage other members' jobs.
func (r ProjectRole) IsAdmin() bool {
	return r == ProjectRolePI || r == ProjectRoleAdmin
}
