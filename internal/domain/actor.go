package domain

// ActorType distinguishes people from automated transitions.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// System identities used for machine-initiated transitions.
const (
	SystemScheduler        = "scheduler"
	SystemApprovalWorkflow = "approval-workflow"
	SystemAssignment       = "assignment-rules"
)

// Actor identifies who performs a mutation.
type Actor struct {
	Type ActorType
	ID   string
	Role UserRole
}

// UserActor builds an interactive actor.
func UserActor(id string, role UserRole) Actor {
	return Actor{Type: ActorTypeUser, ID: id, Role: role}
}

// SystemActor builds an automated actor.
func SystemActor(identity string) Actor {
	return Actor{Type: ActorTypeSystem, ID: identity, Role: UserRoleAdmin}
}

// IsAdmin reports whether the actor may perform administrative operations.
func (a Actor) IsAdmin() bool {
	return a.Role == UserRoleAdmin
}
