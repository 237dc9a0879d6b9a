package domain

import "strings"

// UserRole enumerates directory roles.
type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleAgent UserRole = "agent"
	UserRoleUser  UserRole = "user"
)

// NormalizeRole maps legacy or alias role names onto directory roles.
func NormalizeRole(role string) UserRole {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "admin", "administrator", "manager":
		return UserRoleAdmin
	case "agent", "technician", "support":
		return UserRoleAgent
	case "user", "requester", "end_user":
		return UserRoleUser
	}
	return UserRole(strings.ToLower(strings.TrimSpace(role)))
}

// User is a directory entry. The engine never writes users.
type User struct {
	ID     string
	Name   string
	Email  string
	Role   UserRole
	Active bool
}

// Team groups users; members carry no ranking besides the optional leader.
type Team struct {
	ID        string
	Name      string
	LeaderID  *string
	MemberIDs []string
}
