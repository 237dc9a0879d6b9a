package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// SchedulerTokenHeader carries the shared secret of the external scheduler.
const SchedulerTokenHeader = "X-Scheduler-Token"

// Principal represents the authenticated caller.
type Principal struct {
	UserID string
	Role   domain.UserRole
}

// Actor converts the principal for service calls.
func (p *Principal) Actor() domain.Actor {
	return domain.UserActor(p.UserID, p.Role)
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens    *TokenManager
	directory repository.DirectoryRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, directory repository.DirectoryRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, directory: directory}
}

// Handle enforces authentication for protected routes. The directory is
// authoritative for the role; the token only names the user.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	user, err := m.directory.GetUser(c.UserContext(), claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewUnauthorized("user not found")
		}
		return apperrors.MapError(err)
	}
	if !user.Active {
		return apperrors.NewUnauthorized("user inactive")
	}

	c.Locals(principalKey, &Principal{UserID: user.ID, Role: user.Role})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

// RequireSchedulerToken guards internal endpoints with a bcrypt-hashed shared
// secret. An empty hash disables the endpoint.
func RequireSchedulerToken(hash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if hash == "" {
			return apperrors.NewForbidden("scheduler trigger disabled")
		}
		token := c.Get(SchedulerTokenHeader)
		if token == "" || ComparePassword(hash, token) != nil {
			return apperrors.NewUnauthorized("invalid scheduler token")
		}
		return c.Next()
	}
}
