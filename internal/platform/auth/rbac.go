package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin       = "Admin"
	RoleDoctor      = "Doctor"
	RolePatient     = "Patient"
	RoleAdminKlinik = "AdminKlinik"
)

// RequireRole lets the request through when the caller has one of roles.
// Platform admins pass every route-level check; the queue service applies its
// own, stricter, per-transition rules.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, has := range userRoles {
				if has == RoleAdmin {
					return next(c)
				}
				for _, required := range roles {
					if has == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// Actor is the authenticated caller as seen by the domain services.
type Actor struct {
	UserID   string
	Role     string
	ClinicID string
}

func (a Actor) Is(role string) bool { return a.Role == role }

// UUID parses the caller's user id. Dev identities such as "dev-admin" do
// not parse.
func (a Actor) UUID() (uuid.UUID, bool) {
	id, err := uuid.Parse(a.UserID)
	return id, err == nil
}

// ClinicUUID parses the clinic claim.
func (a Actor) ClinicUUID() (uuid.UUID, bool) {
	id, err := uuid.Parse(a.ClinicID)
	return id, err == nil
}

// rolePriority decides the acting role for tokens that carry several.
var rolePriority = []string{RoleAdmin, RoleAdminKlinik, RoleDoctor, RolePatient}

func ActorFromContext(ctx context.Context) Actor {
	a := Actor{
		UserID:   UserIDFromContext(ctx),
		ClinicID: ClinicIDFromContext(ctx),
	}
	roles := RolesFromContext(ctx)
	for _, candidate := range rolePriority {
		for _, r := range roles {
			if r == candidate {
				a.Role = r
				return a
			}
		}
	}
	if len(roles) > 0 {
		a.Role = roles[0]
	}
	return a
}

// WithActor returns a context carrying a's identity, as the auth middleware
// would. It is used by the CLI and by tests.
func WithActor(ctx context.Context, a Actor) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, a.UserID)
	ctx = context.WithValue(ctx, UserRolesKey, []string{a.Role})
	return context.WithValue(ctx, ClinicIDKey, a.ClinicID)
}
