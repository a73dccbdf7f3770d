package httpapi

import (
	"net/http"
	"strings"

	"walkingbus/internal/apperr"
	"walkingbus/internal/domain"
)

const (
	HeaderPersonID   = "X-Person-ID"
	HeaderPersonRole = "X-Person-Role"
)

// Identity is the authenticated caller.
type Identity struct {
	PersonID string
	Role     domain.Role
}

// IdentityResolver extracts the caller from a request. Authentication
// happens upstream.
type IdentityResolver interface {
	Resolve(r *http.Request) (Identity, error)
}

// HeaderIdentity trusts the headers set by the gateway in front of the API.
type HeaderIdentity struct{}

func (HeaderIdentity) Resolve(r *http.Request) (Identity, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderPersonID))
	if id == "" {
		return Identity{}, apperr.New(apperr.CodeUnauthorized, "missing "+HeaderPersonID+" header")
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderPersonRole))))
	switch role {
	case domain.RoleChild, domain.RoleParent, domain.RoleInstructor, domain.RoleAdmin:
	default:
		return Identity{}, apperr.Newf(apperr.CodeUnauthorized, "unknown role %q", role)
	}
	return Identity{PersonID: id, Role: role}, nil
}
