package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/bookstore/services/archive/internal/apperr"
)

// Headers set by the authenticating proxy
const (
	headerActorID     = "X-Actor-ID"
	headerActorName   = "X-Actor-Name"
	headerActorRoles  = "X-Actor-Roles"
	headerActorActive = "X-Actor-Active"
)

// Role is an access role granted to an actor
type Role string

const (
	RoleAdmin  Role = "Admin"
	RoleStaff  Role = "Staff"
	RolePublic Role = "Public"
)

// Policy is satisfied by an actor holding any of its roles
type Policy []Role

var (
	AdminOnly    = Policy{RoleAdmin}
	StaffOrAdmin = Policy{RoleStaff, RoleAdmin}
)

// Actor is the authenticated caller
type Actor struct {
	ID     string
	Name   string
	Roles  []Role
	Active bool
}

// HasRole compares role names case-insensitively
func (a Actor) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if strings.EqualFold(string(r), string(role)) {
			return true
		}
	}
	return false
}

// Allows reports whether the actor is active and holds a role of p
func (a Actor) Allows(p Policy) bool {
	if !a.Active {
		return false
	}
	for _, role := range p {
		if a.HasRole(role) {
			return true
		}
	}
	return false
}

// DisplayName is the name recorded against staff decisions
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

type actorKey struct{}

func withActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored by the identity middleware
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// actorFromHeaders reads the proxy headers. An absent active header means active.
func actorFromHeaders(h http.Header) (Actor, bool) {
	id := strings.TrimSpace(h.Get(headerActorID))
	if id == "" {
		return Actor{}, false
	}

	a := Actor{
		ID:     id,
		Name:   strings.TrimSpace(h.Get(headerActorName)),
		Active: true,
	}
	for _, role := range strings.Split(h.Get(headerActorRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			a.Roles = append(a.Roles, Role(role))
		}
	}
	if v := strings.TrimSpace(h.Get(headerActorActive)); v != "" {
		active, err := strconv.ParseBool(v)
		a.Active = err == nil && active
	}
	return a, true
}

func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a, ok := actorFromHeaders(r.Header); ok {
			r = r.WithContext(withActor(r.Context(), a))
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole rejects callers without an actor (401) and actors that are
// inactive or lack the policy's roles (403).
func requireRole(p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := ActorFrom(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, apperr.Result{Message: "Authentication is required."})
				return
			}
			if !a.Allows(p) {
				writeJSON(w, http.StatusForbidden, apperr.Result{Message: "You are not allowed to perform this action."})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
