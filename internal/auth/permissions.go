package auth

import (
	"strings"
)

// Permission is an access mode on an entity.
type Permission string

// Permission constants.
const (
	PermRead  Permission = "read"
	PermWrite Permission = "write"
)

// Permissions answers entity access questions for one user.
type Permissions interface {
	// CheckEntity reports whether the user may use entityID in mode perm.
	CheckEntity(entityID string, perm Permission) bool

	// AccessAllEntities reports whether the user may use every entity in
	// mode perm, letting callers skip per-entity checks.
	AccessAllEntities(perm Permission) bool
}

type allowAll struct{}

func (allowAll) CheckEntity(string, Permission) bool { return true }
func (allowAll) AccessAllEntities(Permission) bool   { return true }

// AllowAll is the policy of admin and owner accounts.
var AllowAll Permissions = allowAll{}

// EntityPolicy is the grant-based policy of a non-admin user. The zero value
// grants nothing.
type EntityPolicy struct {
	entities map[string]bool // entity id -> can write
	domains  map[string]bool // domain -> can write
}

// NewEntityPolicy builds a policy from stored grants.
func NewEntityPolicy(grants []EntityAccess) *EntityPolicy {
	p := &EntityPolicy{
		entities: make(map[string]bool),
		domains:  make(map[string]bool),
	}
	for _, g := range grants {
		if domain, ok := domainTarget(g.Target); ok {
			p.domains[domain] = p.domains[domain] || g.CanWrite
			continue
		}
		p.entities[g.Target] = p.entities[g.Target] || g.CanWrite
	}
	return p
}

// CheckEntity implements Permissions. A write grant implies read.
func (p *EntityPolicy) CheckEntity(entityID string, perm Permission) bool {
	if p == nil {
		return false
	}
	entityID = strings.ToLower(entityID)
	if canWrite, ok := p.entities[entityID]; ok && (perm == PermRead || canWrite) {
		return true
	}
	domain, _, _ := strings.Cut(entityID, ".")
	canWrite, ok := p.domains[domain]
	return ok && (perm == PermRead || canWrite)
}

// AccessAllEntities implements Permissions. Grant-based users never have
// blanket access.
func (p *EntityPolicy) AccessAllEntities(Permission) bool {
	return false
}

// PermissionsFor returns AllowAll for admins and the grant policy otherwise.
func PermissionsFor(user *User, grants []EntityAccess) Permissions {
	if user.IsAdmin() {
		return AllowAll
	}
	return NewEntityPolicy(grants)
}

// ValidTarget reports whether target is an entity id or a "<domain>.*"
// wildcard.
func ValidTarget(target string) bool {
	domain, object, ok := strings.Cut(target, ".")
	if !ok || domain == "" || object == "" {
		return false
	}
	if object == "*" {
		return isSlug(domain)
	}
	return isSlug(domain) && isSlug(object)
}

func domainTarget(target string) (string, bool) {
	domain, ok := strings.CutSuffix(target, ".*")
	return domain, ok
}

func isSlug(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return s != ""
}
