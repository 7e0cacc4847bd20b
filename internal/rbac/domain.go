package rbac

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// RiskLevel grades how damaging misuse of a permission would be.
type RiskLevel string

// Risk levels.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Permission represents an atomic capability.
type Permission struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Module           string    `json:"module"`
	Action           string    `json:"action"`
	Risk             RiskLevel `json:"risk_level"`
	RequiresApproval bool      `json:"requires_approval"`
}

// Role represents a named bundle of permissions.
type Role struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	Priority     int       `json:"priority"`
	IsSystem     bool      `json:"is_system"`
	IsSuperAdmin bool      `json:"is_super_admin"`
	ParentRoleID *int64    `json:"parent_role_id,omitempty"`
	MemberCount  int       `json:"member_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Effect is the outcome a user override applies to a permission. A missing
// override row means the role alone decides.
type Effect string

// Override effects.
const (
	EffectGrant  Effect = "grant"
	EffectRevoke Effect = "revoke"
)

// Valid reports whether e is a storable effect.
func (e Effect) Valid() bool {
	return e == EffectGrant || e == EffectRevoke
}

// Override ties a permission to a single user.
type Override struct {
	PermissionID int64  `json:"permission_id"`
	Effect       Effect `json:"effect"`
}

// NamedOverride is an override resolved to its permission name.
type NamedOverride struct {
	Name   string
	Effect Effect
}

// User is the account the resolver evaluates.
type User struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	RoleID       *int64 `json:"role_id,omitempty"`
	LegacyRole   string `json:"role,omitempty"`
	IsSuperAdmin bool   `json:"is_super_admin"`
}

// Subject is a user together with a snapshot of their role. It is passed
// explicitly to every authorization query.
type Subject struct {
	User User  `json:"user"`
	Role *Role `json:"role,omitempty"`
}

// ID returns the user id.
func (s Subject) ID() int64 { return s.User.ID }

// IsSuperAdmin reports whether the subject bypasses permission checks.
func (s Subject) IsSuperAdmin() bool {
	return s.User.IsSuperAdmin || (s.Role != nil && s.Role.IsSuperAdmin)
}

// RoleID returns the role id, or zero when the user has no role.
func (s Subject) RoleID() int64 {
	if s.Role == nil {
		return 0
	}
	return s.Role.ID
}

// Role names reserved for super-admin roles.
const (
	RoleSuperAdmin    = "Super Admin"
	RoleSubSuperAdmin = "Sub Super Admin"
)

var protectedRoleNames = []string{RoleSuperAdmin, RoleSubSuperAdmin}

// fold returns the case-folded form of s. Casers are stateful, so each call
// builds its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

// IsProtectedRoleName reports whether name (compared case-insensitively,
// with whitespace runs collapsed) is a reserved super-admin role name.
func IsProtectedRoleName(name string) bool {
	normalized := fold(strings.Join(strings.Fields(name), " "))
	for _, protected := range protectedRoleNames {
		if normalized == fold(protected) {
			return true
		}
	}
	return false
}

// Slugify derives a role slug: lowercase, whitespace runs become a single
// hyphen, characters outside [a-z0-9-] are dropped and repeated hyphens merge.
func Slugify(name string) string {
	lower := strings.ToLower(strings.Join(strings.Fields(name), "-"))
	var b strings.Builder
	b.Grow(len(lower))
	prevHyphen := false
	for _, r := range lower {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			prevHyphen = false
		case r == '-' && !prevHyphen:
			b.WriteRune(r)
			prevHyphen = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// DefaultPriority applies when no keyword matches.
const DefaultPriority = 50

var priorityKeywords = []struct {
	keyword  string
	priority int
}{
	{"admin", 100},
	{"manager", 80},
	{"head", 60},
	{"lead", 60},
	{"staff", 40},
}

// CalculatePriority derives a role priority from keywords in its name. The
// first keyword found, in the order admin, manager, head, lead, staff, wins.
func CalculatePriority(name string) int {
	lower := strings.ToLower(name)
	for _, kw := range priorityKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.priority
		}
	}
	return DefaultPriority
}
