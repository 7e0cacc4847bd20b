package rbac

import "context"

// Store is the persistence port for roles, permissions, bindings and overrides.
// Lookups of missing rows return an error satisfying IsNotFound.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error

	GetUser(ctx context.Context, id int64) (User, error)
	CountUsers(ctx context.Context) (int, error)

	GetRole(ctx context.Context, id int64) (Role, error)
	// ListRoles returns every role with a live MemberCount.
	ListRoles(ctx context.Context) ([]Role, error)

	ListPermissions(ctx context.Context) ([]Permission, error)
	// PermissionsByIDs returns the permissions that exist among ids.
	PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error)

	RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
	RolePermissionNames(ctx context.Context, roleID int64) ([]string, error)
	// Bindings returns role id -> permission ids for every role.
	Bindings(ctx context.Context) (map[int64][]int64, error)

	UserOverrides(ctx context.Context, userID int64) ([]NamedOverride, error)
}

// TxStore exposes the writes that run inside a transaction.
type TxStore interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	// UpsertSystemRole creates or refreshes a seeded role keyed by slug.
	UpsertSystemRole(ctx context.Context, role Role) (Role, error)
	UpsertPermission(ctx context.Context, perm Permission) (Permission, error)

	DeleteRolePermissions(ctx context.Context, roleID int64) error
	InsertRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error

	DeleteUserOverrides(ctx context.Context, userID int64) error
	InsertUserOverrides(ctx context.Context, userID int64, overrides []Override) error

	// AssignUserRole sets role_id and keeps the legacy text role column in sync.
	AssignUserRole(ctx context.Context, userID, roleID int64, legacyRole string) error
}
