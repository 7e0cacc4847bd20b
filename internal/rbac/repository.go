package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medicore/hms/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements Store on PostgreSQL.
type Repository struct {
	queries
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{queries: queries{q: pool}, pool: pool}
}

// WithTx runs fn inside a RepeatableRead transaction. Nothing fn wrote is
// visible to other sessions unless fn returns nil and the commit succeeds.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{queries: queries{q: tx}})
	})
}

type txRepository struct {
	queries
}

type queries struct {
	q querier
}

const roleColumns = `r.id, r.name, r.slug, r.description, r.priority, r.is_system, r.is_super_admin, r.parent_role_id, r.created_at, r.updated_at`

func scanRole(row pgx.Row, extra ...any) (Role, error) {
	var role Role
	dest := []any{&role.ID, &role.Name, &role.Slug, &role.Description, &role.Priority,
		&role.IsSystem, &role.IsSuperAdmin, &role.ParentRoleID, &role.CreatedAt, &role.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// GetUser loads a user.
func (q queries) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := q.q.QueryRow(ctx, `
		SELECT id, name, email, role_id, COALESCE(role, ''), is_super_admin
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.RoleID, &u.LegacyRole, &u.IsSuperAdmin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// CountUsers returns the number of user accounts.
func (q queries) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := q.q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// GetRole loads a role with its member count.
func (q queries) GetRole(ctx context.Context, id int64) (Role, error) {
	var members int
	role, err := scanRole(q.q.QueryRow(ctx, `
		SELECT `+roleColumns+`, (SELECT COUNT(*) FROM users u WHERE u.role_id = r.id)
		FROM roles r WHERE r.id = $1`, id), &members)
	if err != nil {
		return Role{}, err
	}
	role.MemberCount = members
	return role, nil
}

// ListRoles returns roles by priority desc, name asc, each with its live member count.
func (q queries) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := q.q.Query(ctx, `
		SELECT `+roleColumns+`, COUNT(u.id)
		FROM roles r
		LEFT JOIN users u ON u.role_id = r.id
		GROUP BY r.id
		ORDER BY r.priority DESC, r.name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var members int
		role, err := scanRole(rows, &members)
		if err != nil {
			return nil, err
		}
		role.MemberCount = members
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

const permissionColumns = `id, name, description, module, action, risk_level, requires_approval`

func scanPermissions(rows pgx.Rows) ([]Permission, error) {
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var (
			p    Permission
			risk string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Module, &p.Action, &risk, &p.RequiresApproval); err != nil {
			return nil, err
		}
		p.Risk = RiskLevel(risk)
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ListPermissions returns all permissions ordered by module and name.
func (q queries) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := q.q.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY module, name`)
	if err != nil {
		return nil, err
	}
	return scanPermissions(rows)
}

// PermissionsByIDs returns the permissions that exist among ids.
func (q queries) PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.q.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	return scanPermissions(rows)
}

// RolePermissionIDs returns the ids bound to a role.
func (q queries) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := q.q.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// RolePermissionNames returns the permission names bound to a role.
func (q queries) RolePermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := q.q.Query(ctx, `
		SELECT p.name FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Bindings returns every role's permission ids.
func (q queries) Bindings(ctx context.Context) (map[int64][]int64, error) {
	rows, err := q.q.Query(ctx, `SELECT role_id, permission_id FROM role_permissions ORDER BY role_id, permission_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]int64)
	for rows.Next() {
		var roleID, permID int64
		if err := rows.Scan(&roleID, &permID); err != nil {
			return nil, err
		}
		out[roleID] = append(out[roleID], permID)
	}
	return out, rows.Err()
}

// UserOverrides returns a user's grant and revoke rows.
func (q queries) UserOverrides(ctx context.Context, userID int64) ([]NamedOverride, error) {
	rows, err := q.q.Query(ctx, `
		SELECT p.name, up.granted FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NamedOverride
	for rows.Next() {
		var (
			name    string
			granted bool
		)
		if err := rows.Scan(&name, &granted); err != nil {
			return nil, err
		}
		effect := EffectRevoke
		if granted {
			effect = EffectGrant
		}
		out = append(out, NamedOverride{Name: name, Effect: effect})
	}
	return out, rows.Err()
}

// CreateRole inserts a role.
func (t *txRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	return scanRole(t.q.QueryRow(ctx, `
		INSERT INTO roles AS r (name, slug, description, priority, is_system, is_super_admin, parent_role_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+roleColumns,
		role.Name, role.Slug, role.Description, role.Priority, role.IsSystem, role.IsSuperAdmin, role.ParentRoleID))
}

// UpdateRole updates the mutable columns of a role.
func (t *txRepository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	return scanRole(t.q.QueryRow(ctx, `
		UPDATE roles AS r
		SET name = $2, slug = $3, description = $4, parent_role_id = $5, updated_at = NOW()
		WHERE r.id = $1
		RETURNING `+roleColumns,
		role.ID, role.Name, role.Slug, role.Description, role.ParentRoleID))
}

// UpsertSystemRole creates or refreshes a seeded role keyed by slug.
func (t *txRepository) UpsertSystemRole(ctx context.Context, role Role) (Role, error) {
	return scanRole(t.q.QueryRow(ctx, `
		INSERT INTO roles AS r (name, slug, description, priority, is_system, is_super_admin)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT (slug) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description, priority = EXCLUDED.priority,
		    is_system = TRUE, is_super_admin = EXCLUDED.is_super_admin, updated_at = NOW()
		RETURNING `+roleColumns,
		role.Name, role.Slug, role.Description, role.Priority, role.IsSuperAdmin))
}

// UpsertPermission inserts a permission or refreshes its metadata.
func (t *txRepository) UpsertPermission(ctx context.Context, p Permission) (Permission, error) {
	err := t.q.QueryRow(ctx, `
		INSERT INTO permissions (name, description, module, action, risk_level, requires_approval)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE
		SET description = EXCLUDED.description, module = EXCLUDED.module, action = EXCLUDED.action,
		    risk_level = EXCLUDED.risk_level, requires_approval = EXCLUDED.requires_approval
		RETURNING id`,
		p.Name, p.Description, p.Module, p.Action, string(p.Risk), p.RequiresApproval).Scan(&p.ID)
	if err != nil {
		return Permission{}, fmt.Errorf("upsert permission %s: %w", p.Name, err)
	}
	return p, nil
}

// DeleteRolePermissions removes every binding of a role.
func (t *txRepository) DeleteRolePermissions(ctx context.Context, roleID int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID)
	return err
}

// InsertRolePermissions binds permissions to a role.
func (t *txRepository) InsertRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING`, roleID, permissionIDs)
	return err
}

// DeleteUserOverrides removes every override of a user.
func (t *txRepository) DeleteUserOverrides(ctx context.Context, userID int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, userID)
	return err
}

// InsertUserOverrides stores grant/revoke rows for a user.
func (t *txRepository) InsertUserOverrides(ctx context.Context, userID int64, overrides []Override) error {
	if len(overrides) == 0 {
		return nil
	}
	ids := make([]int64, len(overrides))
	granted := make([]bool, len(overrides))
	for i, o := range overrides {
		ids[i] = o.PermissionID
		granted[i] = o.Effect == EffectGrant
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, granted)
		SELECT $1, o.permission_id, o.granted
		FROM unnest($2::bigint[], $3::boolean[]) AS o(permission_id, granted)
		ON CONFLICT (user_id, permission_id) DO UPDATE SET granted = EXCLUDED.granted`,
		userID, ids, granted)
	return err
}

// AssignUserRole sets a user's role and mirrors it into the legacy role column.
func (t *txRepository) AssignUserRole(ctx context.Context, userID, roleID int64, legacyRole string) error {
	tag, err := t.q.Exec(ctx, `UPDATE users SET role_id = $2, role = $3, updated_at = NOW() WHERE id = $1`,
		userID, roleID, legacyRole)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var (
	_ Store   = (*Repository)(nil)
	_ TxStore = (*txRepository)(nil)
)
