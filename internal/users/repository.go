package users

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListMembers returns one page of users ordered by name, and the total match count.
func (r *Repository) ListMembers(ctx context.Context, filter ListFilter, limit, offset int) ([]Member, int, error) {
	pattern := ""
	if filter.Search != "" {
		pattern = "%" + likeEscaper.Replace(filter.Search) + "%"
	}
	const where = `
		WHERE ($1::bigint IS NULL OR u.role_id = $1)
		  AND ($2::text = '' OR u.name ILIKE $2 OR u.email ILIKE $2)`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users u`+where, filter.RoleID, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT u.id, u.name, u.email, u.role_id, COALESCE(r.name, ''), COALESCE(u.role, ''),
		       u.is_super_admin, u.is_active, u.created_at
		FROM users u
		LEFT JOIN roles r ON r.id = u.role_id`+where+`
		ORDER BY u.name ASC, u.id ASC
		LIMIT $3 OFFSET $4`, filter.RoleID, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	members := make([]Member, 0, limit)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.RoleID, &m.RoleName, &m.LegacyRole,
			&m.IsSuperAdmin, &m.IsActive, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		members = append(members, m)
	}
	return members, total, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
