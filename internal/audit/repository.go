package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists and queries audit_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends an entry.
func (r *Repository) Insert(ctx context.Context, entry Entry) error {
	if r == nil || r.pool == nil {
		return errors.New("audit: repository not configured")
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	var at *time.Time
	if !entry.OccurredAt.IsZero() {
		at = &entry.OccurredAt
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_logs (occurred_at, user_id, user_name, action, module, severity, description, meta, request_id, ip)
		VALUES (COALESCE($1, NOW()), $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		at, entry.UserID, entry.UserName, entry.Action, entry.Module, string(entry.Severity),
		entry.Description, metaJSON, entry.RequestID, entry.IP)
	return err
}

// Search returns one page of entries matching filter, newest first, and the total match count.
func (r *Repository) Search(ctx context.Context, filter Filter, limit, offset int) ([]Entry, int, error) {
	if r == nil || r.pool == nil {
		return nil, 0, errors.New("audit: repository not configured")
	}
	pattern := ""
	if filter.Search != "" {
		pattern = "%" + escapeLike(filter.Search) + "%"
	}
	const where = `
		WHERE ($1::text = '' OR severity = $1)
		  AND ($2::text = '' OR module = $2)
		  AND ($3::text = '' OR action ILIKE $3 OR description ILIKE $3 OR user_name ILIKE $3)`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where,
		string(filter.Severity), filter.Module, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, occurred_at, user_id, user_name, action, module, severity, description, meta, request_id, ip
		FROM audit_logs`+where+`
		ORDER BY occurred_at DESC, id DESC
		LIMIT $4 OFFSET $5`,
		string(filter.Severity), filter.Module, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e        Entry
			severity string
			meta     []byte
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.UserID, &e.UserName, &e.Action, &e.Module,
			&severity, &e.Description, &meta, &e.RequestID, &e.IP); err != nil {
			return nil, 0, err
		}
		e.Severity = Severity(severity)
		if len(meta) > 0 && string(meta) != "null" {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, 0, fmt.Errorf("audit: decode meta: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Purge deletes entries older than cutoff and returns the number removed.
func (r *Repository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.pool == nil {
		return 0, errors.New("audit: repository not configured")
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
