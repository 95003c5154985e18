package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledgercore/internal/platform/db"
)

// Store writes entries through any pgx querier. Inside a transaction each
// insert runs under its own savepoint so a failed audit write leaves the
// surrounding transaction usable.
type Store struct {
	q db.Querier
}

// NewStore constructs a Store.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

// InsertAuditEntry appends one entry.
func (s *Store) InsertAuditEntry(ctx context.Context, e Entry) error {
	sp, err := s.q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("audit: savepoint: %w", err)
	}
	defer func() { _ = sp.Rollback(ctx) }()
	_, err = sp.Exec(ctx, `
		INSERT INTO audit_entries (user_id, company_id, action, entity_kind, entity_id, summary, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.UserID, e.CompanyID, string(e.Action), string(e.Kind), e.EntityID, e.Summary, e.At)
	if err != nil {
		return err
	}
	return sp.Commit(ctx)
}

// Repository serves timeline reads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListAuditEntries returns entries newest first. limit <= 0 returns all rows.
func (r *Repository) ListAuditEntries(ctx context.Context, f TimelineFilters, limit, offset int) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	add("company_id = $%d", f.CompanyID)
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}
	if f.UserID != 0 {
		add("user_id = $%d", f.UserID)
	}
	if f.Kind != "" {
		add("entity_kind = $%d", string(f.Kind))
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.EntityID != 0 {
		add("entity_id = $%d", f.EntityID)
	}
	query := `SELECT id, user_id, company_id, action, entity_kind, entity_id, summary, occurred_at
		FROM audit_entries WHERE ` + strings.Join(where, " AND ") + ` ORDER BY occurred_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit, offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			action string
			kind   string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.CompanyID, &action, &kind, &e.EntityID, &e.Summary, &e.At); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
