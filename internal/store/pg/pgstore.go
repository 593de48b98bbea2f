package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"kadro.org/internal/retention"
)

type Store struct {
	db *sql.DB
}

var (
	_ retention.DocumentStore = (*Store)(nil)
	_ retention.PolicyStore   = (*Store)(nil)
	_ retention.JobStore      = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const documentColumns = `
	id, category, type, title, storage_key, coalesce(owner_id,''), created_at,
	coalesce(assigned_policy_id,''), retention_deadline,
	legal_hold, coalesce(legal_hold_reason,''), coalesce(legal_hold_set_by,''), legal_hold_set_at,
	is_deleted, deleted_at, is_archived, archived_at, review_required, review_marked_at`

// filterClause builds the where clause for a DocumentFilter. Args are
// numbered from $1.
func filterClause(f retention.DocumentFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(expr string, vals ...any) {
		for _, v := range vals {
			args = append(args, v)
			expr = strings.Replace(expr, "?", fmt.Sprintf("$%d", len(args)), 1)
		}
		conds = append(conds, expr)
	}
	if f.Category != "" {
		add("category = ?", f.Category)
	}
	if f.Type != "" {
		add("type = ?", f.Type)
	}
	if f.ExcludePolicyID != "" {
		add("(assigned_policy_id is null or assigned_policy_id <> ?)", f.ExcludePolicyID)
	}
	if f.DueBefore != nil {
		add("retention_deadline is not null and retention_deadline <= ?", f.DueBefore.UTC())
	}
	if f.ExcludeDeleted {
		conds = append(conds, "not is_deleted")
	}
	if f.ExcludeHeld {
		conds = append(conds, "not legal_hold")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " where " + strings.Join(conds, " and "), args
}

func scanDocument(row interface{ Scan(...any) error }) (retention.Document, error) {
	var (
		d        retention.Document
		deadline sql.NullTime
		holdAt   sql.NullTime
		delAt    sql.NullTime
		archAt   sql.NullTime
		revAt    sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.Category, &d.Type, &d.Title, &d.StorageKey, &d.OwnerID, &d.CreatedAt,
		&d.AssignedPolicyID, &deadline,
		&d.LegalHold, &d.LegalHoldReason, &d.LegalHoldSetBy, &holdAt,
		&d.IsDeleted, &delAt, &d.IsArchived, &archAt, &d.ReviewRequired, &revAt,
	)
	if err != nil {
		return retention.Document{}, err
	}
	if deadline.Valid {
		t := deadline.Time
		d.RetentionDeadline = &t
	}
	if holdAt.Valid {
		t := holdAt.Time
		d.LegalHoldSetAt = &t
	}
	if delAt.Valid {
		t := delAt.Time
		d.DeletedAt = &t
	}
	if archAt.Valid {
		t := archAt.Time
		d.ArchivedAt = &t
	}
	if revAt.Valid {
		t := revAt.Time
		d.ReviewMarkedAt = &t
	}
	return d, nil
}

func (s *Store) FindDocuments(ctx context.Context, f retention.DocumentFilter) ([]retention.Document, error) {
	where, args := filterClause(f)
	q := `select ` + documentColumns + ` from documents` + where + ` order by id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" limit $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []retention.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (s *Store) CountDocuments(ctx context.Context, f retention.DocumentFilter) (int, error) {
	where, args := filterClause(f)
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from documents`+where, args...).Scan(&n)
	return n, err
}

func (s *Store) GetDocument(ctx context.Context, id string) (retention.Document, error) {
	row := s.db.QueryRowContext(ctx, `select `+documentColumns+` from documents where id=$1`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return retention.Document{}, retention.ErrNotFound
	}
	return d, err
}

func (s *Store) UpdateDocument(ctx context.Context, id string, upd retention.DocumentUpdate) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if upd.AssignedPolicyID != nil {
		set("assigned_policy_id", nullString(*upd.AssignedPolicyID))
	}
	if upd.RetentionDeadline != nil {
		set("retention_deadline", upd.RetentionDeadline.UTC())
	}
	if upd.LegalHold != nil {
		set("legal_hold", *upd.LegalHold)
	}
	if upd.LegalHoldReason != nil {
		set("legal_hold_reason", nullString(*upd.LegalHoldReason))
	}
	if upd.LegalHoldSetBy != nil {
		set("legal_hold_set_by", nullString(*upd.LegalHoldSetBy))
	}
	if upd.LegalHoldSetAt != nil {
		// Zero time clears the column.
		if upd.LegalHoldSetAt.IsZero() {
			set("legal_hold_set_at", nil)
		} else {
			set("legal_hold_set_at", upd.LegalHoldSetAt.UTC())
		}
	}
	if upd.IsDeleted != nil {
		set("is_deleted", *upd.IsDeleted)
	}
	if upd.DeletedAt != nil {
		set("deleted_at", upd.DeletedAt.UTC())
	}
	if upd.IsArchived != nil {
		set("is_archived", *upd.IsArchived)
	}
	if upd.ArchivedAt != nil {
		set("archived_at", upd.ArchivedAt.UTC())
	}
	if upd.ReviewRequired != nil {
		set("review_required", *upd.ReviewRequired)
	}
	if upd.ReviewMarkedAt != nil {
		set("review_marked_at", upd.ReviewMarkedAt.UTC())
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`update documents set %s where id=$%d`, strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return retention.ErrNotFound
	}
	return nil
}

// --- helpers ---

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
