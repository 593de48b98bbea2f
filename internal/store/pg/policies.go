package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"kadro.org/internal/ids"
	"kadro.org/internal/retention"
)

const policyColumns = `
	id, name, coalesce(category,''), coalesce(document_type,''),
	duration_days, action, conditions, active, created_at, updated_at`

func scanPolicy(row interface{ Scan(...any) error }) (retention.Policy, error) {
	var (
		p     retention.Policy
		conds []byte
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Category, &p.DocumentType,
		&p.DurationDays, &p.Action, &conds, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return retention.Policy{}, err
	}
	if len(conds) > 0 {
		if err := json.Unmarshal(conds, &p.Conditions); err != nil {
			return retention.Policy{}, err
		}
	}
	return p, nil
}

func (s *Store) CreatePolicy(ctx context.Context, p retention.Policy) (retention.Policy, error) {
	if err := retention.ValidatePolicy(p); err != nil {
		return retention.Policy{}, err
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	conds, err := json.Marshal(p.Conditions)
	if err != nil {
		return retention.Policy{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into retention_policies(id, name, category, document_type, duration_days, action, conditions, active, created_at, updated_at)
		values ($1, $2, nullif($3,''), nullif($4,''), $5, $6, $7, $8, $9, $9)
	`, p.ID, p.Name, p.Category, p.DocumentType, p.DurationDays, p.Action, conds, p.Active, now)
	if err != nil {
		return retention.Policy{}, err
	}
	return p, nil
}

func (s *Store) GetPolicy(ctx context.Context, id string) (retention.Policy, error) {
	row := s.db.QueryRowContext(ctx, `select `+policyColumns+` from retention_policies where id=$1`, id)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return retention.Policy{}, retention.ErrNotFound
	}
	return p, err
}

// ListActive orders by creation time, then id. The resolver breaks ties on
// this order, so it must stay deterministic.
func (s *Store) ListActive(ctx context.Context) ([]retention.Policy, error) {
	return s.listPolicies(ctx, `
		select `+policyColumns+` from retention_policies
		where active order by created_at, id
	`)
}

func (s *Store) ListPolicies(ctx context.Context) ([]retention.Policy, error) {
	return s.listPolicies(ctx, `
		select `+policyColumns+` from retention_policies
		order by created_at, id
	`)
}

func (s *Store) listPolicies(ctx context.Context, q string) ([]retention.Policy, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []retention.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx,
		`select count(*) from documents where assigned_policy_id=$1 and not is_deleted`, id).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return retention.ErrPolicyInUse
	}
	res, err := tx.ExecContext(ctx, `delete from retention_policies where id=$1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return retention.ErrNotFound
	}
	return tx.Commit()
}
