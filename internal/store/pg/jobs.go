package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kadro.org/internal/retention"
)

const jobColumns = `
	id, status, dry_run, total_candidates, processed_count, failed_count,
	started_at, completed_at, coalesce(last_error,''), created_at`

func scanJob(row interface{ Scan(...any) error }) (retention.Job, error) {
	var (
		j         retention.Job
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.Status, &j.DryRun, &j.TotalCandidates, &j.ProcessedCount, &j.FailedCount,
		&started, &completed, &j.LastError, &j.CreatedAt,
	)
	if err != nil {
		return retention.Job{}, err
	}
	if started.Valid {
		t := started.Time
		j.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		j.CompletedAt = &t
	}
	return j, nil
}

func (s *Store) CreateJob(ctx context.Context, j retention.Job) (retention.Job, error) {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into retention_jobs(id, status, dry_run, total_candidates, processed_count, failed_count, started_at, completed_at, last_error, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, nullif($9,''), $10)
	`, j.ID, j.Status, j.DryRun, j.TotalCandidates, j.ProcessedCount, j.FailedCount,
		nullTime(j.StartedAt), nullTime(j.CompletedAt), j.LastError, j.CreatedAt)
	if err != nil {
		return retention.Job{}, err
	}
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (retention.Job, error) {
	row := s.db.QueryRowContext(ctx, `select `+jobColumns+` from retention_jobs where id=$1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return retention.Job{}, retention.ErrNotFound
	}
	return j, err
}

func (s *Store) UpdateJob(ctx context.Context, j retention.Job) error {
	res, err := s.db.ExecContext(ctx, `
		update retention_jobs
		set status=$2, total_candidates=$3, processed_count=$4, failed_count=$5,
		    started_at=$6, completed_at=$7, last_error=nullif($8,'')
		where id=$1
	`, j.ID, j.Status, j.TotalCandidates, j.ProcessedCount, j.FailedCount,
		nullTime(j.StartedAt), nullTime(j.CompletedAt), j.LastError)
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

func (s *Store) ListJobs(ctx context.Context, limit int) ([]retention.Job, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+jobColumns+` from retention_jobs
		order by created_at desc, id desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []retention.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
