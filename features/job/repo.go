package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type Repository interface {
	Save(ctx context.Context, job *Job) error
	List(ctx context.Context) ([]Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, job *Job) error {
	query := `INSERT INTO failed_jobs (task_id, handler, payload, error, retries) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, job.TaskID, job.Handler, []byte(job.Payload), job.Error, job.Retries).Scan(&job.ID, &job.CreatedAt)
}

func (r *PostgresRepo) List(ctx context.Context) ([]Job, error) {
	query := `SELECT id, task_id, handler, payload, error, retries, created_at FROM failed_jobs ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var payload []byte
		if err := rows.Scan(&j.ID, &j.TaskID, &j.Handler, &payload, &j.Error, &j.Retries, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan failed job: %w", err)
		}
		j.Payload = json.RawMessage(payload)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	j := &Job{}
	var payload []byte
	query := `SELECT id, task_id, handler, payload, error, retries, created_at FROM failed_jobs WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&j.ID, &j.TaskID, &j.Handler, &payload, &j.Error, &j.Retries, &j.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get failed job %s: %w", id, err)
	}
	j.Payload = json.RawMessage(payload)
	return j, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM failed_jobs WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM failed_jobs`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
