package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/docjobs/internal/job"
)

// PostgresStore persists jobs in a PostgreSQL "jobs" table.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a store backed by the given database handle.
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `
	job_id, tool_name, file_name, file_size, input_path, parameters,
	status, progress, current_operation, result_url, error_message,
	dedup_hash, attempts, created_at, started_at, completed_at, processing_time_ms
`

// jobRow mirrors the jobs table layout.
type jobRow struct {
	JobID            string         `db:"job_id"`
	ToolName         string         `db:"tool_name"`
	FileName         sql.NullString `db:"file_name"`
	FileSize         sql.NullInt64  `db:"file_size"`
	InputPath        sql.NullString `db:"input_path"`
	Parameters       []byte         `db:"parameters"`
	Status           string         `db:"status"`
	Progress         int            `db:"progress"`
	CurrentOperation sql.NullString `db:"current_operation"`
	ResultURL        sql.NullString `db:"result_url"`
	ErrorMessage     sql.NullString `db:"error_message"`
	DedupHash        sql.NullString `db:"dedup_hash"`
	Attempts         int            `db:"attempts"`
	CreatedAt        time.Time      `db:"created_at"`
	StartedAt        sql.NullTime   `db:"started_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
	ProcessingTimeMs sql.NullInt64  `db:"processing_time_ms"`
}

func (r *jobRow) toJob() (*job.Job, error) {
	j := &job.Job{
		ID:               r.JobID,
		ToolName:         r.ToolName,
		FileName:         r.FileName.String,
		FileSize:         r.FileSize.Int64,
		InputPath:        r.InputPath.String,
		Status:           job.Status(r.Status),
		Progress:         r.Progress,
		CurrentOperation: r.CurrentOperation.String,
		ResultURL:        r.ResultURL.String,
		ErrorMessage:     r.ErrorMessage.String,
		DedupHash:        r.DedupHash.String,
		Attempts:         r.Attempts,
		CreatedAt:        r.CreatedAt,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		j.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		j.CompletedAt = &t
	}
	if r.ProcessingTimeMs.Valid {
		j.ProcessingTime = time.Duration(r.ProcessingTimeMs.Int64) * time.Millisecond
	}
	if len(r.Parameters) > 0 {
		if err := json.Unmarshal(r.Parameters, &j.Parameters); err != nil {
			return nil, fmt.Errorf("failed to decode job parameters: %w", err)
		}
	}
	return j, nil
}

func (s *PostgresStore) SaveNew(ctx context.Context, j *job.Job) error {
	params, err := marshalParams(j.Parameters)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Serialize concurrent submissions of the same content so the dedup
	// lookup and the insert behave as one atomic operation.
	if j.DedupHash != "" {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, j.DedupHash); err != nil {
			return fmt.Errorf("failed to acquire dedup lock: %w", err)
		}

		var existingID string
		err := tx.GetContext(ctx, &existingID,
			`SELECT job_id FROM jobs WHERE dedup_hash = $1 AND status = $2 LIMIT 1`,
			j.DedupHash, job.StatusCompleted)
		if err == nil {
			return &job.DuplicateJobError{ExistingID: existingID}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check duplicate job: %w", err)
		}
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = tx.ExecContext(ctx, query,
		j.ID, j.ToolName, nullString(j.FileName), j.FileSize, nullString(j.InputPath), params,
		j.Status, j.Progress, nullString(j.CurrentOperation), nullString(j.ResultURL), nullString(j.ErrorMessage),
		nullString(j.DedupHash), j.Attempts, j.CreatedAt, j.StartedAt, j.CompletedAt, durationMs(j.ProcessingTime),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job insert: %w", err)
	}

	s.logger.Debug("Job inserted",
		slog.String("job_id", j.ID),
		slog.String("tool_name", j.ToolName),
	)
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, j *job.Job) (bool, error) {
	// The status guard makes terminal states sticky: only rows still in a
	// cancellable state (or already carrying the same status) accept the
	// write, so a stale execution cannot override a cancellation.
	query := `
		UPDATE jobs
		SET status = $2,
		    progress = $3,
		    current_operation = $4,
		    result_url = $5,
		    error_message = $6,
		    attempts = $7,
		    started_at = $8,
		    completed_at = $9,
		    processing_time_ms = $10
		WHERE job_id = $1
		  AND (status IN ($11, $12) OR status = $2)
	`
	res, err := s.db.ExecContext(ctx, query,
		j.ID, j.Status, j.Progress, nullString(j.CurrentOperation),
		nullString(j.ResultURL), nullString(j.ErrorMessage), j.Attempts,
		j.StartedAt, j.CompletedAt, durationMs(j.ProcessingTime),
		job.StatusPending, job.StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM jobs WHERE job_id = $1)`, j.ID); err != nil {
			return false, fmt.Errorf("failed to check job existence: %w", err)
		}
		if !exists {
			return false, job.ErrJobNotFound
		}
		// Row is terminal; discard the stale write.
		s.logger.Debug("Discarded stale update to terminal job",
			slog.String("job_id", j.ID),
			slog.String("attempted_status", string(j.Status)),
		)
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, id string, progress int, operation string) error {
	query := `
		UPDATE jobs
		SET progress = GREATEST(progress, $2),
		    current_operation = COALESCE(NULLIF($3, ''), current_operation)
		WHERE job_id = $1 AND status = $4
	`
	res, err := s.db.ExecContext(ctx, query, id, progress, operation, job.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var status string
		err := s.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE job_id = $1`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return job.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check job status: %w", err)
		}
		if job.Status(status) == job.StatusCancelled {
			return job.ErrJobCancelled
		}
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*job.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toJob()
}

func (s *PostgresStore) FindByHash(ctx context.Context, hash string) (*job.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+jobColumns+` FROM jobs WHERE dedup_hash = $1 ORDER BY created_at DESC LIMIT 1`, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job by hash: %w", err)
	}
	return row.toJob()
}

func (s *PostgresStore) FindByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	return s.selectJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at DESC, job_id DESC`, status)
}

func (s *PostgresStore) FindAll(ctx context.Context) ([]*job.Job, error) {
	return s.selectJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, job_id DESC`)
}

func (s *PostgresStore) FindRecent(ctx context.Context, cutoff time.Time) ([]*job.Job, error) {
	return s.selectJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE created_at > $1 ORDER BY created_at DESC, job_id DESC`, cutoff)
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN ($1, $2, $3) AND completed_at < $4`,
		job.StatusCompleted, job.StatusFailed, job.StatusCancelled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

func (s *PostgresStore) CountActive(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM jobs WHERE status IN ($1, $2)`,
		job.StatusPending, job.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) StatsByStatus(ctx context.Context) (map[job.Status]int, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query job statistics: %w", err)
	}
	defer rows.Close()

	stats := make(map[job.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job statistics: %w", err)
		}
		stats[job.Status(status)] = count
	}
	return stats, rows.Err()
}

func (s *PostgresStore) selectJobs(ctx context.Context, query string, args ...interface{}) ([]*job.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func marshalParams(params map[string]interface{}) ([]byte, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job parameters: %w", err)
	}
	return data, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func durationMs(d time.Duration) sql.NullInt64 {
	return sql.NullInt64{Int64: d.Milliseconds(), Valid: d > 0}
}
