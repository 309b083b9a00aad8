package store

import "context"

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id             UUID PRIMARY KEY,
	tool_name          TEXT NOT NULL,
	file_name          TEXT,
	file_size          BIGINT,
	input_path         TEXT,
	parameters         JSONB,
	status             TEXT NOT NULL,
	progress           INT NOT NULL DEFAULT 0,
	current_operation  TEXT,
	result_url         TEXT,
	error_message      TEXT,
	dedup_hash         TEXT,
	attempts           INT NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL,
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	processing_time_ms BIGINT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_dedup_hash ON jobs (dedup_hash) WHERE dedup_hash IS NOT NULL;
`

// EnsureSchema creates the jobs table and its indexes when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, jobsSchema)
	return err
}
