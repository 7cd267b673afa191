package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// defaultWriteTimeout bounds the create write when no timeout is configured
const defaultWriteTimeout = 20 * time.Second

// SQLite implements the job repository on top of a local sqlite database
type SQLite struct {
	db           *sqlx.DB
	writeTimeout time.Duration
}

// jobRecord is the row shape, created_at kept as unix nanos so ordering
// stays exact
type jobRecord struct {
	ID            string `db:"id"`
	Title         string `db:"title"`
	Category      string `db:"category"`
	Location      string `db:"location"`
	Experience    string `db:"experience"`
	Education     string `db:"education"`
	DriveLocation string `db:"drive_location"`
	Description   string `db:"description"`
	CreatedAt     int64  `db:"created_at"`
}

func (r jobRecord) toJob() Job {
	return Job{
		ID:            r.ID,
		Title:         r.Title,
		Category:      r.Category,
		Location:      r.Location,
		Experience:    r.Experience,
		Education:     r.Education,
		DriveLocation: r.DriveLocation,
		Description:   r.Description,
		CreatedAt:     time.Unix(0, r.CreatedAt).UTC(),
	}
}

// NewSQLite opens (or creates) the database at dbPath, enables WAL mode and
// initializes the schema. writeTimeout bounds create writes; zero means the
// 20s default.
func NewSQLite(dbPath string, writeTimeout time.Duration) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	closeOnErr := func(err error, format string) error {
		if closeErr := db.Close(); closeErr != nil {
			return fmt.Errorf(format+": %w (also failed to close db: %v)", err, closeErr)
		}
		return fmt.Errorf(format+": %w", err)
	}

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, closeOnErr(err, "failed to set WAL mode")
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			category TEXT NOT NULL,
			location TEXT NOT NULL,
			experience TEXT NOT NULL,
			education TEXT NOT NULL,
			drive_location TEXT NOT NULL,
			description TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return nil, closeOnErr(err, "failed to initialize schema")
		}
	}

	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	return &SQLite{db: db, writeTimeout: writeTimeout}, nil
}

// Create validates the job, assigns id and creation time and persists it.
// The write is bounded by the store's write timeout and fails with ErrTimeout
// when exceeded. Returns the stored record.
func (s *SQLite) Create(ctx context.Context, job Job) (Job, error) {
	if err := job.Validate(); err != nil {
		return Job{}, err
	}

	job.ID = uuid.New().String()
	job.CreatedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, title, category, location, experience, education, drive_location, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Title, job.Category, job.Location, job.Experience, job.Education,
		job.DriveLocation, job.Description, job.CreatedAt.UnixNano())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Job{}, ErrTimeout
		}
		return Job{}, fmt.Errorf("failed to create job: %w", err)
	}

	return job, nil
}

// List returns all jobs, newest first. Ties on created_at are broken by
// insertion order (rowid).
func (s *SQLite) List(ctx context.Context) ([]Job, error) {
	recs := []jobRecord{}
	err := s.db.SelectContext(ctx, &recs, `
		SELECT id, title, category, location, experience, education, drive_location, description, created_at
		FROM jobs ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	jobs := make([]Job, 0, len(recs))
	for _, rec := range recs {
		jobs = append(jobs, rec.toJob())
	}
	return jobs, nil
}

// Recent returns up to limit jobs in the same order as List
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Job, error) {
	recs := []jobRecord{}
	err := s.db.SelectContext(ctx, &recs, `
		SELECT id, title, category, location, experience, education, drive_location, description, created_at
		FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent jobs: %w", err)
	}

	jobs := make([]Job, 0, len(recs))
	for _, rec := range recs {
		jobs = append(jobs, rec.toJob())
	}
	return jobs, nil
}

// Get returns the job with the given id, ErrNotFound if it doesn't exist
func (s *SQLite) Get(ctx context.Context, id string) (Job, error) {
	var rec jobRecord
	err := s.db.GetContext(ctx, &rec, `
		SELECT id, title, category, location, experience, education, drive_location, description, created_at
		FROM jobs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return rec.toJob(), nil
}

// Update replaces all seven content fields of the job with the given id,
// leaving id and created_at untouched. Requires a complete payload and
// returns the post-update record.
func (s *SQLite) Update(ctx context.Context, id string, job Job) (Job, error) {
	if err := job.Validate(); err != nil {
		return Job{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET title = ?, category = ?, location = ?, experience = ?, education = ?, drive_location = ?, description = ?
		WHERE id = ?`,
		job.Title, job.Category, job.Location, job.Experience, job.Education, job.DriveLocation, job.Description, id)
	if err != nil {
		return Job{}, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Job{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return Job{}, ErrNotFound
	}

	return s.Get(ctx, id)
}

// Delete removes the job with the given id, ErrNotFound if it doesn't exist
func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}
