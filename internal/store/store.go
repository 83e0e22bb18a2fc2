package store

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/cocomask/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection holding build runs and the masks they wrote.
type Store struct {
	conn *pgx.Conn
}

// Run is one `generate` invocation.
type Run struct {
	ID          uuid.UUID
	DatasetPath string
	OutputDir   string
	Policy      string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Written     int
	Status      string
}

// MaskRecord is one mask file written by a run.
type MaskRecord struct {
	RunID          uuid.UUID
	ImageID        int64
	FileName       string
	MaskName       string
	OutputDir      string
	Policy         string
	Width          int
	Height         int
	Composited     int
	Skipped        int
	DecodeFailures int
	Rejected       int
	OverlapPixels  int
	Classes        []int
	Reused         bool
	CreatedAt      time.Time
}

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS mask_runs (
			id UUID PRIMARY KEY,
			dataset_path TEXT NOT NULL,
			output_dir TEXT NOT NULL,
			policy TEXT NOT NULL,
			started_at TIMESTAMPTZ DEFAULT NOW(),
			finished_at TIMESTAMPTZ,
			written INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'running'
		);
		CREATE TABLE IF NOT EXISTS mask_files (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES mask_runs(id) ON DELETE CASCADE,
			image_id BIGINT NOT NULL,
			file_name TEXT NOT NULL,
			mask_name TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			composited INT NOT NULL,
			skipped INT NOT NULL,
			decode_failures INT NOT NULL,
			rejected INT NOT NULL,
			overlap_pixels BIGINT NOT NULL,
			classes INT[] NOT NULL,
			reused BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS mask_files_file_name_idx ON mask_files (file_name);
		CREATE INDEX IF NOT EXISTS mask_files_run_id_idx ON mask_files (run_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// BeginRun registers a new run and returns its id.
func (s *Store) BeginRun(ctx context.Context, datasetPath, outputDir, policy string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO mask_runs (id, dataset_path, output_dir, policy, started_at, status)
		VALUES ($1, $2, $3, $4, NOW(), $5)
	`, id.String(), datasetPath, outputDir, policy, StatusRunning)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// FinishRun stamps the final count and status on a run.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, written int, status string) error {
	_, err := s.conn.Exec(ctx, `
		UPDATE mask_runs SET finished_at = NOW(), written = $2, status = $3 WHERE id = $1
	`, runID.String(), written, status)
	return err
}

// InsertMask saves the summary of one written mask.
func (s *Store) InsertMask(ctx context.Context, runID uuid.UUID, sum types.ImageSummary) error {
	classes := make([]int32, len(sum.Classes))
	for i, c := range sum.Classes {
		classes[i] = int32(c)
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO mask_files (run_id, image_id, file_name, mask_name, width, height,
			composited, skipped, decode_failures, rejected, overlap_pixels, classes, reused)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, runID.String(), sum.Image.ID, sum.Image.FileName, sum.MaskName, sum.Image.Width, sum.Image.Height,
		sum.Composited, sum.Skipped, sum.DecodeFailures, sum.Rejected, int64(sum.OverlapPixels), classes, sum.Reused)
	return err
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id::text, dataset_path, output_dir, policy, started_at, finished_at, written, status
		FROM mask_runs ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var id string
		if err := rows.Scan(&id, &r.DatasetPath, &r.OutputDir, &r.Policy, &r.StartedAt, &r.FinishedAt, &r.Written, &r.Status); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// FindMasks returns every recorded mask for a source image file name, newest first.
func (s *Store) FindMasks(ctx context.Context, fileName string) ([]MaskRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT f.run_id::text, f.image_id, f.file_name, f.mask_name, r.output_dir, r.policy,
			f.width, f.height, f.composited, f.skipped, f.decode_failures, f.rejected,
			f.overlap_pixels, f.classes, f.reused, f.created_at
		FROM mask_files f JOIN mask_runs r ON r.id = f.run_id
		WHERE f.file_name = $1
		ORDER BY f.created_at DESC, f.id DESC
	`, fileName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MaskRecord
	for rows.Next() {
		var m MaskRecord
		var runID string
		var overlap int64
		var classes []int32
		if err := rows.Scan(&runID, &m.ImageID, &m.FileName, &m.MaskName, &m.OutputDir, &m.Policy,
			&m.Width, &m.Height, &m.Composited, &m.Skipped, &m.DecodeFailures, &m.Rejected,
			&overlap, &classes, &m.Reused, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.RunID, err = uuid.Parse(runID); err != nil {
			return nil, err
		}
		m.OverlapPixels = int(overlap)
		m.Classes = make([]int, len(classes))
		for i, c := range classes {
			m.Classes[i] = int(c)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS mask_files CASCADE;
		DROP TABLE IF EXISTS mask_runs CASCADE;
	`)
	return err
}

// RunRecorder binds a run id so the builder can record images without
// knowing about runs.
type RunRecorder struct {
	Store *Store
	RunID uuid.UUID
}

func (r RunRecorder) RecordImage(ctx context.Context, sum types.ImageSummary) error {
	return r.Store.InsertMask(ctx, r.RunID, sum)
}
