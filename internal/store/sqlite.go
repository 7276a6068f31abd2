package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/buildrunner/internal/pipeline"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists pipelines, builds and logs in a single SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, wrap(ErrDatabaseOpenFailed, err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, wrap(ErrInitializeSchemaFailed, err)
	}

	return store, nil
}

func dsn(dbPath string) string {
	if dbPath == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pipelines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		config_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pipeline_id INTEGER NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_builds_pipeline ON builds(pipeline_id);
	CREATE TABLE IF NOT EXISTS build_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id INTEGER NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
		step_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_build_logs_build ON build_logs(build_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreatePipeline stores a new pipeline. Names are unique.
func (s *SQLiteStore) CreatePipeline(ctx context.Context, def pipeline.Definition) (*Pipeline, error) {
	configJSON, err := def.ConfigJSON()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := &Pipeline{
		Name:        def.Name,
		Description: def.Description,
		ConfigJSON:  configJSON,
		CreatedAt:   s.now().UTC(),
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO pipelines (name, description, config_json, created_at) VALUES (?, ?, ?, ?)",
		p.Name, p.Description, p.ConfigJSON, p.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrPipelineExists.WithContext("pipeline_name", def.Name)
		}
		return nil, wrap(ErrWriteFailed, err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return nil, wrap(ErrWriteFailed, err)
	}
	return p, nil
}

// UpsertPipeline creates the pipeline or replaces the steps and description of
// the existing pipeline with the same name.
func (s *SQLiteStore) UpsertPipeline(ctx context.Context, def pipeline.Definition) (*Pipeline, error) {
	existing, err := s.GetPipelineByName(ctx, def.Name)
	if stderrors.Is(err, ErrPipelineNotFound) {
		return s.CreatePipeline(ctx, def)
	}
	if err != nil {
		return nil, err
	}
	configJSON, err := def.ConfigJSON()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing.Description = def.Description
	existing.ConfigJSON = configJSON
	if _, err := s.db.ExecContext(ctx,
		"UPDATE pipelines SET description = ?, config_json = ? WHERE id = ?",
		existing.Description, existing.ConfigJSON, existing.ID,
	); err != nil {
		return nil, wrap(ErrWriteFailed, err)
	}
	return existing, nil
}

// GetPipeline loads a pipeline by id.
func (s *SQLiteStore) GetPipeline(ctx context.Context, id int64) (*Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, config_json, created_at FROM pipelines WHERE id = ?", id)
	p, err := scanPipeline(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrPipelineNotFound.WithContext("pipeline_id", id)
	}
	if err != nil {
		return nil, wrap(ErrQueryFailed, err)
	}
	return p, nil
}

// GetPipelineByName loads a pipeline by its unique name.
func (s *SQLiteStore) GetPipelineByName(ctx context.Context, name string) (*Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, config_json, created_at FROM pipelines WHERE name = ?", name)
	p, err := scanPipeline(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrPipelineNotFound.WithContext("pipeline_name", name)
	}
	if err != nil {
		return nil, wrap(ErrQueryFailed, err)
	}
	return p, nil
}

// ListPipelines returns all pipelines ordered by id, each with its latest build.
func (s *SQLiteStore) ListPipelines(ctx context.Context) ([]PipelineSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.config_json, p.created_at,
		       b.id, b.pipeline_id, b.status, b.created_at, b.started_at, b.finished_at
		FROM pipelines p
		LEFT JOIN builds b ON b.id = (SELECT MAX(id) FROM builds WHERE pipeline_id = p.id)
		ORDER BY p.id`)
	if err != nil {
		return nil, wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	summaries := []PipelineSummary{}
	for rows.Next() {
		var (
			sum                                 PipelineSummary
			created                             int64
			buildID, buildPipeline, buildCreate sql.NullInt64
			buildStatus                         sql.NullString
			started, finished                   sql.NullInt64
		)
		if err := rows.Scan(
			&sum.ID, &sum.Name, &sum.Description, &sum.ConfigJSON, &created,
			&buildID, &buildPipeline, &buildStatus, &buildCreate, &started, &finished,
		); err != nil {
			return nil, wrap(ErrQueryFailed, err)
		}
		sum.CreatedAt = fromMillis(created)
		if buildID.Valid {
			sum.LastBuild = &Build{
				ID:         buildID.Int64,
				PipelineID: buildPipeline.Int64,
				Status:     BuildStatus(buildStatus.String),
				CreatedAt:  fromMillis(buildCreate.Int64),
				StartedAt:  nullableTime(started),
				FinishedAt: nullableTime(finished),
			}
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ErrQueryFailed, err)
	}
	return summaries, nil
}

// DeletePipeline removes a pipeline together with its builds and logs.
func (s *SQLiteStore) DeletePipeline(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM pipelines WHERE id = ?", id)
	if err != nil {
		return wrap(ErrWriteFailed, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPipelineNotFound.WithContext("pipeline_id", id)
	}
	return nil
}

// CreateBuild inserts a queued build for the pipeline.
func (s *SQLiteStore) CreateBuild(ctx context.Context, pipelineID int64) (*Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &Build{PipelineID: pipelineID, Status: StatusQueued, CreatedAt: s.now().UTC()}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO builds (pipeline_id, status, created_at) VALUES (?, ?, ?)",
		pipelineID, string(b.Status), b.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrPipelineNotFound.WithContext("pipeline_id", pipelineID)
		}
		return nil, wrap(ErrWriteFailed, err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return nil, wrap(ErrWriteFailed, err)
	}
	return b, nil
}

// GetBuild loads a build by id.
func (s *SQLiteStore) GetBuild(ctx context.Context, id int64) (*Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getBuild(ctx, id)
}

func (s *SQLiteStore) getBuild(ctx context.Context, id int64) (*Build, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, pipeline_id, status, created_at, started_at, finished_at FROM builds WHERE id = ?", id)
	b, err := scanBuild(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrBuildNotFound.WithContext("build_id", id)
	}
	if err != nil {
		return nil, wrap(ErrQueryFailed, err)
	}
	return b, nil
}

// ListBuilds returns the most recent builds, newest first.
func (s *SQLiteStore) ListBuilds(ctx context.Context, limit int) ([]Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, pipeline_id, status, created_at, started_at, finished_at FROM builds ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	builds := []Build{}
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, wrap(ErrQueryFailed, err)
		}
		builds = append(builds, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ErrQueryFailed, err)
	}
	return builds, nil
}

// MarkRunning moves a queued build to running and stamps started_at.
func (s *SQLiteStore) MarkRunning(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE builds SET status = ?, started_at = ? WHERE id = ? AND status = ?",
		string(StatusRunning), s.now().UTC().UnixMilli(), id, string(StatusQueued),
	)
	if err != nil {
		return wrap(ErrWriteFailed, err)
	}
	return s.checkTransition(ctx, res, id, StatusRunning)
}

// Finish moves a running build to a terminal status and stamps finished_at.
func (s *SQLiteStore) Finish(ctx context.Context, id int64, status BuildStatus) error {
	if !status.IsTerminal() {
		return ErrInvalidTransition.WithContext("build_id", id).WithContext("to", string(status))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE builds SET status = ?, finished_at = ? WHERE id = ? AND status = ?",
		string(status), s.now().UTC().UnixMilli(), id, string(StatusRunning),
	)
	if err != nil {
		return wrap(ErrWriteFailed, err)
	}
	return s.checkTransition(ctx, res, id, status)
}

func (s *SQLiteStore) checkTransition(ctx context.Context, res sql.Result, id int64, to BuildStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(ErrWriteFailed, err)
	}
	if n == 1 {
		return nil
	}
	current, err := s.getBuild(ctx, id)
	if err != nil {
		return err
	}
	return ErrInvalidTransition.
		WithContext("build_id", id).
		WithContext("from", string(current.Status)).
		WithContext("to", string(to))
}

// AppendLogs inserts the lines in order inside one transaction.
func (s *SQLiteStore) AppendLogs(ctx context.Context, logs []BuildLog) error {
	if len(logs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(ErrAppendLogsFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO build_logs (build_id, step_index, text, timestamp) VALUES (?, ?, ?, ?)")
	if err != nil {
		return wrap(ErrAppendLogsFailed, err)
	}
	defer stmt.Close()

	for _, l := range logs {
		ts := l.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		if _, err := stmt.ExecContext(ctx, l.BuildID, l.StepIndex, l.Text, ts.UTC().UnixMilli()); err != nil {
			if isForeignKeyViolation(err) {
				return ErrBuildNotFound.WithContext("build_id", l.BuildID)
			}
			return wrap(ErrAppendLogsFailed, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrap(ErrAppendLogsFailed, err)
	}
	return nil
}

// ListLogs returns every persisted line of a build in insertion order.
func (s *SQLiteStore) ListLogs(ctx context.Context, buildID int64) ([]BuildLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, build_id, step_index, text, timestamp FROM build_logs WHERE build_id = ? ORDER BY id", buildID)
	if err != nil {
		return nil, wrap(ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanLogs(rows)
}

func scanLogs(rows *sql.Rows) ([]BuildLog, error) {
	logs := []BuildLog{}
	for rows.Next() {
		var (
			l  BuildLog
			ts int64
		)
		if err := rows.Scan(&l.ID, &l.BuildID, &l.StepIndex, &l.Text, &ts); err != nil {
			return nil, wrap(ErrQueryFailed, err)
		}
		l.Timestamp = fromMillis(ts)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ErrQueryFailed, err)
	}
	return logs, nil
}

// RecentLogs returns the latest lines across all builds, newest first.
func (s *SQLiteStore) RecentLogs(ctx context.Context, limit int) ([]BuildLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, build_id, step_index, text, timestamp FROM build_logs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, wrap(ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanLogs(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPipeline(row scanner) (*Pipeline, error) {
	var (
		p       Pipeline
		created int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.ConfigJSON, &created); err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

func scanBuild(row scanner) (*Build, error) {
	var (
		b                 Build
		status            string
		created           int64
		started, finished sql.NullInt64
	)
	if err := row.Scan(&b.ID, &b.PipelineID, &status, &created, &started, &finished); err != nil {
		return nil, err
	}
	b.Status = BuildStatus(status)
	b.CreatedAt = fromMillis(created)
	b.StartedAt = nullableTime(started)
	b.FinishedAt = nullableTime(finished)
	return &b, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
