package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/jilio/stateform"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Journal implements stateform.Journal using SQLite. Positions are counted
// per form, starting at 1.
type Journal struct {
	db          *sql.DB
	cfg         *config
	logger      *zap.Logger
	metricsHook MetricsHook

	appendStmt   *sql.Stmt
	loadStmt     *sql.Stmt
	positionStmt *sql.Stmt
}

var _ stateform.Journal = (*Journal)(nil)

// dbOpener is used to open database connections, injectable for testing
var dbOpener = sql.Open

// New opens the journal at path. Use ":memory:" for a shared in-memory
// database.
//
// When WithAutoMigrate is enabled (the default), migrations run with
// context.Background() and are not cancellable.
func New(path string, opts ...Option) (*Journal, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}

	// Reject URI parameters smuggled through the path.
	if path != ":memory:" && (strings.Contains(path, "?") || strings.Contains(path, "#")) {
		return nil, errors.New("sqlite: path cannot contain '?' or '#' characters")
	}

	cfg := defaultConfig()
	cfg.path = path
	for _, opt := range opts {
		opt(cfg)
	}

	var dsn string
	if cfg.path == ":memory:" {
		dsn = "file::memory:?mode=memory&cache=shared"
	} else {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.path, cfg.busyTimeout.Milliseconds())
	}

	db, err := dbOpener("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	if err := applyPragmas(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply pragmas: %w", err)
	}

	if cfg.autoMigrate {
		if err := migrate(context.Background(), db); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: migrate: %w", err)
		}
	}

	return newFromDB(db, cfg)
}

func newFromDB(db *sql.DB, cfg *config) (*Journal, error) {
	j := &Journal{
		db:          db,
		cfg:         cfg,
		logger:      cfg.logger,
		metricsHook: cfg.metricsHook,
	}

	if err := j.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: prepare statements: %w", err)
	}

	return j, nil
}

func applyPragmas(db *sql.DB, cfg *config) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout.Milliseconds()),
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	return nil
}

func (j *Journal) prepareStatements() error {
	type stmtDef struct {
		dest **sql.Stmt
		sql  string
	}

	stmts := []stmtDef{
		{&j.appendStmt, `INSERT INTO journal_entries (form_id, position, type, data, timestamp)
			SELECT ?, COALESCE(MAX(position), 0) + 1, ?, ?, ? FROM journal_entries WHERE form_id = ?
			RETURNING position`},
		{&j.loadStmt, "SELECT position, type, data, timestamp FROM journal_entries WHERE form_id = ? AND position >= ? ORDER BY position"},
		{&j.positionStmt, "SELECT COALESCE(MAX(position), 0) FROM journal_entries WHERE form_id = ?"},
	}

	for _, def := range stmts {
		stmt, err := j.db.Prepare(def.sql)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		*def.dest = stmt
	}

	return nil
}

// Append implements stateform.Journal.
func (j *Journal) Append(ctx context.Context, entry *stateform.JournalEntry) error {
	start := time.Now()

	var position int64
	err := j.appendStmt.QueryRowContext(ctx,
		entry.FormID, string(entry.Type), []byte(entry.Data), entry.Timestamp, entry.FormID,
	).Scan(&position)
	if j.metricsHook != nil {
		j.metricsHook.OnAppend(time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("sqlite: append entry: %w", err)
	}
	entry.Position = position

	j.logger.Debug("appended journal entry",
		zap.String("form", entry.FormID),
		zap.Int64("position", position),
		zap.String("type", string(entry.Type)),
	)
	return nil
}

// rowScanner abstracts sql.Rows for testing
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Load implements stateform.Journal.
func (j *Journal) Load(ctx context.Context, formID string, from int64) ([]*stateform.JournalEntry, error) {
	start := time.Now()
	var entries []*stateform.JournalEntry
	var err error

	defer func() {
		if j.metricsHook != nil {
			j.metricsHook.OnLoad(time.Since(start), len(entries), err)
		}
	}()

	rows, err := j.loadStmt.QueryContext(ctx, formID, from)
	if err != nil {
		err = fmt.Errorf("sqlite: load entries: %w", err)
		return nil, err
	}

	entries, err = scanEntries(formID, rows)
	if err != nil {
		return nil, err
	}

	j.logger.Debug("loaded journal entries",
		zap.String("form", formID),
		zap.Int64("from", from),
		zap.Int("count", len(entries)),
	)
	return entries, nil
}

func scanEntries(formID string, rows rowScanner) ([]*stateform.JournalEntry, error) {
	defer rows.Close()

	var entries []*stateform.JournalEntry
	for rows.Next() {
		entry, err := scanEntry(formID, rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate entries: %w", err)
	}

	return entries, nil
}

func scanEntry(formID string, rows rowScanner) (*stateform.JournalEntry, error) {
	var typ string
	var data []byte
	entry := &stateform.JournalEntry{FormID: formID}
	if err := rows.Scan(&entry.Position, &typ, &data, &entry.Timestamp); err != nil {
		return nil, fmt.Errorf("sqlite: scan entry: %w", err)
	}
	entry.Type = stateform.ActionType(typ)
	entry.Data = data
	return entry, nil
}

// Position implements stateform.Journal.
func (j *Journal) Position(ctx context.Context, formID string) (int64, error) {
	var position int64
	if err := j.positionStmt.QueryRowContext(ctx, formID).Scan(&position); err != nil {
		return 0, fmt.Errorf("sqlite: get position: %w", err)
	}
	return position, nil
}

// LoadStream yields the entries of formID from position from without
// loading them all at once. Rows are released when iteration completes,
// the consumer stops early or ctx is cancelled.
func (j *Journal) LoadStream(ctx context.Context, formID string, from int64) iter.Seq2[*stateform.JournalEntry, error] {
	return func(yield func(*stateform.JournalEntry, error) bool) {
		start := time.Now()
		var count int
		var iterErr error

		defer func() {
			if j.metricsHook != nil {
				j.metricsHook.OnLoad(time.Since(start), count, iterErr)
			}
		}()

		if j.cfg.streamBatchSize > 0 {
			j.streamBatched(ctx, formID, from, &count, &iterErr, yield)
			return
		}

		rows, err := j.loadStmt.QueryContext(ctx, formID, from)
		if err != nil {
			iterErr = fmt.Errorf("sqlite: load stream: %w", err)
			yield(nil, iterErr)
			return
		}

		streamRows(ctx, formID, rows, &count, &iterErr, yield)
	}
}

func streamRows(
	ctx context.Context,
	formID string,
	rows rowScanner,
	count *int,
	iterErr *error,
	yield func(*stateform.JournalEntry, error) bool,
) {
	defer rows.Close()

	for rows.Next() {
		select {
		case <-ctx.Done():
			*iterErr = ctx.Err()
			yield(nil, *iterErr)
			return
		default:
		}

		entry, err := scanEntry(formID, rows)
		if err != nil {
			*iterErr = err
			yield(nil, *iterErr)
			return
		}

		*count++
		if !yield(entry, nil) {
			return
		}
	}

	if err := rows.Err(); err != nil {
		*iterErr = fmt.Errorf("sqlite: iterate entries: %w", err)
		yield(nil, *iterErr)
	}
}

// streamBatched pages through entries with a position cursor.
func (j *Journal) streamBatched(
	ctx context.Context,
	formID string,
	from int64,
	count *int,
	iterErr *error,
	yield func(*stateform.JournalEntry, error) bool,
) {
	const query = "SELECT position, type, data, timestamp FROM journal_entries WHERE form_id = ? AND position >= ? ORDER BY position LIMIT ?"
	batchSize := j.cfg.streamBatchSize
	next := from

	for {
		select {
		case <-ctx.Done():
			*iterErr = ctx.Err()
			yield(nil, *iterErr)
			return
		default:
		}

		rows, err := j.db.QueryContext(ctx, query, formID, next, batchSize)
		if err != nil {
			*iterErr = fmt.Errorf("sqlite: load stream batch: %w", err)
			yield(nil, *iterErr)
			return
		}

		n := 0
		for rows.Next() {
			entry, err := scanEntry(formID, rows)
			if err != nil {
				rows.Close()
				*iterErr = err
				yield(nil, *iterErr)
				return
			}
			n++
			*count++
			next = entry.Position + 1
			if !yield(entry, nil) {
				rows.Close()
				return
			}
		}
		if err := rows.Close(); err != nil {
			*iterErr = fmt.Errorf("sqlite: close rows: %w", err)
			yield(nil, *iterErr)
			return
		}

		if n < batchSize {
			return
		}
	}
}

// Close closes the database connection and releases resources.
func (j *Journal) Close() error {
	for _, stmt := range []*sql.Stmt{j.appendStmt, j.loadStmt, j.positionStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}

	j.logger.Info("closing sqlite journal")
	return j.db.Close()
}
