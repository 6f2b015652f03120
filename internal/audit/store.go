package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"whisperd/internal/services"
)

const (
	defaultListLimit = 50
	maxMessageLength = 512

	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store manages the request ledger backed by SQLite.
type Store struct {
	db    *sql.DB
	path  string
	runID string
}

// Open initializes or connects to the ledger at path. runID stamps every
// row recorded through this Store.
func Open(path, runID string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("audit database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, runID: runID}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Record appends e. Empty RunID and CreatedAt are filled in.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return errors.New("audit store unavailable")
	}
	if e.RunID == "" {
		e.RunID = s.runID
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	return s.execWithRetry(ctx,
		`INSERT INTO requests (
            run_id, request_id, action, host, outcome, error_kind,
            message, security, duration_ms, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID,
		e.RequestID,
		e.Action,
		nullableString(e.Host),
		string(e.Outcome),
		nullableString(string(e.ErrorKind)),
		nullableString(truncate(e.Message, maxMessageLength)),
		boolToInt(e.Security),
		e.Duration.Milliseconds(),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("audit store unavailable")
	}
	ctx = ensureContext(ctx)
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var where []string
	if f.SecurityOnly {
		where = append(where, "security = 1")
	}
	if f.FailuresOnly {
		where = append(where, "outcome = '"+string(OutcomeFailure)+"'")
	}
	query := `SELECT id, run_id, request_id, action, host, outcome, error_kind,
        message, security, duration_ms, created_at FROM requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// Stats counts all, failed and security-flagged entries.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if s == nil || s.db == nil {
		return Stats{}, errors.New("audit store unavailable")
	}
	var st Stats
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1),
            COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(security), 0)
        FROM requests`, string(OutcomeFailure),
	).Scan(&st.Total, &st.Failed, &st.Security)
	if err != nil {
		return Stats{}, fmt.Errorf("audit stats: %w", err)
	}
	return st, nil
}

// Prune deletes entries recorded before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("audit store unavailable")
	}
	ctx = ensureContext(ctx)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM requests WHERE created_at < ?",
			cutoff.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e          Entry
		host       sql.NullString
		outcome    string
		kind       sql.NullString
		message    sql.NullString
		security   int
		durationMS int64
		createdAt  string
	)
	if err := row.Scan(&e.ID, &e.RunID, &e.RequestID, &e.Action, &host, &outcome, &kind,
		&message, &security, &durationMS, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	e.Host = host.String
	e.Outcome = Outcome(outcome)
	e.ErrorKind = services.Kind(kind.String)
	e.Message = message.String
	e.Security = security != 0
	e.Duration = time.Duration(durationMS) * time.Millisecond
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		e.CreatedAt = ts
	}
	return e, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	if err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	}); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
