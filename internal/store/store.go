package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors
var (
	ErrNotFound       = errors.New("session not found")
	ErrStatusConflict = errors.New("session status conflict")
)

// Session statuses. Transitions are owned by the session manager; the store
// only enforces that every status write names the status it replaces.
const (
	StatusCreating = "creating"
	StatusRunning  = "running"
	StatusPaused   = "paused"
	StatusStopped  = "stopped"
	StatusError    = "error"
	StatusRemoved  = "removed"
)

// activeSet is the SQL fragment for statuses that occupy a quota slot.
const activeSet = "('creating', 'running', 'paused')"

// IsActiveStatus reports whether a session in this status holds a quota slot.
func IsActiveStatus(status string) bool {
	return status == StatusCreating || status == StatusRunning || status == StatusPaused
}

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

type Session struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"owner_id"`
	ContainerID   string            `json:"container_id,omitempty"`
	ContainerName string            `json:"container_name"`
	Status        string            `json:"status"`
	CPULimit      float64           `json:"cpu_limit"`
	MemLimitMB    int               `json:"mem_limit_mb"`
	PidsLimit     int               `json:"pids_limit"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	LastActivity  time.Time         `json:"last_activity"`
	StoppedAt     *time.Time        `json:"stopped_at,omitempty"`
}

type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	container_id   TEXT NOT NULL DEFAULT '',
	container_name TEXT NOT NULL,
	status         TEXT NOT NULL,
	cpu_limit      REAL NOT NULL DEFAULT 1.0,
	mem_limit_mb   INTEGER NOT NULL DEFAULT 2048,
	pids_limit     INTEGER NOT NULL DEFAULT 256,
	metadata       TEXT NOT NULL DEFAULT '{}',
	last_error     TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL,
	last_activity  DATETIME NOT NULL,
	stopped_at     DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sessions_owner_status ON sessions(owner_id, status);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_status_activity ON sessions(status, last_activity);
`

// DefaultMaxOpenConns is the default connection pool size for concurrent reads.
// WAL mode allows multiple readers + 1 writer; more conns improve read throughput.
const DefaultMaxOpenConns = 4

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and perf
// pragmas applied to every new connection. The API, scheduler and health
// monitor overlap freely, so PRAGMAs must ride the DSN to cover every
// connection the driver opens.
func dsnWithPragmas(dbPath string) string {
	// busy_timeout: 15s wait on lock (API + scheduler + health overlap)
	// journal_mode=WAL: concurrent reads during writes
	// synchronous=NORMAL: safe in WAL, ~50x faster writes than FULL
	// cache_size=-64000: 64MB page cache
	// temp_store=MEMORY: temp tables in RAM
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=cache_size(-64000)" +
		"&_pragma=temp_store(MEMORY)"
}

// New opens the store. maxOpenConns controls the connection pool size (0 = default 4).
func New(dbPath string, maxOpenConns int) (*Store, error) {
	dsn := dsnWithPragmas(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = DefaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSession(sess *Session) error {
	meta, err := marshalMetadata(sess.Metadata)
	if err != nil {
		return err
	}
	err = retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO sessions (id, owner_id, container_id, container_name, status, cpu_limit, mem_limit_mb, pids_limit, metadata, last_error, created_at, last_activity, stopped_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
			sess.ID, sess.OwnerID, sess.ContainerID, sess.ContainerName, sess.Status,
			sess.CPULimit, sess.MemLimitMB, sess.PidsLimit, meta, sess.LastError,
			sess.CreatedAt.UTC(), sess.LastActivity.UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, owner_id, container_id, container_name, status, cpu_limit, mem_limit_mb, pids_limit, metadata, last_error, created_at, last_activity, stopped_at
		 FROM sessions WHERE id = ?`, id,
	)
	return scanSession(row)
}

// GetActiveByOwner returns the owner's session currently holding a quota
// slot, or nil when they have none.
func (s *Store) GetActiveByOwner(ownerID string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, owner_id, container_id, container_name, status, cpu_limit, mem_limit_mb, pids_limit, metadata, last_error, created_at, last_activity, stopped_at
		 FROM sessions WHERE owner_id = ? AND status IN `+activeSet+`
		 ORDER BY created_at DESC LIMIT 1`, ownerID,
	)
	return scanSession(row)
}

// ListSessions returns sessions filtered by owner and/or status; empty
// filters match everything.
func (s *Store) ListSessions(ownerID, status string) ([]*Session, error) {
	query := `SELECT id, owner_id, container_id, container_name, status, cpu_limit, mem_limit_mb, pids_limit, metadata, last_error, created_at, last_activity, stopped_at
	 FROM sessions`
	var conds []string
	var args []any
	if ownerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, ownerID)
	}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListIdleRunning returns running sessions whose last activity is at or
// before cutoff. Candidates for the idle pause sweep.
func (s *Store) ListIdleRunning(cutoff time.Time) ([]*Session, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_id, container_id, container_name, status, cpu_limit, mem_limit_mb, pids_limit, metadata, last_error, created_at, last_activity, stopped_at
		 FROM sessions WHERE status = ? AND last_activity <= ?`,
		StatusRunning, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing idle sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListStoppedBefore returns stopped sessions that stopped at or before
// cutoff. Candidates for the destroy sweep.
func (s *Store) ListStoppedBefore(cutoff time.Time) ([]*Session, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_id, container_id, container_name, status, cpu_limit, mem_limit_mb, pids_limit, metadata, last_error, created_at, last_activity, stopped_at
		 FROM sessions WHERE status = ? AND stopped_at IS NOT NULL AND stopped_at <= ?`,
		StatusStopped, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing stopped sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// CompareAndSetStatus transitions id from expected to next in one guarded
// write. A transition to stopped records stopped_at; a transition to running
// clears stopped_at and last_error. Returns ErrStatusConflict when the row
// exists but was not in the expected status, ErrNotFound when it is gone.
func (s *Store) CompareAndSetStatus(id, expected, next string) error {
	var stoppedAt any
	if next == StatusStopped {
		stoppedAt = time.Now().UTC()
	}
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		if next == StatusRunning {
			result, e = s.db.Exec(
				`UPDATE sessions SET status = ?, stopped_at = NULL, last_error = '' WHERE id = ? AND status = ?`,
				next, id, expected,
			)
		} else {
			result, e = s.db.Exec(
				`UPDATE sessions SET status = ?, stopped_at = ? WHERE id = ? AND status = ?`,
				next, stoppedAt, id, expected,
			)
		}
		return e
	})
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	return s.checkStatusWrite(result, id, expected)
}

// SetError transitions id from expected to error, recording the diagnostic.
func (s *Store) SetError(id, expected, detail string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE sessions SET status = ?, last_error = ? WHERE id = ? AND status = ?`,
			StatusError, detail, id, expected,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("recording session error: %w", err)
	}
	return s.checkStatusWrite(result, id, expected)
}

func (s *Store) SetContainer(id, containerID string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE sessions SET container_id = ? WHERE id = ?`, containerID, id,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating session container: %w", err)
	}
	return checkRowAffected(result, id)
}

// ClearContainer drops the engine reference after the container is gone.
func (s *Store) ClearContainer(id string) error {
	return s.SetContainer(id, "")
}

func (s *Store) TouchActivity(id string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE sessions SET last_activity = ? WHERE id = ?`, time.Now().UTC(), id,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating session activity: %w", err)
	}
	return checkRowAffected(result, id)
}

func (s *Store) DeleteSession(id string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
		return e
	})
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return checkRowAffected(result, id)
}

// CountActive returns the number of slot-holding sessions, total and per
// owner. Used to seed the admission controller at startup.
func (s *Store) CountActive() (int, map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT owner_id, COUNT(*) FROM sessions WHERE status IN ` + activeSet + ` GROUP BY owner_id`,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("counting active sessions: %w", err)
	}
	defer rows.Close()

	total := 0
	perOwner := make(map[string]int)
	for rows.Next() {
		var owner string
		var n int
		if err := rows.Scan(&owner, &n); err != nil {
			return 0, nil, fmt.Errorf("scanning active counts: %w", err)
		}
		perOwner[owner] = n
		total += n
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterating active counts: %w", err)
	}
	return total, perOwner, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*Session, error) {
	var sess Session
	var meta string
	var stoppedAt sql.NullTime
	err := row.Scan(
		&sess.ID, &sess.OwnerID, &sess.ContainerID, &sess.ContainerName, &sess.Status,
		&sess.CPULimit, &sess.MemLimitMB, &sess.PidsLimit, &meta, &sess.LastError,
		&sess.CreatedAt, &sess.LastActivity, &stoppedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	if stoppedAt.Valid {
		t := stoppedAt.Time
		sess.StoppedAt = &t
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("decoding session metadata: %w", err)
		}
	}
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*Session, error) {
	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding session metadata: %w", err)
	}
	return string(data), nil
}

func checkRowAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// checkStatusWrite disambiguates a zero-row status update: the session is
// either gone or in a different status than the caller expected.
func (s *Store) checkStatusWrite(result sql.Result, id, expected string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	sess, err := s.GetSession(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: %s is %s, expected %s", ErrStatusConflict, id, sess.Status, expected)
}
