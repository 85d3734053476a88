package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding chat sessions, their messages, and
// their monitored IP ranges.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "sentinelx.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Sessions ---

// SaveSession inserts or updates a session. CreatedAt is only written on insert.
func (s *Store) SaveSession(sess Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, agent_active, cli_fallback, discovery_active, scanning_active, scale, page, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_active = excluded.agent_active,
			cli_fallback = excluded.cli_fallback,
			discovery_active = excluded.discovery_active,
			scanning_active = excluded.scanning_active,
			scale = excluded.scale,
			page = excluded.page,
			updated_at = excluded.updated_at`,
		sess.ID, sess.AgentActive, sess.CLIFallback, sess.DiscoveryActive, sess.ScanningActive,
		sess.Scale, sess.Page, sess.CreatedAt.UTC().Format(time.RFC3339), sess.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

const sessionColumns = `id, agent_active, cli_fallback, discovery_active, scanning_active, scale, page, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var createdAt, updatedAt string
	if err := row.Scan(&sess.ID, &sess.AgentActive, &sess.CLIFallback, &sess.DiscoveryActive, &sess.ScanningActive,
		&sess.Scale, &sess.Page, &createdAt, &updatedAt); err != nil {
		return Session{}, err
	}
	var err error
	if sess.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Session{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return sess, nil
}

func (s *Store) GetSession(id string) (Session, error) {
	sess, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// ListSessions returns the most recently updated sessions first.
func (s *Store) ListSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sess)
	}
	return results, rows.Err()
}

// DeleteSession removes a session together with its messages and ranges.
func (s *Store) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM ip_ranges WHERE session_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Messages ---

func (s *Store) SaveMessage(m Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, session_id, role, text, topic, persona, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Text, m.Topic, m.Persona, m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetMessages returns up to limit of the newest messages of a session,
// oldest first. A limit of zero or less returns all of them.
func (s *Store) GetMessages(sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, role, text, topic, persona, created_at FROM (
			SELECT seq, id, session_id, role, text, topic, persona, created_at
			FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Text, &m.Topic, &m.Persona, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		results = append(results, m)
	}
	return results, rows.Err()
}

// ClearMessages deletes the message history of a session.
func (s *Store) ClearMessages(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}

// --- IP ranges ---

// ReplaceRanges stores ranges as the complete range list of a session.
func (s *Store) ReplaceRanges(sessionID string, ranges []IPRange) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ip_ranges WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	for i, r := range ranges {
		if _, err := tx.Exec(`
			INSERT INTO ip_ranges (id, session_id, position, name, cidr, location, organization, status, devices, services, vulnerabilities, bandwidth)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, sessionID, i, r.Name, r.CIDR, r.Location, r.Organization, r.Status,
			r.Devices, r.Services, r.Vulnerabilities, r.Bandwidth,
		); err != nil {
			return fmt.Errorf("inserting range %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetRanges(sessionID string) ([]IPRange, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, name, cidr, location, organization, status, devices, services, vulnerabilities, bandwidth
		FROM ip_ranges WHERE session_id = ? ORDER BY position ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IPRange
	for rows.Next() {
		var r IPRange
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Name, &r.CIDR, &r.Location, &r.Organization, &r.Status,
			&r.Devices, &r.Services, &r.Vulnerabilities, &r.Bandwidth); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Counts returns row counts for the status report.
func (s *Store) Counts() (Counts, error) {
	var c Counts
	err := s.db.QueryRow(`SELECT
		(SELECT COUNT(*) FROM sessions),
		(SELECT COUNT(*) FROM messages),
		(SELECT COUNT(*) FROM ip_ranges)`).Scan(&c.Sessions, &c.Messages, &c.Ranges)
	return c, err
}
