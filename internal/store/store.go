// Package store provides SQLite persistence for notes, reminders, and
// the append-only audit log. All writes are append-or-flip operations;
// nothing here is ever rewritten in place except reminder trigger state.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store handles note, reminder, and audit persistence.
type Store struct {
	db *sql.DB
}

// New creates a store at the given database path. The schema is created
// automatically on first use.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		id         TEXT PRIMARY KEY,
		owner_id   TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reminders (
		id           TEXT PRIMARY KEY,
		owner_id     TEXT NOT NULL,
		text         TEXT NOT NULL,
		remind_at    TEXT NOT NULL,
		expires_at   TEXT NOT NULL,
		triggered    INTEGER NOT NULL DEFAULT 0,
		triggered_at TEXT,
		dismissed    INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id   TEXT,
		level      TEXT NOT NULL,
		message    TEXT NOT NULL,
		source     TEXT NOT NULL,
		extra_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notes_owner ON notes(owner_id);
	CREATE INDEX IF NOT EXISTS idx_reminders_owner ON reminders(owner_id);
	CREATE INDEX IF NOT EXISTS idx_audit_owner ON audit_log(owner_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		return uuid.New().String()
	}
	return id.String()
}

// Note is a saved piece of free text.
type Note struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateNote persists a new note, assigning an ID if absent.
func (s *Store) CreateNote(n *Note) error {
	if n.ID == "" {
		n.ID = NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO notes (id, owner_id, content, created_at)
		VALUES (?, ?, ?, ?)
	`, n.ID, n.OwnerID, n.Content, n.CreatedAt.Format(time.RFC3339Nano))

	return err
}

// GetNote retrieves a note by ID. Returns nil, nil when not found.
func (s *Store) GetNote(id string) (*Note, error) {
	row := s.db.QueryRow(`
		SELECT id, owner_id, content, created_at FROM notes WHERE id = ?
	`, id)

	var n Note
	var createdAt string
	err := row.Scan(&n.ID, &n.OwnerID, &n.Content, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note %s: %w", id, err)
	}
	n.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &n, nil
}

// ListNotes returns an owner's notes, newest first.
func (s *Store) ListNotes(ownerID string, limit int) ([]*Note, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, owner_id, content, created_at FROM notes
		WHERE owner_id = ? ORDER BY created_at DESC LIMIT ?
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		var n Note
		var createdAt string
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		notes = append(notes, &n)
	}
	return notes, rows.Err()
}

// Reminder is a delayed notification. It is created by the reminder
// command and flipped to triggered exactly once by the dispatcher.
type Reminder struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Text        string     `json:"text"`
	RemindAt    time.Time  `json:"remind_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Triggered   bool       `json:"triggered"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
	Dismissed   bool       `json:"dismissed"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateReminder persists a new reminder, assigning an ID if absent.
func (s *Store) CreateReminder(r *Reminder) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO reminders (id, owner_id, text, remind_at, expires_at, triggered, dismissed, created_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?)
	`, r.ID, r.OwnerID, r.Text,
		r.RemindAt.Format(time.RFC3339Nano), r.ExpiresAt.Format(time.RFC3339Nano),
		r.CreatedAt.Format(time.RFC3339Nano))

	return err
}

// GetReminder retrieves a reminder by ID. Returns nil, nil when not found.
func (s *Store) GetReminder(id string) (*Reminder, error) {
	row := s.db.QueryRow(`
		SELECT id, owner_id, text, remind_at, expires_at, triggered, triggered_at, dismissed, created_at
		FROM reminders WHERE id = ?
	`, id)
	return scanReminder(row)
}

func scanReminder(row *sql.Row) (*Reminder, error) {
	var r Reminder
	var remindAt, expiresAt, createdAt string
	var triggeredAt sql.NullString
	var triggered, dismissed int

	err := row.Scan(&r.ID, &r.OwnerID, &r.Text, &remindAt, &expiresAt, &triggered, &triggeredAt, &dismissed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan reminder: %w", err)
	}

	r.RemindAt, _ = time.Parse(time.RFC3339Nano, remindAt)
	r.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.Triggered = triggered != 0
	r.Dismissed = dismissed != 0
	if triggeredAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, triggeredAt.String)
		r.TriggeredAt = &t
	}
	return &r, nil
}

// MarkReminderTriggered flips a reminder to triggered, unless it was
// already triggered or dismissed. Returns true when this call performed
// the flip, so concurrent triggers settle on exactly one winner.
func (s *Store) MarkReminderTriggered(id string, at time.Time) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE reminders SET triggered = 1, triggered_at = ?
		WHERE id = ? AND triggered = 0 AND dismissed = 0
	`, at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return false, fmt.Errorf("mark reminder triggered %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DismissReminder marks a reminder dismissed so a later trigger becomes
// a no-op. No error when the reminder does not exist.
func (s *Store) DismissReminder(id string) error {
	_, err := s.db.Exec(`UPDATE reminders SET dismissed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("dismiss reminder %s: %w", id, err)
	}
	return nil
}

// ListPendingReminders returns an owner's untriggered, undismissed
// reminders ordered by remind time.
func (s *Store) ListPendingReminders(ownerID string) ([]*Reminder, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, text, remind_at, expires_at, triggered, triggered_at, dismissed, created_at
		FROM reminders
		WHERE owner_id = ? AND triggered = 0 AND dismissed = 0
		ORDER BY remind_at
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		var r Reminder
		var remindAt, expiresAt, createdAt string
		var triggeredAt sql.NullString
		var triggered, dismissed int
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Text, &remindAt, &expiresAt, &triggered, &triggeredAt, &dismissed, &createdAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.RemindAt, _ = time.Parse(time.RFC3339Nano, remindAt)
		r.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		r.Triggered = triggered != 0
		r.Dismissed = dismissed != 0
		reminders = append(reminders, &r)
	}
	return reminders, rows.Err()
}

// AuditEntry is one line of the append-only audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	OwnerID   string         `json:"owner_id,omitempty"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Source    string         `json:"source"`
	Extra     map[string]any `json:"extra,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AppendAudit writes an audit entry. Failures are returned, not fatal;
// callers treat audit writes as best-effort.
func (s *Store) AppendAudit(e *AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var extraJSON []byte
	if e.Extra != nil {
		var err error
		extraJSON, err = json.Marshal(e.Extra)
		if err != nil {
			return fmt.Errorf("marshal audit extra: %w", err)
		}
	}

	res, err := s.db.Exec(`
		INSERT INTO audit_log (owner_id, level, message, source, extra_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.OwnerID, e.Level, e.Message, e.Source, string(extraJSON), e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// ListAudit returns the most recent audit entries for an owner, newest
// first. An empty ownerID returns entries regardless of owner.
func (s *Store) ListAudit(ownerID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, owner_id, level, message, source, extra_json, created_at
		FROM audit_log WHERE (? = '' OR owner_id = ?)
		ORDER BY id DESC LIMIT ?
	`
	rows, err := s.db.Query(query, ownerID, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var extraJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Level, &e.Message, &e.Source, &extraJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if extraJSON.Valid && extraJSON.String != "" {
			_ = json.Unmarshal([]byte(extraJSON.String), &e.Extra)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
