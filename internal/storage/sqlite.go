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

	"github.com/kalambet/ticketboard/internal/ticket"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database holding tickets and their history.
type Store struct {
	db  *sql.DB
	now func() time.Time
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
		dsn = filepath.Join(dataDir, "tickets.db")
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

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
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

// --- Tickets ---

const ticketColumns = `id, title, description, priority, status, assignee, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(row scanner) (ticket.Ticket, error) {
	var t ticket.Ticket
	var priority, status, createdAt string
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &priority, &status, &t.Assignee, &createdAt); err != nil {
		return ticket.Ticket{}, err
	}
	t.Priority = ticket.Priority(priority)
	t.Status = ticket.Status(status)
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("parsing created_at: %w", err)
	}
	t.CreatedAt = ts
	return t, nil
}

// CreateTicket stores a new ticket under id and returns it with its
// creation time set.
func (s *Store) CreateTicket(id string, f ticket.Fields) (ticket.Ticket, error) {
	now := s.now()
	t := ticket.Ticket{ID: id, CreatedAt: now}.WithFields(f)
	stamp := now.Format(timeLayout)

	tx, err := s.db.Begin()
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("beginning create transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO tickets (id, title, description, priority, status, assignee, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Priority), string(t.Status), t.Assignee, stamp, stamp,
	); err != nil {
		return ticket.Ticket{}, err
	}
	if err := recordEvent(tx, t.ID, EventCreated, "", string(t.Status), stamp); err != nil {
		return ticket.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return ticket.Ticket{}, fmt.Errorf("committing create: %w", err)
	}
	return t, nil
}

func (s *Store) GetTicket(id string) (ticket.Ticket, error) {
	t, err := scanTicket(s.db.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return ticket.Ticket{}, ErrNotFound
	}
	if err != nil {
		return ticket.Ticket{}, err
	}
	return t, nil
}

// ListTickets returns every ticket, oldest first.
func (s *Store) ListTickets() ([]ticket.Ticket, error) {
	rows, err := s.db.Query(`SELECT ` + ticketColumns + ` FROM tickets ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// UpdateTicket overwrites the editable fields of ticket id and returns the
// stored result. id and created_at never change.
func (s *Store) UpdateTicket(id string, f ticket.Fields) (ticket.Ticket, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("beginning update transaction: %w", err)
	}
	defer tx.Rollback()

	prev, err := scanTicket(tx.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return ticket.Ticket{}, ErrNotFound
	}
	if err != nil {
		return ticket.Ticket{}, err
	}

	stamp := s.now().Format(timeLayout)
	if _, err := tx.Exec(`
		UPDATE tickets SET title = ?, description = ?, priority = ?, status = ?, assignee = ?, updated_at = ?
		WHERE id = ?`,
		f.Title, f.Description, string(f.Priority), string(f.Status), f.Assignee, stamp, id,
	); err != nil {
		return ticket.Ticket{}, err
	}

	kind := EventUpdated
	if prev.Status != f.Status {
		kind = EventMoved
	}
	if err := recordEvent(tx, id, kind, string(prev.Status), string(f.Status), stamp); err != nil {
		return ticket.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return ticket.Ticket{}, fmt.Errorf("committing update: %w", err)
	}
	return prev.WithFields(f), nil
}

func (s *Store) DeleteTicket(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM tickets WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM tickets WHERE id = ?`, id); err != nil {
		return err
	}
	if err := recordEvent(tx, id, EventDeleted, status, "", s.now().Format(timeLayout)); err != nil {
		return err
	}
	return tx.Commit()
}

// CountByStatus returns the number of tickets in each status that has any.
func (s *Store) CountByStatus() (map[ticket.Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tickets GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[ticket.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[ticket.Status(status)] = n
	}
	return counts, rows.Err()
}

// --- History ---

func recordEvent(tx *sql.Tx, ticketID, kind, from, to, stamp string) error {
	if _, err := tx.Exec(`
		INSERT INTO ticket_events (ticket_id, kind, from_status, to_status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ticketID, kind, from, to, stamp,
	); err != nil {
		return fmt.Errorf("recording %s event: %w", kind, err)
	}
	return nil
}

// TicketHistory returns the events recorded for ticketID, oldest first.
// History outlives the ticket, so a deleted ticket still has one.
func (s *Store) TicketHistory(ticketID string, limit int) ([]TicketEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, ticket_id, kind, from_status, to_status, created_at
		FROM ticket_events WHERE ticket_id = ? ORDER BY id ASC LIMIT ?`, ticketID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []TicketEvent
	for rows.Next() {
		var ev TicketEvent
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.TicketID, &ev.Kind, &ev.FromStatus, &ev.ToStatus, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		ev.CreatedAt = t
		events = append(events, ev)
	}
	return events, rows.Err()
}
