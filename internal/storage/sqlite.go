// Package storage persists all relational state in a single SQLite database:
// chat history, maintenance tickets, feedback, registered users, and
// extracted contract summaries. Vector storage shares the same database via
// the knowledge package.
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

// Store wraps a SQLite database with methods for the chatbot's persistence needs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "leasebot.db")
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

// DB exposes the underlying connection for the vector store, which shares
// this database.
func (s *Store) DB() *sql.DB {
	return s.db
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

// --- Chat history ---

// AppendMessage appends one message to a tenant's conversation log. Each
// append is its own transaction: a failed assistant append never rolls back
// the preceding human append.
func (s *Store) AppendMessage(tenantID, role, content string) error {
	_, err := s.db.Exec(`
		INSERT INTO chat_history (tenant_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`,
		tenantID, role, content, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("appending %s message: %w", role, err)
	}
	return nil
}

// GetMessages returns a tenant's full conversation log in append order.
func (s *Store) GetMessages(tenantID string) ([]ChatMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, tenant_id, role, content, created_at
		FROM chat_history WHERE tenant_id = ? ORDER BY id ASC`, tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// GetRecentMessages returns the last n messages in chronological order.
func (s *Store) GetRecentMessages(tenantID string, n int) ([]ChatMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, tenant_id, role, content, created_at FROM (
			SELECT id, tenant_id, role, content, created_at
			FROM chat_history WHERE tenant_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, tenantID, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ClearMessages deletes a tenant's entire conversation log.
func (s *Store) ClearMessages(tenantID string) error {
	_, err := s.db.Exec("DELETE FROM chat_history WHERE tenant_id = ?", tenantID)
	return err
}

func scanMessages(rows *sql.Rows) ([]ChatMessage, error) {
	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// --- Maintenance requests ---

// CreateMaintenanceRequest files a ticket and returns its numeric id.
func (s *Store) CreateMaintenanceRequest(tenantID, location, description, priority string) (int64, error) {
	if priority == "" {
		priority = "Standard"
	}
	res, err := s.db.Exec(`
		INSERT INTO maintenance_requests (tenant_id, location, description, status, priority, created_at)
		VALUES (?, ?, ?, 'Pending', ?, ?)`,
		tenantID, location, description, priority, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting maintenance request: %w", err)
	}
	return res.LastInsertId()
}

// ListMaintenanceRequests returns a tenant's tickets, newest first.
func (s *Store) ListMaintenanceRequests(tenantID string) ([]MaintenanceRequest, error) {
	rows, err := s.db.Query(`
		SELECT request_id, tenant_id, location, description, status, priority, created_at
		FROM maintenance_requests WHERE tenant_id = ? ORDER BY request_id DESC`, tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []MaintenanceRequest
	for rows.Next() {
		var r MaintenanceRequest
		var createdAt string
		if err := rows.Scan(&r.RequestID, &r.TenantID, &r.Location, &r.Description, &r.Status, &r.Priority, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// --- Feedback ---

// SaveFeedback records a rating a tenant left on a bot response.
func (s *Store) SaveFeedback(f Feedback) error {
	_, err := s.db.Exec(`
		INSERT INTO user_feedback (tenant_id, query, response, rating, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.TenantID, f.Query, f.Response, f.Rating, f.Comment,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}
	return nil
}

// --- Users ---

// RegisterUser creates a user row. Returns ErrExists if the tenant identity
// is already registered.
func (s *Store) RegisterUser(tenantID, userName string) error {
	_, err := s.db.Exec(`
		INSERT INTO users (tenant_id, user_name, created_at) VALUES (?, ?, ?)`,
		tenantID, userName, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// UserExists reports whether the tenant identity is registered.
func (s *Store) UserExists(tenantID string) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM users WHERE tenant_id = ?", tenantID).Scan(&n)
	return n > 0, err
}

// SetRentSchedule records the rent amount and due day used by the reminder job.
// Nil values leave the corresponding column untouched.
func (s *Store) SetRentSchedule(tenantID string, monthlyRent *float64, dueDay *int) error {
	res, err := s.db.Exec(`
		UPDATE users SET
			monthly_rent = COALESCE(?, monthly_rent),
			rent_due_day = COALESCE(?, rent_due_day)
		WHERE tenant_id = ?`,
		monthlyRent, dueDay, tenantID,
	)
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
	return nil
}

// ListUsers returns all registered users.
func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`
		SELECT tenant_id, user_name, monthly_rent, rent_due_day, created_at
		FROM users ORDER BY tenant_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var rent sql.NullFloat64
		var dueDay sql.NullInt64
		var createdAt string
		if err := rows.Scan(&u.TenantID, &u.UserName, &rent, &dueDay, &createdAt); err != nil {
			return nil, err
		}
		if rent.Valid {
			u.MonthlyRent = &rent.Float64
		}
		if dueDay.Valid {
			d := int(dueDay.Int64)
			u.RentDueDay = &d
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		u.CreatedAt = t
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Contract summaries ---

// SaveContractSummary upserts the extracted summary for a tenant index.
func (s *Store) SaveContractSummary(tenantHash string, sum ContractSummary) error {
	_, err := s.db.Exec(`
		INSERT INTO contract_summaries
			(tenant_hash, monthly_rent, security_deposit, lease_start_date, lease_end_date, tenant_name, landlord_name, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_hash) DO UPDATE SET
			monthly_rent = excluded.monthly_rent,
			security_deposit = excluded.security_deposit,
			lease_start_date = excluded.lease_start_date,
			lease_end_date = excluded.lease_end_date,
			tenant_name = excluded.tenant_name,
			landlord_name = excluded.landlord_name,
			updated_at = excluded.updated_at`,
		tenantHash, sum.MonthlyRent, sum.SecurityDeposit,
		nullString(sum.LeaseStartDate), nullString(sum.LeaseEndDate),
		nullString(sum.TenantName), nullString(sum.LandlordName),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting contract summary: %w", err)
	}
	return nil
}

// GetContractSummary returns the stored summary for a tenant index, or
// ErrNotFound if no contract has been uploaded.
func (s *Store) GetContractSummary(tenantHash string) (ContractSummary, error) {
	var sum ContractSummary
	var rent, deposit sql.NullFloat64
	var start, end, tenantName, landlordName sql.NullString
	err := s.db.QueryRow(`
		SELECT monthly_rent, security_deposit, lease_start_date, lease_end_date, tenant_name, landlord_name
		FROM contract_summaries WHERE tenant_hash = ?`, tenantHash,
	).Scan(&rent, &deposit, &start, &end, &tenantName, &landlordName)
	if err == sql.ErrNoRows {
		return ContractSummary{}, ErrNotFound
	}
	if err != nil {
		return ContractSummary{}, err
	}
	if rent.Valid {
		sum.MonthlyRent = &rent.Float64
	}
	if deposit.Valid {
		sum.SecurityDeposit = &deposit.Float64
	}
	sum.LeaseStartDate = start.String
	sum.LeaseEndDate = end.String
	sum.TenantName = tenantName.String
	sum.LandlordName = landlordName.String
	return sum, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
