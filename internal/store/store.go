// Package store persists the caregiving data model (profile, medications,
// contacts, bills, conversation history, ride lookups) in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"carebot/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// profileID is the fixed primary key of the single profile row.
const profileID = "main"

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_profile (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		age         INTEGER DEFAULT 0,
		address     TEXT,
		city        TEXT,
		email       TEXT,
		phone       TEXT,
		timezone    TEXT,
		notes       TEXT,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS medications (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		dosage      TEXT,
		frequency   TEXT,
		time_of_day TEXT,
		notes       TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS medication_log (
		id            TEXT PRIMARY KEY,
		medication_id TEXT NOT NULL,
		name          TEXT NOT NULL,
		taken_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_medlog_time ON medication_log(taken_at);

	CREATE TABLE IF NOT EXISTS emergency_contacts (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		relation    TEXT,
		phone       TEXT,
		email       TEXT,
		is_primary  INTEGER DEFAULT 0,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS bill_reminders (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		amount      REAL NOT NULL,
		due_date    TEXT NOT NULL,
		recurrence  TEXT DEFAULT 'monthly',
		paid        INTEGER DEFAULT 0,
		notes       TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_bills_due ON bill_reminders(due_date);

	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		channel     TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role            TEXT NOT NULL,
		content         TEXT,
		tool_calls      TEXT,
		tool_call_id    TEXT,
		tool_name       TEXT,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS ride_lookups (
		id          TEXT PRIMARY KEY,
		data        TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS ride_lookup_cache (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		route_key   TEXT NOT NULL,
		data        TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_ridecache_route ON ride_lookup_cache(route_key, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- Profile ---

func (s *Store) GetProfile(ctx context.Context) (*domain.UserProfile, error) {
	var p domain.UserProfile
	var address, city, email, phone, timezone, notes sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, age, address, city, email, phone, timezone, notes, updated_at
		 FROM user_profile WHERE id = ?`, profileID,
	).Scan(&p.ID, &p.Name, &p.Age, &address, &city, &email, &phone, &timezone, &notes, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Address = address.String
	p.City = city.String
	p.Email = email.String
	p.Phone = phone.String
	p.Timezone = timezone.String
	p.Notes = notes.String
	return &p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p domain.UserProfile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_profile (id, name, age, address, city, email, phone, timezone, notes, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, age=excluded.age, address=excluded.address,
		   city=excluded.city, email=excluded.email, phone=excluded.phone,
		   timezone=excluded.timezone, notes=excluded.notes, updated_at=excluded.updated_at`,
		profileID, p.Name, p.Age, p.Address, p.City, p.Email, p.Phone, p.Timezone, p.Notes, time.Now(),
	)
	return err
}

// --- Medications ---

func (s *Store) ListMedications(ctx context.Context) ([]domain.Medication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, dosage, frequency, time_of_day, notes, created_at
		 FROM medications ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meds []domain.Medication
	for rows.Next() {
		var m domain.Medication
		var dosage, frequency, timeOfDay, notes sql.NullString
		if err := rows.Scan(&m.ID, &m.Name, &dosage, &frequency, &timeOfDay, &notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Dosage = dosage.String
		m.Frequency = frequency.String
		m.TimeOfDay = timeOfDay.String
		m.Notes = notes.String
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

func (s *Store) AddMedication(ctx context.Context, m domain.Medication) (domain.Medication, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO medications (id, name, dosage, frequency, time_of_day, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Dosage, m.Frequency, m.TimeOfDay, m.Notes, m.CreatedAt,
	)
	return m, err
}

func (s *Store) DeleteMedication(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM medications WHERE id = ?`, id)
	return err
}

// FindMedicationByName matches case-insensitively on the medication name.
func (s *Store) FindMedicationByName(ctx context.Context, name string) (*domain.Medication, error) {
	var m domain.Medication
	var dosage, frequency, timeOfDay, notes sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, dosage, frequency, time_of_day, notes, created_at
		 FROM medications WHERE LOWER(name) = LOWER(?) LIMIT 1`, strings.TrimSpace(name),
	).Scan(&m.ID, &m.Name, &dosage, &frequency, &timeOfDay, &notes, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Dosage = dosage.String
	m.Frequency = frequency.String
	m.TimeOfDay = timeOfDay.String
	m.Notes = notes.String
	return &m, nil
}

func (s *Store) LogMedicationTaken(ctx context.Context, medicationID, name string, takenAt time.Time) (domain.MedicationLogEntry, error) {
	entry := domain.MedicationLogEntry{
		ID:           uuid.NewString(),
		MedicationID: medicationID,
		Name:         name,
		TakenAt:      takenAt,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO medication_log (id, medication_id, name, taken_at) VALUES (?, ?, ?, ?)`,
		entry.ID, entry.MedicationID, entry.Name, entry.TakenAt,
	)
	return entry, err
}

// MedicationLog returns entries from the last `days` days, newest first.
func (s *Store) MedicationLog(ctx context.Context, days int) ([]domain.MedicationLogEntry, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, medication_id, name, taken_at FROM medication_log
		 WHERE taken_at >= ? ORDER BY taken_at DESC`, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.MedicationLogEntry
	for rows.Next() {
		var e domain.MedicationLogEntry
		if err := rows.Scan(&e.ID, &e.MedicationID, &e.Name, &e.TakenAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Emergency contacts ---

func (s *Store) ListContacts(ctx context.Context) ([]domain.EmergencyContact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, relation, phone, email, is_primary, created_at
		 FROM emergency_contacts ORDER BY is_primary DESC, created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []domain.EmergencyContact
	for rows.Next() {
		var c domain.EmergencyContact
		var relation, phone, email sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &relation, &phone, &email, &c.IsPrimary, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Relation = relation.String
		c.Phone = phone.String
		c.Email = email.String
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (s *Store) AddContact(ctx context.Context, c domain.EmergencyContact) (domain.EmergencyContact, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emergency_contacts (id, name, relation, phone, email, is_primary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Relation, c.Phone, c.Email, c.IsPrimary, c.CreatedAt,
	)
	return c, err
}

func (s *Store) UpdateContact(ctx context.Context, c domain.EmergencyContact) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE emergency_contacts SET name=?, relation=?, phone=?, email=?, is_primary=? WHERE id=?`,
		c.Name, c.Relation, c.Phone, c.Email, c.IsPrimary, c.ID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("contact not found: %s", c.ID)
	}
	return nil
}

func (s *Store) DeleteContact(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM emergency_contacts WHERE id=?`, id)
	return err
}

// FindContactByName matches on a case-insensitive substring of the name.
func (s *Store) FindContactByName(ctx context.Context, name string) (*domain.EmergencyContact, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return nil, nil
	}
	contacts, err := s.ListContacts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		if strings.Contains(strings.ToLower(contacts[i].Name), name) {
			return &contacts[i], nil
		}
	}
	return nil, nil
}

// --- Bill reminders ---

func (s *Store) ListBills(ctx context.Context, unpaidOnly bool) ([]domain.BillReminder, error) {
	q := `SELECT id, name, amount, due_date, recurrence, paid, notes, created_at
	      FROM bill_reminders`
	if unpaidOnly {
		q += ` WHERE paid = 0`
	}
	q += ` ORDER BY due_date`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bills []domain.BillReminder
	for rows.Next() {
		var b domain.BillReminder
		var recurrence, notes sql.NullString
		if err := rows.Scan(&b.ID, &b.Name, &b.Amount, &b.DueDate, &recurrence, &b.Paid, &notes, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Recurrence = recurrence.String
		b.Notes = notes.String
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

func (s *Store) AddBill(ctx context.Context, b domain.BillReminder) (domain.BillReminder, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Recurrence == "" {
		b.Recurrence = "monthly"
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bill_reminders (id, name, amount, due_date, recurrence, paid, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Amount, b.DueDate, b.Recurrence, b.Paid, b.Notes, b.CreatedAt,
	)
	return b, err
}

// MarkBillPaid marks a bill paid by id, or by case-insensitive name match
// when no id matches.
func (s *Store) MarkBillPaid(ctx context.Context, idOrName string) (*domain.BillReminder, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE bill_reminders SET paid = 1 WHERE id = ?`, idOrName)
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		res, err = s.db.ExecContext(ctx,
			`UPDATE bill_reminders SET paid = 1
			 WHERE paid = 0 AND LOWER(name) LIKE '%' || LOWER(?) || '%'`, idOrName)
		if err != nil {
			return nil, err
		}
		n, _ = res.RowsAffected()
		if n == 0 {
			return nil, nil
		}
	}

	var b domain.BillReminder
	var recurrence, notes sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT id, name, amount, due_date, recurrence, paid, notes, created_at
		 FROM bill_reminders
		 WHERE paid = 1 AND (id = ? OR LOWER(name) LIKE '%' || LOWER(?) || '%')
		 ORDER BY created_at DESC LIMIT 1`, idOrName, idOrName,
	).Scan(&b.ID, &b.Name, &b.Amount, &b.DueDate, &recurrence, &b.Paid, &notes, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.Recurrence = recurrence.String
	b.Notes = notes.String
	return &b, nil
}

func (s *Store) DeleteBill(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bill_reminders WHERE id=?`, id)
	return err
}

// --- Conversations ---

func (s *Store) EnsureConversation(ctx context.Context, id, channel string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, channel, created_at, updated_at)
		 VALUES (?, ?, ?, ?)`, id, channel, now, now,
	)
	return err
}

func (s *Store) AddMessage(ctx context.Context, convID string, msg domain.Message) error {
	toolCalls := ""
	if len(msg.ToolCalls) > 0 {
		toolCalls = marshalToolCalls(msg.ToolCalls)
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, tool_calls, tool_call_id, tool_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		convID, msg.Role, msg.Content, toolCalls, msg.ToolCallID, msg.ToolName, now,
	)
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, convID)
	return nil
}

// GetMessages returns the last N messages in chronological order.
func (s *Store) GetMessages(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id, tool_name
		 FROM messages WHERE conversation_id = ?
		 ORDER BY id DESC LIMIT ?`, convID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var toolCalls, toolCallID, toolName sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &toolCallID, &toolName); err != nil {
			return nil, err
		}
		m.ToolCallID = toolCallID.String
		m.ToolName = toolName.String
		if toolCalls.String != "" {
			m.ToolCalls = unmarshalToolCalls(toolCalls.String)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func marshalToolCalls(calls []domain.ToolCall) string {
	b, err := json.Marshal(calls)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalToolCalls(s string) []domain.ToolCall {
	var calls []domain.ToolCall
	if err := json.Unmarshal([]byte(s), &calls); err != nil {
		return nil
	}
	return calls
}
