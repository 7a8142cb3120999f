package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/shopspring/decimal"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

// SQLiteStore implements Store on a single SQLite file. The pool is limited to
// one connection so transactions never contend for the write lock.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path (optionally "file:" prefixed, with query
// parameters) to the SQLite database file. If the directory doesn't exist, it
// will be created. In-memory DSNs are not supported because migrations run on
// their own connection.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(sqlitePath(dsn))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	if err := runMigrations("sqlite3", dsn); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite store ready", "dir", dir)
	return &SQLiteStore{db: db}, nil
}

// sqlitePath strips the "file:" scheme and query parameters from a DSN.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
		return err
	}
	return nil
}

func (s *SQLiteStore) GetState(ctx context.Context, phone string) (string, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (phone, state, updated_at) VALUES (?, ?, ?)`,
		phone, DefaultStateToken, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore GetState insert failed", "error", err, "phone", phone)
		return "", unavailable("get state", err)
	}
	var state string
	if err := s.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE phone = ?`, phone).Scan(&state); err != nil {
		return "", unavailable("get state", err)
	}
	return state, nil
}

func (s *SQLiteStore) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT category FROM medications WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, unavailable("list categories", err)
	}
	cats, err := collect(rows, scanString)
	if err != nil {
		return nil, unavailable("list categories", err)
	}
	return cats, nil
}

func (s *SQLiteStore) ListMedicationsByCategory(ctx context.Context, category string) ([]models.Medication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+medicationColumns+` FROM medications WHERE category = ? AND in_stock = 1 ORDER BY brand_name`, category)
	if err != nil {
		return nil, unavailable("list medications by category", err)
	}
	meds, err := collect(rows, scanMedication)
	if err != nil {
		return nil, unavailable("list medications by category", err)
	}
	return meds, nil
}

func (s *SQLiteStore) GetMedicationByName(ctx context.Context, name string) (*models.Medication, error) {
	m, err := scanMedication(s.db.QueryRowContext(ctx,
		`SELECT `+medicationColumns+` FROM medications WHERE brand_name = ?`, name))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get medication", err)
	}
	return &m, nil
}

// SearchMedications has no trigram support in SQLite: it matches substrings
// case-insensitively and ranks brand name prefixes first.
func (s *SQLiteStore) SearchMedications(ctx context.Context, term string) ([]models.Medication, error) {
	pattern := escapeLike(term)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+medicationColumns+`
		FROM medications
		WHERE in_stock = 1
		  AND (brand_name LIKE '%' || ? || '%' ESCAPE '\'
		       OR active_compound LIKE '%' || ? || '%' ESCAPE '\')
		ORDER BY CASE WHEN brand_name LIKE ? || '%' ESCAPE '\' THEN 0 ELSE 1 END, brand_name
		LIMIT ?`, pattern, pattern, pattern, MaxSearchResults)
	if err != nil {
		slog.Error("SQLiteStore SearchMedications failed", "error", err)
		return nil, unavailable("search medications", err)
	}
	meds, err := collect(rows, scanMedication)
	if err != nil {
		return nil, unavailable("search medications", err)
	}
	return meds, nil
}

func (s *SQLiteStore) ListLabTestNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM lab_tests ORDER BY name`)
	if err != nil {
		return nil, unavailable("list lab tests", err)
	}
	names, err := collect(rows, scanString)
	if err != nil {
		return nil, unavailable("list lab tests", err)
	}
	return names, nil
}

func (s *SQLiteStore) GetLabTestByName(ctx context.Context, name string) (*models.LabTest, error) {
	var t models.LabTest
	err := s.db.QueryRowContext(ctx, `SELECT id, name, instructions, price FROM lab_tests WHERE name = ?`, name).
		Scan(&t.ID, &t.Name, &t.Instructions, &t.Price)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get lab test", err)
	}
	return &t, nil
}

func (s *SQLiteStore) UpsertMedication(ctx context.Context, m models.Medication) (uuid.UUID, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO medications (id, brand_name, active_compound, presentation, price, category, in_stock)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (brand_name) DO UPDATE SET
			active_compound = excluded.active_compound,
			presentation = excluded.presentation,
			price = excluded.price,
			category = excluded.category,
			in_stock = excluded.in_stock
		RETURNING id`,
		m.ID, m.BrandName, m.ActiveCompound, m.Presentation, m.Price, m.Category, m.InStock).Scan(&id)
	if err != nil {
		return uuid.Nil, unavailable("upsert medication", err)
	}
	return id, nil
}

func (s *SQLiteStore) UpsertLabTest(ctx context.Context, t models.LabTest) (uuid.UUID, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO lab_tests (id, name, instructions, price) VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET instructions = excluded.instructions, price = excluded.price
		RETURNING id`, t.ID, t.Name, t.Instructions, t.Price).Scan(&id)
	if err != nil {
		return uuid.Nil, unavailable("upsert lab test", err)
	}
	return id, nil
}

func (s *SQLiteStore) FindUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone = ?`, phone))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("find user", err)
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, phone string) (*models.User, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, phone, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		uuid.New(), phone, now, now)
	if err != nil {
		slog.Error("SQLiteStore CreateUser failed", "error", err, "phone", phone)
		return nil, unavailable("create user", err)
	}
	u, err := s.FindUserByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, unavailable("create user", fmt.Errorf("user for %s vanished after insert", phone))
	}
	return u, nil
}

func (s *SQLiteStore) FindPatientByPhone(ctx context.Context, phone string) (*models.Patient, error) {
	p, err := scanPatient(s.db.QueryRowContext(ctx, `SELECT `+patientColumns+` FROM patients WHERE phone = ?`, phone))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("find patient", err)
	}
	return &p, nil
}

func (s *SQLiteStore) CreatePatient(ctx context.Context, userID uuid.UUID, phone string) (*models.Patient, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO patients (id, user_id, phone, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New(), userID, phone, now, now)
	if err != nil {
		slog.Error("SQLiteStore CreatePatient failed", "error", err, "phone", phone)
		return nil, unavailable("create patient", err)
	}
	p, err := s.FindPatientByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, unavailable("create patient", fmt.Errorf("user %s already has a patient under another phone", userID))
	}
	return p, nil
}

func (s *SQLiteStore) FindPendingOrder(ctx context.Context, patientID uuid.UUID) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE patient_id = ? AND status = 'pending'`, patientID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("find pending order", err)
	}
	return &o, nil
}

func (s *SQLiteStore) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get order", err)
	}
	return &o, nil
}

func (s *SQLiteStore) OrderLines(ctx context.Context, orderID uuid.UUID) ([]models.OrderLine, error) {
	return sqliteOrderLines(ctx, s.db, orderID)
}

func (s *SQLiteStore) OrderSummary(ctx context.Context, orderID uuid.UUID) ([]models.TicketLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.brand_name, l.quantity, l.unit_price
		FROM order_lines l
		JOIN medications m ON m.id = l.medication_id
		WHERE l.order_id = ?
		ORDER BY l.rowid`, orderID)
	if err != nil {
		return nil, unavailable("order summary", err)
	}
	lines, err := collect(rows, scanTicketLine)
	if err != nil {
		return nil, unavailable("order summary", err)
	}
	return lines, nil
}

// queryer is the read surface shared by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func sqliteOrderLines(ctx context.Context, q queryer, orderID uuid.UUID) ([]models.OrderLine, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+lineColumns+` FROM order_lines WHERE order_id = ? ORDER BY rowid`, orderID)
	if err != nil {
		return nil, unavailable("order lines", err)
	}
	lines, err := collect(rows, scanLine)
	if err != nil {
		return nil, unavailable("order lines", err)
	}
	return lines, nil
}

// InTx runs fn in a database transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	if err := fn(&liteTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			slog.Error("SQLiteStore InTx rollback failed", "error", rbErr, "cause", err)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return unavailable("commit transaction", err)
	}
	return nil
}

// liteTx implements Tx over an SQLite transaction.
type liteTx struct {
	tx *sql.Tx
}

func (t *liteTx) SetState(ctx context.Context, phone, state string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sessions (phone, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (phone) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		phone, state, time.Now().UTC())
	if err != nil {
		return unavailable("set state", err)
	}
	return nil
}

// column is always one of the constants passed by the Update methods below.
func (t *liteTx) updateRow(ctx context.Context, table, column string, id uuid.UUID, value string) error {
	res, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = ?, updated_at = ? WHERE id = ?`, table, column), value, time.Now().UTC(), id)
	if err != nil {
		return unavailable("update "+table+"."+column, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s.%s %s: %w", table, column, id, ErrNotFound)
	}
	return nil
}

func (t *liteTx) UpdateFirstName(ctx context.Context, userID uuid.UUID, value string) error {
	return t.updateRow(ctx, "users", "first_name", userID, value)
}

func (t *liteTx) UpdatePaternalSurname(ctx context.Context, userID uuid.UUID, value string) error {
	return t.updateRow(ctx, "users", "paternal_surname", userID, value)
}

func (t *liteTx) UpdateMaternalSurname(ctx context.Context, userID uuid.UUID, value string) error {
	return t.updateRow(ctx, "users", "maternal_surname", userID, value)
}

func (t *liteTx) UpdateEmail(ctx context.Context, userID uuid.UUID, value string) error {
	return t.updateRow(ctx, "users", "email", userID, value)
}

func (t *liteTx) UpdateCURP(ctx context.Context, patientID uuid.UUID, value string) error {
	return t.updateRow(ctx, "patients", "curp", patientID, value)
}

func (t *liteTx) UpdateGender(ctx context.Context, patientID uuid.UUID, value string) error {
	return t.updateRow(ctx, "patients", "gender", patientID, value)
}

func (t *liteTx) UpdateAddress(ctx context.Context, patientID uuid.UUID, address string) error {
	return t.updatePatientAndPending(ctx, "delivery_address", patientID, address)
}

func (t *liteTx) UpdatePrescriptionRef(ctx context.Context, patientID uuid.UUID, ref string) error {
	return t.updatePatientAndPending(ctx, "prescription_ref", patientID, ref)
}

func (t *liteTx) updatePatientAndPending(ctx context.Context, column string, patientID uuid.UUID, value string) error {
	if err := t.updateRow(ctx, "patients", column, patientID, value); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE orders SET %s = ?, updated_at = ? WHERE patient_id = ? AND status = 'pending'`, column),
		value, time.Now().UTC(), patientID)
	if err != nil {
		return unavailable("update order "+column, err)
	}
	return nil
}

func (t *liteTx) EnsurePendingOrder(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	now := time.Now().UTC()
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO orders (id, patient_id, status, total, created_at, updated_at)
		VALUES (?, ?, 'pending', '0', ?, ?)`, uuid.New(), patientID, now, now)
	if err != nil {
		return uuid.Nil, unavailable("create pending order", err)
	}
	var id uuid.UUID
	err = t.tx.QueryRowContext(ctx,
		`SELECT id FROM orders WHERE patient_id = ? AND status = 'pending'`, patientID).Scan(&id)
	if err != nil {
		return uuid.Nil, unavailable("find pending order", err)
	}
	return id, nil
}

func (t *liteTx) AddLine(ctx context.Context, orderID, medicationID uuid.UUID, unitPrice decimal.Decimal, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("add line: quantity must be positive, got %d", quantity)
	}
	var status string
	err := t.tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, orderID).Scan(&status)
	if isNoRows(err) {
		return fmt.Errorf("add line to order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return unavailable("load order", err)
	}
	if models.OrderStatus(status) != models.OrderStatusPending {
		return fmt.Errorf("add line: order %s is %s, not pending", orderID, status)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO order_lines (id, order_id, medication_id, quantity, unit_price)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (order_id, medication_id, unit_price)
		DO UPDATE SET quantity = order_lines.quantity + excluded.quantity`,
		uuid.New(), orderID, medicationID, quantity, unitPrice)
	if err != nil {
		return unavailable("insert order line", err)
	}

	lines, err := sqliteOrderLines(ctx, t.tx, orderID)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `UPDATE orders SET total = ?, updated_at = ? WHERE id = ?`,
		sumLines(lines), time.Now().UTC(), orderID)
	if err != nil {
		return unavailable("recompute order total", err)
	}
	return nil
}
