package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/shopspring/decimal"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// PostgresStore implements Store on PostgreSQL. Similarity search uses pg_trgm.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options and
// applies the embedded migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if err := runMigrations("postgres", cfg.DSN); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: migrations failed", "error", err)
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Info("PostgresStore.NewPostgresStore: connected and migrated")
	return &PostgresStore{db: db}, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
		return err
	}
	return nil
}

// GetState returns the session state, inserting the default on first contact.
func (s *PostgresStore) GetState(ctx context.Context, phone string) (string, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sessions (phone, state, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (phone) DO UPDATE SET phone = EXCLUDED.phone
		RETURNING state`, phone, DefaultStateToken).Scan(&state)
	if err != nil {
		slog.Error("PostgresStore.GetState failed", "error", err, "phone", phone)
		return "", unavailable("get state", err)
	}
	return state, nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]string, error) {
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

func (s *PostgresStore) ListMedicationsByCategory(ctx context.Context, category string) ([]models.Medication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+medicationColumns+` FROM medications WHERE category = $1 AND in_stock ORDER BY brand_name`, category)
	if err != nil {
		return nil, unavailable("list medications by category", err)
	}
	meds, err := collect(rows, scanMedication)
	if err != nil {
		return nil, unavailable("list medications by category", err)
	}
	return meds, nil
}

func (s *PostgresStore) GetMedicationByName(ctx context.Context, name string) (*models.Medication, error) {
	m, err := scanMedication(s.db.QueryRowContext(ctx,
		`SELECT `+medicationColumns+` FROM medications WHERE brand_name = $1`, name))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get medication", err)
	}
	return &m, nil
}

// SearchMedications ranks trigram matches on brand name or compound, plus
// substring matches on brand name, by brand name similarity.
func (s *PostgresStore) SearchMedications(ctx context.Context, term string) ([]models.Medication, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+medicationColumns+`
		FROM medications
		WHERE in_stock
		  AND (brand_name % $1::text
		       OR active_compound % $1::text
		       OR brand_name ILIKE '%' || $2::text || '%' ESCAPE '\'
		       OR active_compound ILIKE '%' || $2::text || '%' ESCAPE '\')
		ORDER BY similarity(brand_name, $1::text) DESC, brand_name ASC
		LIMIT $3`, term, escapeLike(term), MaxSearchResults)
	if err != nil {
		slog.Error("PostgresStore.SearchMedications failed", "error", err)
		return nil, unavailable("search medications", err)
	}
	meds, err := collect(rows, scanMedication)
	if err != nil {
		return nil, unavailable("search medications", err)
	}
	return meds, nil
}

func (s *PostgresStore) ListLabTestNames(ctx context.Context) ([]string, error) {
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

func (s *PostgresStore) GetLabTestByName(ctx context.Context, name string) (*models.LabTest, error) {
	var t models.LabTest
	err := s.db.QueryRowContext(ctx, `SELECT id, name, instructions, price FROM lab_tests WHERE name = $1`, name).
		Scan(&t.ID, &t.Name, &t.Instructions, &t.Price)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get lab test", err)
	}
	return &t, nil
}

// UpsertMedication inserts or updates a medication keyed by brand name.
func (s *PostgresStore) UpsertMedication(ctx context.Context, m models.Medication) (uuid.UUID, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO medications (id, brand_name, active_compound, presentation, price, category, in_stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (brand_name) DO UPDATE SET
			active_compound = EXCLUDED.active_compound,
			presentation = EXCLUDED.presentation,
			price = EXCLUDED.price,
			category = EXCLUDED.category,
			in_stock = EXCLUDED.in_stock
		RETURNING id`,
		m.ID, m.BrandName, m.ActiveCompound, m.Presentation, m.Price, m.Category, m.InStock).Scan(&id)
	if err != nil {
		return uuid.Nil, unavailable("upsert medication", err)
	}
	return id, nil
}

// UpsertLabTest inserts or updates a lab test keyed by name.
func (s *PostgresStore) UpsertLabTest(ctx context.Context, t models.LabTest) (uuid.UUID, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO lab_tests (id, name, instructions, price) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET instructions = EXCLUDED.instructions, price = EXCLUDED.price
		RETURNING id`, t.ID, t.Name, t.Instructions, t.Price).Scan(&id)
	if err != nil {
		return uuid.Nil, unavailable("upsert lab test", err)
	}
	return id, nil
}

func (s *PostgresStore) FindUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("find user", err)
	}
	return &u, nil
}

// CreateUser inserts a user with only a phone number. Concurrent or repeated
// calls converge on the same row.
func (s *PostgresStore) CreateUser(ctx context.Context, phone string) (*models.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, phone, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (phone) DO NOTHING`, uuid.New(), phone)
	if err != nil {
		slog.Error("PostgresStore.CreateUser failed", "error", err, "phone", phone)
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

func (s *PostgresStore) FindPatientByPhone(ctx context.Context, phone string) (*models.Patient, error) {
	p, err := scanPatient(s.db.QueryRowContext(ctx, `SELECT `+patientColumns+` FROM patients WHERE phone = $1`, phone))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("find patient", err)
	}
	return &p, nil
}

// CreatePatient inserts the patient linked to userID, or returns the existing one.
func (s *PostgresStore) CreatePatient(ctx context.Context, userID uuid.UUID, phone string) (*models.Patient, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patients (id, user_id, phone, created_at, updated_at) VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT DO NOTHING`, uuid.New(), userID, phone)
	if err != nil {
		slog.Error("PostgresStore.CreatePatient failed", "error", err, "phone", phone)
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

func (s *PostgresStore) FindPendingOrder(ctx context.Context, patientID uuid.UUID) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE patient_id = $1 AND status = 'pending'`, patientID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("find pending order", err)
	}
	return &o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get order", err)
	}
	return &o, nil
}

func (s *PostgresStore) OrderLines(ctx context.Context, orderID uuid.UUID) ([]models.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+lineColumns+` FROM order_lines WHERE order_id = $1 ORDER BY seq`, orderID)
	if err != nil {
		return nil, unavailable("order lines", err)
	}
	lines, err := collect(rows, scanLine)
	if err != nil {
		return nil, unavailable("order lines", err)
	}
	return lines, nil
}

func (s *PostgresStore) OrderSummary(ctx context.Context, orderID uuid.UUID) ([]models.TicketLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.brand_name, l.quantity, l.unit_price
		FROM order_lines l
		JOIN medications m ON m.id = l.medication_id
		WHERE l.order_id = $1
		ORDER BY l.seq`, orderID)
	if err != nil {
		return nil, unavailable("order summary", err)
	}
	lines, err := collect(rows, scanTicketLine)
	if err != nil {
		return nil, unavailable("order summary", err)
	}
	return lines, nil
}

// InTx runs fn in a database transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			slog.Error("PostgresStore.InTx: rollback failed", "error", rbErr, "cause", err)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return unavailable("commit transaction", err)
	}
	return nil
}

// pgTx implements Tx over a PostgreSQL transaction.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) SetState(ctx context.Context, phone, state string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sessions (phone, state, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (phone) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		phone, state)
	if err != nil {
		return unavailable("set state", err)
	}
	return nil
}

// column is always one of the constants passed by the Update methods below.
func (t *pgTx) updateRow(ctx context.Context, table, column string, id uuid.UUID, value string) error {
	res, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = $1, updated_at = NOW() WHERE id = $2`, table, column), value, id)
	if err != nil {
		return unavailable("update "+table+"."+column, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s.%s %s: %w", table, column, id, ErrNotFound)
	}
	return nil
}

func (t *pgTx) UpdateFirstName(ctx context.Context, userID uuid.UUID, value string) error {
	return t.updateRow(ctx, "users", "first_name", userID, value)
}

func (t *pgTx) UpdatePaternalSurname(ctx context.Context, userID uuid.UUID, value string) error {
	return t.updateRow(ctx, "users", "paternal_surname", userID, value)
}

func (t *pgTx) UpdateMaternalSurname(ctx context.Context, userID uuid.UUID, value string) error {
	return t.updateRow(ctx, "users", "maternal_surname", userID, value)
}

func (t *pgTx) UpdateEmail(ctx context.Context, userID uuid.UUID, value string) error {
	return t.updateRow(ctx, "users", "email", userID, value)
}

func (t *pgTx) UpdateCURP(ctx context.Context, patientID uuid.UUID, value string) error {
	return t.updateRow(ctx, "patients", "curp", patientID, value)
}

func (t *pgTx) UpdateGender(ctx context.Context, patientID uuid.UUID, value string) error {
	return t.updateRow(ctx, "patients", "gender", patientID, value)
}

func (t *pgTx) UpdateAddress(ctx context.Context, patientID uuid.UUID, address string) error {
	if err := t.updateRow(ctx, "patients", "delivery_address", patientID, address); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET delivery_address = $1, updated_at = NOW()
		WHERE patient_id = $2 AND status = 'pending'`, address, patientID)
	if err != nil {
		return unavailable("update order address", err)
	}
	return nil
}

func (t *pgTx) UpdatePrescriptionRef(ctx context.Context, patientID uuid.UUID, ref string) error {
	if err := t.updateRow(ctx, "patients", "prescription_ref", patientID, ref); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET prescription_ref = $1, updated_at = NOW()
		WHERE patient_id = $2 AND status = 'pending'`, ref, patientID)
	if err != nil {
		return unavailable("update order prescription", err)
	}
	return nil
}

// EnsurePendingOrder relies on the partial unique index over pending orders:
// a concurrent creator loses the insert and reads the winner's row.
func (t *pgTx) EnsurePendingOrder(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := t.tx.QueryRowContext(ctx,
		`SELECT id FROM orders WHERE patient_id = $1 AND status = 'pending'`, patientID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !isNoRows(err) {
		return uuid.Nil, unavailable("find pending order", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, patient_id, status, total, created_at, updated_at)
		VALUES ($1, $2, 'pending', 0, NOW(), NOW())
		ON CONFLICT DO NOTHING`, uuid.New(), patientID)
	if err != nil {
		return uuid.Nil, unavailable("create pending order", err)
	}
	err = t.tx.QueryRowContext(ctx,
		`SELECT id FROM orders WHERE patient_id = $1 AND status = 'pending'`, patientID).Scan(&id)
	if err != nil {
		return uuid.Nil, unavailable("reload pending order", err)
	}
	slog.Debug("pgTx.EnsurePendingOrder: pending order ready", "patient_id", patientID, "order_id", id)
	return id, nil
}

func (t *pgTx) AddLine(ctx context.Context, orderID, medicationID uuid.UUID, unitPrice decimal.Decimal, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("add line: quantity must be positive, got %d", quantity)
	}
	var status string
	err := t.tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&status)
	if isNoRows(err) {
		return fmt.Errorf("add line to order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return unavailable("lock order", err)
	}
	if models.OrderStatus(status) != models.OrderStatusPending {
		return fmt.Errorf("add line: order %s is %s, not pending", orderID, status)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO order_lines (id, order_id, medication_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, medication_id, unit_price)
		DO UPDATE SET quantity = order_lines.quantity + EXCLUDED.quantity`,
		uuid.New(), orderID, medicationID, quantity, unitPrice)
	if err != nil {
		return unavailable("insert order line", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		UPDATE orders SET
			total = (SELECT COALESCE(SUM(quantity * unit_price), 0) FROM order_lines WHERE order_id = $1),
			updated_at = NOW()
		WHERE id = $1`, orderID)
	if err != nil {
		return unavailable("recompute order total", err)
	}
	return nil
}
