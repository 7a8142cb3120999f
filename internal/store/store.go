// Package store provides storage backends for the Biotecza bot.
//
// It includes an in-memory store for tests and single-process demos, and
// PostgreSQL and SQLite stores for persistent deployments. Every backend
// implements Store: session state, profiles, the read-only catalog, orders and
// inbound message deduplication.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/shopspring/decimal"
)

// DefaultStateToken is the conversation state assigned on first contact.
const DefaultStateToken = "INICIO"

// MaxSearchResults caps SearchMedications.
const MaxSearchResults = 10

// ErrNotFound is returned when a write targets a row that does not exist.
var ErrNotFound = errors.New("store: not found")

// UnavailableError reports a backend failure (connection, query, constraint).
// The conversation layer treats it as fatal for the whole transition.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err wraps an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}

// SessionStore holds the single conversation state of each phone number.
type SessionStore interface {
	// GetState returns the stored state token, creating DefaultStateToken on
	// first contact.
	GetState(ctx context.Context, phone string) (string, error)
}

// CatalogReader is the read-only view of medications and lab tests.
// Lookups that find nothing return a nil pointer and a nil error.
type CatalogReader interface {
	ListCategories(ctx context.Context) ([]string, error)
	// ListMedicationsByCategory returns the in-stock medications of a category
	// ordered by brand name.
	ListMedicationsByCategory(ctx context.Context, category string) ([]models.Medication, error)
	// GetMedicationByName resolves an exact brand name, in stock or not.
	GetMedicationByName(ctx context.Context, name string) (*models.Medication, error)
	// SearchMedications returns up to MaxSearchResults in-stock medications
	// whose brand name or active compound resembles term.
	SearchMedications(ctx context.Context, term string) ([]models.Medication, error)
	ListLabTestNames(ctx context.Context) ([]string, error)
	GetLabTestByName(ctx context.Context, name string) (*models.LabTest, error)
}

// CatalogWriter loads reference data. The conversation never calls it.
type CatalogWriter interface {
	UpsertMedication(ctx context.Context, m models.Medication) (uuid.UUID, error)
	UpsertLabTest(ctx context.Context, t models.LabTest) (uuid.UUID, error)
}

// ProfileStore finds and lazily creates users and their patient records.
// Create calls are idempotent: a second call for the same phone returns the
// existing row.
type ProfileStore interface {
	FindUserByPhone(ctx context.Context, phone string) (*models.User, error)
	CreateUser(ctx context.Context, phone string) (*models.User, error)
	FindPatientByPhone(ctx context.Context, phone string) (*models.Patient, error)
	CreatePatient(ctx context.Context, userID uuid.UUID, phone string) (*models.Patient, error)
}

// OrderReader reads orders and their lines.
type OrderReader interface {
	// FindPendingOrder returns the patient's pending order or nil.
	FindPendingOrder(ctx context.Context, patientID uuid.UUID) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	// OrderLines returns the lines in insertion order.
	OrderLines(ctx context.Context, orderID uuid.UUID) ([]models.OrderLine, error)
	// OrderSummary returns the lines joined with medication names, in insertion order.
	OrderSummary(ctx context.Context, orderID uuid.UUID) ([]models.TicketLine, error)
}

// Tx groups the writes of one conversation transition. Either every call
// made through a Tx is committed or none is.
type Tx interface {
	SetState(ctx context.Context, phone, state string) error

	UpdateFirstName(ctx context.Context, userID uuid.UUID, value string) error
	UpdatePaternalSurname(ctx context.Context, userID uuid.UUID, value string) error
	UpdateMaternalSurname(ctx context.Context, userID uuid.UUID, value string) error
	UpdateEmail(ctx context.Context, userID uuid.UUID, value string) error

	UpdateCURP(ctx context.Context, patientID uuid.UUID, value string) error
	UpdateGender(ctx context.Context, patientID uuid.UUID, value string) error
	// UpdateAddress sets the patient's default delivery address and the
	// address of the pending order, if there is one.
	UpdateAddress(ctx context.Context, patientID uuid.UUID, address string) error
	// UpdatePrescriptionRef records the prescription on the patient and on the
	// pending order, if there is one.
	UpdatePrescriptionRef(ctx context.Context, patientID uuid.UUID, ref string) error

	// EnsurePendingOrder returns the patient's pending order id, creating an
	// empty order when there is none.
	EnsurePendingOrder(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error)
	// AddLine adds quantity units at unitPrice. A line for the same medication
	// at the same captured price is incremented; a different price gets its own
	// line. The order total is recomputed from the lines before returning.
	AddLine(ctx context.Context, orderID, medicationID uuid.UUID, unitPrice decimal.Decimal, quantity int) error
}

// Store is implemented by every backend.
type Store interface {
	SessionStore
	CatalogReader
	CatalogWriter
	ProfileStore
	OrderReader
	DedupRepo

	// InTx runs fn inside a transaction, committing when fn returns nil and
	// rolling back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Opts holds configuration options for the SQL stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for the SQL stores.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// libpq keyword/value connection strings: "host=... user=... dbname=...".
var keywordValueRegex = regexp.MustCompile(`^[a-z_]+=`)

// DetectDSNType returns "postgres" for PostgreSQL URLs and keyword/value
// connection strings, and "sqlite3" for anything else.
func DetectDSNType(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return "postgres"
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "sqlite3"
	}
	for _, f := range fields {
		if !keywordValueRegex.MatchString(f) {
			return "sqlite3"
		}
	}
	return "postgres"
}

// Open returns the backend matching dsn. An empty dsn yields an in-memory store.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		slog.Warn("store.Open: no DSN configured, using in-memory store; data is lost on restart")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		slog.Debug("store.Open: using PostgreSQL store")
		pg, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	slog.Debug("store.Open: using SQLite store", "path", dsn)
	lite, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}
	return lite, nil
}
