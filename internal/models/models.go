// Package models defines the core data structures for the Biotecza bot.
//
// It includes the pharmacy, lab and patient entities shared by the store, the
// conversation engine and the messaging transports.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is the account identity behind a WhatsApp phone number.
type User struct {
	ID              uuid.UUID `json:"id"`
	Phone           string    `json:"phone"`
	FirstName       string    `json:"first_name"`
	PaternalSurname string    `json:"paternal_surname"`
	MaternalSurname string    `json:"maternal_surname"`
	Email           string    `json:"email"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// FullName joins the non-empty name fields.
func (u User) FullName() string {
	name := u.FirstName
	for _, part := range []string{u.PaternalSurname, u.MaternalSurname} {
		if part == "" {
			continue
		}
		if name != "" {
			name += " "
		}
		name += part
	}
	return name
}

// Patient extends a User with clinical and delivery data. It is 1:1 with User.
type Patient struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Phone           string    `json:"phone"`
	CURP            string    `json:"curp,omitempty"`
	Gender          string    `json:"gender,omitempty"`
	DeliveryAddress string    `json:"delivery_address,omitempty"`
	PrescriptionRef string    `json:"prescription_ref,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Medication is a pharmacy catalog entry.
type Medication struct {
	ID             uuid.UUID       `json:"id"`
	BrandName      string          `json:"brand_name"`
	ActiveCompound string          `json:"active_compound"`
	Presentation   string          `json:"presentation,omitempty"`
	Price          decimal.Decimal `json:"price"`
	Category       string          `json:"category"`
	InStock        bool            `json:"in_stock"`
}

// LabTest is a laboratory catalog entry.
type LabTest struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Instructions string          `json:"instructions"`
	Price        decimal.Decimal `json:"price"`
}

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	// OrderStatusPending marks the single open cart of a patient.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed marks an order handed over to fulfillment.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusCancelled marks an abandoned order.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a medication order. A patient has at most one pending order.
type Order struct {
	ID              uuid.UUID       `json:"id"`
	PatientID       uuid.UUID       `json:"patient_id"`
	Status          OrderStatus     `json:"status"`
	Total           decimal.Decimal `json:"total"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	PrescriptionRef string          `json:"prescription_ref,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderLine is one medication entry in an order. UnitPrice is captured when the
// line is added and never re-priced from the catalog.
type OrderLine struct {
	ID           uuid.UUID       `json:"id"`
	OrderID      uuid.UUID       `json:"order_id"`
	MedicationID uuid.UUID       `json:"medication_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

// Subtotal returns quantity times the captured unit price.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// TicketLine is an order line joined with the medication display name.
type TicketLine struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal returns quantity times the captured unit price.
func (l TicketLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
