package store

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/shopspring/decimal"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const medicationColumns = `id, brand_name, active_compound, presentation, price, category, in_stock`

func scanMedication(row rowScanner) (models.Medication, error) {
	var m models.Medication
	err := row.Scan(&m.ID, &m.BrandName, &m.ActiveCompound, &m.Presentation, &m.Price, &m.Category, &m.InStock)
	return m, err
}

const userColumns = `id, phone, first_name, paternal_surname, maternal_surname, email, created_at, updated_at`

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Phone, &u.FirstName, &u.PaternalSurname, &u.MaternalSurname, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

const patientColumns = `id, user_id, phone, curp, gender, delivery_address, prescription_ref, created_at, updated_at`

func scanPatient(row rowScanner) (models.Patient, error) {
	var p models.Patient
	err := row.Scan(&p.ID, &p.UserID, &p.Phone, &p.CURP, &p.Gender, &p.DeliveryAddress, &p.PrescriptionRef, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const orderColumns = `id, patient_id, status, total, delivery_address, prescription_ref, created_at, updated_at`

func scanOrder(row rowScanner) (models.Order, error) {
	var o models.Order
	var status string
	err := row.Scan(&o.ID, &o.PatientID, &status, &o.Total, &o.DeliveryAddress, &o.PrescriptionRef, &o.CreatedAt, &o.UpdatedAt)
	o.Status = models.OrderStatus(status)
	return o, err
}

const lineColumns = `id, order_id, medication_id, quantity, unit_price`

func scanLine(row rowScanner) (models.OrderLine, error) {
	var l models.OrderLine
	err := row.Scan(&l.ID, &l.OrderID, &l.MedicationID, &l.Quantity, &l.UnitPrice)
	return l, err
}

// collect scans every row with scan and closes rows.
func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanString(row rowScanner) (string, error) {
	var s string
	err := row.Scan(&s)
	return s, err
}

func scanTicketLine(row rowScanner) (models.TicketLine, error) {
	var l models.TicketLine
	err := row.Scan(&l.Name, &l.Quantity, &l.UnitPrice)
	return l, err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// sumLines returns the sum of quantity x unit price.
func sumLines(lines []models.OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}
