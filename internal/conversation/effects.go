package conversation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sebashdez96/biotecza-bot/internal/store"
	"github.com/shopspring/decimal"
)

// Effect is a data mutation decided by the engine. Effects are applied in
// order, inside the transaction that also stores the next state.
type Effect interface {
	apply(ctx context.Context, tx store.Tx, id Identity, cart *uuid.UUID) error
}

type (
	SetFirstName       struct{ Value string }
	SetPaternalSurname struct{ Value string }
	SetMaternalSurname struct{ Value string }
	SetEmail           struct{ Value string }
	SetCURP            struct{ Value string }
	SetGender          struct{ Value string }
	// SetAddress updates the patient and the pending order.
	SetAddress struct{ Value string }
	// SetPrescriptionRef updates the patient and the pending order.
	SetPrescriptionRef struct{ Ref string }
	// EnsurePendingOrder opens the patient's cart if there is none.
	EnsurePendingOrder struct{}
	// AddToCart adds units of a medication at the price captured when the
	// engine decided. It opens the cart first when needed.
	AddToCart struct {
		MedicationID uuid.UUID
		UnitPrice    decimal.Decimal
		Quantity     int
	}
)

func (e SetFirstName) apply(ctx context.Context, tx store.Tx, id Identity, _ *uuid.UUID) error {
	return tx.UpdateFirstName(ctx, id.UserID, e.Value)
}

func (e SetPaternalSurname) apply(ctx context.Context, tx store.Tx, id Identity, _ *uuid.UUID) error {
	return tx.UpdatePaternalSurname(ctx, id.UserID, e.Value)
}

func (e SetMaternalSurname) apply(ctx context.Context, tx store.Tx, id Identity, _ *uuid.UUID) error {
	return tx.UpdateMaternalSurname(ctx, id.UserID, e.Value)
}

func (e SetEmail) apply(ctx context.Context, tx store.Tx, id Identity, _ *uuid.UUID) error {
	return tx.UpdateEmail(ctx, id.UserID, e.Value)
}

func (e SetCURP) apply(ctx context.Context, tx store.Tx, id Identity, _ *uuid.UUID) error {
	return tx.UpdateCURP(ctx, id.PatientID, e.Value)
}

func (e SetGender) apply(ctx context.Context, tx store.Tx, id Identity, _ *uuid.UUID) error {
	return tx.UpdateGender(ctx, id.PatientID, e.Value)
}

func (e SetAddress) apply(ctx context.Context, tx store.Tx, id Identity, _ *uuid.UUID) error {
	return tx.UpdateAddress(ctx, id.PatientID, e.Value)
}

func (e SetPrescriptionRef) apply(ctx context.Context, tx store.Tx, id Identity, _ *uuid.UUID) error {
	return tx.UpdatePrescriptionRef(ctx, id.PatientID, e.Ref)
}

func (e EnsurePendingOrder) apply(ctx context.Context, tx store.Tx, id Identity, cart *uuid.UUID) error {
	if *cart != uuid.Nil {
		return nil
	}
	orderID, err := tx.EnsurePendingOrder(ctx, id.PatientID)
	if err != nil {
		return err
	}
	*cart = orderID
	return nil
}

func (e AddToCart) apply(ctx context.Context, tx store.Tx, id Identity, cart *uuid.UUID) error {
	if err := (EnsurePendingOrder{}).apply(ctx, tx, id, cart); err != nil {
		return err
	}
	qty := e.Quantity
	if qty == 0 {
		qty = 1
	}
	if err := tx.AddLine(ctx, *cart, e.MedicationID, e.UnitPrice, qty); err != nil {
		return fmt.Errorf("add medication %s to order %s: %w", e.MedicationID, *cart, err)
	}
	return nil
}

// applyEffects runs effects in order against tx.
func applyEffects(ctx context.Context, tx store.Tx, id Identity, effects []Effect) error {
	var cart uuid.UUID
	for _, e := range effects {
		if err := e.apply(ctx, tx, id, &cart); err != nil {
			return fmt.Errorf("apply %T: %w", e, err)
		}
	}
	return nil
}
