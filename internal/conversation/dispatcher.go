package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/sebashdez96/biotecza-bot/internal/store"
)

// Dispatcher runs one inbound message through the engine: it loads the state
// and identity of the sender, asks the engine for an Outcome and commits the
// effects together with the next state.
type Dispatcher struct {
	store  store.Store
	engine *Engine
	locker Locker
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLocker replaces the default in-process LocalLocker.
func WithLocker(l Locker) DispatcherOption {
	return func(d *Dispatcher) {
		d.locker = l
	}
}

// WithEngine replaces the engine built from the store.
func WithEngine(e *Engine) DispatcherOption {
	return func(d *Dispatcher) {
		d.engine = e
	}
}

// NewDispatcher creates a Dispatcher on st.
func NewDispatcher(st store.Store, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{store: st}
	for _, opt := range opts {
		opt(d)
	}
	if d.engine == nil {
		d.engine = NewEngine(st, st)
	}
	if d.locker == nil {
		d.locker = NewLocalLocker()
	}
	return d
}

// Handle processes one input from phone and returns the replies to deliver in
// order. Messages from the same phone are handled one at a time. On error
// nothing was committed and no reply must be sent.
func (d *Dispatcher) Handle(ctx context.Context, phone string, in Input) ([]models.Reply, error) {
	unlock, err := d.locker.Lock(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", phone, err)
	}
	defer unlock()

	token, err := d.store.GetState(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", phone, err)
	}
	state := ParseState(token)
	if state.String() != token {
		slog.Warn("Dispatcher.Handle: unknown state token, restarting", "phone", phone, "token", token)
	}

	id, err := d.resolveIdentity(ctx, phone)
	if err != nil {
		return nil, err
	}

	out, err := d.engine.Transition(ctx, state, in, id)
	if err != nil {
		return nil, fmt.Errorf("transition from %s: %w", state, err)
	}

	err = d.store.InTx(ctx, func(tx store.Tx) error {
		if err := applyEffects(ctx, tx, id, out.Effects); err != nil {
			return err
		}
		return tx.SetState(ctx, phone, out.Next.String())
	})
	if err != nil {
		slog.Error("Dispatcher.Handle: commit failed", "phone", phone, "state", state, "next", out.Next, "error", err)
		return nil, fmt.Errorf("commit transition %s -> %s: %w", state, out.Next, err)
	}

	slog.Info("Dispatcher.Handle: transition committed", "phone", phone, "state", state, "next", out.Next, "replies", len(out.Replies))
	return out.Replies, nil
}

// resolveIdentity finds or creates the user and patient behind phone.
func (d *Dispatcher) resolveIdentity(ctx context.Context, phone string) (Identity, error) {
	user, err := d.store.FindUserByPhone(ctx, phone)
	if err != nil {
		return Identity{}, fmt.Errorf("find user %s: %w", phone, err)
	}
	if user == nil {
		if user, err = d.store.CreateUser(ctx, phone); err != nil {
			return Identity{}, fmt.Errorf("create user %s: %w", phone, err)
		}
		slog.Debug("Dispatcher.resolveIdentity: created user", "phone", phone, "user_id", user.ID)
	}

	patient, err := d.store.FindPatientByPhone(ctx, phone)
	if err != nil {
		return Identity{}, fmt.Errorf("find patient %s: %w", phone, err)
	}
	if patient == nil {
		if patient, err = d.store.CreatePatient(ctx, user.ID, phone); err != nil {
			return Identity{}, fmt.Errorf("create patient %s: %w", phone, err)
		}
	}

	return Identity{
		Phone:     phone,
		UserID:    user.ID,
		PatientID: patient.ID,
		FirstName: user.FirstName,
		FullName:  user.FullName(),
	}, nil
}
