package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/sebashdez96/biotecza-bot/internal/store"
)

// Input is one inbound message reduced to what the engine matches on.
type Input struct {
	// Text is the typed text or the label of the chosen button or list row.
	Text string
	// MediaRef identifies an attached image, if any.
	MediaRef string
}

// Identity is the caller-resolved profile of the sender.
type Identity struct {
	Phone     string
	UserID    uuid.UUID
	PatientID uuid.UUID
	FirstName string
	// FullName is the first name and surnames collected so far.
	FullName string
}

// Outcome is the decision for one input: the next state, the mutations to
// apply and the replies to send, in order.
type Outcome struct {
	Next    State
	Effects []Effect
	Replies []models.Reply
}

// Engine decides transitions. It only reads: the catalog for menus and
// lookups, and the pending order for the ticket. All writes are returned as
// effects.
type Engine struct {
	catalog store.CatalogReader
	orders  store.OrderReader
}

// NewEngine creates an Engine over read-only stores.
func NewEngine(catalog store.CatalogReader, orders store.OrderReader) *Engine {
	return &Engine{catalog: catalog, orders: orders}
}

// IsGlobalInterrupt reports whether text restarts the conversation from any state.
func IsGlobalInterrupt(text string) bool {
	t := strings.TrimSpace(text)
	return strings.EqualFold(t, TokenHola) || strings.EqualFold(t, TokenInicio)
}

// Transition decides what to do with in while the sender is in state. A
// returned error means a catalog or order read failed; nothing has been
// written.
func (e *Engine) Transition(ctx context.Context, state State, in Input, id Identity) (Outcome, error) {
	if IsGlobalInterrupt(in.Text) {
		return e.welcome(id), nil
	}

	var (
		out Outcome
		err error
	)
	switch state {
	case Start:
		out, err = e.onStart(ctx, in, id)
	case SelectingLabTest:
		out, err = e.onSelectingLabTest(ctx, in, id)
	case PharmacyMenu:
		out, err = e.onPharmacyMenu(ctx, in, id)
	case AwaitingCategory:
		out, err = e.onAwaitingCategory(ctx, in)
	case AddingProduct:
		out, err = e.onAddingProduct(ctx, in, id)
	case AwaitingSearch:
		out, err = e.onAwaitingSearch(ctx, in)
	case ConfirmingOrder:
		out = e.onConfirmingOrder(in, id)
	case AwaitingFirstName, AwaitingPaternalSurname, AwaitingMaternalSurname,
		AwaitingEmail, AwaitingCurp, AwaitingGender, AwaitingAddress:
		out = e.onOnboarding(state, in, id)
	case AwaitingPrescription:
		out = e.onAwaitingPrescription(in, id)
	default:
		out = e.welcome(id)
	}
	if err != nil {
		slog.Error("Engine.Transition: read failed", "state", state, "error", err)
		return Outcome{}, err
	}
	slog.Debug("Engine.Transition", "phone", id.Phone, "state", state, "next", out.Next, "effects", len(out.Effects), "replies", len(out.Replies))
	return out, nil
}

func stay(state State, replies ...models.Reply) Outcome {
	return Outcome{Next: state, Replies: replies}
}

func (e *Engine) welcome(id Identity) Outcome {
	return stay(Start, welcomeReply(id.FirstName))
}

func (e *Engine) onStart(ctx context.Context, in Input, id Identity) (Outcome, error) {
	switch in.Text {
	case TokenMedicamentos:
		return stay(PharmacyMenu, pharmacyMenuReply()), nil
	case TokenLaboratorio:
		names, err := e.catalog.ListLabTestNames(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("list lab tests: %w", err)
		}
		if len(names) == 0 {
			return stay(Start, text(msgNoLabTests), welcomeReply(id.FirstName)), nil
		}
		return stay(SelectingLabTest, labListReply(names)), nil
	default:
		return e.welcome(id), nil
	}
}

func (e *Engine) onSelectingLabTest(ctx context.Context, in Input, id Identity) (Outcome, error) {
	if in.Text == TokenRegresar {
		return e.welcome(id), nil
	}
	t, err := e.catalog.GetLabTestByName(ctx, in.Text)
	if err != nil {
		return Outcome{}, fmt.Errorf("get lab test: %w", err)
	}
	if t == nil {
		return stay(SelectingLabTest), nil
	}
	names, err := e.catalog.ListLabTestNames(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("list lab tests: %w", err)
	}
	return stay(SelectingLabTest, labDetailReplies(*t, names)...), nil
}

func (e *Engine) onPharmacyMenu(ctx context.Context, in Input, id Identity) (Outcome, error) {
	switch in.Text {
	case TokenVerLista:
		return e.categories(ctx)
	case TokenBuscar:
		return stay(AwaitingSearch, text(msgSearchPrompt)), nil
	case TokenRegresar:
		return e.welcome(id), nil
	default:
		return stay(PharmacyMenu, pharmacyMenuReply()), nil
	}
}

// categories offers the category list, or falls back to the pharmacy menu when
// the catalog has none.
func (e *Engine) categories(ctx context.Context) (Outcome, error) {
	cats, err := e.catalog.ListCategories(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("list categories: %w", err)
	}
	if len(cats) == 0 {
		return stay(PharmacyMenu, text(msgNoCategories), pharmacyMenuReply()), nil
	}
	return stay(AwaitingCategory, categoriesReply(cats)), nil
}

func (e *Engine) onAwaitingCategory(ctx context.Context, in Input) (Outcome, error) {
	category := in.Text
	meds, err := e.catalog.ListMedicationsByCategory(ctx, category)
	if err != nil {
		return Outcome{}, fmt.Errorf("list medications in %q: %w", category, err)
	}
	if len(meds) == 0 {
		return stay(PharmacyMenu, text(FormatCategory(category, nil)), buttons(msgWhatNext, pharmacyMenuOptions)), nil
	}
	return stay(AddingProduct,
		text(FormatCategory(category, meds)),
		list("💊 "+category, "Añadir al carrito:", "Añadir", brandNames(meds)),
	), nil
}

func (e *Engine) onAddingProduct(ctx context.Context, in Input, id Identity) (Outcome, error) {
	switch in.Text {
	case TokenFinalizarPedido:
		return e.ticket(ctx, id)
	case TokenVerLista:
		return e.categories(ctx)
	case TokenBuscar:
		return stay(AwaitingSearch, text(msgSearchPrompt)), nil
	case TokenAgregarMas:
		return stay(AddingProduct, buttons(msgNextProduct, nextProductOptions)), nil
	case TokenCancelarPedido:
		return e.welcome(id), nil
	}

	med, err := e.catalog.GetMedicationByName(ctx, in.Text)
	if err != nil {
		return Outcome{}, fmt.Errorf("get medication: %w", err)
	}
	if med == nil {
		return stay(AddingProduct), nil
	}
	if !med.InStock {
		return stay(AddingProduct, text(fmt.Sprintf("Lo sentimos, *%s* no está disponible por el momento.", med.BrandName))), nil
	}
	return Outcome{
		Next:    AddingProduct,
		Effects: []Effect{AddToCart{MedicationID: med.ID, UnitPrice: med.Price, Quantity: 1}},
		Replies: []models.Reply{buttons(fmt.Sprintf("✅ *%s* añadido al carrito.", med.BrandName), addedOptions)},
	}, nil
}

// ticket summarizes the pending order. The order is ensured so that the
// confirmation steps that follow always have one to write to.
func (e *Engine) ticket(ctx context.Context, id Identity) (Outcome, error) {
	var lines []models.TicketLine
	order, err := e.orders.FindPendingOrder(ctx, id.PatientID)
	if err != nil {
		return Outcome{}, fmt.Errorf("find pending order: %w", err)
	}
	if order != nil {
		lines, err = e.orders.OrderSummary(ctx, order.ID)
		if err != nil {
			return Outcome{}, fmt.Errorf("order summary: %w", err)
		}
	}
	return Outcome{
		Next:    ConfirmingOrder,
		Effects: []Effect{EnsurePendingOrder{}},
		Replies: []models.Reply{text(RenderTicket(lines)), buttons(msgConfirmQuestion, confirmOptions)},
	}, nil
}

func (e *Engine) onAwaitingSearch(ctx context.Context, in Input) (Outcome, error) {
	term := strings.TrimSpace(in.Text)
	if term == "" {
		return stay(PharmacyMenu, buttons(msgWhatNext, pharmacyMenuOptions)), nil
	}
	meds, err := e.catalog.SearchMedications(ctx, term)
	if err != nil {
		return Outcome{}, fmt.Errorf("search medications: %w", err)
	}
	if len(meds) == 0 {
		return stay(PharmacyMenu,
			text(fmt.Sprintf("No encontré medicamentos relacionados con '%s'. Intenta con otra palabra clave.", term)),
			buttons(msgWhatNext, pharmacyMenuOptions),
		), nil
	}
	return stay(AddingProduct,
		text(FormatSearchResults(term, meds)),
		list("🔎 Selecciona uno:", "Añadir al carrito:", "Añadir", brandNames(meds)),
	), nil
}

func (e *Engine) onConfirmingOrder(in Input, id Identity) Outcome {
	if in.Text == TokenConfirmarPedido {
		return stay(AwaitingFirstName, text(msgAskFirstName))
	}
	return e.welcome(id)
}

// onOnboarding collects one profile field per state. Values are stored
// trimmed; an empty value repeats the prompt of the current state.
func (e *Engine) onOnboarding(state State, in Input, id Identity) Outcome {
	value := strings.TrimSpace(in.Text)
	switch state {
	case AwaitingFirstName:
		if value == "" {
			return stay(state, text(msgAskFirstName))
		}
		return Outcome{Next: AwaitingPaternalSurname, Effects: []Effect{SetFirstName{value}}, Replies: []models.Reply{text(msgAskPaternal)}}

	case AwaitingPaternalSurname:
		if value == "" {
			return stay(state, text(msgAskPaternal))
		}
		return Outcome{Next: AwaitingMaternalSurname, Effects: []Effect{SetPaternalSurname{value}}, Replies: []models.Reply{text(msgAskMaternal)}}

	case AwaitingMaternalSurname:
		if value == "" {
			return stay(state, text(msgAskMaternal))
		}
		var effects []Effect
		if value != TokenSkipSurname {
			effects = append(effects, SetMaternalSurname{value})
		}
		return Outcome{Next: AwaitingEmail, Effects: effects, Replies: []models.Reply{text(askEmail(id.FirstName))}}

	case AwaitingEmail:
		if !ValidEmail(value) {
			return stay(state, text(msgInvalidEmail))
		}
		return Outcome{Next: AwaitingCurp, Effects: []Effect{SetEmail{value}}, Replies: []models.Reply{text(msgAskCURP)}}

	case AwaitingCurp:
		if !ValidCURP(value) {
			return stay(state, text(msgInvalidCURP))
		}
		return Outcome{Next: AwaitingGender, Effects: []Effect{SetCURP{value}}, Replies: []models.Reply{buttons(msgAskGender, genderOptions)}}

	case AwaitingGender:
		if value == "" {
			return stay(state, buttons(msgAskGender, genderOptions))
		}
		return Outcome{Next: AwaitingAddress, Effects: []Effect{SetGender{value}}, Replies: []models.Reply{text(msgAskAddress)}}

	case AwaitingAddress:
		if value == "" {
			return stay(state, text(msgAskAddress))
		}
		return Outcome{Next: AwaitingPrescription, Effects: []Effect{SetAddress{value}}, Replies: []models.Reply{text(msgAskPrescription)}}
	}
	return e.welcome(id)
}

func askEmail(firstName string) string {
	if name := strings.TrimSpace(firstName); name != "" {
		return fmt.Sprintf("Mucho gusto, %s. %s", name, msgAskEmail)
	}
	return msgAskEmail
}

func prescriptionDone(fullName string) string {
	if name := strings.TrimSpace(fullName); name != "" {
		return fmt.Sprintf("Gracias, %s. %s", name, msgPrescriptionDone)
	}
	return msgPrescriptionDone
}

func (e *Engine) onAwaitingPrescription(in Input, id Identity) Outcome {
	if in.MediaRef == "" {
		return stay(AwaitingPrescription, text(msgRepeatPrescription))
	}
	return Outcome{
		Next:    Start,
		Effects: []Effect{SetPrescriptionRef{in.MediaRef}},
		Replies: []models.Reply{text(prescriptionDone(id.FullName))},
	}
}
