package conversation

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/shopspring/decimal"
)

// fakeCatalog is a hand-written CatalogReader that counts calls.
type fakeCatalog struct {
	meds        []models.Medication
	labs        []models.LabTest
	err         error
	searchCalls int
}

func (f *fakeCatalog) ListCategories(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	seen := map[string]bool{}
	var cats []string
	for _, m := range f.meds {
		if !seen[m.Category] {
			seen[m.Category] = true
			cats = append(cats, m.Category)
		}
	}
	return cats, nil
}

func (f *fakeCatalog) ListMedicationsByCategory(ctx context.Context, category string) ([]models.Medication, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Medication
	for _, m := range f.meds {
		if m.Category == category && m.InStock {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetMedicationByName(ctx context.Context, name string) (*models.Medication, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, m := range f.meds {
		if m.BrandName == name {
			m := m
			return &m, nil
		}
	}
	return nil, nil
}

func (f *fakeCatalog) SearchMedications(ctx context.Context, term string) ([]models.Medication, error) {
	f.searchCalls++
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Medication
	for _, m := range f.meds {
		if m.InStock && strings.Contains(strings.ToLower(m.BrandName), strings.ToLower(term)) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeCatalog) ListLabTestNames(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var names []string
	for _, l := range f.labs {
		names = append(names, l.Name)
	}
	return names, nil
}

func (f *fakeCatalog) GetLabTestByName(ctx context.Context, name string) (*models.LabTest, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, l := range f.labs {
		if l.Name == name {
			l := l
			return &l, nil
		}
	}
	return nil, nil
}

// fakeOrders is a hand-written OrderReader with a single optional pending order.
type fakeOrders struct {
	pending *models.Order
	lines   []models.TicketLine
}

func (f *fakeOrders) FindPendingOrder(ctx context.Context, patientID uuid.UUID) (*models.Order, error) {
	return f.pending, nil
}

func (f *fakeOrders) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return f.pending, nil
}

func (f *fakeOrders) OrderLines(ctx context.Context, orderID uuid.UUID) ([]models.OrderLine, error) {
	return nil, nil
}

func (f *fakeOrders) OrderSummary(ctx context.Context, orderID uuid.UUID) ([]models.TicketLine, error) {
	return f.lines, nil
}

var (
	paracetamol = models.Medication{ID: uuid.New(), BrandName: "Paracetamol", ActiveCompound: "Acetaminofén", Price: decimal.RequireFromString("45.50"), Category: "Analgésicos", InStock: true}
	aspirina    = models.Medication{ID: uuid.New(), BrandName: "Aspirina", ActiveCompound: "AAS", Price: decimal.RequireFromString("30"), Category: "Analgésicos", InStock: false}
	quimica     = models.LabTest{Name: "Química sanguínea", Instructions: "Ayuno de 8 horas", Price: decimal.RequireFromString("350")}
)

func newTestEngine() (*Engine, *fakeCatalog, *fakeOrders) {
	cat := &fakeCatalog{meds: []models.Medication{paracetamol, aspirina}, labs: []models.LabTest{quimica}}
	orders := &fakeOrders{}
	return NewEngine(cat, orders), cat, orders
}

var testIdentity = Identity{Phone: "5215550001111", UserID: uuid.New(), PatientID: uuid.New()}

func transition(t *testing.T, e *Engine, s State, txt string) Outcome {
	t.Helper()
	out, err := e.Transition(context.Background(), s, Input{Text: txt}, testIdentity)
	if err != nil {
		t.Fatalf("Transition(%v, %q) failed: %v", s, txt, err)
	}
	return out
}

func TestGlobalInterruptFromEveryState(t *testing.T) {
	e, _, _ := newTestEngine()
	for _, s := range AllStates() {
		for _, in := range []string{"hola", "HOLA", "Inicio", "  iNiCiO  "} {
			out := transition(t, e, s, in)
			if out.Next != Start {
				t.Errorf("%v + %q: next = %v, want Start", s, in, out.Next)
			}
			if len(out.Effects) != 0 {
				t.Errorf("%v + %q: unexpected effects %v", s, in, out.Effects)
			}
			if len(out.Replies) != 1 || !reflect.DeepEqual(out.Replies[0], welcomeReply("")) {
				t.Errorf("%v + %q: expected welcome, got %v", s, in, out.Replies)
			}
		}
	}
}

func TestWelcomeIsPersonalised(t *testing.T) {
	e, _, _ := newTestEngine()
	id := testIdentity
	id.FirstName = "Ana"
	out, err := e.Transition(context.Background(), PharmacyMenu, Input{Text: "hola"}, id)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	body := out.Replies[0].(models.ButtonsReply).Body
	if !strings.HasPrefix(body, "¡Hola, Ana!") {
		t.Errorf("expected personalised welcome, got %q", body)
	}
}

func TestLabScenario(t *testing.T) {
	e, _, _ := newTestEngine()

	out := transition(t, e, Start, "Laboratorio")
	if out.Next != SelectingLabTest {
		t.Fatalf("next = %v, want SelectingLabTest", out.Next)
	}
	lr, ok := out.Replies[0].(models.ListReply)
	if !ok || !reflect.DeepEqual(lr.Options, []string{"Química sanguínea"}) {
		t.Fatalf("expected lab list, got %#v", out.Replies)
	}

	out = transition(t, e, SelectingLabTest, "Rayos X")
	if out.Next != SelectingLabTest || len(out.Replies) != 0 {
		t.Errorf("unknown test: expected no reply and same state, got %v %v", out.Next, out.Replies)
	}

	out = transition(t, e, SelectingLabTest, "Química sanguínea")
	if out.Next != SelectingLabTest || len(out.Replies) != 3 {
		t.Fatalf("expected detail, list and back button, got %v", out.Replies)
	}
	detail := out.Replies[0].(models.TextReply).Body
	if !strings.Contains(detail, "🧪 *QUÍMICA SANGUÍNEA*") || !strings.Contains(detail, "💰 *Precio:* $350.00") {
		t.Errorf("unexpected detail %q", detail)
	}

	out = transition(t, e, SelectingLabTest, "Regresar")
	if out.Next != Start || !reflect.DeepEqual(out.Replies, []models.Reply{welcomeReply("")}) {
		t.Errorf("Regresar: expected welcome in Start, got %v %v", out.Next, out.Replies)
	}
}

func TestLabWithoutTests(t *testing.T) {
	e, cat, _ := newTestEngine()
	cat.labs = nil
	out := transition(t, e, Start, "Laboratorio")
	if out.Next != Start || len(out.Replies) != 2 {
		t.Errorf("expected explanation and welcome in Start, got %v %v", out.Next, out.Replies)
	}
}

func TestStartUnknownInputWelcomes(t *testing.T) {
	e, _, _ := newTestEngine()
	out := transition(t, e, Start, "buenas")
	if out.Next != Start || len(out.Replies) != 1 {
		t.Errorf("expected welcome, got %v %v", out.Next, out.Replies)
	}
	out = transition(t, e, Start, "Medicamentos")
	if out.Next != PharmacyMenu {
		t.Errorf("expected PharmacyMenu, got %v", out.Next)
	}
}

func TestPharmacyMenu(t *testing.T) {
	e, cat, _ := newTestEngine()
	tests := []struct {
		in   string
		next State
	}{
		{"Ver Lista", AwaitingCategory},
		{"Buscar", AwaitingSearch},
		{"Regresar", Start},
		{"otra cosa", PharmacyMenu},
	}
	for _, tt := range tests {
		out := transition(t, e, PharmacyMenu, tt.in)
		if out.Next != tt.next {
			t.Errorf("PharmacyMenu + %q: next = %v, want %v", tt.in, out.Next, tt.next)
		}
		if len(out.Replies) == 0 {
			t.Errorf("PharmacyMenu + %q: expected a reply", tt.in)
		}
	}

	cat.meds = nil
	out := transition(t, e, PharmacyMenu, "Ver Lista")
	if out.Next != PharmacyMenu || len(out.Replies) != 2 {
		t.Errorf("no categories: expected explanation and menu, got %v %v", out.Next, out.Replies)
	}
}

func TestAwaitingCategory(t *testing.T) {
	e, _, _ := newTestEngine()
	out := transition(t, e, AwaitingCategory, "Analgésicos")
	if out.Next != AddingProduct || len(out.Replies) != 2 {
		t.Fatalf("expected detail + list, got %v %v", out.Next, out.Replies)
	}
	lr := out.Replies[1].(models.ListReply)
	if lr.Header != "💊 Analgésicos" || !reflect.DeepEqual(lr.Options, []string{"Paracetamol"}) {
		t.Errorf("unexpected add list %#v", lr)
	}

	out = transition(t, e, AwaitingCategory, "Vacunas")
	if out.Next != PharmacyMenu {
		t.Errorf("empty category: next = %v, want PharmacyMenu", out.Next)
	}
	if !strings.Contains(out.Replies[0].(models.TextReply).Body, "no tenemos stock") {
		t.Errorf("empty category: unexpected reply %v", out.Replies[0])
	}
}

func TestAddingProduct(t *testing.T) {
	e, _, _ := newTestEngine()

	out := transition(t, e, AddingProduct, "Paracetamol")
	if out.Next != AddingProduct {
		t.Errorf("next = %v, want AddingProduct", out.Next)
	}
	want := []Effect{AddToCart{MedicationID: paracetamol.ID, UnitPrice: paracetamol.Price, Quantity: 1}}
	if !reflect.DeepEqual(out.Effects, want) {
		t.Errorf("effects = %#v, want %#v", out.Effects, want)
	}
	br := out.Replies[0].(models.ButtonsReply)
	if br.Body != "✅ *Paracetamol* añadido al carrito." || !reflect.DeepEqual(br.Options, addedOptions) {
		t.Errorf("unexpected confirmation %#v", br)
	}

	out = transition(t, e, AddingProduct, "Aspirina")
	if len(out.Effects) != 0 || out.Next != AddingProduct || len(out.Replies) != 1 {
		t.Errorf("out of stock: expected notice only, got %#v", out)
	}

	out = transition(t, e, AddingProduct, "Inexistente")
	if len(out.Effects) != 0 || len(out.Replies) != 0 || out.Next != AddingProduct {
		t.Errorf("unknown product: expected no-op, got %#v", out)
	}

	out = transition(t, e, AddingProduct, "Agregar más")
	if out.Next != AddingProduct || !reflect.DeepEqual(out.Replies[0].(models.ButtonsReply).Options, nextProductOptions) {
		t.Errorf("Agregar más: unexpected %#v", out)
	}

	if out = transition(t, e, AddingProduct, "Buscar"); out.Next != AwaitingSearch {
		t.Errorf("Buscar: next = %v", out.Next)
	}
	if out = transition(t, e, AddingProduct, "Ver Lista"); out.Next != AwaitingCategory {
		t.Errorf("Ver Lista: next = %v", out.Next)
	}
	if out = transition(t, e, AddingProduct, "Cancelar Pedido"); out.Next != Start || len(out.Effects) != 0 {
		t.Errorf("Cancelar Pedido: unexpected %#v", out)
	}
}

func TestFinalizeRendersTicket(t *testing.T) {
	e, _, orders := newTestEngine()

	out := transition(t, e, AddingProduct, "Finalizar Pedido")
	if out.Next != ConfirmingOrder {
		t.Errorf("next = %v, want ConfirmingOrder", out.Next)
	}
	if !reflect.DeepEqual(out.Effects, []Effect{EnsurePendingOrder{}}) {
		t.Errorf("expected EnsurePendingOrder, got %#v", out.Effects)
	}
	if out.Replies[0].(models.TextReply).Body != RenderTicket(nil) {
		t.Errorf("expected empty-cart ticket, got %v", out.Replies[0])
	}

	orders.pending = &models.Order{ID: uuid.New()}
	orders.lines = []models.TicketLine{{Name: "Paracetamol", Quantity: 2, UnitPrice: paracetamol.Price}}
	out = transition(t, e, AddingProduct, "Finalizar Pedido")
	if out.Replies[0].(models.TextReply).Body != RenderTicket(orders.lines) {
		t.Errorf("expected ticket of the pending order, got %v", out.Replies[0])
	}
	br := out.Replies[1].(models.ButtonsReply)
	if !reflect.DeepEqual(br.Options, []string{"Confirmar Pedido", "Cancelar Pedido"}) {
		t.Errorf("unexpected confirm buttons %v", br.Options)
	}
}

func TestWhitespaceSearchSkipsCatalog(t *testing.T) {
	e, cat, _ := newTestEngine()
	out := transition(t, e, AwaitingSearch, "   ")
	if out.Next != PharmacyMenu {
		t.Errorf("next = %v, want PharmacyMenu", out.Next)
	}
	if cat.searchCalls != 0 {
		t.Errorf("catalog searched %d times", cat.searchCalls)
	}
}

func TestSearch(t *testing.T) {
	e, cat, _ := newTestEngine()
	out := transition(t, e, AwaitingSearch, " parac ")
	if out.Next != AddingProduct || len(out.Replies) != 2 {
		t.Fatalf("expected results and list, got %v %v", out.Next, out.Replies)
	}
	if cat.searchCalls != 1 {
		t.Errorf("expected one search, got %d", cat.searchCalls)
	}
	if lr := out.Replies[1].(models.ListReply); !reflect.DeepEqual(lr.Options, []string{"Paracetamol"}) {
		t.Errorf("unexpected result list %v", lr.Options)
	}

	out = transition(t, e, AwaitingSearch, "xyz")
	if out.Next != PharmacyMenu {
		t.Errorf("no results: next = %v", out.Next)
	}
	if body := out.Replies[0].(models.TextReply).Body; !strings.Contains(body, "'xyz'") {
		t.Errorf("no results: unexpected text %q", body)
	}
}

func TestConfirmingOrder(t *testing.T) {
	e, _, _ := newTestEngine()
	if out := transition(t, e, ConfirmingOrder, "Confirmar Pedido"); out.Next != AwaitingFirstName {
		t.Errorf("next = %v, want AwaitingFirstName", out.Next)
	}
	if out := transition(t, e, ConfirmingOrder, "Cancelar Pedido"); out.Next != Start {
		t.Errorf("next = %v, want Start", out.Next)
	}
}

func TestOnboarding(t *testing.T) {
	e, _, _ := newTestEngine()
	tests := []struct {
		name    string
		state   State
		in      string
		next    State
		effects []Effect
	}{
		{"first name", AwaitingFirstName, " Ana ", AwaitingPaternalSurname, []Effect{SetFirstName{"Ana"}}},
		{"empty first name", AwaitingFirstName, "  ", AwaitingFirstName, nil},
		{"paternal", AwaitingPaternalSurname, "López", AwaitingMaternalSurname, []Effect{SetPaternalSurname{"López"}}},
		{"maternal", AwaitingMaternalSurname, "Ruiz", AwaitingEmail, []Effect{SetMaternalSurname{"Ruiz"}}},
		{"maternal skipped", AwaitingMaternalSurname, "-", AwaitingEmail, nil},
		{"email", AwaitingEmail, "ana@example.com", AwaitingCurp, []Effect{SetEmail{"ana@example.com"}}},
		{"bad email", AwaitingEmail, "ana@example", AwaitingEmail, nil},
		{"curp", AwaitingCurp, "LOPA900101MDFRRN09", AwaitingGender, []Effect{SetCURP{"LOPA900101MDFRRN09"}}},
		{"short curp", AwaitingCurp, "LOPA900101", AwaitingCurp, nil},
		{"gender verbatim", AwaitingGender, "X", AwaitingAddress, []Effect{SetGender{"X"}}},
		{"address", AwaitingAddress, "Av. Reforma 1", AwaitingPrescription, []Effect{SetAddress{"Av. Reforma 1"}}},
		{"prescription text only", AwaitingPrescription, "aquí va", AwaitingPrescription, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := transition(t, e, tt.state, tt.in)
			if out.Next != tt.next {
				t.Errorf("next = %v, want %v", out.Next, tt.next)
			}
			if !reflect.DeepEqual(out.Effects, tt.effects) {
				t.Errorf("effects = %#v, want %#v", out.Effects, tt.effects)
			}
			if len(out.Replies) != 1 {
				t.Errorf("expected one reply, got %v", out.Replies)
			}
		})
	}
}

func TestEmailPromptUsesFirstName(t *testing.T) {
	e, _, _ := newTestEngine()
	id := testIdentity
	id.FirstName = "Ana"
	out, _ := e.Transition(context.Background(), AwaitingMaternalSurname, Input{Text: "-"}, id)
	if body := out.Replies[0].(models.TextReply).Body; body != "Mucho gusto, Ana. ¿Cuál es tu *correo*?" {
		t.Errorf("unexpected prompt %q", body)
	}
}

func TestPrescriptionImage(t *testing.T) {
	e, _, _ := newTestEngine()
	out, err := e.Transition(context.Background(), AwaitingPrescription, Input{MediaRef: "media-1"}, testIdentity)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if out.Next != Start {
		t.Errorf("next = %v, want Start", out.Next)
	}
	if !reflect.DeepEqual(out.Effects, []Effect{SetPrescriptionRef{"media-1"}}) {
		t.Errorf("unexpected effects %#v", out.Effects)
	}
}

func TestPrescriptionClosingUsesFullName(t *testing.T) {
	e, _, _ := newTestEngine()
	id := testIdentity
	id.FullName = "Ana López"
	out := e.onAwaitingPrescription(Input{MediaRef: "media-1"}, id)
	if body := out.Replies[0].(models.TextReply).Body; !strings.HasPrefix(body, "Gracias, Ana López. 📄") {
		t.Errorf("unexpected closing %q", body)
	}

	out = e.onAwaitingPrescription(Input{MediaRef: "media-1"}, testIdentity)
	if body := out.Replies[0].(models.TextReply).Body; body != msgPrescriptionDone {
		t.Errorf("expected the plain closing without a name, got %q", body)
	}
}

func TestCatalogFailureFailsTransition(t *testing.T) {
	e, cat, _ := newTestEngine()
	cat.err = errors.New("connection refused")
	if _, err := e.Transition(context.Background(), AddingProduct, Input{Text: "Paracetamol"}, testIdentity); err == nil {
		t.Error("expected catalog error to fail the transition")
	}
	if _, err := e.Transition(context.Background(), Start, Input{Text: "Laboratorio"}, testIdentity); err == nil {
		t.Error("expected catalog error to fail the transition")
	}
}

func TestRepliesAreValid(t *testing.T) {
	e, _, _ := newTestEngine()
	inputs := map[State][]string{
		Start:            {"Medicamentos", "Laboratorio", "x"},
		SelectingLabTest: {"Química sanguínea"},
		PharmacyMenu:     {"Ver Lista", "Buscar", "x"},
		AwaitingCategory: {"Analgésicos", "Vacunas"},
		AddingProduct:    {"Paracetamol", "Agregar más", "Finalizar Pedido"},
		AwaitingSearch:   {"para", "zzz", " "},
		AwaitingCurp:     {"LOPA900101MDFRRN09"},
	}
	for s, ins := range inputs {
		for _, in := range ins {
			for _, r := range transition(t, e, s, in).Replies {
				if err := r.Validate(); err != nil {
					t.Errorf("%v + %q produced invalid reply %#v: %v", s, in, r, err)
				}
			}
		}
	}
}
