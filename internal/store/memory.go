package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/shopspring/decimal"
)

// InMemoryStore is an in-memory implementation of Store for tests and demos.
// Transactions run against a copy of the data that replaces the live data
// only when the transaction function succeeds.
type InMemoryStore struct {
	mu   sync.RWMutex
	data *memData
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

type memData struct {
	sessions map[string]string
	users    map[string]models.User    // by phone
	patients map[string]models.Patient // by phone
	meds     map[string]models.Medication
	labs     map[string]models.LabTest
	orders   map[uuid.UUID]models.Order
	lines    map[uuid.UUID][]models.OrderLine
	dedup    map[string]DedupRecord
}

func newMemData() *memData {
	return &memData{
		sessions: make(map[string]string),
		users:    make(map[string]models.User),
		patients: make(map[string]models.Patient),
		meds:     make(map[string]models.Medication),
		labs:     make(map[string]models.LabTest),
		orders:   make(map[uuid.UUID]models.Order),
		lines:    make(map[uuid.UUID][]models.OrderLine),
		dedup:    make(map[string]DedupRecord),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *memData) clone() *memData {
	c := &memData{
		sessions: cloneMap(d.sessions),
		users:    cloneMap(d.users),
		patients: cloneMap(d.patients),
		meds:     cloneMap(d.meds),
		labs:     cloneMap(d.labs),
		orders:   cloneMap(d.orders),
		lines:    make(map[uuid.UUID][]models.OrderLine, len(d.lines)),
		dedup:    cloneMap(d.dedup),
	}
	for id, ls := range d.lines {
		c.lines[id] = append([]models.OrderLine(nil), ls...)
	}
	return c
}

// NewInMemoryStore creates a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: newMemData()}
}

func (s *InMemoryStore) Close() error {
	return nil
}

func (s *InMemoryStore) GetState(ctx context.Context, phone string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.data.sessions[phone]; ok {
		return state, nil
	}
	s.data.sessions[phone] = DefaultStateToken
	return DefaultStateToken, nil
}

func (s *InMemoryStore) ListCategories(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var cats []string
	for _, m := range s.data.meds {
		if m.Category == "" || seen[m.Category] {
			continue
		}
		seen[m.Category] = true
		cats = append(cats, m.Category)
	}
	sort.Strings(cats)
	return cats, nil
}

func (s *InMemoryStore) ListMedicationsByCategory(ctx context.Context, category string) ([]models.Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var meds []models.Medication
	for _, m := range s.data.meds {
		if m.Category == category && m.InStock {
			meds = append(meds, m)
		}
	}
	sort.Slice(meds, func(i, j int) bool { return meds[i].BrandName < meds[j].BrandName })
	return meds, nil
}

func (s *InMemoryStore) GetMedicationByName(ctx context.Context, name string) (*models.Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data.meds[name]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// SearchMedications matches substrings of brand name or compound, ignoring
// case, and ranks brand name prefixes first.
func (s *InMemoryStore) SearchMedications(ctx context.Context, term string) ([]models.Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(term)
	var meds []models.Medication
	for _, m := range s.data.meds {
		if !m.InStock {
			continue
		}
		if strings.Contains(strings.ToLower(m.BrandName), needle) ||
			strings.Contains(strings.ToLower(m.ActiveCompound), needle) {
			meds = append(meds, m)
		}
	}
	sort.Slice(meds, func(i, j int) bool {
		pi := strings.HasPrefix(strings.ToLower(meds[i].BrandName), needle)
		pj := strings.HasPrefix(strings.ToLower(meds[j].BrandName), needle)
		if pi != pj {
			return pi
		}
		return meds[i].BrandName < meds[j].BrandName
	})
	if len(meds) > MaxSearchResults {
		meds = meds[:MaxSearchResults]
	}
	return meds, nil
}

func (s *InMemoryStore) ListLabTestNames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name := range s.data.labs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *InMemoryStore) GetLabTestByName(ctx context.Context, name string) (*models.LabTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.data.labs[name]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *InMemoryStore) UpsertMedication(ctx context.Context, m models.Medication) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.data.meds[m.BrandName]; ok {
		m.ID = existing.ID
	} else if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	s.data.meds[m.BrandName] = m
	return m.ID, nil
}

func (s *InMemoryStore) UpsertLabTest(ctx context.Context, t models.LabTest) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.data.labs[t.Name]; ok {
		t.ID = existing.ID
	} else if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s.data.labs[t.Name] = t
	return t.ID, nil
}

func (s *InMemoryStore) FindUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.data.users[phone]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *InMemoryStore) CreateUser(ctx context.Context, phone string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.data.users[phone]; ok {
		return &u, nil
	}
	now := time.Now().UTC()
	u := models.User{ID: uuid.New(), Phone: phone, CreatedAt: now, UpdatedAt: now}
	s.data.users[phone] = u
	return &u, nil
}

func (s *InMemoryStore) FindPatientByPhone(ctx context.Context, phone string) (*models.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data.patients[phone]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) CreatePatient(ctx context.Context, userID uuid.UUID, phone string) (*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.data.patients[phone]; ok {
		return &p, nil
	}
	for _, p := range s.data.patients {
		if p.UserID == userID {
			return nil, unavailable("create patient", fmt.Errorf("user %s already has a patient under another phone", userID))
		}
	}
	now := time.Now().UTC()
	p := models.Patient{ID: uuid.New(), UserID: userID, Phone: phone, CreatedAt: now, UpdatedAt: now}
	s.data.patients[phone] = p
	return &p, nil
}

func (s *InMemoryStore) FindPendingOrder(ctx context.Context, patientID uuid.UUID) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.data.pendingOrder(patientID); ok {
		return &o, nil
	}
	return nil, nil
}

func (s *InMemoryStore) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.data.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *InMemoryStore) OrderLines(ctx context.Context, orderID uuid.UUID) ([]models.OrderLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.OrderLine(nil), s.data.lines[orderID]...), nil
}

func (s *InMemoryStore) OrderSummary(ctx context.Context, orderID uuid.UUID) ([]models.TicketLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := make(map[uuid.UUID]string, len(s.data.meds))
	for _, m := range s.data.meds {
		byID[m.ID] = m.BrandName
	}
	var out []models.TicketLine
	for _, l := range s.data.lines[orderID] {
		name, ok := byID[l.MedicationID]
		if !ok {
			continue
		}
		out = append(out, models.TicketLine{Name: name, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return out, nil
}

// InTx holds the write lock for the whole of fn. fn must only use tx; calling
// other store methods from inside fn deadlocks.
func (s *InMemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(&memTx{data: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (d *memData) pendingOrder(patientID uuid.UUID) (models.Order, bool) {
	for _, o := range d.orders {
		if o.PatientID == patientID && o.Status == models.OrderStatusPending {
			return o, true
		}
	}
	return models.Order{}, false
}

// memTx implements Tx on a private copy of the store data.
type memTx struct {
	data *memData
}

func (t *memTx) SetState(ctx context.Context, phone, state string) error {
	t.data.sessions[phone] = state
	return nil
}

func (t *memTx) updateUser(userID uuid.UUID, set func(*models.User)) error {
	for phone, u := range t.data.users {
		if u.ID == userID {
			set(&u)
			u.UpdatedAt = time.Now().UTC()
			t.data.users[phone] = u
			return nil
		}
	}
	return fmt.Errorf("update user %s: %w", userID, ErrNotFound)
}

func (t *memTx) updatePatient(patientID uuid.UUID, set func(*models.Patient)) error {
	for phone, p := range t.data.patients {
		if p.ID == patientID {
			set(&p)
			p.UpdatedAt = time.Now().UTC()
			t.data.patients[phone] = p
			return nil
		}
	}
	return fmt.Errorf("update patient %s: %w", patientID, ErrNotFound)
}

func (t *memTx) updatePendingOrder(patientID uuid.UUID, set func(*models.Order)) {
	if o, ok := t.data.pendingOrder(patientID); ok {
		set(&o)
		o.UpdatedAt = time.Now().UTC()
		t.data.orders[o.ID] = o
	}
}

func (t *memTx) UpdateFirstName(ctx context.Context, userID uuid.UUID, value string) error {
	return t.updateUser(userID, func(u *models.User) { u.FirstName = value })
}

func (t *memTx) UpdatePaternalSurname(ctx context.Context, userID uuid.UUID, value string) error {
	return t.updateUser(userID, func(u *models.User) { u.PaternalSurname = value })
}

func (t *memTx) UpdateMaternalSurname(ctx context.Context, userID uuid.UUID, value string) error {
	return t.updateUser(userID, func(u *models.User) { u.MaternalSurname = value })
}

func (t *memTx) UpdateEmail(ctx context.Context, userID uuid.UUID, value string) error {
	return t.updateUser(userID, func(u *models.User) { u.Email = value })
}

func (t *memTx) UpdateCURP(ctx context.Context, patientID uuid.UUID, value string) error {
	return t.updatePatient(patientID, func(p *models.Patient) { p.CURP = value })
}

func (t *memTx) UpdateGender(ctx context.Context, patientID uuid.UUID, value string) error {
	return t.updatePatient(patientID, func(p *models.Patient) { p.Gender = value })
}

func (t *memTx) UpdateAddress(ctx context.Context, patientID uuid.UUID, address string) error {
	if err := t.updatePatient(patientID, func(p *models.Patient) { p.DeliveryAddress = address }); err != nil {
		return err
	}
	t.updatePendingOrder(patientID, func(o *models.Order) { o.DeliveryAddress = address })
	return nil
}

func (t *memTx) UpdatePrescriptionRef(ctx context.Context, patientID uuid.UUID, ref string) error {
	if err := t.updatePatient(patientID, func(p *models.Patient) { p.PrescriptionRef = ref }); err != nil {
		return err
	}
	t.updatePendingOrder(patientID, func(o *models.Order) { o.PrescriptionRef = ref })
	return nil
}

func (t *memTx) EnsurePendingOrder(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	if o, ok := t.data.pendingOrder(patientID); ok {
		return o.ID, nil
	}
	now := time.Now().UTC()
	o := models.Order{
		ID:        uuid.New(),
		PatientID: patientID,
		Status:    models.OrderStatusPending,
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.data.orders[o.ID] = o
	return o.ID, nil
}

func (t *memTx) AddLine(ctx context.Context, orderID, medicationID uuid.UUID, unitPrice decimal.Decimal, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("add line: quantity must be positive, got %d", quantity)
	}
	o, ok := t.data.orders[orderID]
	if !ok {
		return fmt.Errorf("add line to order %s: %w", orderID, ErrNotFound)
	}
	if o.Status != models.OrderStatusPending {
		return fmt.Errorf("add line: order %s is %s, not pending", orderID, o.Status)
	}

	lines := t.data.lines[orderID]
	merged := false
	for i := range lines {
		if lines[i].MedicationID == medicationID && lines[i].UnitPrice.Equal(unitPrice) {
			lines[i].Quantity += quantity
			merged = true
			break
		}
	}
	if !merged {
		lines = append(lines, models.OrderLine{
			ID:           uuid.New(),
			OrderID:      orderID,
			MedicationID: medicationID,
			Quantity:     quantity,
			UnitPrice:    unitPrice,
		})
	}
	t.data.lines[orderID] = lines

	o.Total = sumLines(lines)
	o.UpdatedAt = time.Now().UTC()
	t.data.orders[orderID] = o
	return nil
}

// Compile-time check that InMemoryStore implements DedupRepo.
var _ DedupRepo = (*InMemoryStore)(nil)

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.dedup[messageID]; ok {
		return false, nil
	}
	s.data.dedup[messageID] = DedupRecord{MessageID: messageID, Phone: phone, ReceivedAt: time.Now().UTC()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	rec.ProcessedAt = &now
	s.data.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) ReleaseInbound(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.data.dedup[messageID]; ok && rec.ProcessedAt == nil {
		delete(s.data.dedup, messageID)
	}
	return nil
}

func (s *InMemoryStore) PruneInbound(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.data.dedup {
		if rec.ReceivedAt.Before(cutoff) {
			delete(s.data.dedup, id)
			n++
		}
	}
	return n, nil
}
