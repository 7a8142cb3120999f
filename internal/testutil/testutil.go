// Package testutil provides test helpers shared by the Biotecza packages.
package testutil

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/sebashdez96/biotecza-bot/internal/store"
)

// CatalogFixture is the catalog loaded by NewSeededStore: one category with
// two medications and a single lab test.
const CatalogFixture = `{
  "medications": [
    {"brand_name": "Paracetamol", "active_compound": "Acetaminofén", "presentation": "500 mg", "price": "45.50", "category": "Analgésicos", "in_stock": true},
    {"brand_name": "Tempra", "active_compound": "Paracetamol", "price": "89", "category": "Analgésicos", "in_stock": true}
  ],
  "lab_tests": [
    {"name": "Química sanguínea", "instructions": "Ayuno", "price": "350"}
  ]
}`

// NewSeededStore returns an in-memory store loaded with CatalogFixture.
func NewSeededStore(t *testing.T) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore()
	if _, _, err := store.SeedCatalog(context.Background(), st, strings.NewReader(CatalogFixture)); err != nil {
		t.Fatalf("failed to seed catalog: %v", err)
	}
	return st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONStatus decodes an APIResponse envelope and checks its status.
func AssertJSONStatus(t testing.TB, rr *httptest.ResponseRecorder, expected models.APIStatus) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	if resp.Status != expected {
		t.Errorf("expected JSON status %q, got %q (%s)", expected, resp.Status, resp.Message)
	}
	return resp
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
