package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sebashdez96/biotecza-bot/internal/models"
)

// CatalogSeed is the JSON document accepted by SeedCatalog.
type CatalogSeed struct {
	Medications []models.Medication `json:"medications"`
	LabTests    []models.LabTest    `json:"lab_tests"`
}

// SeedCatalog upserts every entry of a CatalogSeed read from r. Entries are
// keyed by brand name and lab test name, so loading the same file twice is
// harmless.
func SeedCatalog(ctx context.Context, w CatalogWriter, r io.Reader) (meds, labs int, err error) {
	var seed CatalogSeed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return 0, 0, fmt.Errorf("failed to decode catalog seed: %w", err)
	}

	for i, m := range seed.Medications {
		if strings.TrimSpace(m.BrandName) == "" {
			return meds, labs, fmt.Errorf("medication %d: brand_name is required", i)
		}
		if m.Price.IsNegative() {
			return meds, labs, fmt.Errorf("medication %q: negative price", m.BrandName)
		}
		if _, err := w.UpsertMedication(ctx, m); err != nil {
			return meds, labs, fmt.Errorf("failed to upsert medication %q: %w", m.BrandName, err)
		}
		meds++
	}
	for i, t := range seed.LabTests {
		if strings.TrimSpace(t.Name) == "" {
			return meds, labs, fmt.Errorf("lab test %d: name is required", i)
		}
		if t.Price.IsNegative() {
			return meds, labs, fmt.Errorf("lab test %q: negative price", t.Name)
		}
		if _, err := w.UpsertLabTest(ctx, t); err != nil {
			return meds, labs, fmt.Errorf("failed to upsert lab test %q: %w", t.Name, err)
		}
		labs++
	}

	slog.Info("store.SeedCatalog: catalog loaded", "medications", meds, "lab_tests", labs)
	return meds, labs, nil
}
