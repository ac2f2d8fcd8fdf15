package core_test

import (
	"context"
	"errors"
	"testing"

	"invoicing-engine/internal/core"
)

func TestSeriesService_DuplicatePrefix(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	svc := core.NewSeriesService(pool)
	ctx := context.Background()

	if _, err := svc.CreateSeries(ctx, 1, core.SeriesInput{Kind: core.KindInvoice, Prefix: "FX"}); err != nil {
		t.Fatalf("failed to create series: %v", err)
	}
	if _, err := svc.CreateSeries(ctx, 1, core.SeriesInput{Kind: core.KindInvoice, Prefix: "FX"}); !errors.Is(err, core.ErrDuplicatePrefix) {
		t.Errorf("duplicate prefix = %v, want ErrDuplicatePrefix", err)
	}
	// The prefix is normalized before the uniqueness check.
	if _, err := svc.CreateSeries(ctx, 1, core.SeriesInput{Kind: core.KindInvoice, Prefix: " fx "}); !errors.Is(err, core.ErrDuplicatePrefix) {
		t.Errorf("case-folded duplicate = %v, want ErrDuplicatePrefix", err)
	}
}

func TestSeriesService_SetDefaultSwitches(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	svc := core.NewSeriesService(pool)
	ctx := context.Background()

	created, err := svc.CreateSeries(ctx, 1, core.SeriesInput{Kind: core.KindInvoice, Prefix: "FX", IsDefault: true})
	if err != nil {
		t.Fatalf("failed to create series: %v", err)
	}

	all, err := svc.GetSeries(ctx, 1)
	if err != nil {
		t.Fatalf("failed to list series: %v", err)
	}
	defaults := 0
	for _, s := range all {
		if s.Kind == core.KindInvoice && s.IsDefault && s.IsActive {
			defaults++
			if s.ID != created.ID {
				t.Errorf("default series = %d, want %d", s.ID, created.ID)
			}
		}
	}
	if defaults != 1 {
		t.Errorf("active invoice defaults = %d, want exactly 1", defaults)
	}
}

func TestSeriesService_CustomStartAt(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	series := core.NewSeriesService(pool)
	docs := core.NewDocumentService(pool)
	ctx := context.Background()

	created, err := series.CreateSeries(ctx, 1, core.SeriesInput{Kind: core.KindInvoice, Prefix: "FX", StartAt: 99})
	if err != nil {
		t.Fatalf("failed to create series: %v", err)
	}

	in := invoiceInput()
	in.SeriesID = &created.ID
	draft, err := docs.CreateDraft(ctx, 1, in)
	if err != nil {
		t.Fatalf("failed to create draft: %v", err)
	}
	issued, err := docs.Issue(ctx, 1, draft.ID)
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}
	if issued.Number != "FX0100" {
		t.Errorf("number = %q, want FX0100", issued.Number)
	}
}

func TestSeriesService_InactiveSeriesRejected(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	series := core.NewSeriesService(pool)
	docs := core.NewDocumentService(pool)
	ctx := context.Background()

	created, err := series.CreateSeries(ctx, 1, core.SeriesInput{Kind: core.KindInvoice, Prefix: "FX"})
	if err != nil {
		t.Fatalf("failed to create series: %v", err)
	}
	if err := series.Deactivate(ctx, 1, created.ID); err != nil {
		t.Fatalf("failed to deactivate: %v", err)
	}

	in := invoiceInput()
	in.SeriesID = &created.ID
	draft, err := docs.CreateDraft(ctx, 1, in)
	if err != nil {
		t.Fatalf("failed to create draft: %v", err)
	}
	if _, err := docs.Issue(ctx, 1, draft.ID); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("issue on inactive series = %v, want ErrInvalidState", err)
	}
}

func TestSeriesService_EnsureDefaults(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	svc := core.NewSeriesService(pool)
	ctx := context.Background()

	// Seed a fresh company with no series at all.
	if _, err := pool.Exec(ctx, `
		INSERT INTO companies (id, name, cif) VALUES (2, 'Fresh SRL', 'RO33333333')`); err != nil {
		t.Fatalf("failed to seed company: %v", err)
	}

	created, err := svc.EnsureDefaults(ctx, 2)
	if err != nil {
		t.Fatalf("failed to ensure defaults: %v", err)
	}
	if created != 5 {
		t.Errorf("created %d default series, want 5", created)
	}

	// Idempotent.
	created, err = svc.EnsureDefaults(ctx, 2)
	if err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	if created != 0 {
		t.Errorf("second ensure created %d series, want 0", created)
	}
}

func TestSeriesService_NoDefaultAmbiguity(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	docs := core.NewDocumentService(pool)
	ctx := context.Background()

	// Two active invoice series, neither default: resolution must refuse
	// to guess.
	if _, err := pool.Exec(ctx, `
		UPDATE document_series SET is_default = false WHERE company_id = 1 AND kind = 'invoice';
		INSERT INTO document_series (company_id, kind, prefix, current_number, is_default, is_active)
		VALUES (1, 'invoice', 'ALT', 0, false, true)`); err != nil {
		t.Fatalf("failed to seed second series: %v", err)
	}

	draft, err := docs.CreateDraft(ctx, 1, invoiceInput())
	if err != nil {
		t.Fatalf("failed to create draft: %v", err)
	}
	if _, err := docs.Issue(ctx, 1, draft.ID); !errors.Is(err, core.ErrNoDefaultSeries) {
		t.Errorf("ambiguous series issue = %v, want ErrNoDefaultSeries", err)
	}
}
