package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"invoicing-engine/internal/core"
	"invoicing-engine/internal/logger"
)

func monthlyScheduleInput() core.ScheduleInput {
	first := date(2026, time.March, 1)
	days := 15
	return core.ScheduleInput{
		ClientID:      1,
		Kind:          core.KindInvoice,
		Currency:      "RON",
		Frequency:     core.FrequencyMonthly,
		FrequencyDay:  1,
		FirstIssuance: &first,
		DueDateType:   core.DueDateDays,
		DueDateDays:   &days,
		LineTemplates: []core.LineTemplate{
			{
				Description: "Abonament [[luna]] [[an]]",
				Quantity:    dec("1"),
				UnitPrice:   dec("500.00"),
				VatRate:     dec("19"),
			},
		},
	}
}

func TestRecurringService_FireMaterializesDraft(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	svc := core.NewRecurringService(pool, nil, nil, logger.GetLogger())
	ctx := context.Background()

	sched, err := svc.CreateSchedule(ctx, 1, monthlyScheduleInput())
	if err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}

	now := date(2026, time.March, 2)
	doc, err := svc.Fire(ctx, 1, sched.ID, now)
	if err != nil {
		t.Fatalf("failed to fire: %v", err)
	}

	// Firing yields a DRAFT with a placeholder number, never an issued
	// document.
	if doc.Status != core.StatusDraft {
		t.Errorf("fired document status = %s, want DRAFT", doc.Status)
	}
	if !core.IsPlaceholderNumber(doc.Number) {
		t.Errorf("fired document number = %q, want a placeholder", doc.Number)
	}
	if len(doc.Lines) != 1 || doc.Lines[0].Description != "Abonament martie 2026" {
		t.Errorf("line description = %v, want substituted tokens", doc.Lines)
	}
	if doc.DueDate == nil || !doc.DueDate.Equal(date(2026, time.March, 16)) {
		t.Errorf("due date = %v, want 2026-03-16", doc.DueDate)
	}

	reloaded, err := svc.GetSchedule(ctx, 1, sched.ID)
	if err != nil {
		t.Fatalf("failed to reload schedule: %v", err)
	}
	if reloaded.NextIssuanceDate == nil || !reloaded.NextIssuanceDate.Equal(date(2026, time.April, 1)) {
		t.Errorf("next issuance = %v, want 2026-04-01", reloaded.NextIssuanceDate)
	}
	if reloaded.LastIssuedAt == nil {
		t.Error("last_issued_at not stamped")
	}
	if reloaded.LastInvoiceNumber == nil || !strings.HasPrefix(*reloaded.LastInvoiceNumber, "DRAFT-") {
		t.Errorf("last_invoice_number = %v, want the draft placeholder", reloaded.LastInvoiceNumber)
	}

	// Advanced past now: a second fire is not due.
	if _, err := svc.Fire(ctx, 1, sched.ID, now); !errors.Is(err, core.ErrScheduleNotDue) {
		t.Errorf("immediate refire = %v, want ErrScheduleNotDue", err)
	}
}

func TestRecurringService_OnceDeactivates(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	svc := core.NewRecurringService(pool, nil, nil, logger.GetLogger())
	ctx := context.Background()

	in := monthlyScheduleInput()
	in.Frequency = core.FrequencyOnce
	sched, err := svc.CreateSchedule(ctx, 1, in)
	if err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}

	if _, err := svc.Fire(ctx, 1, sched.ID, date(2026, time.March, 2)); err != nil {
		t.Fatalf("failed to fire: %v", err)
	}

	reloaded, err := svc.GetSchedule(ctx, 1, sched.ID)
	if err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if reloaded.IsActive {
		t.Error("once schedule must deactivate after firing")
	}
	if reloaded.NextIssuanceDate != nil {
		t.Errorf("once schedule next issuance = %v, want nil", reloaded.NextIssuanceDate)
	}
}

func TestRecurringService_StopDateDeactivates(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	svc := core.NewRecurringService(pool, nil, nil, logger.GetLogger())
	ctx := context.Background()

	in := monthlyScheduleInput()
	stop := date(2026, time.March, 1)
	in.StopDate = &stop
	sched, err := svc.CreateSchedule(ctx, 1, in)
	if err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}

	if _, err := svc.Fire(ctx, 1, sched.ID, date(2026, time.March, 2)); !errors.Is(err, core.ErrScheduleNotDue) {
		t.Errorf("fire past stop date = %v, want ErrScheduleNotDue", err)
	}
	reloaded, err := svc.GetSchedule(ctx, 1, sched.ID)
	if err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if reloaded.IsActive {
		t.Error("schedule past its stop date must deactivate")
	}
}

func TestRecurringService_ReferenceCurrencyConversion(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	// Fixed 5.00 RON/EUR rate.
	rates := func(ctx context.Context, currency string, d time.Time) (decimal.Decimal, error) {
		if currency != "EUR" {
			t.Errorf("rate requested for %s, want EUR", currency)
		}
		return dec("5.00"), nil
	}
	svc := core.NewRecurringService(pool, rates, nil, logger.GetLogger())
	ctx := context.Background()

	in := monthlyScheduleInput()
	markup := dec("2")
	in.LineTemplates[0].UnitPrice = dec("100.00")
	in.LineTemplates[0].ReferenceCurrency = strPtr("EUR")
	in.LineTemplates[0].MarkupPercent = &markup

	sched, err := svc.CreateSchedule(ctx, 1, in)
	if err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}
	doc, err := svc.Fire(ctx, 1, sched.ID, date(2026, time.March, 2))
	if err != nil {
		t.Fatalf("failed to fire: %v", err)
	}

	// 100 EUR x 5.00 x 1.02 = 510.00 RON.
	if got := doc.Lines[0].UnitPrice.StringFixed(2); got != "510.00" {
		t.Errorf("converted unit price = %s, want 510.00", got)
	}
}

func TestRecurringService_DefaultsVatRateFromProvider(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	vatRates := func(ctx context.Context, country string, d time.Time) (decimal.Decimal, error) {
		if country != "RO" {
			t.Errorf("vat rate requested for %s, want RO", country)
		}
		return dec("21"), nil
	}
	svc := core.NewRecurringService(pool, nil, vatRates, logger.GetLogger())
	ctx := context.Background()

	// A standard-category template without a rate takes the country's
	// standard rate at firing time; an explicit rate stays as given.
	in := monthlyScheduleInput()
	in.LineTemplates[0].VatRate = decimal.Zero
	in.LineTemplates = append(in.LineTemplates, core.LineTemplate{
		Description: "Suport extins",
		Quantity:    dec("1"),
		UnitPrice:   dec("200.00"),
		VatRate:     dec("9"),
	})

	sched, err := svc.CreateSchedule(ctx, 1, in)
	if err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}
	doc, err := svc.Fire(ctx, 1, sched.ID, date(2026, time.March, 2))
	if err != nil {
		t.Fatalf("failed to fire: %v", err)
	}

	if got := doc.Lines[0].VatRate.StringFixed(0); got != "21" {
		t.Errorf("defaulted vat rate = %s, want 21", got)
	}
	if got := doc.Lines[1].VatRate.StringFixed(0); got != "9" {
		t.Errorf("explicit vat rate = %s, want 9", got)
	}
}

func TestRecurringService_RunDue(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	svc := core.NewRecurringService(pool, nil, nil, logger.GetLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.CreateSchedule(ctx, 1, monthlyScheduleInput()); err != nil {
			t.Fatalf("failed to create schedule %d: %v", i, err)
		}
	}
	// One schedule far in the future stays untouched.
	future := monthlyScheduleInput()
	first := date(2027, time.January, 1)
	future.FirstIssuance = &first
	if _, err := svc.CreateSchedule(ctx, 1, future); err != nil {
		t.Fatalf("failed to create future schedule: %v", err)
	}

	report, err := svc.RunDue(ctx, date(2026, time.March, 2), 0, false)
	if err != nil {
		t.Fatalf("failed to run due: %v", err)
	}
	if report.Due != 3 || report.Fired != 3 || report.Failed != 0 {
		t.Errorf("report = %+v, want 3 due, 3 fired", report)
	}

	var drafts int
	if err := pool.QueryRow(ctx, `
		SELECT count(*) FROM documents WHERE company_id = 1 AND status = 'DRAFT'`).Scan(&drafts); err != nil {
		t.Fatalf("failed to count drafts: %v", err)
	}
	if drafts != 3 {
		t.Errorf("materialized %d drafts, want 3", drafts)
	}

	// Dry run reports without firing.
	if _, err := svc.CreateSchedule(ctx, 1, monthlyScheduleInput()); err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}
	report, err = svc.RunDue(ctx, date(2026, time.March, 2), 0, true)
	if err != nil {
		t.Fatalf("failed dry run: %v", err)
	}
	if report.Fired != 0 || report.Skipped != report.Due {
		t.Errorf("dry run report = %+v, want everything skipped", report)
	}
}
