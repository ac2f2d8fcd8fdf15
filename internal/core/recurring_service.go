package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type RecurringService interface {
	CreateSchedule(ctx context.Context, companyID int, input ScheduleInput) (*RecurringSchedule, error)
	GetSchedule(ctx context.Context, companyID, scheduleID int) (*RecurringSchedule, error)
	ListSchedules(ctx context.Context, companyID int, activeOnly bool) ([]RecurringSchedule, error)
	UpdateSchedule(ctx context.Context, companyID, scheduleID int, input ScheduleInput) (*RecurringSchedule, error)
	SetActive(ctx context.Context, companyID, scheduleID int, active bool) error

	// Fire materializes one draft from a due schedule and advances it by
	// exactly one period. Firing never issues the draft.
	Fire(ctx context.Context, companyID, scheduleID int, now time.Time) (*Document, error)
	// RunDue fires every due schedule across all companies, up to limit.
	// Per-schedule failures are logged and counted, never abort the batch.
	RunDue(ctx context.Context, now time.Time, limit int, dryRun bool) (RunReport, error)
}

type ScheduleInput struct {
	ClientID        int            `json:"client_id"`
	Kind            DocumentKind   `json:"kind"`
	SeriesID        *int           `json:"series_id,omitempty"`
	Currency        string         `json:"currency"`
	Reference       *string        `json:"reference,omitempty"`
	Notes           *string        `json:"notes,omitempty"`
	LineTemplates   []LineTemplate `json:"line_templates"`
	Frequency       Frequency      `json:"frequency"`
	FrequencyDay    int            `json:"frequency_day"`
	FrequencyMonth  *int           `json:"frequency_month,omitempty"`
	FirstIssuance   *time.Time     `json:"first_issuance,omitempty"`
	DueDateType     DueDateType    `json:"due_date_type"`
	DueDateDays     *int           `json:"due_date_days,omitempty"`
	DueDateFixedDay *int           `json:"due_date_fixed_day,omitempty"`
	StopDate        *time.Time     `json:"stop_date,omitempty"`
}

type RunReport struct {
	Due     int `json:"due"`
	Fired   int `json:"fired"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	// Drafts lists the documents materialized during the run, so callers
	// can chain a follow-up step (issuing, notification) per draft.
	Drafts []FiredDraft `json:"drafts,omitempty"`
}

type FiredDraft struct {
	ScheduleID int    `json:"schedule_id"`
	CompanyID  int    `json:"company_id"`
	DocumentID int    `json:"document_id"`
	Number     string `json:"number"`
}

type recurringService struct {
	pool     *pgxpool.Pool
	rates    RateProvider
	vatRates VatRateProvider
	log      zerolog.Logger
}

// NewRecurringService constructs the recurring engine. rates may be nil if
// no schedule uses a reference currency; vatRates may be nil if every line
// template carries its own VAT rate.
func NewRecurringService(pool *pgxpool.Pool, rates RateProvider, vatRates VatRateProvider, log zerolog.Logger) RecurringService {
	return &recurringService{pool: pool, rates: rates, vatRates: vatRates, log: log}
}

// Romanian month names, indexed by time.Month, for the [[luna]] token.
var romanianMonths = [...]string{
	"", "ianuarie", "februarie", "martie", "aprilie", "mai", "iunie",
	"iulie", "august", "septembrie", "octombrie", "noiembrie", "decembrie",
}

// SubstituteTokens expands the description placeholders against the
// issuance date: [[luna]] month name, [[luna_nr]] month number, [[an]] year.
func SubstituteTokens(s string, date time.Time) string {
	r := strings.NewReplacer(
		"[[luna]]", romanianMonths[date.Month()],
		"[[luna_nr]]", fmt.Sprintf("%02d", int(date.Month())),
		"[[an]]", strconv.Itoa(date.Year()),
	)
	return r.Replace(s)
}

// frequencyMonths maps the calendar frequencies to their month step.
var frequencyMonths = map[Frequency]int{
	FrequencyMonthly:    1,
	FrequencyBimonthly:  2,
	FrequencyQuarterly:  3,
	FrequencySemiannual: 6,
	FrequencyYearly:     12,
}

// clampDay keeps fixed monthly days at 28 or below so every month has the
// date and February never rolls the schedule over.
func clampDay(day int) int {
	if day > 28 {
		return 28
	}
	if day < 1 {
		return 1
	}
	return day
}

// AdvanceNextIssuance computes the issuance date that follows current.
// Weekly moves by seven days; calendar frequencies land on frequency_day
// (clamped to 28) of the month current+step; once returns the zero time,
// which deactivates the schedule.
func AdvanceNextIssuance(s *RecurringSchedule, current time.Time) time.Time {
	switch s.Frequency {
	case FrequencyOnce:
		return time.Time{}
	case FrequencyWeekly:
		return current.AddDate(0, 0, 7)
	default:
		step := frequencyMonths[s.Frequency]
		if step == 0 {
			step = 1
		}
		day := clampDay(s.FrequencyDay)
		next := time.Date(current.Year(), current.Month(), 1, 0, 0, 0, 0, current.Location()).
			AddDate(0, step, day-1)
		return next
	}
}

// ComputeDueDate derives the payment deadline from the issuance date. The
// fixed-day variant picks that day (clamped to 28) in the issue month, or
// the next month when it would not fall strictly after the issue date.
func ComputeDueDate(s *RecurringSchedule, issueDate time.Time) *time.Time {
	switch s.DueDateType {
	case DueDateDays:
		days := 0
		if s.DueDateDays != nil {
			days = *s.DueDateDays
		}
		due := issueDate.AddDate(0, 0, days)
		return &due
	case DueDateFixed:
		if s.DueDateFixedDay == nil {
			return nil
		}
		day := clampDay(*s.DueDateFixedDay)
		due := time.Date(issueDate.Year(), issueDate.Month(), day, 0, 0, 0, 0, issueDate.Location())
		if !due.After(issueDate) {
			due = due.AddDate(0, 1, 0)
		}
		return &due
	}
	return nil
}

// ScheduleDue reports whether a schedule may fire at now. Stop-date expiry
// is reported separately so the runner can deactivate instead of failing.
func ScheduleDue(s *RecurringSchedule, now time.Time) (due, expired bool) {
	if !s.IsActive || s.NextIssuanceDate == nil {
		return false, false
	}
	if s.StopDate != nil && !now.Before(*s.StopDate) {
		return false, true
	}
	return !s.NextIssuanceDate.After(now), false
}

func (s *recurringService) CreateSchedule(ctx context.Context, companyID int, input ScheduleInput) (*RecurringSchedule, error) {
	if len(input.LineTemplates) == 0 {
		return nil, fmt.Errorf("create schedule: at least one line template is required")
	}
	if input.Kind == "" {
		input.Kind = KindInvoice
	}
	templates, err := json.Marshal(input.LineTemplates)
	if err != nil {
		return nil, fmt.Errorf("encode line templates: %w", err)
	}

	next := input.FirstIssuance
	if next == nil {
		n := time.Now()
		next = &n
	}

	sched := &RecurringSchedule{
		CompanyID:        companyID,
		ClientID:         input.ClientID,
		Kind:             input.Kind,
		SeriesID:         input.SeriesID,
		Currency:         input.Currency,
		Reference:        input.Reference,
		Notes:            input.Notes,
		LineTemplates:    input.LineTemplates,
		Frequency:        input.Frequency,
		FrequencyDay:     clampDay(input.FrequencyDay),
		FrequencyMonth:   input.FrequencyMonth,
		NextIssuanceDate: next,
		DueDateType:      input.DueDateType,
		DueDateDays:      input.DueDateDays,
		DueDateFixedDay:  input.DueDateFixedDay,
		IsActive:         true,
		StopDate:         input.StopDate,
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO recurring_schedules (company_id, client_id, kind, series_id, currency, reference,
		                                 notes, line_templates, frequency, frequency_day, frequency_month,
		                                 next_issuance_date, due_date_type, due_date_days, due_date_fixed_day,
		                                 is_active, stop_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at`,
		sched.CompanyID, sched.ClientID, sched.Kind, sched.SeriesID, sched.Currency, sched.Reference,
		sched.Notes, templates, sched.Frequency, sched.FrequencyDay, sched.FrequencyMonth,
		sched.NextIssuanceDate, sched.DueDateType, sched.DueDateDays, sched.DueDateFixedDay,
		sched.IsActive, sched.StopDate,
	).Scan(&sched.ID, &sched.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create recurring schedule: %w", err)
	}
	return sched, nil
}

const scheduleColumns = `
	id, company_id, client_id, kind, series_id, currency, reference, notes, line_templates,
	frequency, frequency_day, frequency_month, next_issuance_date,
	due_date_type, due_date_days, due_date_fixed_day,
	is_active, stop_date, last_issued_at, last_invoice_number, created_at`

func scanSchedule(row pgx.Row) (*RecurringSchedule, error) {
	sched := &RecurringSchedule{}
	var templates []byte
	err := row.Scan(
		&sched.ID, &sched.CompanyID, &sched.ClientID, &sched.Kind, &sched.SeriesID,
		&sched.Currency, &sched.Reference, &sched.Notes, &templates,
		&sched.Frequency, &sched.FrequencyDay, &sched.FrequencyMonth, &sched.NextIssuanceDate,
		&sched.DueDateType, &sched.DueDateDays, &sched.DueDateFixedDay,
		&sched.IsActive, &sched.StopDate, &sched.LastIssuedAt, &sched.LastInvoiceNumber, &sched.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(templates) > 0 {
		if err := json.Unmarshal(templates, &sched.LineTemplates); err != nil {
			return nil, fmt.Errorf("decode line templates: %w", err)
		}
	}
	return sched, nil
}

func (s *recurringService) GetSchedule(ctx context.Context, companyID, scheduleID int) (*RecurringSchedule, error) {
	sched, err := scanSchedule(s.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM recurring_schedules
		WHERE id = $1 AND company_id = $2`,
		scheduleID, companyID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("schedule %d: %w", scheduleID, ErrNotFound)
		}
		return nil, fmt.Errorf("get schedule %d: %w", scheduleID, err)
	}
	return sched, nil
}

func (s *recurringService) ListSchedules(ctx context.Context, companyID int, activeOnly bool) ([]RecurringSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM recurring_schedules
		WHERE company_id = $1`
	if activeOnly {
		query += ` AND is_active = true`
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var scheds []RecurringSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		scheds = append(scheds, *sched)
	}
	return scheds, nil
}

func (s *recurringService) UpdateSchedule(ctx context.Context, companyID, scheduleID int, input ScheduleInput) (*RecurringSchedule, error) {
	if len(input.LineTemplates) == 0 {
		return nil, fmt.Errorf("update schedule %d: at least one line template is required", scheduleID)
	}
	templates, err := json.Marshal(input.LineTemplates)
	if err != nil {
		return nil, fmt.Errorf("encode line templates: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE recurring_schedules
		SET client_id = $1, series_id = $2, currency = $3, reference = $4, notes = $5,
		    line_templates = $6, frequency = $7, frequency_day = $8, frequency_month = $9,
		    due_date_type = $10, due_date_days = $11, due_date_fixed_day = $12, stop_date = $13
		WHERE id = $14 AND company_id = $15`,
		input.ClientID, input.SeriesID, input.Currency, input.Reference, input.Notes,
		templates, input.Frequency, clampDay(input.FrequencyDay), input.FrequencyMonth,
		input.DueDateType, input.DueDateDays, input.DueDateFixedDay, input.StopDate,
		scheduleID, companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("update schedule %d: %w", scheduleID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("schedule %d: %w", scheduleID, ErrNotFound)
	}
	return s.GetSchedule(ctx, companyID, scheduleID)
}

func (s *recurringService) SetActive(ctx context.Context, companyID, scheduleID int, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE recurring_schedules SET is_active = $1
		WHERE id = $2 AND company_id = $3`,
		active, scheduleID, companyID,
	)
	if err != nil {
		return fmt.Errorf("set schedule %d active=%t: %w", scheduleID, active, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("schedule %d: %w", scheduleID, ErrNotFound)
	}
	return nil
}

func (s *recurringService) Fire(ctx context.Context, companyID, scheduleID int, now time.Time) (*Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sched, err := scanSchedule(tx.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM recurring_schedules
		WHERE id = $1 AND company_id = $2
		FOR UPDATE`,
		scheduleID, companyID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("schedule %d: %w", scheduleID, ErrNotFound)
		}
		return nil, fmt.Errorf("lock schedule %d: %w", scheduleID, err)
	}

	due, expired := ScheduleDue(sched, now)
	if expired {
		if _, err := tx.Exec(ctx, `
			UPDATE recurring_schedules SET is_active = false WHERE id = $1`,
			sched.ID,
		); err != nil {
			return nil, fmt.Errorf("deactivate expired schedule %d: %w", sched.ID, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil, fmt.Errorf("schedule %d reached its stop date: %w", scheduleID, ErrScheduleNotDue)
	}
	if !due {
		return nil, fmt.Errorf("schedule %d: %w", scheduleID, ErrScheduleNotDue)
	}

	issueDate := *sched.NextIssuanceDate
	input, err := s.materializeInput(ctx, sched, issueDate)
	if err != nil {
		return nil, err
	}

	doc, err := insertDocumentTx(ctx, tx, companyID, input, StatusDraft, NewPlaceholderNumber(sched.Kind))
	if err != nil {
		return nil, fmt.Errorf("fire schedule %d: %w", scheduleID, err)
	}
	if err := appendEventTx(ctx, tx, doc.ID, nil, StatusDraft, map[string]any{"schedule_id": sched.ID}); err != nil {
		return nil, err
	}

	next := AdvanceNextIssuance(sched, issueDate)
	var nextPtr *time.Time
	active := true
	if next.IsZero() {
		active = false
	} else {
		nextPtr = &next
	}
	if _, err := tx.Exec(ctx, `
		UPDATE recurring_schedules
		SET next_issuance_date = $1, is_active = $2, last_issued_at = $3, last_invoice_number = $4
		WHERE id = $5`,
		nextPtr, active, now, doc.Number, sched.ID,
	); err != nil {
		return nil, fmt.Errorf("advance schedule %d: %w", scheduleID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return doc, nil
}

// materializeInput turns the schedule's templates into a concrete draft
// input for one issuance date: token substitution, optional reference
// currency conversion (with markup) into the schedule's billing currency.
func (s *recurringService) materializeInput(ctx context.Context, sched *RecurringSchedule, issueDate time.Time) (DocumentInput, error) {
	// Standard rate lookup, done at most once per firing: templates with a
	// zero rate in the standard category take the company country's rate
	// as of the issuance date.
	var standardRate *decimal.Decimal
	standardVat := func() (decimal.Decimal, error) {
		if standardRate != nil {
			return *standardRate, nil
		}
		var country string
		if err := s.pool.QueryRow(ctx, `
			SELECT country_code FROM companies WHERE id = $1`,
			sched.CompanyID,
		).Scan(&country); err != nil {
			return decimal.Zero, fmt.Errorf("schedule %d: load company country: %w", sched.ID, err)
		}
		rate, err := s.vatRates(ctx, country, issueDate)
		if err != nil {
			return decimal.Zero, fmt.Errorf("schedule %d: standard vat rate: %w", sched.ID, err)
		}
		standardRate = &rate
		return rate, nil
	}

	lines := make([]LineInput, 0, len(sched.LineTemplates))
	for _, t := range sched.LineTemplates {
		unitPrice := t.UnitPrice
		if t.ReferenceCurrency != nil && *t.ReferenceCurrency != sched.Currency {
			if s.rates == nil {
				return DocumentInput{}, fmt.Errorf("schedule %d: reference currency %s set but no rate provider", sched.ID, *t.ReferenceCurrency)
			}
			rate, err := s.rates(ctx, *t.ReferenceCurrency, issueDate)
			if err != nil {
				return DocumentInput{}, fmt.Errorf("schedule %d: rate for %s: %w", sched.ID, *t.ReferenceCurrency, err)
			}
			unitPrice = t.UnitPrice.Mul(rate)
			if t.MarkupPercent != nil {
				unitPrice = unitPrice.Mul(one.Add(t.MarkupPercent.DivRound(hundred, intermediateScale)))
			}
			unitPrice = unitPrice.Round(amountScale)
		}
		vatRate := t.VatRate
		if vatRate.IsZero() && s.vatRates != nil && (t.VatCategoryCode == "" || t.VatCategoryCode == "S") {
			rate, err := standardVat()
			if err != nil {
				return DocumentInput{}, err
			}
			vatRate = rate
		}
		lines = append(lines, LineInput{
			Description:     SubstituteTokens(t.Description, issueDate),
			Quantity:        t.Quantity,
			UnitOfMeasure:   t.UnitOfMeasure,
			UnitPrice:       unitPrice,
			VatRate:         vatRate,
			VatCategoryCode: t.VatCategoryCode,
			Discount:        t.Discount,
			DiscountPercent: t.DiscountPercent,
			ProductCode:     t.ProductCode,
		})
	}

	var notes *string
	if sched.Notes != nil {
		n := SubstituteTokens(*sched.Notes, issueDate)
		notes = &n
	}
	return DocumentInput{
		Kind:      sched.Kind,
		ClientID:  &sched.ClientID,
		SeriesID:  sched.SeriesID,
		Currency:  sched.Currency,
		IssueDate: &issueDate,
		DueDate:   ComputeDueDate(sched, issueDate),
		Notes:     notes,
		Lines:     lines,
	}, nil
}

func (s *recurringService) RunDue(ctx context.Context, now time.Time, limit int, dryRun bool) (RunReport, error) {
	query := `
		SELECT id, company_id FROM recurring_schedules
		WHERE is_active = true AND next_issuance_date IS NOT NULL AND next_issuance_date <= $1
		ORDER BY next_issuance_date, id`
	args := []any{now}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return RunReport{}, fmt.Errorf("query due schedules: %w", err)
	}
	type ref struct{ id, companyID int }
	var refs []ref
	for rows.Next() {
		var r ref
		if err := rows.Scan(&r.id, &r.companyID); err != nil {
			rows.Close()
			return RunReport{}, fmt.Errorf("scan due schedule: %w", err)
		}
		refs = append(refs, r)
	}
	rows.Close()

	report := RunReport{Due: len(refs)}
	for _, r := range refs {
		if dryRun {
			s.log.Info().Int("schedule_id", r.id).Int("company_id", r.companyID).Msg("due (dry run)")
			report.Skipped++
			continue
		}
		doc, err := s.Fire(ctx, r.companyID, r.id, now)
		if err != nil {
			if errors.Is(err, ErrScheduleNotDue) {
				// Raced with another runner or hit its stop date between
				// the scan and the lock.
				report.Skipped++
				continue
			}
			s.log.Error().Err(err).Int("schedule_id", r.id).Msg("schedule failed to fire")
			report.Failed++
			continue
		}
		s.log.Info().Int("schedule_id", r.id).Int("document_id", doc.ID).Str("number", doc.Number).Msg("schedule fired")
		report.Fired++
		report.Drafts = append(report.Drafts, FiredDraft{
			ScheduleID: r.id,
			CompanyID:  r.companyID,
			DocumentID: doc.ID,
			Number:     doc.Number,
		})
	}
	return report, nil
}
