package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// VatLine is one VAT-rate bucket in a period's VAT summary.
type VatLine struct {
	VatRate  decimal.Decimal `json:"vat_rate"`
	NetTotal decimal.Decimal `json:"net_total"`
	VatTotal decimal.Decimal `json:"vat_total"`
}

type VatSummary struct {
	CompanyID int             `json:"company_id"`
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Lines     []VatLine       `json:"lines"`
	NetTotal  decimal.Decimal `json:"net_total"`
	VatTotal  decimal.Decimal `json:"vat_total"`
}

// SalesTotals aggregates issued documents over a period, by currency.
type SalesTotals struct {
	Currency      string          `json:"currency"`
	DocumentCount int             `json:"document_count"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	VatTotal      decimal.Decimal `json:"vat_total"`
	Total         decimal.Decimal `json:"total"`
}

type ReportService interface {
	// VatSummary breaks issued invoices and credit notes in a period down
	// by VAT rate. Credit notes carry negative amounts by construction,
	// so they net out of the totals without special-casing.
	VatSummary(ctx context.Context, companyID int, from, to time.Time) (*VatSummary, error)
	SalesTotals(ctx context.Context, companyID int, from, to time.Time) ([]SalesTotals, error)
}

type reportService struct {
	pool *pgxpool.Pool
}

func NewReportService(pool *pgxpool.Pool) ReportService {
	return &reportService{pool: pool}
}

// fiscalStatuses are the document states that count toward fiscal reports:
// everything issued and not subsequently cancelled.
const fiscalStatuses = `('ISSUED', 'SUBMITTED', 'VALIDATED', 'REJECTED', 'CONVERTED', 'INVOICED', 'SYNCED')`

func (s *reportService) VatSummary(ctx context.Context, companyID int, from, to time.Time) (*VatSummary, error) {
	q := `
		SELECT l.vat_rate,
		       SUM(l.line_total) AS net_total,
		       SUM(l.vat_amount) AS vat_total
		FROM document_lines l
		JOIN documents d ON d.id = l.document_id
		WHERE d.company_id = $1
		  AND d.kind IN ('invoice', 'credit_note')
		  AND d.status IN ` + fiscalStatuses + `
		  AND d.deleted_at IS NULL
		  AND d.issue_date >= $2 AND d.issue_date <= $3
		GROUP BY l.vat_rate
		ORDER BY l.vat_rate`

	rows, err := s.pool.Query(ctx, q, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query VAT summary: %w", err)
	}
	defer rows.Close()

	summary := &VatSummary{CompanyID: companyID, From: from, To: to}
	for rows.Next() {
		var line VatLine
		if err := rows.Scan(&line.VatRate, &line.NetTotal, &line.VatTotal); err != nil {
			return nil, fmt.Errorf("failed to scan VAT summary row: %w", err)
		}
		summary.Lines = append(summary.Lines, line)
		summary.NetTotal = summary.NetTotal.Add(line.NetTotal)
		summary.VatTotal = summary.VatTotal.Add(line.VatTotal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("VAT summary row iteration error: %w", err)
	}
	return summary, nil
}

func (s *reportService) SalesTotals(ctx context.Context, companyID int, from, to time.Time) ([]SalesTotals, error) {
	q := `
		SELECT currency,
		       COUNT(*),
		       SUM(subtotal),
		       SUM(vat_total),
		       SUM(total)
		FROM documents
		WHERE company_id = $1
		  AND kind IN ('invoice', 'credit_note')
		  AND status IN ` + fiscalStatuses + `
		  AND deleted_at IS NULL
		  AND issue_date >= $2 AND issue_date <= $3
		GROUP BY currency
		ORDER BY currency`

	rows, err := s.pool.Query(ctx, q, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales totals: %w", err)
	}
	defer rows.Close()

	var totals []SalesTotals
	for rows.Next() {
		var t SalesTotals
		if err := rows.Scan(&t.Currency, &t.DocumentCount, &t.Subtotal, &t.VatTotal, &t.Total); err != nil {
			return nil, fmt.Errorf("failed to scan sales totals row: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sales totals row iteration error: %w", err)
	}
	return totals, nil
}
