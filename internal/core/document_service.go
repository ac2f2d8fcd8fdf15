package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type DocumentService interface {
	CreateDraft(ctx context.Context, companyID int, input DocumentInput) (*Document, error)
	// ImportSynced inserts a document that already lives in an external
	// system, bypassing DRAFT and series numbering entirely.
	ImportSynced(ctx context.Context, companyID int, input DocumentInput, externalNumber string) (*Document, error)
	GetDocument(ctx context.Context, companyID, documentID int) (*Document, error)
	ListDocuments(ctx context.Context, companyID int, filter DocumentFilter) ([]Document, error)
	UpdateDraft(ctx context.Context, companyID, documentID int, input DocumentInput) (*Document, error)
	// DeleteDocument soft-deletes a DRAFT or CANCELLED document. When the
	// document holds the latest number of its series and was never
	// submitted, the series counter is wound back so the number is reused.
	DeleteDocument(ctx context.Context, companyID, documentID int) error

	// Issue assigns the next series number and moves the document to
	// ISSUED. Runs in its own transaction.
	Issue(ctx context.Context, companyID, documentID int) (*Document, error)
	Cancel(ctx context.Context, companyID, documentID int, reason string) (*Document, error)
	Restore(ctx context.Context, companyID, documentID int) (*Document, error)

	// Proforma client-response transitions.
	Send(ctx context.Context, companyID, documentID int) (*Document, error)
	Accept(ctx context.Context, companyID, documentID int) (*Document, error)
	Reject(ctx context.Context, companyID, documentID int) (*Document, error)
	Expire(ctx context.Context, companyID, documentID int) (*Document, error)

	GetEvents(ctx context.Context, companyID, documentID int) ([]DocumentEvent, error)
}

// DocumentInput is the caller-facing shape for creating or replacing a
// draft. Totals and numbers are never accepted from callers.
type DocumentInput struct {
	Kind              DocumentKind       `json:"kind"`
	ClientID          *int               `json:"client_id,omitempty"`
	SeriesID          *int               `json:"series_id,omitempty"`
	Currency          string             `json:"currency"`
	Direction         *DocumentDirection `json:"direction,omitempty"`
	IssueDate         *time.Time         `json:"issue_date,omitempty"`
	DueDate           *time.Time         `json:"due_date,omitempty"`
	ReceiverName      *string            `json:"receiver_name,omitempty"`
	ReceiverCIF       *string            `json:"receiver_cif,omitempty"`
	SenderName        *string            `json:"sender_name,omitempty"`
	SenderCIF         *string            `json:"sender_cif,omitempty"`
	Notes             *string            `json:"notes,omitempty"`
	Mentions          *string            `json:"mentions,omitempty"`
	InternalNote      *string            `json:"internal_note,omitempty"`
	ExchangeRate      *decimal.Decimal   `json:"exchange_rate,omitempty"`
	ETransportVehicle *string            `json:"etransport_vehicle_number,omitempty"`
	ParentDocumentID  *int               `json:"parent_document_id,omitempty"`
	Lines             []LineInput        `json:"lines"`
}

type DocumentFilter struct {
	Kind     *DocumentKind   `json:"kind,omitempty"`
	Status   *DocumentStatus `json:"status,omitempty"`
	ClientID *int            `json:"client_id,omitempty"`
	From     *time.Time      `json:"from,omitempty"`
	To       *time.Time      `json:"to,omitempty"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

type documentService struct {
	pool *pgxpool.Pool
}

func NewDocumentService(pool *pgxpool.Pool) DocumentService {
	return &documentService{pool: pool}
}

func (s *documentService) CreateDraft(ctx context.Context, companyID int, input DocumentInput) (*Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := insertDocumentTx(ctx, tx, companyID, input, StatusDraft, NewPlaceholderNumber(input.Kind))
	if err != nil {
		return nil, err
	}
	if err := appendEventTx(ctx, tx, doc.ID, nil, StatusDraft, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return doc, nil
}

func (s *documentService) ImportSynced(ctx context.Context, companyID int, input DocumentInput, externalNumber string) (*Document, error) {
	if externalNumber == "" {
		return nil, fmt.Errorf("import synced document: external number is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := insertDocumentTx(ctx, tx, companyID, input, StatusSynced, externalNumber)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if _, err := tx.Exec(ctx, `UPDATE documents SET synced_at = $1 WHERE id = $2`, now, doc.ID); err != nil {
		return nil, fmt.Errorf("mark document %d synced: %w", doc.ID, err)
	}
	doc.SyncedAt = &now
	if err := appendEventTx(ctx, tx, doc.ID, nil, StatusSynced, map[string]any{"external_number": externalNumber}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return doc, nil
}

// insertDocumentTx creates the document row plus its lines with totals
// computed server-side. Shared by draft creation, synced import, the
// converter and the recurring runner.
func insertDocumentTx(ctx context.Context, tx pgx.Tx, companyID int, input DocumentInput, status DocumentStatus, number string) (*Document, error) {
	if input.Kind == "" {
		return nil, fmt.Errorf("create document: kind is required")
	}
	if len(input.Lines) == 0 {
		return nil, fmt.Errorf("create document: at least one line is required")
	}
	issueDate := time.Now()
	if input.IssueDate != nil {
		issueDate = *input.IssueDate
	}

	doc := &Document{
		CompanyID:         companyID,
		ClientID:          input.ClientID,
		SeriesID:          input.SeriesID,
		Kind:              input.Kind,
		Status:            status,
		Number:            number,
		Currency:          input.Currency,
		Direction:         input.Direction,
		IssueDate:         issueDate,
		DueDate:           input.DueDate,
		ReceiverName:      input.ReceiverName,
		ReceiverCIF:       input.ReceiverCIF,
		SenderName:        input.SenderName,
		SenderCIF:         input.SenderCIF,
		Notes:             input.Notes,
		Mentions:          input.Mentions,
		InternalNote:      input.InternalNote,
		ExchangeRate:      input.ExchangeRate,
		ETransportVehicle: input.ETransportVehicle,
		ParentDocumentID:  input.ParentDocumentID,
		Lines:             BuildLines(input.Lines),
	}
	applyTotals(doc)

	err := tx.QueryRow(ctx, `
		INSERT INTO documents (company_id, client_id, series_id, kind, status, number, currency,
		                       direction, issue_date, due_date, receiver_name, receiver_cif,
		                       sender_name, sender_cif, notes, mentions, internal_note,
		                       exchange_rate, etransport_vehicle_number, parent_document_id,
		                       subtotal, vat_total, discount, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		        $18, $19, $20, $21, $22, $23, $24)
		RETURNING id, created_at, updated_at`,
		doc.CompanyID, doc.ClientID, doc.SeriesID, doc.Kind, doc.Status, doc.Number, doc.Currency,
		doc.Direction, doc.IssueDate, doc.DueDate, doc.ReceiverName, doc.ReceiverCIF,
		doc.SenderName, doc.SenderCIF, doc.Notes, doc.Mentions, doc.InternalNote,
		input.ExchangeRate, doc.ETransportVehicle, doc.ParentDocumentID,
		doc.Subtotal, doc.VatTotal, doc.Discount, doc.Total,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	if err := insertLinesTx(ctx, tx, doc.ID, doc.Lines); err != nil {
		return nil, err
	}
	return doc, nil
}

func insertLinesTx(ctx context.Context, tx pgx.Tx, documentID int, lines []DocumentLine) error {
	for i := range lines {
		l := &lines[i]
		l.DocumentID = documentID
		err := tx.QueryRow(ctx, `
			INSERT INTO document_lines (document_id, position, description, quantity, unit_of_measure,
			                            unit_price, vat_rate, vat_category_code, vat_included,
			                            discount, discount_percent, product_code, line_total, vat_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id`,
			l.DocumentID, l.Position, l.Description, l.Quantity, l.UnitOfMeasure,
			l.UnitPrice, l.VatRate, l.VatCategoryCode, l.VatIncluded,
			l.Discount, l.DiscountPercent, l.ProductCode, l.LineTotal, l.VatAmount,
		).Scan(&l.ID)
		if err != nil {
			return fmt.Errorf("failed to insert document line %d: %w", l.Position, err)
		}
	}
	return nil
}

const documentColumns = `
	id, company_id, client_id, series_id, kind, status, number, currency, direction,
	issue_date, due_date, receiver_name, receiver_cif, sender_name, sender_cif,
	notes, mentions, internal_note, exchange_rate,
	subtotal, vat_total, discount, total,
	conversion_source_id, converted_into_id, parent_document_id,
	issued_at, cancelled_at, cancellation_reason,
	sent_at, accepted_at, rejected_at, expired_at,
	etransport_status, etransport_vehicle_number, etransport_submitted_at,
	synced_at, created_at, updated_at`

func scanDocument(row pgx.Row) (*Document, error) {
	doc := &Document{}
	err := row.Scan(
		&doc.ID, &doc.CompanyID, &doc.ClientID, &doc.SeriesID, &doc.Kind, &doc.Status,
		&doc.Number, &doc.Currency, &doc.Direction,
		&doc.IssueDate, &doc.DueDate, &doc.ReceiverName, &doc.ReceiverCIF,
		&doc.SenderName, &doc.SenderCIF,
		&doc.Notes, &doc.Mentions, &doc.InternalNote, &doc.ExchangeRate,
		&doc.Subtotal, &doc.VatTotal, &doc.Discount, &doc.Total,
		&doc.ConversionSourceID, &doc.ConvertedIntoID, &doc.ParentDocumentID,
		&doc.IssuedAt, &doc.CancelledAt, &doc.CancellationReason,
		&doc.SentAt, &doc.AcceptedAt, &doc.RejectedAt, &doc.ExpiredAt,
		&doc.ETransportStatus, &doc.ETransportVehicle, &doc.ETransportSentAt,
		&doc.SyncedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// lockDocumentTx reads a document FOR UPDATE, scoped to the company.
// Every state transition goes through here so concurrent transitions on
// the same document serialize.
func lockDocumentTx(ctx context.Context, tx pgx.Tx, companyID, documentID int) (*Document, error) {
	doc, err := scanDocument(tx.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL
		FOR UPDATE`,
		documentID, companyID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %d: %w", documentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock document %d: %w", documentID, err)
	}
	return doc, nil
}

func loadLinesTx(ctx context.Context, tx pgx.Tx, documentID int) ([]DocumentLine, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, document_id, position, description, quantity, unit_of_measure,
		       unit_price, vat_rate, vat_category_code, vat_included,
		       discount, discount_percent, product_code, line_total, vat_amount
		FROM document_lines
		WHERE document_id = $1
		ORDER BY position`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("load lines for document %d: %w", documentID, err)
	}
	defer rows.Close()

	var lines []DocumentLine
	for rows.Next() {
		var l DocumentLine
		if err := rows.Scan(
			&l.ID, &l.DocumentID, &l.Position, &l.Description, &l.Quantity, &l.UnitOfMeasure,
			&l.UnitPrice, &l.VatRate, &l.VatCategoryCode, &l.VatIncluded,
			&l.Discount, &l.DiscountPercent, &l.ProductCode, &l.LineTotal, &l.VatAmount,
		); err != nil {
			return nil, fmt.Errorf("scan document line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, nil
}

func (s *documentService) GetDocument(ctx context.Context, companyID, documentID int) (*Document, error) {
	doc, err := scanDocument(s.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`,
		documentID, companyID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %d: %w", documentID, ErrNotFound)
		}
		return nil, fmt.Errorf("get document %d: %w", documentID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, position, description, quantity, unit_of_measure,
		       unit_price, vat_rate, vat_category_code, vat_included,
		       discount, discount_percent, product_code, line_total, vat_amount
		FROM document_lines
		WHERE document_id = $1
		ORDER BY position`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("load lines for document %d: %w", documentID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var l DocumentLine
		if err := rows.Scan(
			&l.ID, &l.DocumentID, &l.Position, &l.Description, &l.Quantity, &l.UnitOfMeasure,
			&l.UnitPrice, &l.VatRate, &l.VatCategoryCode, &l.VatIncluded,
			&l.Discount, &l.DiscountPercent, &l.ProductCode, &l.LineTotal, &l.VatAmount,
		); err != nil {
			return nil, fmt.Errorf("scan document line: %w", err)
		}
		doc.Lines = append(doc.Lines, l)
	}
	return doc, nil
}

func (s *documentService) ListDocuments(ctx context.Context, companyID int, filter DocumentFilter) ([]Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE company_id = $1 AND deleted_at IS NULL`
	args := []any{companyID}

	if filter.Kind != nil {
		args = append(args, *filter.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.ClientID != nil {
		args = append(args, *filter.ClientID)
		query += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND issue_date >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(" AND issue_date <= $%d", len(args))
	}
	query += " ORDER BY issue_date DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

func (s *documentService) UpdateDraft(ctx context.Context, companyID, documentID int, input DocumentInput) (*Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := lockDocumentTx(ctx, tx, companyID, documentID)
	if err != nil {
		return nil, err
	}
	if !CanUpdate(doc.Status) {
		return nil, fmt.Errorf("update document %d in status %s: %w", documentID, doc.Status, ErrNotEditable)
	}
	if len(input.Lines) == 0 {
		return nil, fmt.Errorf("update document %d: at least one line is required", documentID)
	}

	doc.ClientID = input.ClientID
	doc.SeriesID = input.SeriesID
	doc.Currency = input.Currency
	doc.Direction = input.Direction
	if input.IssueDate != nil {
		doc.IssueDate = *input.IssueDate
	}
	doc.DueDate = input.DueDate
	doc.ReceiverName = input.ReceiverName
	doc.ReceiverCIF = input.ReceiverCIF
	doc.SenderName = input.SenderName
	doc.SenderCIF = input.SenderCIF
	doc.Notes = input.Notes
	doc.Mentions = input.Mentions
	doc.InternalNote = input.InternalNote
	doc.ExchangeRate = input.ExchangeRate
	doc.ETransportVehicle = input.ETransportVehicle
	doc.Lines = BuildLines(input.Lines)
	applyTotals(doc)

	_, err = tx.Exec(ctx, `
		UPDATE documents
		SET client_id = $1, series_id = $2, currency = $3, direction = $4, issue_date = $5,
		    due_date = $6, receiver_name = $7, receiver_cif = $8, sender_name = $9,
		    sender_cif = $10, notes = $11, mentions = $12, internal_note = $13,
		    exchange_rate = $14, etransport_vehicle_number = $15,
		    subtotal = $16, vat_total = $17, discount = $18, total = $19, updated_at = NOW()
		WHERE id = $20`,
		doc.ClientID, doc.SeriesID, doc.Currency, doc.Direction, doc.IssueDate,
		doc.DueDate, doc.ReceiverName, doc.ReceiverCIF, doc.SenderName,
		doc.SenderCIF, doc.Notes, doc.Mentions, doc.InternalNote,
		input.ExchangeRate, doc.ETransportVehicle,
		doc.Subtotal, doc.VatTotal, doc.Discount, doc.Total, doc.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update document %d: %w", documentID, err)
	}

	// Lines are replaced wholesale; drafts have no downstream references.
	if _, err := tx.Exec(ctx, `DELETE FROM document_lines WHERE document_id = $1`, doc.ID); err != nil {
		return nil, fmt.Errorf("failed to replace lines for document %d: %w", documentID, err)
	}
	if err := insertLinesTx(ctx, tx, doc.ID, doc.Lines); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return doc, nil
}

func (s *documentService) DeleteDocument(ctx context.Context, companyID, documentID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := lockDocumentTx(ctx, tx, companyID, documentID)
	if err != nil {
		return err
	}
	if !CanDelete(doc.Status) {
		return fmt.Errorf("delete document %d in status %s: %w", documentID, doc.Status, ErrNotDeletable)
	}

	// Wind the series back when this document holds its latest number and
	// was never submitted to the authority. The lock order (document, then
	// series) matches Issue, so the two cannot deadlock.
	if doc.SeriesID != nil && !IsPlaceholderNumber(doc.Number) {
		var wasSubmitted bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM einvoice_submissions WHERE document_id = $1)`,
			doc.ID,
		).Scan(&wasSubmitted)
		if err != nil {
			return fmt.Errorf("check submissions for document %d: %w", documentID, err)
		}
		if !wasSubmitted {
			var prefix string
			var current int64
			err = tx.QueryRow(ctx, `
				SELECT prefix, current_number FROM document_series
				WHERE id = $1
				FOR UPDATE`,
				*doc.SeriesID,
			).Scan(&prefix, &current)
			if err != nil {
				return fmt.Errorf("lock series %d: %w", *doc.SeriesID, err)
			}
			if doc.Number == FormatNumber(prefix, current) {
				if _, err := tx.Exec(ctx, `
					UPDATE document_series SET current_number = current_number - 1
					WHERE id = $1`,
					*doc.SeriesID,
				); err != nil {
					return fmt.Errorf("decrement series %d: %w", *doc.SeriesID, err)
				}
			}
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE documents SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1`,
		doc.ID,
	); err != nil {
		return fmt.Errorf("failed to delete document %d: %w", documentID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *documentService) Issue(ctx context.Context, companyID, documentID int) (*Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := issueTx(ctx, tx, companyID, documentID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return doc, nil
}

// issueTx performs issuance inside the caller's transaction. The converter
// and the recurring runner reuse it so numbering and the triggering write
// stay atomic.
func issueTx(ctx context.Context, tx pgx.Tx, companyID, documentID int) (*Document, error) {
	doc, err := lockDocumentTx(ctx, tx, companyID, documentID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(doc.Kind, doc.Status, StatusIssued) {
		return nil, fmt.Errorf("issue document %d from status %s: %w", documentID, doc.Status, ErrInvalidState)
	}

	doc.Lines, err = loadLinesTx(ctx, tx, doc.ID)
	if err != nil {
		return nil, err
	}
	if result := ValidateForIssue(doc); !result.Valid {
		return nil, fmt.Errorf("issue document %d: %w", documentID, &ValidationError{Result: result})
	}

	seriesID, err := resolveSeriesTx(ctx, tx, companyID, doc.Kind, doc.SeriesID)
	if err != nil {
		return nil, fmt.Errorf("issue document %d: %w", documentID, err)
	}
	prefix, n, err := reserveNextTx(ctx, tx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("issue document %d: %w", documentID, err)
	}

	previous := doc.Status
	now := time.Now()
	doc.SeriesID = &seriesID
	doc.Number = FormatNumber(prefix, n)
	doc.Status = StatusIssued
	doc.IssuedAt = &now

	_, err = tx.Exec(ctx, `
		UPDATE documents
		SET status = $1, number = $2, series_id = $3, issued_at = $4, updated_at = NOW()
		WHERE id = $5`,
		doc.Status, doc.Number, seriesID, now, doc.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to issue document %d: %w", documentID, err)
	}

	if err := appendEventTx(ctx, tx, doc.ID, &previous, StatusIssued, map[string]any{"number": doc.Number}); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *documentService) Cancel(ctx context.Context, companyID, documentID int, reason string) (*Document, error) {
	return s.transition(ctx, companyID, documentID, StatusCancelled, func(doc *Document, now time.Time) map[string]any {
		doc.CancelledAt = &now
		if reason != "" {
			doc.CancellationReason = &reason
		}
		return map[string]any{"reason": reason}
	}, `cancelled_at = $2, cancellation_reason = NULLIF($3, '')`, func(now time.Time) []any {
		return []any{now, reason}
	})
}

func (s *documentService) Restore(ctx context.Context, companyID, documentID int) (*Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := lockDocumentTx(ctx, tx, companyID, documentID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(doc.Kind, doc.Status, StatusDraft) {
		return nil, fmt.Errorf("restore document %d from status %s: %w", documentID, doc.Status, ErrInvalidState)
	}

	previous := doc.Status
	doc.Status = StatusDraft
	doc.CancelledAt = nil
	doc.CancellationReason = nil

	// The issued number, if any, is kept: restoring does not reopen the
	// series, it only makes the document editable again as a new draft.
	_, err = tx.Exec(ctx, `
		UPDATE documents
		SET status = $1, cancelled_at = NULL, cancellation_reason = NULL, updated_at = NOW()
		WHERE id = $2`,
		doc.Status, doc.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to restore document %d: %w", documentID, err)
	}
	if err := appendEventTx(ctx, tx, doc.ID, &previous, StatusDraft, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return doc, nil
}

func (s *documentService) Send(ctx context.Context, companyID, documentID int) (*Document, error) {
	return s.transition(ctx, companyID, documentID, StatusSent, func(doc *Document, now time.Time) map[string]any {
		doc.SentAt = &now
		return nil
	}, `sent_at = $2`, func(now time.Time) []any { return []any{now} })
}

func (s *documentService) Accept(ctx context.Context, companyID, documentID int) (*Document, error) {
	return s.transition(ctx, companyID, documentID, StatusAccepted, func(doc *Document, now time.Time) map[string]any {
		doc.AcceptedAt = &now
		return nil
	}, `accepted_at = $2`, func(now time.Time) []any { return []any{now} })
}

func (s *documentService) Reject(ctx context.Context, companyID, documentID int) (*Document, error) {
	return s.transition(ctx, companyID, documentID, StatusRejected, func(doc *Document, now time.Time) map[string]any {
		doc.RejectedAt = &now
		return nil
	}, `rejected_at = $2`, func(now time.Time) []any { return []any{now} })
}

func (s *documentService) Expire(ctx context.Context, companyID, documentID int) (*Document, error) {
	return s.transition(ctx, companyID, documentID, StatusExpired, func(doc *Document, now time.Time) map[string]any {
		doc.ExpiredAt = &now
		return nil
	}, `expired_at = $2`, func(now time.Time) []any { return []any{now} })
}

// transition is the shared lock-check-update-audit path for the timestamped
// status moves. extraSet is the SQL fragment after "status = $1," and may
// reference $2..; extraArgs supplies those placeholders.
func (s *documentService) transition(
	ctx context.Context,
	companyID, documentID int,
	to DocumentStatus,
	apply func(doc *Document, now time.Time) map[string]any,
	extraSet string,
	extraArgs func(now time.Time) []any,
) (*Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := lockDocumentTx(ctx, tx, companyID, documentID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(doc.Kind, doc.Status, to) {
		return nil, fmt.Errorf("move document %d from %s to %s: %w", documentID, doc.Status, to, ErrInvalidState)
	}

	previous := doc.Status
	now := time.Now()
	doc.Status = to
	metadata := apply(doc, now)

	args := append([]any{to}, extraArgs(now)...)
	args = append(args, doc.ID)
	query := fmt.Sprintf(`
		UPDATE documents SET status = $1, %s, updated_at = NOW() WHERE id = $%d`,
		extraSet, len(args))
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to move document %d to %s: %w", documentID, to, err)
	}

	if err := appendEventTx(ctx, tx, doc.ID, &previous, to, metadata); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return doc, nil
}

func (s *documentService) GetEvents(ctx context.Context, companyID, documentID int) ([]DocumentEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.id, e.document_id, e.previous_status, e.new_status, e.metadata, e.created_at
		FROM document_events e
		JOIN documents d ON d.id = e.document_id
		WHERE e.document_id = $1 AND d.company_id = $2
		ORDER BY e.id`,
		documentID, companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("get events for document %d: %w", documentID, err)
	}
	defer rows.Close()

	var events []DocumentEvent
	for rows.Next() {
		var ev DocumentEvent
		var metadata []byte
		if err := rows.Scan(&ev.ID, &ev.DocumentID, &ev.PreviousStatus, &ev.NewStatus, &metadata, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document event: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

// appendEventTx writes one audit entry in the caller's transaction.
func appendEventTx(ctx context.Context, tx pgx.Tx, documentID int, previous *DocumentStatus, next DocumentStatus, metadata map[string]any) error {
	var payload []byte
	if metadata != nil {
		var err error
		payload, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode event metadata: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO document_events (document_id, previous_status, new_status, metadata)
		VALUES ($1, $2, $3, $4)`,
		documentID, previous, next, payload,
	); err != nil {
		return fmt.Errorf("failed to append document event: %w", err)
	}
	return nil
}
