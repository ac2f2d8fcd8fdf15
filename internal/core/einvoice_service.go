package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Transmitter delivers an issued document to the fiscal authority and
// returns its external reference. Implementations live outside the engine;
// tests use fakes.
type Transmitter interface {
	Submit(ctx context.Context, doc *Document) (externalID string, err error)
}

// SubmissionOutcome is what the authority eventually reports back.
type SubmissionOutcome struct {
	Status       SubmissionStatus `json:"status"`
	ExternalID   *string          `json:"external_id,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
}

type EInvoiceService interface {
	// Submit moves an issued document to SUBMITTED and hands it to the
	// transmitter. Transmitter failure is recorded on the submission row,
	// never surfaced through the lifecycle API: the document stays
	// SUBMITTED either way and the outcome arrives later.
	Submit(ctx context.Context, companyID, documentID int) (*EInvoiceSubmission, error)
	// ApplyOutcome records the authority's verdict: SUBMITTED moves to
	// VALIDATED or REJECTED, while an ERROR outcome lands on the latest
	// submission row only and leaves the document SUBMITTED. Re-applying
	// the same outcome is a no-op.
	ApplyOutcome(ctx context.Context, companyID, documentID int, outcome SubmissionOutcome) (*Document, error)
	GetSubmissions(ctx context.Context, companyID, documentID int) ([]EInvoiceSubmission, error)
	// SubmitETransport reports an issued delivery note's transport to the
	// e-transport system. Requires a vehicle number on the document.
	SubmitETransport(ctx context.Context, companyID, documentID int) (*Document, error)
}

type einvoiceService struct {
	pool        *pgxpool.Pool
	transmitter Transmitter
	log         zerolog.Logger
}

func NewEInvoiceService(pool *pgxpool.Pool, transmitter Transmitter, log zerolog.Logger) EInvoiceService {
	return &einvoiceService{pool: pool, transmitter: transmitter, log: log}
}

func (s *einvoiceService) Submit(ctx context.Context, companyID, documentID int) (*EInvoiceSubmission, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := lockDocumentTx(ctx, tx, companyID, documentID)
	if err != nil {
		return nil, err
	}
	switch {
	case CanTransition(doc.Kind, doc.Status, StatusSubmitted):
	case doc.Status == StatusSubmitted:
		// A SUBMITTED document is resubmittable only when its last
		// attempt errored out at the authority.
		var last SubmissionStatus
		err := tx.QueryRow(ctx, `
			SELECT status FROM einvoice_submissions
			WHERE document_id = $1
			ORDER BY id DESC LIMIT 1`,
			doc.ID,
		).Scan(&last)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("load submission for document %d: %w", documentID, err)
		}
		if err != nil || last != SubmissionError {
			return nil, fmt.Errorf("submit document %d from status %s: %w", documentID, doc.Status, ErrInvalidState)
		}
	default:
		return nil, fmt.Errorf("submit document %d from status %s: %w", documentID, doc.Status, ErrInvalidState)
	}
	doc.Lines, err = loadLinesTx(ctx, tx, doc.ID)
	if err != nil {
		return nil, err
	}

	previous := doc.Status
	doc.Status = StatusSubmitted
	if _, err := tx.Exec(ctx, `
		UPDATE documents SET status = $1, updated_at = NOW() WHERE id = $2`,
		StatusSubmitted, doc.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to submit document %d: %w", documentID, err)
	}

	sub := &EInvoiceSubmission{DocumentID: doc.ID, Status: SubmissionPending}
	if err := tx.QueryRow(ctx, `
		INSERT INTO einvoice_submissions (document_id, status)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`,
		doc.ID, SubmissionPending,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create submission for document %d: %w", documentID, err)
	}

	if err := appendEventTx(ctx, tx, doc.ID, &previous, StatusSubmitted, map[string]any{"submission_id": sub.ID}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	// The transmission happens after commit: even if it fails the document
	// is SUBMITTED and the failure lives on the submission row.
	externalID, err := s.transmitter.Submit(ctx, doc)
	if err != nil {
		s.log.Warn().Err(err).Int("document_id", doc.ID).Msg("transmitter failed, recording error on submission")
		msg := err.Error()
		if _, uerr := s.pool.Exec(ctx, `
			UPDATE einvoice_submissions
			SET status = $1, error_message = $2, updated_at = NOW()
			WHERE id = $3`,
			SubmissionError, msg, sub.ID,
		); uerr != nil {
			return nil, fmt.Errorf("failed to record transmitter error: %w", uerr)
		}
		sub.Status = SubmissionError
		sub.ErrorMessage = &msg
		return sub, nil
	}

	if _, err := s.pool.Exec(ctx, `
		UPDATE einvoice_submissions SET external_id = $1, updated_at = NOW() WHERE id = $2`,
		externalID, sub.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to record external id: %w", err)
	}
	sub.ExternalID = &externalID
	return sub, nil
}

func (s *einvoiceService) ApplyOutcome(ctx context.Context, companyID, documentID int, outcome SubmissionOutcome) (*Document, error) {
	if outcome.Status == SubmissionError {
		return s.recordOutcomeError(ctx, companyID, documentID, outcome)
	}
	target, ok := map[SubmissionStatus]DocumentStatus{
		SubmissionAccepted: StatusValidated,
		SubmissionRejected: StatusRejected,
	}[outcome.Status]
	if !ok {
		return nil, fmt.Errorf("apply outcome %q to document %d: %w", outcome.Status, documentID, ErrInvalidState)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := lockDocumentTx(ctx, tx, companyID, documentID)
	if err != nil {
		return nil, err
	}

	// Idempotent: the authority retries callbacks, so re-applying the
	// verdict the document already carries changes nothing.
	if doc.Status == target {
		return doc, nil
	}
	if !CanTransition(doc.Kind, doc.Status, target) {
		return nil, fmt.Errorf("apply outcome to document %d in status %s: %w", documentID, doc.Status, ErrInvalidState)
	}

	previous := doc.Status
	doc.Status = target
	if _, err := tx.Exec(ctx, `
		UPDATE documents SET status = $1, updated_at = NOW() WHERE id = $2`,
		target, doc.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to apply outcome to document %d: %w", documentID, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE einvoice_submissions
		SET status = $1, external_id = COALESCE($2, external_id), error_message = $3, updated_at = NOW()
		WHERE id = (SELECT max(id) FROM einvoice_submissions WHERE document_id = $4)`,
		outcome.Status, outcome.ExternalID, outcome.ErrorMessage, doc.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to update submission for document %d: %w", documentID, err)
	}

	metadata := map[string]any{"outcome": string(outcome.Status)}
	if outcome.ExternalID != nil {
		metadata["external_id"] = *outcome.ExternalID
	}
	if outcome.ErrorMessage != nil {
		metadata["error_message"] = *outcome.ErrorMessage
	}
	if err := appendEventTx(ctx, tx, doc.ID, &previous, target, metadata); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return doc, nil
}

// recordOutcomeError stores an asynchronous authority error on the latest
// submission row. The document itself does not move: an errored submission
// is retried with a fresh Submit, not a lifecycle transition.
func (s *einvoiceService) recordOutcomeError(ctx context.Context, companyID, documentID int, outcome SubmissionOutcome) (*Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := lockDocumentTx(ctx, tx, companyID, documentID)
	if err != nil {
		return nil, err
	}

	var subID int
	var subStatus SubmissionStatus
	err = tx.QueryRow(ctx, `
		SELECT id, status FROM einvoice_submissions
		WHERE document_id = $1
		ORDER BY id DESC LIMIT 1`,
		doc.ID,
	).Scan(&subID, &subStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("record error outcome for document %d: %w", documentID, ErrNotFound)
		}
		return nil, fmt.Errorf("load submission for document %d: %w", documentID, err)
	}

	// The authority retries error callbacks too, and a stale one can
	// arrive after the submission already settled. Only an in-flight
	// submission takes the error.
	if subStatus != SubmissionPending {
		return doc, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE einvoice_submissions
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3`,
		SubmissionError, outcome.ErrorMessage, subID,
	); err != nil {
		return nil, fmt.Errorf("failed to record error outcome for document %d: %w", documentID, err)
	}

	metadata := map[string]any{"outcome": string(SubmissionError)}
	if outcome.ErrorMessage != nil {
		metadata["error_message"] = *outcome.ErrorMessage
	}
	if err := appendEventTx(ctx, tx, doc.ID, &doc.Status, doc.Status, metadata); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Warn().Int("document_id", doc.ID).Int("submission_id", subID).Msg("authority reported submission error")
	return doc, nil
}

func (s *einvoiceService) GetSubmissions(ctx context.Context, companyID, documentID int) ([]EInvoiceSubmission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.document_id, s.status, s.external_id, s.error_message, s.created_at, s.updated_at
		FROM einvoice_submissions s
		JOIN documents d ON d.id = s.document_id
		WHERE s.document_id = $1 AND d.company_id = $2
		ORDER BY s.id`,
		documentID, companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("get submissions for document %d: %w", documentID, err)
	}
	defer rows.Close()

	var subs []EInvoiceSubmission
	for rows.Next() {
		var sub EInvoiceSubmission
		if err := rows.Scan(&sub.ID, &sub.DocumentID, &sub.Status, &sub.ExternalID, &sub.ErrorMessage, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *einvoiceService) SubmitETransport(ctx context.Context, companyID, documentID int) (*Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := lockDocumentTx(ctx, tx, companyID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Kind != KindDeliveryNote {
		return nil, fmt.Errorf("e-transport for document %d: only delivery notes: %w", documentID, ErrInvalidState)
	}
	if doc.Status != StatusIssued && doc.Status != StatusConverted {
		return nil, fmt.Errorf("e-transport for document %d in status %s: %w", documentID, doc.Status, ErrInvalidState)
	}
	if doc.ETransportVehicle == nil || *doc.ETransportVehicle == "" {
		result := ValidationResult{Valid: true}
		result.add("etransportVehicleNumber", "vehicle number is required for e-transport")
		return nil, fmt.Errorf("e-transport for document %d: %w", documentID, &ValidationError{Result: result})
	}
	if doc.ETransportStatus != nil && *doc.ETransportStatus == "SENT" {
		return doc, nil
	}

	now := time.Now()
	status := "SENT"
	doc.ETransportStatus = &status
	doc.ETransportSentAt = &now
	if _, err := tx.Exec(ctx, `
		UPDATE documents
		SET etransport_status = $1, etransport_submitted_at = $2, updated_at = NOW()
		WHERE id = $3`,
		status, now, doc.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to mark e-transport for document %d: %w", documentID, err)
	}
	if err := appendEventTx(ctx, tx, doc.ID, nil, doc.Status, map[string]any{
		"etransport": status,
		"vehicle":    *doc.ETransportVehicle,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return doc, nil
}
