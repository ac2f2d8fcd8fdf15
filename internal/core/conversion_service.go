package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ConversionService interface {
	// Convert turns an accepted proforma, or an issued delivery note or
	// receipt, into a new draft invoice. The source is marked converted
	// and both sides are linked, atomically.
	Convert(ctx context.Context, companyID, sourceID int) (*Document, error)
	// BulkConvert merges several issued delivery notes for the same client
	// and currency into a single draft invoice. All-or-nothing: any
	// ineligible source fails the whole call before the first write.
	BulkConvert(ctx context.Context, companyID int, sourceIDs []int) (*Document, error)
	// Storno creates a reversal draft of the same kind with every quantity
	// negated. The reversal is never auto-issued.
	Storno(ctx context.Context, companyID, sourceID int) (*Document, error)
}

type conversionService struct {
	pool *pgxpool.Pool
}

func NewConversionService(pool *pgxpool.Pool) ConversionService {
	return &conversionService{pool: pool}
}

func (s *conversionService) Convert(ctx context.Context, companyID, sourceID int) (*Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	source, err := lockDocumentTx(ctx, tx, companyID, sourceID)
	if err != nil {
		return nil, err
	}
	if err := checkConvertible(source); err != nil {
		return nil, err
	}
	source.Lines, err = loadLinesTx(ctx, tx, source.ID)
	if err != nil {
		return nil, err
	}

	invoice, err := insertDocumentTx(ctx, tx, companyID, conversionInput(source, source.Lines), StatusDraft, NewPlaceholderNumber(KindInvoice))
	if err != nil {
		return nil, fmt.Errorf("convert document %d: %w", sourceID, err)
	}
	if err := linkConversionTx(ctx, tx, source, invoice); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return invoice, nil
}

func (s *conversionService) BulkConvert(ctx context.Context, companyID int, sourceIDs []int) (*Document, error) {
	if len(sourceIDs) == 0 {
		return nil, fmt.Errorf("bulk convert: no source documents")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Deterministic lock order regardless of caller ordering.
	ids := append([]int(nil), sourceIDs...)
	sort.Ints(ids)

	sources := make([]*Document, 0, len(ids))
	for _, id := range ids {
		src, err := lockDocumentTx(ctx, tx, companyID, id)
		if err != nil {
			return nil, err
		}
		if src.Kind != KindDeliveryNote {
			return nil, fmt.Errorf("bulk convert document %d: only delivery notes are supported: %w", id, ErrInvalidState)
		}
		if src.Status != StatusIssued {
			return nil, fmt.Errorf("bulk convert document %d in status %s: %w", id, src.Status, ErrInvalidState)
		}
		src.Lines, err = loadLinesTx(ctx, tx, src.ID)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	first := sources[0]
	for _, src := range sources[1:] {
		if src.Currency != first.Currency || !intPtrEqual(src.ClientID, first.ClientID) {
			return nil, fmt.Errorf("bulk convert: %w", ErrInconsistentBulkConversion)
		}
	}

	var merged []DocumentLine
	for _, src := range sources {
		merged = append(merged, src.Lines...)
	}

	invoice, err := insertDocumentTx(ctx, tx, companyID, conversionInput(first, merged), StatusDraft, NewPlaceholderNumber(KindInvoice))
	if err != nil {
		return nil, fmt.Errorf("bulk convert: %w", err)
	}
	for _, src := range sources {
		if err := linkConversionTx(ctx, tx, src, invoice); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return invoice, nil
}

func (s *conversionService) Storno(ctx context.Context, companyID, sourceID int) (*Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	source, err := lockDocumentTx(ctx, tx, companyID, sourceID)
	if err != nil {
		return nil, err
	}
	if !CanStorno(source.Kind, source.Status) {
		return nil, fmt.Errorf("storno document %d in status %s: %w", sourceID, source.Status, ErrInvalidState)
	}
	source.Lines, err = loadLinesTx(ctx, tx, source.ID)
	if err != nil {
		return nil, err
	}

	input := conversionInput(source, source.Lines)
	input.Kind = source.Kind
	for i := range input.Lines {
		input.Lines[i].Quantity = input.Lines[i].Quantity.Neg()
		input.Lines[i].Discount = input.Lines[i].Discount.Neg()
	}
	mention := fmt.Sprintf("Storno %s", source.Number)
	input.Mentions = &mention
	input.ParentDocumentID = &source.ID

	storno, err := insertDocumentTx(ctx, tx, companyID, input, StatusDraft, NewPlaceholderNumber(source.Kind))
	if err != nil {
		return nil, fmt.Errorf("storno document %d: %w", sourceID, err)
	}

	if err := appendEventTx(ctx, tx, source.ID, nil, source.Status, map[string]any{
		"storno_document_id": storno.ID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return storno, nil
}

func checkConvertible(source *Document) error {
	required, ok := ConvertibleFrom(source.Kind)
	if !ok {
		return fmt.Errorf("convert document %d: %s cannot be converted: %w", source.ID, source.Kind, ErrInvalidState)
	}
	if source.Status != required {
		return fmt.Errorf("convert document %d in status %s: %w", source.ID, source.Status, ErrInvalidState)
	}
	if source.ConvertedIntoID != nil {
		return fmt.Errorf("convert document %d: already converted into %d: %w", source.ID, *source.ConvertedIntoID, ErrInvalidState)
	}
	return nil
}

// conversionInput builds a draft-invoice input from a source document and a
// line set, copying line data so the target carries fresh rows.
func conversionInput(source *Document, lines []DocumentLine) DocumentInput {
	inputs := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		inputs = append(inputs, LineInput{
			Description:     l.Description,
			Quantity:        l.Quantity,
			UnitOfMeasure:   l.UnitOfMeasure,
			UnitPrice:       l.UnitPrice,
			VatRate:         l.VatRate,
			VatCategoryCode: l.VatCategoryCode,
			VatIncluded:     l.VatIncluded,
			Discount:        l.Discount,
			DiscountPercent: l.DiscountPercent,
			ProductCode:     l.ProductCode,
		})
	}
	return DocumentInput{
		Kind:         KindInvoice,
		ClientID:     source.ClientID,
		Currency:     source.Currency,
		Direction:    source.Direction,
		ReceiverName: source.ReceiverName,
		ReceiverCIF:  source.ReceiverCIF,
		SenderName:   source.SenderName,
		SenderCIF:    source.SenderCIF,
		ExchangeRate: source.ExchangeRate,
		Lines:        inputs,
	}
}

// linkConversionTx marks the source converted and links both sides.
func linkConversionTx(ctx context.Context, tx pgx.Tx, source, target *Document) error {
	previous := source.Status
	converted := ConvertedStatus(source.Kind)
	now := time.Now()

	if _, err := tx.Exec(ctx, `
		UPDATE documents
		SET status = $1, converted_into_id = $2, updated_at = NOW()
		WHERE id = $3`,
		converted, target.ID, source.ID,
	); err != nil {
		return fmt.Errorf("mark document %d converted: %w", source.ID, err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE documents SET conversion_source_id = $1 WHERE id = $2`,
		source.ID, target.ID,
	); err != nil {
		return fmt.Errorf("link conversion target %d: %w", target.ID, err)
	}
	if err := appendEventTx(ctx, tx, source.ID, &previous, converted, map[string]any{
		"converted_into_id": target.ID,
		"converted_at":      now.Format(time.RFC3339),
	}); err != nil {
		return err
	}
	return nil
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
