package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SeriesService interface {
	CreateSeries(ctx context.Context, companyID int, input SeriesInput) (*DocumentSeries, error)
	GetSeries(ctx context.Context, companyID int) ([]DocumentSeries, error)
	SetDefault(ctx context.Context, companyID, seriesID int) error
	Deactivate(ctx context.Context, companyID, seriesID int) error
	// EnsureDefaults creates one active default series per document kind
	// for companies that have none. Idempotent; returns how many were
	// created.
	EnsureDefaults(ctx context.Context, companyID int) (int, error)
}

type SeriesInput struct {
	Kind      DocumentKind `json:"kind"`
	Prefix    string       `json:"prefix"`
	StartAt   int64        `json:"start_at"`
	IsDefault bool         `json:"is_default"`
}

// defaultPrefixes are the series seeded by EnsureDefaults.
var defaultPrefixes = map[DocumentKind]string{
	KindInvoice:      "FCT",
	KindCreditNote:   "STO",
	KindProforma:     "PRF",
	KindDeliveryNote: "AVZ",
	KindReceipt:      "BON",
}

type seriesService struct {
	pool *pgxpool.Pool
}

// NewSeriesService constructs a SeriesService backed by PostgreSQL.
func NewSeriesService(pool *pgxpool.Pool) SeriesService {
	return &seriesService{pool: pool}
}

func (s *seriesService) CreateSeries(ctx context.Context, companyID int, input SeriesInput) (*DocumentSeries, error) {
	prefix := strings.ToUpper(strings.TrimSpace(input.Prefix))
	if prefix == "" {
		return nil, fmt.Errorf("create series: prefix is required")
	}
	startAt := input.StartAt
	if startAt < 0 {
		startAt = 0
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if input.IsDefault {
		if err := clearDefaultTx(ctx, tx, companyID, input.Kind); err != nil {
			return nil, err
		}
	}

	series := &DocumentSeries{}
	err = tx.QueryRow(ctx, `
		INSERT INTO document_series (company_id, kind, prefix, current_number, is_default, is_active)
		VALUES ($1, $2, $3, $4, $5, true)
		RETURNING id, company_id, kind, prefix, current_number, is_default, is_active, created_at`,
		companyID, input.Kind, prefix, startAt, input.IsDefault,
	).Scan(
		&series.ID, &series.CompanyID, &series.Kind, &series.Prefix,
		&series.CurrentNumber, &series.IsDefault, &series.IsActive, &series.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("create series %q: %w", prefix, ErrDuplicatePrefix)
		}
		return nil, fmt.Errorf("create series %q: %w", prefix, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return series, nil
}

// GetSeries returns all series for a company, active first, ordered by
// kind and prefix.
func (s *seriesService) GetSeries(ctx context.Context, companyID int) ([]DocumentSeries, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, kind, prefix, current_number, is_default, is_active, created_at
		FROM document_series
		WHERE company_id = $1
		ORDER BY is_active DESC, kind, prefix`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("get series: %w", err)
	}
	defer rows.Close()

	var result []DocumentSeries
	for rows.Next() {
		var ds DocumentSeries
		if err := rows.Scan(
			&ds.ID, &ds.CompanyID, &ds.Kind, &ds.Prefix,
			&ds.CurrentNumber, &ds.IsDefault, &ds.IsActive, &ds.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		result = append(result, ds)
	}
	return result, nil
}

// SetDefault marks a series as the default for its kind, clearing the flag
// on the previous default in the same transaction.
func (s *seriesService) SetDefault(ctx context.Context, companyID, seriesID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var kind DocumentKind
	var isActive bool
	err = tx.QueryRow(ctx, `
		SELECT kind, is_active FROM document_series
		WHERE id = $1 AND company_id = $2
		FOR UPDATE`,
		seriesID, companyID,
	).Scan(&kind, &isActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("set default series %d: %w", seriesID, ErrNotFound)
		}
		return fmt.Errorf("set default series %d: %w", seriesID, err)
	}
	if !isActive {
		return fmt.Errorf("set default series %d: series is inactive: %w", seriesID, ErrInvalidState)
	}

	if err := clearDefaultTx(ctx, tx, companyID, kind); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE document_series SET is_default = true WHERE id = $1`,
		seriesID,
	); err != nil {
		return fmt.Errorf("set default series %d: %w", seriesID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Deactivate retires a series. Deactivation never deletes: issued numbers
// must stay attributable to their series forever.
func (s *seriesService) Deactivate(ctx context.Context, companyID, seriesID int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE document_series SET is_active = false, is_default = false
		WHERE id = $1 AND company_id = $2`,
		seriesID, companyID,
	)
	if err != nil {
		return fmt.Errorf("deactivate series %d: %w", seriesID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deactivate series %d: %w", seriesID, ErrNotFound)
	}
	return nil
}

func (s *seriesService) EnsureDefaults(ctx context.Context, companyID int) (int, error) {
	created := 0
	for _, kind := range []DocumentKind{KindInvoice, KindCreditNote, KindProforma, KindDeliveryNote, KindReceipt} {
		var exists bool
		err := s.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM document_series
				WHERE company_id = $1 AND kind = $2 AND is_active = true
			)`,
			companyID, kind,
		).Scan(&exists)
		if err != nil {
			return created, fmt.Errorf("ensure default series: %w", err)
		}
		if exists {
			continue
		}
		if _, err := s.CreateSeries(ctx, companyID, SeriesInput{
			Kind:      kind,
			Prefix:    defaultPrefixes[kind],
			IsDefault: true,
		}); err != nil {
			// Another caller may have seeded the same prefix concurrently.
			if errors.Is(err, ErrDuplicatePrefix) {
				continue
			}
			return created, err
		}
		created++
	}
	return created, nil
}

func clearDefaultTx(ctx context.Context, tx pgx.Tx, companyID int, kind DocumentKind) error {
	if _, err := tx.Exec(ctx, `
		UPDATE document_series SET is_default = false
		WHERE company_id = $1 AND kind = $2 AND is_default = true`,
		companyID, kind,
	); err != nil {
		return fmt.Errorf("clear default series for %s: %w", kind, err)
	}
	return nil
}

// resolveSeriesTx picks the series a document will be numbered from: the
// explicit one when set, otherwise the kind's default, otherwise the only
// active series for the kind. Ambiguity is an error, never a guess.
func resolveSeriesTx(ctx context.Context, tx pgx.Tx, companyID int, kind DocumentKind, seriesID *int) (int, error) {
	if seriesID != nil {
		var ok bool
		err := tx.QueryRow(ctx, `
			SELECT is_active FROM document_series
			WHERE id = $1 AND company_id = $2 AND kind = $3`,
			*seriesID, companyID, kind,
		).Scan(&ok)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, fmt.Errorf("series %d: %w", *seriesID, ErrNotFound)
			}
			return 0, fmt.Errorf("resolve series %d: %w", *seriesID, err)
		}
		if !ok {
			return 0, fmt.Errorf("series %d is inactive: %w", *seriesID, ErrInvalidState)
		}
		return *seriesID, nil
	}

	rows, err := tx.Query(ctx, `
		SELECT id, is_default FROM document_series
		WHERE company_id = $1 AND kind = $2 AND is_active = true`,
		companyID, kind,
	)
	if err != nil {
		return 0, fmt.Errorf("resolve default series: %w", err)
	}
	defer rows.Close()

	var candidates []int
	for rows.Next() {
		var id int
		var isDefault bool
		if err := rows.Scan(&id, &isDefault); err != nil {
			return 0, fmt.Errorf("scan series candidate: %w", err)
		}
		if isDefault {
			return id, nil
		}
		candidates = append(candidates, id)
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	return 0, fmt.Errorf("resolve series for %s: %w", kind, ErrNoDefaultSeries)
}

// reserveNextTx atomically advances a series and returns the reserved
// sequence value together with the prefix. The single-statement UPDATE is
// what makes concurrent issuance gapless: each caller serializes on the
// row lock and observes a distinct value.
func reserveNextTx(ctx context.Context, tx pgx.Tx, seriesID int) (string, int64, error) {
	var prefix string
	var n int64
	err := tx.QueryRow(ctx, `
		UPDATE document_series
		SET current_number = current_number + 1
		WHERE id = $1
		RETURNING prefix, current_number`,
		seriesID,
	).Scan(&prefix, &n)
	if err != nil {
		return "", 0, fmt.Errorf("failed to reserve series number: %w", err)
	}
	return prefix, n, nil
}
