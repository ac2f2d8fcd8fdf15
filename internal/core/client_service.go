package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ClientService interface {
	CreateClient(ctx context.Context, companyID int, input ClientInput) (*Client, error)
	GetClients(ctx context.Context, companyID int) ([]Client, error)
	GetClient(ctx context.Context, companyID, clientID int) (*Client, error)
	// FindByFiscalID looks a client up by fiscal identifier, scoped to the
	// company. Importers use it to dedupe counterparties.
	FindByFiscalID(ctx context.Context, companyID int, fiscalID string) (*Client, error)
	UpdateClient(ctx context.Context, companyID, clientID int, input ClientInput) (*Client, error)
	DeactivateClient(ctx context.Context, companyID, clientID int) error
}

type ClientInput struct {
	Name               string  `json:"name"`
	FiscalID           string  `json:"fiscal_id"`
	RegistrationNumber *string `json:"registration_number,omitempty"`
	Address            *string `json:"address,omitempty"`
	Email              *string `json:"email,omitempty"`
}

type clientService struct {
	pool *pgxpool.Pool
}

// NewClientService constructs a ClientService backed by PostgreSQL.
func NewClientService(pool *pgxpool.Pool) ClientService {
	return &clientService{pool: pool}
}

func (s *clientService) CreateClient(ctx context.Context, companyID int, input ClientInput) (*Client, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("create client: name is required")
	}

	c := &Client{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO clients (company_id, name, fiscal_id, registration_number, address, email)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, company_id, name, fiscal_id, registration_number, address, email, is_active, created_at`,
		companyID, input.Name, input.FiscalID, input.RegistrationNumber, input.Address, input.Email,
	).Scan(
		&c.ID, &c.CompanyID, &c.Name, &c.FiscalID,
		&c.RegistrationNumber, &c.Address, &c.Email, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create client %q: %w", input.Name, err)
	}
	return c, nil
}

// GetClients returns all active clients for a company, ordered by name.
func (s *clientService) GetClients(ctx context.Context, companyID int) ([]Client, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, name, fiscal_id, registration_number, address, email, is_active, created_at
		FROM clients
		WHERE company_id = $1 AND is_active = true
		ORDER BY name`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("get clients: %w", err)
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(
			&c.ID, &c.CompanyID, &c.Name, &c.FiscalID,
			&c.RegistrationNumber, &c.Address, &c.Email, &c.IsActive, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func (s *clientService) GetClient(ctx context.Context, companyID, clientID int) (*Client, error) {
	c := &Client{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_id, name, fiscal_id, registration_number, address, email, is_active, created_at
		FROM clients
		WHERE id = $1 AND company_id = $2`,
		clientID, companyID,
	).Scan(
		&c.ID, &c.CompanyID, &c.Name, &c.FiscalID,
		&c.RegistrationNumber, &c.Address, &c.Email, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("client %d: %w", clientID, ErrNotFound)
		}
		return nil, fmt.Errorf("get client %d: %w", clientID, err)
	}
	return c, nil
}

func (s *clientService) FindByFiscalID(ctx context.Context, companyID int, fiscalID string) (*Client, error) {
	c := &Client{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_id, name, fiscal_id, registration_number, address, email, is_active, created_at
		FROM clients
		WHERE company_id = $1 AND fiscal_id = $2`,
		companyID, fiscalID,
	).Scan(
		&c.ID, &c.CompanyID, &c.Name, &c.FiscalID,
		&c.RegistrationNumber, &c.Address, &c.Email, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("client with fiscal id %q: %w", fiscalID, ErrNotFound)
		}
		return nil, fmt.Errorf("find client by fiscal id %q: %w", fiscalID, err)
	}
	return c, nil
}

func (s *clientService) UpdateClient(ctx context.Context, companyID, clientID int, input ClientInput) (*Client, error) {
	c := &Client{}
	err := s.pool.QueryRow(ctx, `
		UPDATE clients
		SET name = $1, fiscal_id = $2, registration_number = $3, address = $4, email = $5
		WHERE id = $6 AND company_id = $7
		RETURNING id, company_id, name, fiscal_id, registration_number, address, email, is_active, created_at`,
		input.Name, input.FiscalID, input.RegistrationNumber, input.Address, input.Email,
		clientID, companyID,
	).Scan(
		&c.ID, &c.CompanyID, &c.Name, &c.FiscalID,
		&c.RegistrationNumber, &c.Address, &c.Email, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("client %d: %w", clientID, ErrNotFound)
		}
		return nil, fmt.Errorf("update client %d: %w", clientID, err)
	}
	return c, nil
}

func (s *clientService) DeactivateClient(ctx context.Context, companyID, clientID int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE clients SET is_active = false
		WHERE id = $1 AND company_id = $2`,
		clientID, companyID,
	)
	if err != nil {
		return fmt.Errorf("deactivate client %d: %w", clientID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client %d: %w", clientID, ErrNotFound)
	}
	return nil
}
