package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type DocumentKind string

const (
	KindInvoice      DocumentKind = "invoice"
	KindCreditNote   DocumentKind = "credit_note"
	KindProforma     DocumentKind = "proforma"
	KindDeliveryNote DocumentKind = "delivery_note"
	KindReceipt      DocumentKind = "receipt"
)

type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "DRAFT"
	StatusIssued    DocumentStatus = "ISSUED"
	StatusSubmitted DocumentStatus = "SUBMITTED"
	StatusValidated DocumentStatus = "VALIDATED"
	StatusRejected  DocumentStatus = "REJECTED"
	StatusCancelled DocumentStatus = "CANCELLED"
	StatusSent      DocumentStatus = "SENT"
	StatusAccepted  DocumentStatus = "ACCEPTED"
	StatusExpired   DocumentStatus = "EXPIRED"
	StatusConverted DocumentStatus = "CONVERTED"
	StatusInvoiced  DocumentStatus = "INVOICED"
	StatusSynced    DocumentStatus = "SYNCED"
)

type DocumentDirection string

const (
	DirectionOutgoing DocumentDirection = "outgoing"
	DirectionIncoming DocumentDirection = "incoming"
)

type Company struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	CIF             string `json:"cif"`
	CountryCode     string `json:"country_code"`
	DefaultCurrency string `json:"default_currency"`
}

type Client struct {
	ID                 int       `json:"id"`
	CompanyID          int       `json:"company_id"`
	Name               string    `json:"name"`
	FiscalID           string    `json:"fiscal_id"`
	RegistrationNumber *string   `json:"registration_number,omitempty"`
	Address            *string   `json:"address,omitempty"`
	Email              *string   `json:"email,omitempty"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
}

// DocumentSeries is a per-company numbering sequence. CurrentNumber only
// moves through ReserveNext (atomic increment) and the delete-last-draft
// decrement; (company_id, prefix) is unique.
type DocumentSeries struct {
	ID            int          `json:"id"`
	CompanyID     int          `json:"company_id"`
	Kind          DocumentKind `json:"kind"`
	Prefix        string       `json:"prefix"`
	CurrentNumber int64        `json:"current_number"`
	IsDefault     bool         `json:"is_default"`
	IsActive      bool         `json:"is_active"`
	CreatedAt     time.Time    `json:"created_at"`
}

type DocumentLine struct {
	ID              int             `json:"id"`
	DocumentID      int             `json:"document_id"`
	Position        int             `json:"position"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitOfMeasure   string          `json:"unit_of_measure"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	VatRate         decimal.Decimal `json:"vat_rate"`
	VatCategoryCode string          `json:"vat_category_code"`
	VatIncluded     bool            `json:"vat_included"`
	Discount        decimal.Decimal `json:"discount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	ProductCode     *string         `json:"product_code,omitempty"`
	LineTotal       decimal.Decimal `json:"line_total"`
	VatAmount       decimal.Decimal `json:"vat_amount"`
}

// LineInput is the caller-supplied shape of one document line. Derived
// amounts are never accepted from callers; ComputeLine fills them.
type LineInput struct {
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitOfMeasure   string          `json:"unit_of_measure"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	VatRate         decimal.Decimal `json:"vat_rate"`
	VatCategoryCode string          `json:"vat_category_code"`
	VatIncluded     bool            `json:"vat_included"`
	Discount        decimal.Decimal `json:"discount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	ProductCode     *string         `json:"product_code,omitempty"`
}

type Document struct {
	ID                 int                `json:"id"`
	CompanyID          int                `json:"company_id"`
	ClientID           *int               `json:"client_id,omitempty"`
	SeriesID           *int               `json:"series_id,omitempty"`
	Kind               DocumentKind       `json:"kind"`
	Status             DocumentStatus     `json:"status"`
	Number             string             `json:"number"`
	Currency           string             `json:"currency"`
	Direction          *DocumentDirection `json:"direction,omitempty"`
	IssueDate          time.Time          `json:"issue_date"`
	DueDate            *time.Time         `json:"due_date,omitempty"`
	ReceiverName       *string            `json:"receiver_name,omitempty"`
	ReceiverCIF        *string            `json:"receiver_cif,omitempty"`
	SenderName         *string            `json:"sender_name,omitempty"`
	SenderCIF          *string            `json:"sender_cif,omitempty"`
	Notes              *string            `json:"notes,omitempty"`
	Mentions           *string            `json:"mentions,omitempty"`
	InternalNote       *string            `json:"internal_note,omitempty"`
	ExchangeRate       *decimal.Decimal   `json:"exchange_rate,omitempty"`
	Subtotal           decimal.Decimal    `json:"subtotal"`
	VatTotal           decimal.Decimal    `json:"vat_total"`
	Discount           decimal.Decimal    `json:"discount"`
	Total              decimal.Decimal    `json:"total"`
	ConversionSourceID *int               `json:"conversion_source_id,omitempty"`
	ConvertedIntoID    *int               `json:"converted_into_id,omitempty"`
	ParentDocumentID   *int               `json:"parent_document_id,omitempty"`
	IssuedAt           *time.Time         `json:"issued_at,omitempty"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	CancellationReason *string            `json:"cancellation_reason,omitempty"`
	SentAt             *time.Time         `json:"sent_at,omitempty"`
	AcceptedAt         *time.Time         `json:"accepted_at,omitempty"`
	RejectedAt         *time.Time         `json:"rejected_at,omitempty"`
	ExpiredAt          *time.Time         `json:"expired_at,omitempty"`
	ETransportStatus   *string            `json:"etransport_status,omitempty"`
	ETransportVehicle  *string            `json:"etransport_vehicle_number,omitempty"`
	ETransportSentAt   *time.Time         `json:"etransport_submitted_at,omitempty"`
	SyncedAt           *time.Time         `json:"synced_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	Lines              []DocumentLine     `json:"lines"`
}

// DocumentEvent is one append-only audit entry. Events are written in the
// same transaction as the transition they record and are never updated.
type DocumentEvent struct {
	ID             int             `json:"id"`
	DocumentID     int             `json:"document_id"`
	PreviousStatus *DocumentStatus `json:"previous_status,omitempty"`
	NewStatus      DocumentStatus  `json:"new_status"`
	Metadata       map[string]any  `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}

type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "PENDING"
	SubmissionAccepted SubmissionStatus = "ACCEPTED"
	SubmissionRejected SubmissionStatus = "REJECTED"
	SubmissionError    SubmissionStatus = "ERROR"
)

type EInvoiceSubmission struct {
	ID           int              `json:"id"`
	DocumentID   int              `json:"document_id"`
	Status       SubmissionStatus `json:"status"`
	ExternalID   *string          `json:"external_id,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

type Frequency string

const (
	FrequencyOnce       Frequency = "once"
	FrequencyWeekly     Frequency = "weekly"
	FrequencyMonthly    Frequency = "monthly"
	FrequencyBimonthly  Frequency = "bimonthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencySemiannual Frequency = "semi_annually"
	FrequencyYearly     Frequency = "yearly"
)

type DueDateType string

const (
	DueDateDays  DueDateType = "days"
	DueDateFixed DueDateType = "fixed_day"
)

// LineTemplate is a recurring-schedule line. Description may carry the
// [[luna]], [[an]] and [[luna_nr]] tokens, substituted at firing time.
// ReferenceCurrency triggers unit-price conversion through the configured
// RateProvider when the schedule bills in the company's home currency.
type LineTemplate struct {
	Description       string           `json:"description"`
	Quantity          decimal.Decimal  `json:"quantity"`
	UnitOfMeasure     string           `json:"unit_of_measure"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`
	VatRate           decimal.Decimal  `json:"vat_rate"`
	VatCategoryCode   string           `json:"vat_category_code"`
	Discount          decimal.Decimal  `json:"discount"`
	DiscountPercent   decimal.Decimal  `json:"discount_percent"`
	ProductCode       *string          `json:"product_code,omitempty"`
	ReferenceCurrency *string          `json:"reference_currency,omitempty"`
	MarkupPercent     *decimal.Decimal `json:"markup_percent,omitempty"`
}

type RecurringSchedule struct {
	ID                int            `json:"id"`
	CompanyID         int            `json:"company_id"`
	ClientID          int            `json:"client_id"`
	Kind              DocumentKind   `json:"kind"`
	SeriesID          *int           `json:"series_id,omitempty"`
	Currency          string         `json:"currency"`
	Reference         *string        `json:"reference,omitempty"`
	Notes             *string        `json:"notes,omitempty"`
	LineTemplates     []LineTemplate `json:"line_templates"`
	Frequency         Frequency      `json:"frequency"`
	FrequencyDay      int            `json:"frequency_day"`
	FrequencyMonth    *int           `json:"frequency_month,omitempty"`
	NextIssuanceDate  *time.Time     `json:"next_issuance_date,omitempty"`
	DueDateType       DueDateType    `json:"due_date_type"`
	DueDateDays       *int           `json:"due_date_days,omitempty"`
	DueDateFixedDay   *int           `json:"due_date_fixed_day,omitempty"`
	IsActive          bool           `json:"is_active"`
	StopDate          *time.Time     `json:"stop_date,omitempty"`
	LastIssuedAt      *time.Time     `json:"last_issued_at,omitempty"`
	LastInvoiceNumber *string        `json:"last_invoice_number,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}
