package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// The lifecycle is one shared state machine parameterized by document kind,
// rather than five near-copies. transitions lists, per kind, every legal
// (from, to) edge the services may take. SYNCED is an entry state, not a
// transition target, so it never appears on the right-hand side.
var transitions = map[DocumentKind]map[DocumentStatus][]DocumentStatus{
	KindInvoice: {
		StatusDraft:     {StatusIssued, StatusCancelled},
		StatusIssued:    {StatusSubmitted, StatusCancelled},
		StatusSubmitted: {StatusValidated, StatusRejected},
		StatusRejected:  {StatusSubmitted},
		StatusCancelled: {StatusDraft},
	},
	KindCreditNote: {
		StatusDraft:     {StatusIssued, StatusCancelled},
		StatusIssued:    {StatusSubmitted, StatusCancelled},
		StatusSubmitted: {StatusValidated, StatusRejected},
		StatusRejected:  {StatusSubmitted},
		StatusCancelled: {StatusDraft},
	},
	KindProforma: {
		StatusDraft:     {StatusSent, StatusIssued, StatusCancelled},
		StatusIssued:    {StatusSent, StatusCancelled},
		StatusSent:      {StatusAccepted, StatusRejected, StatusExpired, StatusCancelled},
		StatusAccepted:  {StatusConverted, StatusExpired, StatusCancelled},
		StatusRejected:  {StatusCancelled},
		StatusExpired:   {StatusCancelled},
		StatusCancelled: {StatusDraft},
	},
	KindDeliveryNote: {
		StatusDraft:     {StatusIssued, StatusCancelled},
		StatusIssued:    {StatusConverted, StatusCancelled},
		StatusCancelled: {StatusDraft},
	},
	KindReceipt: {
		StatusDraft:     {StatusIssued, StatusCancelled},
		StatusIssued:    {StatusInvoiced, StatusCancelled},
		StatusCancelled: {StatusDraft},
	},
}

// CanTransition reports whether the lifecycle permits moving a document of
// the given kind from one status to another.
func CanTransition(kind DocumentKind, from, to DocumentStatus) bool {
	for _, allowed := range transitions[kind][from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanUpdate: documents are freely editable only while DRAFT.
func CanUpdate(status DocumentStatus) bool {
	return status == StatusDraft
}

// CanDelete: soft deletion is limited to DRAFT and CANCELLED.
func CanDelete(status DocumentStatus) bool {
	return status == StatusDraft || status == StatusCancelled
}

// ConvertibleFrom returns the status a source document must hold before it
// may be converted into an invoice.
func ConvertibleFrom(kind DocumentKind) (DocumentStatus, bool) {
	switch kind {
	case KindProforma:
		return StatusAccepted, true
	case KindDeliveryNote, KindReceipt:
		return StatusIssued, true
	default:
		return "", false
	}
}

// ConvertedStatus is the terminal status stamped on a converted source.
// Receipts use INVOICED, everything else CONVERTED.
func ConvertedStatus(kind DocumentKind) DocumentStatus {
	if kind == KindReceipt {
		return StatusInvoiced
	}
	return StatusConverted
}

// CanStorno: reversals are cut from documents that carry a real fiscal
// number. Delivery notes may also be reversed after conversion, since the
// goods movement stays real even once invoiced.
func CanStorno(kind DocumentKind, status DocumentStatus) bool {
	if status == StatusIssued {
		return true
	}
	return kind == KindDeliveryNote && status == StatusConverted
}

func invoiceLike(kind DocumentKind) bool {
	switch kind {
	case KindInvoice, KindCreditNote, KindProforma:
		return true
	}
	return false
}

// ValidateForIssue checks the preconditions for burning a series number.
// Violations come back as field-level data, never as a bare error, because
// the API layer maps them onto form fields.
func ValidateForIssue(doc *Document) ValidationResult {
	result := ValidationResult{Valid: true}

	if len(doc.Lines) == 0 {
		result.add("lines", "document must have at least one line")
	}
	if doc.Currency == "" {
		result.add("currency", "currency is required")
	}
	if invoiceLike(doc.Kind) {
		if doc.ReceiverName == nil || strings.TrimSpace(*doc.ReceiverName) == "" {
			result.add("receiverName", "receiver name is required")
		}
		if doc.ReceiverCIF == nil || strings.TrimSpace(*doc.ReceiverCIF) == "" {
			result.add("receiverCif", "receiver fiscal id is required")
		}
	}
	return result
}

// Placeholder prefixes per kind. A placeholder always contains a dash,
// real numbers never do, so the two are textually distinguishable.
func placeholderPrefix(kind DocumentKind) string {
	switch kind {
	case KindDeliveryNote:
		return "AVIZ-"
	case KindReceipt:
		return "BON-"
	default:
		return "DRAFT-"
	}
}

// NewPlaceholderNumber returns the temporary number a draft carries until
// issuance, e.g. "DRAFT-1a2b3c4d".
func NewPlaceholderNumber(kind DocumentKind) string {
	return placeholderPrefix(kind) + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// IsPlaceholderNumber reports whether a number is a draft placeholder
// rather than a series-derived fiscal number.
func IsPlaceholderNumber(number string) bool {
	return strings.Contains(number, "-")
}

// FormatNumber renders a reserved sequence value as the stored document
// number, zero-padded to four digits: ("FCT", 43) -> "FCT0043".
func FormatNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s%04d", prefix, n)
}
