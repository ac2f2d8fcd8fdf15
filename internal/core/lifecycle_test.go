package core_test

import (
	"strings"
	"testing"

	"invoicing-engine/internal/core"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		kind core.DocumentKind
		from core.DocumentStatus
		to   core.DocumentStatus
		want bool
	}{
		{"invoice draft can be issued", core.KindInvoice, core.StatusDraft, core.StatusIssued, true},
		{"invoice issued can be submitted", core.KindInvoice, core.StatusIssued, core.StatusSubmitted, true},
		{"invoice submitted can be validated", core.KindInvoice, core.StatusSubmitted, core.StatusValidated, true},
		{"invoice submitted can be rejected", core.KindInvoice, core.StatusSubmitted, core.StatusRejected, true},
		{"invoice rejected can be resubmitted", core.KindInvoice, core.StatusRejected, core.StatusSubmitted, true},
		{"invoice validated is terminal", core.KindInvoice, core.StatusValidated, core.StatusCancelled, false},
		{"invoice cannot skip issuance", core.KindInvoice, core.StatusDraft, core.StatusSubmitted, false},
		{"invoice cancelled can be restored", core.KindInvoice, core.StatusCancelled, core.StatusDraft, true},

		{"proforma draft can be sent", core.KindProforma, core.StatusDraft, core.StatusSent, true},
		{"proforma sent can be accepted", core.KindProforma, core.StatusSent, core.StatusAccepted, true},
		{"proforma sent can expire", core.KindProforma, core.StatusSent, core.StatusExpired, true},
		{"proforma accepted can be converted", core.KindProforma, core.StatusAccepted, core.StatusConverted, true},
		{"proforma sent cannot be converted directly", core.KindProforma, core.StatusSent, core.StatusConverted, false},
		{"proforma never enters the einvoice pipeline", core.KindProforma, core.StatusIssued, core.StatusSubmitted, false},

		{"delivery note issued can be converted", core.KindDeliveryNote, core.StatusIssued, core.StatusConverted, true},
		{"delivery note cannot be validated", core.KindDeliveryNote, core.StatusIssued, core.StatusValidated, false},

		{"receipt issued becomes invoiced", core.KindReceipt, core.StatusIssued, core.StatusInvoiced, true},
		{"receipt never converts to CONVERTED", core.KindReceipt, core.StatusIssued, core.StatusConverted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := core.CanTransition(tt.kind, tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s, %s) = %v, want %v", tt.kind, tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// The full kind x from x to matrix: every pair not listed here must be
// refused, so an accidentally widened edge cannot slip through.
func TestCanTransition_FullMatrix(t *testing.T) {
	allStatuses := []core.DocumentStatus{
		core.StatusDraft, core.StatusIssued, core.StatusSubmitted,
		core.StatusValidated, core.StatusRejected, core.StatusCancelled,
		core.StatusSent, core.StatusAccepted, core.StatusExpired,
		core.StatusConverted, core.StatusInvoiced, core.StatusSynced,
	}

	type edge struct {
		from core.DocumentStatus
		to   core.DocumentStatus
	}
	fiscal := map[edge]bool{
		{core.StatusDraft, core.StatusIssued}:        true,
		{core.StatusDraft, core.StatusCancelled}:     true,
		{core.StatusIssued, core.StatusSubmitted}:    true,
		{core.StatusIssued, core.StatusCancelled}:    true,
		{core.StatusSubmitted, core.StatusValidated}: true,
		{core.StatusSubmitted, core.StatusRejected}:  true,
		{core.StatusRejected, core.StatusSubmitted}:  true,
		{core.StatusCancelled, core.StatusDraft}:     true,
	}
	allowed := map[core.DocumentKind]map[edge]bool{
		core.KindInvoice:    fiscal,
		core.KindCreditNote: fiscal,
		core.KindProforma: {
			{core.StatusDraft, core.StatusSent}:         true,
			{core.StatusDraft, core.StatusIssued}:       true,
			{core.StatusDraft, core.StatusCancelled}:    true,
			{core.StatusIssued, core.StatusSent}:        true,
			{core.StatusIssued, core.StatusCancelled}:   true,
			{core.StatusSent, core.StatusAccepted}:      true,
			{core.StatusSent, core.StatusRejected}:      true,
			{core.StatusSent, core.StatusExpired}:       true,
			{core.StatusSent, core.StatusCancelled}:     true,
			{core.StatusAccepted, core.StatusConverted}: true,
			{core.StatusAccepted, core.StatusExpired}:   true,
			{core.StatusAccepted, core.StatusCancelled}: true,
			{core.StatusRejected, core.StatusCancelled}: true,
			{core.StatusExpired, core.StatusCancelled}:  true,
			{core.StatusCancelled, core.StatusDraft}:    true,
		},
		core.KindDeliveryNote: {
			{core.StatusDraft, core.StatusIssued}:     true,
			{core.StatusDraft, core.StatusCancelled}:  true,
			{core.StatusIssued, core.StatusConverted}: true,
			{core.StatusIssued, core.StatusCancelled}: true,
			{core.StatusCancelled, core.StatusDraft}:  true,
		},
		core.KindReceipt: {
			{core.StatusDraft, core.StatusIssued}:     true,
			{core.StatusDraft, core.StatusCancelled}:  true,
			{core.StatusIssued, core.StatusInvoiced}:  true,
			{core.StatusIssued, core.StatusCancelled}: true,
			{core.StatusCancelled, core.StatusDraft}:  true,
		},
	}

	for kind, edges := range allowed {
		for _, from := range allStatuses {
			for _, to := range allStatuses {
				want := edges[edge{from, to}]
				if got := core.CanTransition(kind, from, to); got != want {
					t.Errorf("CanTransition(%s, %s, %s) = %v, want %v", kind, from, to, got, want)
				}
			}
		}
	}
}

func TestCanUpdateAndDelete(t *testing.T) {
	if !core.CanUpdate(core.StatusDraft) {
		t.Error("drafts must be editable")
	}
	for _, status := range []core.DocumentStatus{
		core.StatusIssued, core.StatusSubmitted, core.StatusValidated,
		core.StatusSent, core.StatusConverted, core.StatusSynced,
	} {
		if core.CanUpdate(status) {
			t.Errorf("%s must not be editable", status)
		}
	}

	if !core.CanDelete(core.StatusDraft) || !core.CanDelete(core.StatusCancelled) {
		t.Error("DRAFT and CANCELLED must be deletable")
	}
	if core.CanDelete(core.StatusIssued) || core.CanDelete(core.StatusValidated) {
		t.Error("issued documents must not be deletable")
	}
}

func TestConvertibleFrom(t *testing.T) {
	status, ok := core.ConvertibleFrom(core.KindProforma)
	if !ok || status != core.StatusAccepted {
		t.Errorf("proforma converts from %s (ok=%v), want ACCEPTED", status, ok)
	}
	status, ok = core.ConvertibleFrom(core.KindDeliveryNote)
	if !ok || status != core.StatusIssued {
		t.Errorf("delivery note converts from %s (ok=%v), want ISSUED", status, ok)
	}
	if _, ok := core.ConvertibleFrom(core.KindInvoice); ok {
		t.Error("invoices must not be convertible")
	}
}

func TestConvertedStatus(t *testing.T) {
	if got := core.ConvertedStatus(core.KindReceipt); got != core.StatusInvoiced {
		t.Errorf("receipt converted status = %s, want INVOICED", got)
	}
	if got := core.ConvertedStatus(core.KindProforma); got != core.StatusConverted {
		t.Errorf("proforma converted status = %s, want CONVERTED", got)
	}
}

func TestPlaceholderNumbers(t *testing.T) {
	tests := []struct {
		kind   core.DocumentKind
		prefix string
	}{
		{core.KindInvoice, "DRAFT-"},
		{core.KindProforma, "DRAFT-"},
		{core.KindDeliveryNote, "AVIZ-"},
		{core.KindReceipt, "BON-"},
	}
	for _, tt := range tests {
		n := core.NewPlaceholderNumber(tt.kind)
		if !strings.HasPrefix(n, tt.prefix) {
			t.Errorf("%s placeholder %q does not start with %q", tt.kind, n, tt.prefix)
		}
		if !core.IsPlaceholderNumber(n) {
			t.Errorf("%q should be recognized as a placeholder", n)
		}
	}

	if core.NewPlaceholderNumber(core.KindInvoice) == core.NewPlaceholderNumber(core.KindInvoice) {
		t.Error("placeholders must be unique")
	}
	if core.IsPlaceholderNumber("FCT0001") {
		t.Error("a series number must not look like a placeholder")
	}
}

func TestFormatNumber(t *testing.T) {
	if got := core.FormatNumber("FCT", 1); got != "FCT0001" {
		t.Errorf("FormatNumber = %q, want FCT0001", got)
	}
	if got := core.FormatNumber("INV", 43); got != "INV0043" {
		t.Errorf("FormatNumber = %q, want INV0043", got)
	}
	// Padding never truncates large sequence values.
	if got := core.FormatNumber("FCT", 123456); got != "FCT123456" {
		t.Errorf("FormatNumber = %q, want FCT123456", got)
	}
}

func TestValidateForIssue(t *testing.T) {
	name := "ACME SRL"
	cif := "RO12345678"

	doc := &core.Document{
		Kind:         core.KindInvoice,
		Currency:     "RON",
		ReceiverName: &name,
		ReceiverCIF:  &cif,
		Lines:        core.BuildLines([]core.LineInput{{Description: "x", UnitPrice: dec("1.00")}}),
	}
	if result := core.ValidateForIssue(doc); !result.Valid {
		t.Errorf("complete invoice should validate, got %v", result.Errors)
	}

	// No lines.
	empty := &core.Document{Kind: core.KindInvoice, Currency: "RON", ReceiverName: &name, ReceiverCIF: &cif}
	if result := core.ValidateForIssue(empty); result.Valid {
		t.Error("invoice without lines should not validate")
	}

	// Missing receiver identity matters for invoice-like kinds only.
	anon := &core.Document{
		Kind:     core.KindInvoice,
		Currency: "RON",
		Lines:    core.BuildLines([]core.LineInput{{Description: "x", UnitPrice: dec("1.00")}}),
	}
	result := core.ValidateForIssue(anon)
	if result.Valid {
		t.Fatal("invoice without receiver should not validate")
	}
	fields := map[string]bool{}
	for _, fe := range result.Errors {
		fields[fe.Field] = true
	}
	if !fields["receiverName"] || !fields["receiverCif"] {
		t.Errorf("expected receiverName and receiverCif errors, got %v", result.Errors)
	}

	receipt := &core.Document{
		Kind:     core.KindReceipt,
		Currency: "RON",
		Lines:    core.BuildLines([]core.LineInput{{Description: "x", UnitPrice: dec("1.00")}}),
	}
	if result := core.ValidateForIssue(receipt); !result.Valid {
		t.Errorf("receipt without receiver should validate, got %v", result.Errors)
	}
}
