// Package export writes issued documents out for external accounting
// software: a flat CSV and a Saga-flavoured XML.
package export

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"

	"invoicing-engine/internal/core"
)

var csvHeader = []string{
	"number", "kind", "status", "issue_date", "due_date", "client",
	"client_cif", "currency", "subtotal", "vat_total", "total",
}

// CSV writes one row per document.
func CSV(docs []core.Document, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, d := range docs {
		dueDate := ""
		if d.DueDate != nil {
			dueDate = d.DueDate.Format("2006-01-02")
		}
		record := []string{
			d.Number,
			string(d.Kind),
			string(d.Status),
			d.IssueDate.Format("2006-01-02"),
			dueDate,
			strOrEmpty(d.ReceiverName),
			strOrEmpty(d.ReceiverCIF),
			d.Currency,
			d.Subtotal.StringFixed(2),
			d.VatTotal.StringFixed(2),
			d.Total.StringFixed(2),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row for %s: %w", d.Number, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

type xmlInvoice struct {
	XMLName   xml.Name  `xml:"Factura"`
	Number    string    `xml:"Numar"`
	Date      string    `xml:"Data"`
	DueDate   string    `xml:"Scadenta,omitempty"`
	Client    xmlClient `xml:"Client"`
	Currency  string    `xml:"Moneda"`
	Lines     []xmlLine `xml:"Continut>Linie"`
	Subtotal  string    `xml:"Valoare"`
	VatAmount string    `xml:"TVA"`
	Total     string    `xml:"Total"`
}

type xmlClient struct {
	Name string `xml:"Nume"`
	CIF  string `xml:"CIF,omitempty"`
}

type xmlLine struct {
	Position    int    `xml:"NrLinie"`
	Description string `xml:"Descriere"`
	Quantity    string `xml:"Cantitate"`
	UnitPrice   string `xml:"Pret"`
	VatRate     string `xml:"CotaTVA"`
	Amount      string `xml:"Valoare"`
	VatAmount   string `xml:"TVA"`
}

type xmlExport struct {
	XMLName xml.Name     `xml:"Facturi"`
	Items   []xmlInvoice `xml:"Factura"`
}

// XML writes documents in the Saga import layout. Lines must already be
// loaded on each document.
func XML(docs []core.Document, w io.Writer) error {
	out := xmlExport{}
	for _, d := range docs {
		inv := xmlInvoice{
			Number:    d.Number,
			Date:      d.IssueDate.Format("2006-01-02"),
			Client:    xmlClient{Name: strOrEmpty(d.ReceiverName), CIF: strOrEmpty(d.ReceiverCIF)},
			Currency:  d.Currency,
			Subtotal:  d.Subtotal.StringFixed(2),
			VatAmount: d.VatTotal.StringFixed(2),
			Total:     d.Total.StringFixed(2),
		}
		if d.DueDate != nil {
			inv.DueDate = d.DueDate.Format("2006-01-02")
		}
		for _, l := range d.Lines {
			inv.Lines = append(inv.Lines, xmlLine{
				Position:    l.Position,
				Description: l.Description,
				Quantity:    l.Quantity.String(),
				UnitPrice:   l.UnitPrice.StringFixed(2),
				VatRate:     l.VatRate.StringFixed(0),
				Amount:      l.LineTotal.StringFixed(2),
				VatAmount:   l.VatAmount.StringFixed(2),
			})
		}
		out.Items = append(out.Items, inv)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write xml header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode xml export: %w", err)
	}
	return nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
