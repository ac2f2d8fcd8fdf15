package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"invoicing-engine/internal/core"
)

var kindTitles = map[core.DocumentKind]string{
	core.KindInvoice:      "FACTURA",
	core.KindCreditNote:   "FACTURA STORNO",
	core.KindProforma:     "FACTURA PROFORMA",
	core.KindDeliveryNote: "AVIZ DE INSOTIRE",
	core.KindReceipt:      "BON",
}

// PDF renders a document snapshot. The renderer only reads the document;
// amounts are printed as stored, never recomputed here.
func PDF(doc *core.Document, w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	title := kindTitles[doc.Kind]
	if title == "" {
		title = strings.ToUpper(string(doc.Kind))
	}
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, fmt.Sprintf("%s %s", title, doc.Number))
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, "Data: "+doc.IssueDate.Format("02.01.2006"))
	pdf.Ln(6)
	if doc.DueDate != nil {
		pdf.Cell(0, 6, "Scadenta: "+doc.DueDate.Format("02.01.2006"))
		pdf.Ln(6)
	}
	if doc.SenderName != nil {
		line := "Furnizor: " + *doc.SenderName
		if doc.SenderCIF != nil {
			line += " (" + *doc.SenderCIF + ")"
		}
		pdf.Cell(0, 6, line)
		pdf.Ln(6)
	}
	if doc.ReceiverName != nil {
		line := "Client: " + *doc.ReceiverName
		if doc.ReceiverCIF != nil {
			line += " (" + *doc.ReceiverCIF + ")"
		}
		pdf.Cell(0, 6, line)
		pdf.Ln(6)
	}
	pdf.Ln(4)

	// Line table
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(10, 7, "#", "1", 0, "C", false, 0, "")
	pdf.CellFormat(70, 7, "Denumire", "1", 0, "L", false, 0, "")
	pdf.CellFormat(20, 7, "Cant.", "1", 0, "R", false, 0, "")
	pdf.CellFormat(25, 7, "Pret unitar", "1", 0, "R", false, 0, "")
	pdf.CellFormat(15, 7, "TVA %", "1", 0, "R", false, 0, "")
	pdf.CellFormat(25, 7, "Valoare", "1", 0, "R", false, 0, "")
	pdf.CellFormat(25, 7, "TVA", "1", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, l := range doc.Lines {
		pdf.CellFormat(10, 6, fmt.Sprintf("%d", l.Position), "1", 0, "C", false, 0, "")
		pdf.CellFormat(70, 6, l.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, l.Quantity.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, l.UnitPrice.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(15, 6, l.VatRate.StringFixed(0), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, l.LineTotal.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, l.VatAmount.StringFixed(2), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Subtotal: %s %s", doc.Subtotal.StringFixed(2), doc.Currency))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("TVA: %s %s", doc.VatTotal.StringFixed(2), doc.Currency))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Total: %s %s", doc.Total.StringFixed(2), doc.Currency))
	pdf.Ln(10)

	if doc.Mentions != nil && *doc.Mentions != "" {
		pdf.SetFont("Arial", "I", 9)
		pdf.Cell(0, 6, *doc.Mentions)
		pdf.Ln(6)
	}
	if doc.Status == core.StatusDraft {
		pdf.SetFont("Arial", "I", 8)
		pdf.Cell(0, 6, "Document nefiscalizat - generat la "+time.Now().Format("02.01.2006 15:04"))
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf for document %s: %w", doc.Number, err)
	}
	return nil
}
