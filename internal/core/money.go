package core

import "github.com/shopspring/decimal"

// Monetary rounding rule, applied once at the 2-decimal storage boundary:
// half away from zero ("half up" in the commercial sense). Quantities and
// VAT intermediates are carried at 4 decimals so repeated recomputation
// cannot drift.
const (
	amountScale       = 2
	intermediateScale = 4
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// NormalizeLineInput fills the defaults the API contract allows callers to
// omit. Mirrors the shape documents arrive in from importers: quantity 1,
// unit "buc", standard VAT category.
func NormalizeLineInput(in *LineInput) {
	if in.Quantity.IsZero() {
		in.Quantity = one
	}
	if in.UnitOfMeasure == "" {
		in.UnitOfMeasure = "buc"
	}
	if in.VatCategoryCode == "" {
		in.VatCategoryCode = "S"
	}
}

// ComputeLine derives LineTotal and VatAmount from the line's own fields.
// When VatIncluded is set the unit price is gross and the net amount is
// extracted; otherwise the price is net and VAT is added on top. The
// derivation is a pure function of quantity, price, discount and rate, so
// recomputing an unchanged line is byte-identical.
func ComputeLine(line *DocumentLine) {
	gross := line.Quantity.Mul(line.UnitPrice).Sub(line.Discount)

	var net, vat decimal.Decimal
	if line.VatIncluded {
		divisor := one.Add(line.VatRate.DivRound(hundred, intermediateScale))
		net = gross.DivRound(divisor, intermediateScale)
		vat = gross.Sub(net)
	} else {
		net = gross
		// VAT comes off the rounded line total, not the raw net, so the
		// stored pair always satisfies vat = round(lineTotal * rate / 100).
		vat = net.Round(amountScale).Mul(line.VatRate).DivRound(hundred, intermediateScale)
	}

	line.LineTotal = net.Round(amountScale)
	line.VatAmount = vat.Round(amountScale)
}

// BuildLines turns caller input into computed, position-numbered lines.
func BuildLines(inputs []LineInput) []DocumentLine {
	lines := make([]DocumentLine, 0, len(inputs))
	for i, in := range inputs {
		NormalizeLineInput(&in)
		line := DocumentLine{
			Position:        i + 1,
			Description:     in.Description,
			Quantity:        in.Quantity,
			UnitOfMeasure:   in.UnitOfMeasure,
			UnitPrice:       in.UnitPrice,
			VatRate:         in.VatRate,
			VatCategoryCode: in.VatCategoryCode,
			VatIncluded:     in.VatIncluded,
			Discount:        in.Discount,
			DiscountPercent: in.DiscountPercent,
			ProductCode:     in.ProductCode,
		}
		ComputeLine(&line)
		lines = append(lines, line)
	}
	return lines
}

// SumLines aggregates computed lines into document totals. Line totals are
// already net of per-line discounts; the discount aggregate is stored on
// the document for display and reporting.
func SumLines(lines []DocumentLine) (subtotal, vatTotal, discount decimal.Decimal) {
	subtotal = decimal.Zero
	vatTotal = decimal.Zero
	discount = decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal)
		vatTotal = vatTotal.Add(l.VatAmount)
		discount = discount.Add(l.Discount)
	}
	return subtotal.Round(amountScale), vatTotal.Round(amountScale), discount.Round(amountScale)
}

// ApplyDiscount reduces a subtotal by a document-level discount.
func ApplyDiscount(subtotal, discount decimal.Decimal) decimal.Decimal {
	return subtotal.Sub(discount).Round(amountScale)
}

// applyTotals writes the aggregate amounts onto the document.
// total = subtotal + vatTotal always holds afterwards.
func applyTotals(doc *Document) {
	subtotal, vatTotal, discount := SumLines(doc.Lines)
	doc.Subtotal = subtotal
	doc.VatTotal = vatTotal
	doc.Discount = discount
	doc.Total = subtotal.Add(vatTotal).Round(amountScale)
}
