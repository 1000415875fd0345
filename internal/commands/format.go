package commands

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/stellarlinkco/factubot/internal/billing"
)

const displayDate = "02/01/2006"

// formatter renders amounts and dates the way French accounting reads them:
// "1 234,50 €", "31/07/2025".
type formatter struct {
	p *message.Printer
}

func newFormatter() formatter {
	return formatter{p: message.NewPrinter(language.French)}
}

func (f formatter) money(v float64) string {
	if v < 0 {
		return "-" + f.p.Sprintf("%.2f €", -v)
	}
	return f.p.Sprintf("%.2f €", v)
}

// signed prints credits with an explicit plus sign.
func (f formatter) signed(v float64) string {
	if v > 0 {
		return "+" + f.money(v)
	}
	return f.money(v)
}

func day(d billing.Date) string {
	if d.IsZero() {
		return "—"
	}
	return d.Format(displayDate)
}

func dayOf(t time.Time) string {
	return t.Format(displayDate)
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, pluralForm)
}

func sumInvoices(invs []billing.Invoice) float64 {
	var total float64
	for _, inv := range invs {
		total += inv.Amount
	}
	return round2(total)
}

func sumTransactions(txs []billing.Transaction) float64 {
	var total float64
	for _, tx := range txs {
		total += tx.Amount
	}
	return round2(total)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (f formatter) invoiceLine(inv billing.Invoice) string {
	var sb strings.Builder
	sb.WriteString("• ")
	sb.WriteString(inv.Number)
	if inv.Supplier != "" {
		sb.WriteString(" · ")
		sb.WriteString(inv.Supplier)
	}
	sb.WriteString(" · ")
	sb.WriteString(f.money(inv.Amount))
	sb.WriteString(" · du ")
	sb.WriteString(day(inv.Date))
	if !inv.IsPaid() && !inv.DueDate.IsZero() {
		sb.WriteString(", échéance ")
		sb.WriteString(day(inv.DueDate))
	}
	return sb.String()
}

func (f formatter) invoiceDetail(inv billing.Invoice, today time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📄 Facture %s\n", inv.Number)
	if inv.Supplier != "" {
		fmt.Fprintf(&sb, "Fournisseur : %s\n", inv.Supplier)
	}
	if inv.Label != "" {
		fmt.Fprintf(&sb, "Objet : %s\n", inv.Label)
	}
	fmt.Fprintf(&sb, "Date : %s\n", day(inv.Date))
	if !inv.DueDate.IsZero() {
		fmt.Fprintf(&sb, "Échéance : %s\n", day(inv.DueDate))
	}
	fmt.Fprintf(&sb, "Montant : %s\n", f.money(inv.Amount))
	switch {
	case inv.IsPaid() && !inv.PaidAt.IsZero():
		fmt.Fprintf(&sb, "Statut : payée le %s\n", day(inv.PaidAt))
	case inv.IsPaid():
		sb.WriteString("Statut : payée\n")
	case inv.IsOverdue(today):
		sb.WriteString("Statut : impayée, en retard\n")
	default:
		sb.WriteString("Statut : impayée\n")
	}
	if len(inv.Lines) > 0 {
		sb.WriteString("Lignes :\n")
		for _, l := range inv.Lines {
			fmt.Fprintf(&sb, "  - %s : %s × %s = %s\n",
				l.Label, f.p.Sprint(l.Quantity), f.money(l.UnitPrice), f.money(l.Amount))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f formatter) transactionLine(tx billing.Transaction) string {
	line := fmt.Sprintf("• %s · %s · %s", dayOf(tx.Date.Time), tx.Label, f.signed(tx.Amount))
	if tx.Supplier != "" {
		line += " (" + tx.Supplier + ")"
	}
	return line
}

// bullets joins lines, keeping at most max of them and noting how many were cut.
func bullets(lines []string, max int) string {
	if max > 0 && len(lines) > max {
		rest := len(lines) - max
		lines = append(lines[:max:max], fmt.Sprintf("… et %s", plural(rest, "autre", "autres")))
	}
	return strings.Join(lines, "\n")
}
