package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/billing"
	"github.com/stellarlinkco/factubot/internal/logging"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrArity          = errors.New("wrong number of arguments")
)

const defaultMaxItems = 15

// Billing is the read side of the billing service the executor needs.
type Billing interface {
	Invoices(ctx context.Context, q billing.InvoiceQuery) ([]billing.Invoice, error)
	Invoice(ctx context.Context, number string) (*billing.Invoice, error)
	Suppliers(ctx context.Context) ([]billing.Supplier, error)
	Employees(ctx context.Context) ([]billing.Employee, error)
	Transactions(ctx context.Context, q billing.TransactionQuery) ([]billing.Transaction, error)
}

// Output is the rendered result of one command. InvoiceNumber is set when the
// output is about a single invoice, so callers can resolve later references
// like "cette facture".
type Output struct {
	Text          string
	InvoiceNumber string
}

type handler func(ctx context.Context, args []string) (Output, error)

// Executor runs vocabulary commands against the billing service and renders
// French text.
type Executor struct {
	billing  Billing
	now      func() time.Time
	maxItems int
	logger   *zap.Logger
	f        formatter
	handlers map[string]handler
}

type Option func(*Executor)

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = logging.OrNop(l) }
}

// WithMaxItems caps list outputs; 0 disables the cap.
func WithMaxItems(n int) Option {
	return func(e *Executor) { e.maxItems = n }
}

func NewExecutor(b Billing, opts ...Option) *Executor {
	e := &Executor{
		billing:  b,
		now:      time.Now,
		maxItems: defaultMaxItems,
		logger:   zap.NewNop(),
		f:        newFormatter(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.handlers = map[string]handler{
		Unpaid:                 e.unpaid,
		Paid:                   e.paid,
		Overdue:                e.overdue,
		Stats:                  e.stats,
		Search:                 e.search,
		Supplier:               e.supplier,
		LastInvoice:            e.lastInvoice,
		Invoice:                e.invoice,
		ListSuppliers:          e.listSuppliers,
		ListEmployees:          e.listEmployees,
		TransactionsMonth:      e.transactionsMonth,
		IncomeMonth:            e.incomeMonth,
		ExpensesMonth:          e.expensesMonth,
		BalanceMonth:           e.balanceMonth,
		TransactionsBySupplier: e.transactionsBySupplier,
		TransactionsByPeriod:   e.transactionsByPeriod,
		Help:                   e.help,
	}
	return e
}

// Execute runs name with positional args and returns the rendered text.
func (e *Executor) Execute(ctx context.Context, name string, args []string) (string, error) {
	out, err := e.Run(ctx, name, args)
	return out.Text, err
}

func (e *Executor) Run(ctx context.Context, name string, args []string) (Output, error) {
	spec, ok := Lookup(name)
	h, hasHandler := e.handlers[name]
	if !ok || !hasHandler {
		return Output{}, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	clean := make([]string, len(args))
	for i, a := range args {
		clean[i] = strings.TrimSpace(a)
	}
	if len(clean) < spec.MinArgs() || len(clean) > spec.MaxArgs() {
		return Output{}, fmt.Errorf("%w: usage %s", ErrArity, spec.Usage())
	}
	for i := 0; i < spec.MinArgs(); i++ {
		if clean[i] == "" {
			return Output{}, fmt.Errorf("%w: %s is empty (usage %s)", ErrArity, spec.Args[i], spec.Usage())
		}
	}

	start := time.Now()
	out, err := h(ctx, clean)
	e.logger.Debug("command executed",
		zap.String("command", name),
		zap.Strings("args", clean),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	if err != nil {
		return Output{}, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func (e *Executor) today() time.Time {
	now := e.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func text(s string) Output { return Output{Text: s} }

func (e *Executor) invoiceList(title string, invs []billing.Invoice, empty string) Output {
	if len(invs) == 0 {
		return text(empty)
	}
	lines := make([]string, len(invs))
	for i, inv := range invs {
		lines[i] = e.f.invoiceLine(inv)
	}
	header := fmt.Sprintf("%s : %s, total %s", title, plural(len(invs), "facture", "factures"), e.f.money(sumInvoices(invs)))
	return text(header + "\n" + bullets(lines, e.maxItems))
}

func sortByDateDesc(invs []billing.Invoice) {
	sort.SliceStable(invs, func(i, j int) bool { return invs[i].Date.After(invs[j].Date.Time) })
}

func (e *Executor) unpaid(ctx context.Context, _ []string) (Output, error) {
	invs, err := e.billing.Invoices(ctx, billing.InvoiceQuery{Status: billing.StatusUnpaid})
	if err != nil {
		return Output{}, err
	}
	sortByDateDesc(invs)
	return e.invoiceList("🧾 Factures impayées", invs, "✅ Aucune facture impayée."), nil
}

func (e *Executor) paid(ctx context.Context, _ []string) (Output, error) {
	invs, err := e.billing.Invoices(ctx, billing.InvoiceQuery{Status: billing.StatusPaid})
	if err != nil {
		return Output{}, err
	}
	sortByDateDesc(invs)
	return e.invoiceList("💶 Factures payées", invs, "Aucune facture payée."), nil
}

func (e *Executor) overdue(ctx context.Context, _ []string) (Output, error) {
	invs, err := e.billing.Invoices(ctx, billing.InvoiceQuery{Status: billing.StatusUnpaid})
	if err != nil {
		return Output{}, err
	}
	today := e.today()
	late := invs[:0]
	for _, inv := range invs {
		if inv.IsOverdue(today) {
			late = append(late, inv)
		}
	}
	sort.SliceStable(late, func(i, j int) bool { return late[i].DueDate.Before(late[j].DueDate.Time) })
	if len(late) == 0 {
		return text("✅ Aucune facture en retard."), nil
	}
	lines := make([]string, len(late))
	for i, inv := range late {
		days := int(today.Sub(inv.DueDate.Time).Hours() / 24)
		lines[i] = fmt.Sprintf("%s (%s de retard)", e.f.invoiceLine(inv), plural(days, "jour", "jours"))
	}
	header := fmt.Sprintf("⏰ Factures en retard : %s, total %s",
		plural(len(late), "facture", "factures"), e.f.money(sumInvoices(late)))
	return text(header + "\n" + bullets(lines, e.maxItems)), nil
}

func (e *Executor) stats(ctx context.Context, _ []string) (Output, error) {
	invs, err := e.billing.Invoices(ctx, billing.InvoiceQuery{})
	if err != nil {
		return Output{}, err
	}
	today := e.today()
	first, last := MonthBounds(today)

	var month, paid, unpaid []billing.Invoice
	overdue := 0
	for _, inv := range invs {
		if inv.IsOverdue(today) {
			overdue++
		}
		if inv.Date.Before(first) || inv.Date.After(last) {
			continue
		}
		month = append(month, inv)
		if inv.IsPaid() {
			paid = append(paid, inv)
		} else {
			unpaid = append(unpaid, inv)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Factures de %s\n", monthName(today))
	fmt.Fprintf(&sb, "Total : %s pour %s\n", plural(len(month), "facture", "factures"), e.f.money(sumInvoices(month)))
	fmt.Fprintf(&sb, "Payées : %d (%s)\n", len(paid), e.f.money(sumInvoices(paid)))
	fmt.Fprintf(&sb, "Impayées : %d (%s)\n", len(unpaid), e.f.money(sumInvoices(unpaid)))
	fmt.Fprintf(&sb, "En retard (toutes périodes) : %d", overdue)
	return text(sb.String()), nil
}

func (e *Executor) search(ctx context.Context, args []string) (Output, error) {
	invs, err := e.billing.Invoices(ctx, billing.InvoiceQuery{Text: args[0]})
	if err != nil {
		return Output{}, err
	}
	sortByDateDesc(invs)
	out := e.invoiceList(fmt.Sprintf("🔎 Recherche « %s »", args[0]), invs,
		fmt.Sprintf("Aucune facture ne correspond à « %s ».", args[0]))
	if len(invs) == 1 {
		out.InvoiceNumber = invs[0].Number
	}
	return out, nil
}

func (e *Executor) supplier(ctx context.Context, args []string) (Output, error) {
	invs, err := e.billing.Invoices(ctx, billing.InvoiceQuery{Supplier: args[0]})
	if err != nil {
		return Output{}, err
	}
	sortByDateDesc(invs)
	return e.invoiceList(fmt.Sprintf("🏢 Factures %s", args[0]), invs,
		fmt.Sprintf("Aucune facture pour le fournisseur « %s ».", args[0])), nil
}

func (e *Executor) lastInvoice(ctx context.Context, args []string) (Output, error) {
	invs, err := e.billing.Invoices(ctx, billing.InvoiceQuery{Supplier: args[0]})
	if err != nil {
		return Output{}, err
	}
	if len(invs) == 0 {
		return text(fmt.Sprintf("Aucune facture pour le fournisseur « %s ».", args[0])), nil
	}
	sortByDateDesc(invs)
	latest := invs[0]
	return Output{
		Text:          "Dernière facture " + args[0] + "\n" + e.f.invoiceDetail(latest, e.today()),
		InvoiceNumber: latest.Number,
	}, nil
}

func (e *Executor) invoice(ctx context.Context, args []string) (Output, error) {
	inv, err := e.billing.Invoice(ctx, args[0])
	if errors.Is(err, billing.ErrNotFound) {
		return text(fmt.Sprintf("Aucune facture « %s » trouvée.", args[0])), nil
	}
	if err != nil {
		return Output{}, err
	}
	return Output{Text: e.f.invoiceDetail(*inv, e.today()), InvoiceNumber: inv.Number}, nil
}

func (e *Executor) listSuppliers(ctx context.Context, _ []string) (Output, error) {
	suppliers, err := e.billing.Suppliers(ctx)
	if err != nil {
		return Output{}, err
	}
	if len(suppliers) == 0 {
		return text("Aucun fournisseur enregistré."), nil
	}
	sort.SliceStable(suppliers, func(i, j int) bool {
		return strings.ToLower(suppliers[i].Name) < strings.ToLower(suppliers[j].Name)
	})
	lines := make([]string, len(suppliers))
	for i, s := range suppliers {
		lines[i] = "• " + s.Name
	}
	return text(fmt.Sprintf("🏢 %s :\n%s", plural(len(suppliers), "fournisseur", "fournisseurs"), bullets(lines, e.maxItems))), nil
}

func (e *Executor) listEmployees(ctx context.Context, _ []string) (Output, error) {
	employees, err := e.billing.Employees(ctx)
	if err != nil {
		return Output{}, err
	}
	if len(employees) == 0 {
		return text("Aucun employé enregistré."), nil
	}
	lines := make([]string, len(employees))
	for i, emp := range employees {
		line := "• " + emp.FullName()
		if emp.Role != "" {
			line += " (" + emp.Role + ")"
		}
		lines[i] = line
	}
	return text(fmt.Sprintf("👥 %s :\n%s", plural(len(employees), "employé", "employés"), bullets(lines, e.maxItems))), nil
}

func (e *Executor) monthTransactions(ctx context.Context) ([]billing.Transaction, time.Time, error) {
	today := e.today()
	first, last := MonthBounds(today)
	txs, err := e.billing.Transactions(ctx, billing.TransactionQuery{From: first, To: last})
	return txs, today, err
}

func (e *Executor) transactionList(title string, txs []billing.Transaction, empty string) Output {
	if len(txs) == 0 {
		return text(empty)
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Date.After(txs[j].Date.Time) })
	lines := make([]string, len(txs))
	for i, tx := range txs {
		lines[i] = e.f.transactionLine(tx)
	}
	header := fmt.Sprintf("%s : %s, total %s", title, plural(len(txs), "opération", "opérations"), e.f.signed(sumTransactions(txs)))
	return text(header + "\n" + bullets(lines, e.maxItems))
}

func (e *Executor) transactionsMonth(ctx context.Context, _ []string) (Output, error) {
	txs, today, err := e.monthTransactions(ctx)
	if err != nil {
		return Output{}, err
	}
	return e.transactionList("🏦 Transactions de "+monthName(today), txs, "Aucune transaction ce mois-ci."), nil
}

func (e *Executor) incomeMonth(ctx context.Context, _ []string) (Output, error) {
	txs, today, err := e.monthTransactions(ctx)
	if err != nil {
		return Output{}, err
	}
	return e.transactionList("📈 Recettes de "+monthName(today), filterTransactions(txs, FilterIncome), "Aucune recette ce mois-ci."), nil
}

func (e *Executor) expensesMonth(ctx context.Context, _ []string) (Output, error) {
	txs, today, err := e.monthTransactions(ctx)
	if err != nil {
		return Output{}, err
	}
	return e.transactionList("📉 Dépenses de "+monthName(today), filterTransactions(txs, FilterExpenses), "Aucune dépense ce mois-ci."), nil
}

func (e *Executor) balanceMonth(ctx context.Context, _ []string) (Output, error) {
	txs, today, err := e.monthTransactions(ctx)
	if err != nil {
		return Output{}, err
	}
	income := sumTransactions(filterTransactions(txs, FilterIncome))
	expenses := sumTransactions(filterTransactions(txs, FilterExpenses))
	var sb strings.Builder
	fmt.Fprintf(&sb, "⚖️ Solde de %s\n", monthName(today))
	fmt.Fprintf(&sb, "Recettes : %s\n", e.f.signed(income))
	fmt.Fprintf(&sb, "Dépenses : %s\n", e.f.money(expenses))
	fmt.Fprintf(&sb, "Solde net : %s", e.f.signed(round2(income+expenses)))
	return text(sb.String()), nil
}

func (e *Executor) transactionsBySupplier(ctx context.Context, args []string) (Output, error) {
	txs, err := e.billing.Transactions(ctx, billing.TransactionQuery{Supplier: args[0]})
	if err != nil {
		return Output{}, err
	}
	return e.transactionList("🏦 Transactions "+args[0], txs,
		fmt.Sprintf("Aucune transaction liée à « %s ».", args[0])), nil
}

// transactionsByPeriod takes [start, end, filterType?, supplier?].
func (e *Executor) transactionsByPeriod(ctx context.Context, args []string) (Output, error) {
	from, err := ParseDate(args[0])
	if err != nil {
		return Output{}, err
	}
	to, err := ParseDate(args[1])
	if err != nil {
		return Output{}, err
	}
	if to.Before(from) {
		return Output{}, fmt.Errorf("%w: end %s is before start %s", ErrInvalidDate, to.Format(isoLayout), from.Format(isoLayout))
	}
	filter := ""
	if len(args) > 2 {
		filter = strings.ToLower(args[2])
	}
	if !ValidFilter(filter) {
		return Output{}, fmt.Errorf("unknown filter %q (want recettes, depenses, salaires or empty)", filter)
	}
	supplier := ""
	if len(args) > 3 {
		supplier = args[3]
	}

	txs, err := e.billing.Transactions(ctx, billing.TransactionQuery{From: from, To: to, Supplier: supplier})
	if err != nil {
		return Output{}, err
	}
	txs = filterTransactions(txs, filter)

	title := "🏦 Transactions"
	switch filter {
	case FilterIncome:
		title = "📈 Recettes"
	case FilterExpenses:
		title = "📉 Dépenses"
	case FilterSalaries:
		title = "👥 Salaires"
	}
	title += fmt.Sprintf(" du %s au %s", dayOf(from), dayOf(to))
	if supplier != "" {
		title += " · " + supplier
	}
	return e.transactionList(title, txs, "Aucune transaction sur cette période."), nil
}

func filterTransactions(txs []billing.Transaction, filter string) []billing.Transaction {
	if filter == FilterAll {
		return txs
	}
	out := make([]billing.Transaction, 0, len(txs))
	for _, tx := range txs {
		switch {
		case filter == FilterIncome && tx.IsCredit(),
			filter == FilterExpenses && tx.IsDebit(),
			filter == FilterSalaries && tx.IsSalary():
			out = append(out, tx)
		}
	}
	return out
}

func (e *Executor) help(context.Context, []string) (Output, error) {
	return text(HelpText()), nil
}

// HelpText lists every command with its usage.
func HelpText() string {
	var sb strings.Builder
	sb.WriteString("🤖 Je réponds à tes questions sur les factures et la banque. Par exemple :\n")
	sb.WriteString("« factures impayées », « dernière facture CIERS », « recettes du mois », ")
	sb.WriteString("« dépenses entre le 1er et le 31 juillet ».\n\nCommandes directes :\n")
	for _, s := range vocabulary {
		fmt.Fprintf(&sb, "/%s · %s\n", s.Usage(), s.Summary)
	}
	return strings.TrimRight(sb.String(), "\n")
}

var monthNames = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

func monthName(t time.Time) string {
	return fmt.Sprintf("%s %d", monthNames[t.Month()-1], t.Year())
}
