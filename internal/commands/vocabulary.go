package commands

import "strings"

// Command names understood by the executor. The intent classifier may only
// emit these, and every tool in the registry maps to exactly one of them.
const (
	Unpaid                 = "unpaid"
	Paid                   = "paid"
	Overdue                = "overdue"
	Stats                  = "stats"
	Search                 = "search"
	Supplier               = "supplier"
	LastInvoice            = "lastinvoice"
	Invoice                = "invoice"
	ListSuppliers          = "list_suppliers"
	ListEmployees          = "list_employees"
	TransactionsMonth      = "transactions_mois"
	IncomeMonth            = "recettes_mois"
	ExpensesMonth          = "depenses_mois"
	BalanceMonth           = "balance_mois"
	TransactionsBySupplier = "transactions_fournisseur"
	TransactionsByPeriod   = "transactions_periode"
	Help                   = "help"
)

// Filter values accepted as the third argument of transactions_periode.
const (
	FilterAll      = ""
	FilterIncome   = "recettes"
	FilterExpenses = "depenses"
	FilterSalaries = "salaires"
)

// Spec describes one command: its positional arguments and a French summary
// used in help output and in the classifier instruction.
type Spec struct {
	Name     string
	Args     []string
	Optional int // trailing args that may be omitted
	Summary  string
}

func (s Spec) MinArgs() int { return len(s.Args) - s.Optional }
func (s Spec) MaxArgs() int { return len(s.Args) }

// Usage renders "name [a] [b?]".
func (s Spec) Usage() string {
	var sb strings.Builder
	sb.WriteString(s.Name)
	for i, a := range s.Args {
		sb.WriteString(" [")
		sb.WriteString(a)
		if i >= s.MinArgs() {
			sb.WriteString("?")
		}
		sb.WriteString("]")
	}
	return sb.String()
}

var vocabulary = []Spec{
	{Name: Unpaid, Summary: "factures impayées"},
	{Name: Paid, Summary: "factures payées"},
	{Name: Overdue, Summary: "factures en retard (impayées, échéance dépassée)"},
	{Name: Stats, Summary: "statistiques des factures du mois en cours"},
	{Name: Search, Args: []string{"terme"}, Summary: "recherche libre dans les factures"},
	{Name: Supplier, Args: []string{"nom"}, Summary: "toutes les factures d'un fournisseur"},
	{Name: LastInvoice, Args: []string{"nom"}, Summary: "dernière facture d'un fournisseur"},
	{Name: Invoice, Args: []string{"numéro"}, Summary: "détail complet d'une facture"},
	{Name: ListSuppliers, Summary: "liste des fournisseurs"},
	{Name: ListEmployees, Summary: "liste des employés"},
	{Name: TransactionsMonth, Summary: "transactions bancaires du mois en cours"},
	{Name: IncomeMonth, Summary: "recettes (crédits) du mois en cours"},
	{Name: ExpensesMonth, Summary: "dépenses (débits) du mois en cours"},
	{Name: BalanceMonth, Summary: "solde net du mois en cours"},
	{Name: TransactionsBySupplier, Args: []string{"nom"}, Summary: "transactions bancaires liées à un fournisseur"},
	{
		Name:     TransactionsByPeriod,
		Args:     []string{"début", "fin", "type", "fournisseur"},
		Optional: 2,
		Summary:  "transactions sur une période (type: recettes, depenses, salaires ou vide)",
	},
	{Name: Help, Summary: "ce que je sais faire"},
}

var vocabularyIndex = func() map[string]Spec {
	m := make(map[string]Spec, len(vocabulary))
	for _, s := range vocabulary {
		m[s.Name] = s
	}
	return m
}()

// Vocabulary returns every command in display order.
func Vocabulary() []Spec {
	out := make([]Spec, len(vocabulary))
	copy(out, vocabulary)
	return out
}

func Lookup(name string) (Spec, bool) {
	s, ok := vocabularyIndex[name]
	return s, ok
}

func Known(name string) bool {
	_, ok := vocabularyIndex[name]
	return ok
}

func Names() []string {
	names := make([]string, len(vocabulary))
	for i, s := range vocabulary {
		names[i] = s.Name
	}
	return names
}

// ValidFilter reports whether f is an accepted transactions_periode filter.
func ValidFilter(f string) bool {
	switch f {
	case FilterAll, FilterIncome, FilterExpenses, FilterSalaries:
		return true
	}
	return false
}
