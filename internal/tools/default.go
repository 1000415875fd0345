package tools

import (
	"github.com/stellarlinkco/factubot/internal/commands"
)

var noParams = Schema{}

var builtin = []Definition{
	{
		Name:        commands.Unpaid,
		Description: "Liste les factures impayées (non réglées).",
		Parameters:  noParams,
	},
	{
		Name:        commands.Paid,
		Description: "Liste les factures déjà payées.",
		Parameters:  noParams,
	},
	{
		Name:        commands.Overdue,
		Description: "Liste les factures en retard : impayées et dont l'échéance est dépassée.",
		Parameters:  noParams,
	},
	{
		Name:        commands.Stats,
		Description: "Statistiques des factures du mois en cours : nombre, montants payés et restant dus.",
		Parameters:  noParams,
	},
	{
		Name:        commands.Search,
		Description: "Recherche libre dans les factures (libellé, fournisseur, numéro).",
		Parameters: Schema{
			Properties: []Property{String("term", "Texte à rechercher")},
			Required:   []string{"term"},
		},
	},
	{
		Name:        commands.Supplier,
		Description: "Toutes les factures d'un fournisseur donné.",
		Parameters: Schema{
			Properties: []Property{String("name", "Nom du fournisseur")},
			Required:   []string{"name"},
		},
	},
	{
		Name:        commands.LastInvoice,
		Description: "La facture la plus récente d'un fournisseur donné.",
		Parameters: Schema{
			Properties: []Property{String("name", "Nom du fournisseur")},
			Required:   []string{"name"},
		},
	},
	{
		Name:        commands.Invoice,
		Description: "Détail complet d'une facture (lignes, montants, échéance, statut).",
		Parameters: Schema{
			Properties: []Property{String("number", "Numéro de la facture, par exemple INV-42")},
			Required:   []string{"number"},
		},
	},
	{
		Name:        commands.ListSuppliers,
		Description: "Liste des fournisseurs connus.",
		Parameters:  noParams,
	},
	{
		Name:        commands.ListEmployees,
		Description: "Liste des employés connus.",
		Parameters:  noParams,
	},
	{
		Name:        commands.TransactionsMonth,
		Description: "Transactions bancaires du mois en cours.",
		Parameters:  noParams,
	},
	{
		Name:        commands.IncomeMonth,
		Description: "Recettes (crédits) du mois en cours.",
		Parameters:  noParams,
	},
	{
		Name:        commands.ExpensesMonth,
		Description: "Dépenses (débits) du mois en cours.",
		Parameters:  noParams,
	},
	{
		Name:        commands.BalanceMonth,
		Description: "Solde net (recettes moins dépenses) du mois en cours.",
		Parameters:  noParams,
	},
	{
		Name:        commands.TransactionsBySupplier,
		Description: "Transactions bancaires liées à un fournisseur.",
		Parameters: Schema{
			Properties: []Property{String("name", "Nom du fournisseur")},
			Required:   []string{"name"},
		},
	},
	{
		Name:        commands.TransactionsByPeriod,
		Description: "Transactions bancaires entre deux dates incluses, filtrables par type et par fournisseur.",
		Parameters: Schema{
			Properties: []Property{
				String("start", "Date de début au format YYYY-MM-DD"),
				String("end", "Date de fin au format YYYY-MM-DD"),
				{
					Name:        "filterType",
					Type:        "string",
					Description: "Type de transactions : recettes, depenses, salaires, ou vide pour tout",
					Enum: []string{
						commands.FilterIncome,
						commands.FilterExpenses,
						commands.FilterSalaries,
						commands.FilterAll,
					},
				},
				String("supplier", "Nom du fournisseur (optionnel)"),
			},
			Required: []string{"start", "end"},
		},
	},
	{
		Name:        commands.Help,
		Description: "Décrit ce que l'assistant sait faire.",
		Parameters:  noParams,
	},
}

var defaultRegistry = mustRegistry(builtin...)

// Default returns the registry of every billing operation, in the order the
// model sees them.
func Default() *Registry {
	return defaultRegistry
}

func mustRegistry(defs ...Definition) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}
