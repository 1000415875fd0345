package intent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/factubot/internal/commands"
)

const rules = `Règles :
- Réponds uniquement par un objet JSON {"command": "...", "args": [...], "confidence": 0.0-1.0}, sans texte autour.
- N'utilise que les commandes de la liste. N'invente jamais de commande.
- "payée" et "impayée" sont opposées : ne les confonds jamais.
- Un mois sans année désigne la prochaine occurrence de ce mois (le mois en cours compte).
- "recettes du mois", "dépenses du mois" sans mois précis désignent le mois calendaire en cours.
- Pour transactions_periode, les dates sont au format YYYY-MM-DD, la fin est incluse.
- La comparaison de deux périodes n'est pas prise en charge : réponds help avec une confiance de 0.3 au plus.
- Si la demande parle de "cette facture", "plus de détails" ou "la même", utilise le numéro de facture du contexte.
- Si rien ne correspond, réponds help avec une confiance faible.`

// buildPrompt renders the classifier instruction for one request.
func buildPrompt(examples []Example, today time.Time, rc *Context) string {
	var sb strings.Builder
	sb.WriteString("Tu classes les demandes d'un assistant de facturation en une commande.\n\n")
	fmt.Fprintf(&sb, "Date du jour : %s (%s).\n\n", today.Format("2006-01-02"), frenchWeekday(today))

	sb.WriteString("Commandes :\n")
	for _, spec := range commands.Vocabulary() {
		fmt.Fprintf(&sb, "- %s : %s\n", spec.Usage(), spec.Summary)
	}
	sb.WriteString("\n")
	sb.WriteString(rules)
	sb.WriteString("\n\nExemples :\n")
	for _, ex := range examples {
		if ex.Context != "" {
			fmt.Fprintf(&sb, "Contexte : facture %s\n", ex.Context)
		}
		out, _ := json.Marshal(ex.Intent)
		fmt.Fprintf(&sb, "Demande : %s\n→ %s\n", ex.Utterance, out)
	}
	if id := rc.invoiceID(); id != "" {
		fmt.Fprintf(&sb, "\nContexte : la dernière facture évoquée est %s.\n", id)
	}
	return sb.String()
}

var weekdays = [...]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"}

func frenchWeekday(t time.Time) string {
	return weekdays[t.Weekday()]
}
