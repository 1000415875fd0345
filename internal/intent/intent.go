// Package intent maps one free-text request onto the fixed command
// vocabulary with a single completion call.
package intent

import (
	"strings"

	"github.com/stellarlinkco/factubot/internal/commands"
)

// FallbackConfidence is the confidence of the intent returned when the model
// output cannot be used.
const FallbackConfidence = 0.1

// Intent is a classified request. Confidence is advisory; nothing branches on it.
type Intent struct {
	Command    string   `json:"command"`
	Args       []string `json:"args"`
	Confidence float64  `json:"confidence"`
}

// Context carries what the conversation already points at, so anaphoric
// requests ("cette facture") can be resolved.
type Context struct {
	LastReferencedInvoiceID string `json:"lastReferencedInvoiceId,omitempty"`
}

func (c *Context) invoiceID() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.LastReferencedInvoiceID)
}

// Fallback is the intent used whenever classification fails.
func Fallback() Intent {
	return Intent{Command: commands.Help, Args: []string{}, Confidence: FallbackConfidence}
}

// IsFallback reports whether in is exactly the fallback intent.
func (in Intent) IsFallback() bool {
	return in.Command == commands.Help && len(in.Args) == 0 && in.Confidence == FallbackConfidence
}
