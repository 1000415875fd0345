package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stellarlinkco/factubot/internal/commands"
	"github.com/stellarlinkco/factubot/internal/tools"
)

// binder turns schema-validated tool arguments into the positional
// arguments of the matching command.
type binder func(args map[string]any) ([]string, error)

var binders = map[string]binder{
	commands.Unpaid:                 noArgs,
	commands.Paid:                   noArgs,
	commands.Overdue:                noArgs,
	commands.Stats:                  noArgs,
	commands.Search:                 single("term"),
	commands.Supplier:               single("name"),
	commands.LastInvoice:            single("name"),
	commands.Invoice:                single("number"),
	commands.ListSuppliers:          noArgs,
	commands.ListEmployees:          noArgs,
	commands.TransactionsMonth:      noArgs,
	commands.IncomeMonth:            noArgs,
	commands.ExpensesMonth:          noArgs,
	commands.BalanceMonth:           noArgs,
	commands.TransactionsBySupplier: single("name"),
	commands.TransactionsByPeriod:   bindPeriod,
	commands.Help:                   noArgs,
}

func noArgs(map[string]any) ([]string, error) { return nil, nil }

func single(key string) binder {
	return func(args map[string]any) ([]string, error) {
		v := str(args[key])
		if v == "" {
			return nil, fmt.Errorf("argument %q is required", key)
		}
		return []string{v}, nil
	}
}

// bindPeriod yields [start, end] plus the filter when a filter or supplier
// is given, plus the supplier when given.
func bindPeriod(args map[string]any) ([]string, error) {
	start, err := commands.NormalizeDate(str(args["start"]))
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, err := commands.NormalizeDate(str(args["end"]))
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	out := []string{start, end}
	filter := str(args["filterType"])
	supplier := str(args["supplier"])
	if filter != "" || supplier != "" {
		out = append(out, filter)
	}
	if supplier != "" {
		out = append(out, supplier)
	}
	return out, nil
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// decodeArguments parses the raw JSON arguments of a tool call. Blank input
// means no arguments.
func decodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("malformed arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// bind resolves a tool call to the command and positional args to execute.
func bind(registry *tools.Registry, name, rawArgs string) ([]string, error) {
	b, ok := binders[name]
	if _, declared := registry.Lookup(name); !declared || !ok {
		return nil, fmt.Errorf("%w: %s", tools.ErrUnknownTool, name)
	}
	args, err := decodeArguments(rawArgs)
	if err != nil {
		return nil, err
	}
	if err := registry.Validate(name, args); err != nil {
		return nil, err
	}
	return b(args)
}

func checkBinders(registry *tools.Registry) error {
	for _, name := range registry.Names() {
		if _, ok := binders[name]; !ok {
			return fmt.Errorf("no binder for tool %s", name)
		}
	}
	return nil
}

// invoke runs one tool call and always returns the text to send back to the
// model. err is set when that text describes a failure.
func (a *Agent) invoke(ctx context.Context, name, rawArgs string) (args []string, output string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v", name, p)
			output = errorText(err)
		}
	}()

	args, err = bind(a.registry, name, rawArgs)
	if err != nil {
		return args, errorText(err), err
	}
	output, err = a.exec.Execute(ctx, name, args)
	if err != nil {
		return args, errorText(err), err
	}
	if strings.TrimSpace(output) == "" {
		output = "(aucun résultat)"
	}
	return args, output, nil
}

func errorText(err error) string {
	return "Erreur : " + err.Error()
}
