package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/bus"
	"github.com/stellarlinkco/factubot/internal/config"
	"github.com/stellarlinkco/factubot/internal/gateway"
	"github.com/stellarlinkco/factubot/internal/intent"
	"github.com/stellarlinkco/factubot/internal/journal"
	"github.com/stellarlinkco/factubot/internal/logging"
	"github.com/stellarlinkco/factubot/internal/tools"
)

// ServicesFactory builds the components behind ask, resolve, exec and gateway.
type ServicesFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gateway.Services, error)

// App carries the injectable dependencies of the CLI.
type App struct {
	NewServices ServicesFactory
	Stdin       io.Reader
}

func main() {
	if err := newRootCmd(App{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(app App) *cobra.Command {
	if app.NewServices == nil {
		app.NewServices = gateway.NewServices
	}
	if app.Stdin == nil {
		app.Stdin = os.Stdin
	}

	root := &cobra.Command{
		Use:          "factubot",
		Short:        "factubot - invoices and bank questions in plain French",
		SilenceUsage: true,
	}
	root.AddCommand(
		newAskCmd(app),
		newResolveCmd(app),
		newExecCmd(app),
		newToolsCmd(),
		newGatewayCmd(app),
		newHistoryCmd(),
		newCronCmd(),
		newOnboardCmd(),
		newStatusCmd(),
	)
	return root
}

func loadServices(ctx context.Context, app App) (*gateway.Services, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	svc, err := app.NewServices(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("%w\nRun 'factubot onboard' and edit %s", err, config.ConfigPath())
	}
	return svc, nil
}

func newAskCmd(app App) *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask one question, or start a conversation when no question is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadServices(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer svc.Close()

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				question := strings.Join(args, " ")
				res := svc.Agent.Run(cmd.Context(), question)
				record(cmd.Context(), svc, journal.Entry{
					Session:    "cli",
					Input:      question,
					Output:     res.Answer,
					Outcome:    string(res.Outcome),
					Iterations: res.Iterations,
				})
				fmt.Fprintln(out, res.Answer)
				return nil
			}
			return repl(cmd.Context(), svc.Router(), app.Stdin, out)
		},
	}
}

// repl routes each line like a chat message, so slash commands and
// "cette facture" work as they do on Telegram.
func repl(ctx context.Context, router *gateway.Router, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "factubot (tape 'exit' pour quitter)")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		reply := router.Handle(ctx, bus.InboundMessage{
			Channel:   journal.SourceCLI,
			ChatID:    "repl",
			Content:   input,
			Timestamp: time.Now(),
		})
		fmt.Fprintln(out, reply)
	}
	return scanner.Err()
}

func newResolveCmd(app App) *cobra.Command {
	var invoice string
	cmd := &cobra.Command{
		Use:   "resolve <utterance...>",
		Short: "Classify a request into a command without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadServices(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer svc.Close()

			utterance := strings.Join(args, " ")
			in := svc.Resolver.Resolve(cmd.Context(), utterance, resolveContext(invoice))
			record(cmd.Context(), svc, journal.Entry{
				Session:    "cli",
				Input:      utterance,
				Command:    in.Command,
				Args:       in.Args,
				Confidence: in.Confidence,
				Outcome:    "resolved",
			})
			return printJSON(cmd.OutOrStdout(), in)
		},
	}
	cmd.Flags().StringVar(&invoice, "invoice", "", "invoice number the conversation last referred to")
	return cmd
}

func resolveContext(invoice string) *intent.Context {
	if strings.TrimSpace(invoice) == "" {
		return nil
	}
	return &intent.Context{LastReferencedInvoiceID: invoice}
}

func newExecCmd(app App) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command> [args...]",
		Short: "Run a vocabulary command directly",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadServices(cmd.Context(), app)
			if err != nil {
				return err
			}
			defer svc.Close()

			name, rest := args[0], args[1:]
			out, err := svc.Commands.Run(cmd.Context(), name, rest)
			entry := journal.Entry{
				Session: "cli",
				Input:   strings.Join(args, " "),
				Command: name,
				Args:    rest,
				Output:  out.Text,
				Outcome: "done",
			}
			if err != nil {
				entry.Output, entry.Outcome = err.Error(), "failed"
			}
			record(cmd.Context(), svc, entry)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Text)
			return nil
		},
	}
}

func newToolsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered to the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := tools.Default()
			if asJSON {
				out := make([]map[string]any, 0, reg.Len())
				for _, def := range reg.List() {
					out = append(out, map[string]any{
						"name":        def.Name,
						"description": def.Description,
						"parameters":  def.Parameters.JSONSchema(),
					})
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, def := range reg.List() {
				fmt.Fprintf(w, "%s\t%s\n", def.Name, def.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON schemas")
	return cmd
}

func newGatewayCmd(app App) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway (Telegram, HTTP API, scheduled digests)",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadServices(cmd.Context(), app)
			if err != nil {
				return err
			}
			gw, err := gateway.New(svc)
			if err != nil {
				_ = svc.Close()
				return fmt.Errorf("create gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent answered requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journal is disabled")
			}
			store, err := journal.Open(cfg.JournalPath())
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Local().Format("2006-01-02 15:04"),
					e.Source,
					e.Outcome,
					logging.Truncate(e.Input, 50),
					strings.TrimSpace(e.Command+" "+strings.Join(e.Args, " ")),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

func newOnboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Write a default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := config.ConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
				return nil
			} else if !os.IsNotExist(err) {
				return fmt.Errorf("stat config: %w", err)
			}
			if err := config.SaveConfig(config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintf(out, "Created config: %s\n", cfgPath)
			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintf(out, "  1. Edit %s to set provider.apiKey and billing.baseUrl\n", cfgPath)
			fmt.Fprintln(out, "  2. Or set FACTUBOT_API_KEY and FACTUBOT_BILLING_URL")
			fmt.Fprintln(out, "  3. Run 'factubot ask \"Factures impayées ?\"' to test")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := config.LoadConfig()
			if err != nil {
				fmt.Fprintf(out, "Config: error (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
			fmt.Fprintf(out, "Provider: %s\n", cfg.Provider.Type)
			fmt.Fprintf(out, "Model: %s (classifier %s)\n", cfg.Agent.Model, cfg.ClassifierModel())
			fmt.Fprintf(out, "Mode: %s\n", cfg.Agent.Mode)
			fmt.Fprintf(out, "API Key: %s\n", mask(cfg.Provider.APIKey))
			fmt.Fprintf(out, "Billing: %s (token %s)\n", orNotSet(cfg.Billing.BaseURL), mask(cfg.Billing.Token))
			fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
			fmt.Fprintf(out, "HTTP API: enabled=%v on %s:%d\n", cfg.Gateway.APIEnabled, cfg.Gateway.Host, cfg.Gateway.Port)
			fmt.Fprintf(out, "Cache: enabled=%v\n", cfg.Cache.Enabled)
			if cfg.Journal.Enabled {
				fmt.Fprintf(out, "Journal: %s\n", cfg.JournalPath())
			} else {
				fmt.Fprintln(out, "Journal: disabled")
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(out, "Problems: %v\n", err)
			}
			return nil
		},
	}
}

func mask(secret string) string {
	switch {
	case secret == "":
		return "not set"
	case len(secret) > 8:
		return secret[:4] + "..." + secret[len(secret)-4:]
	default:
		return "set"
	}
}

func orNotSet(s string) string {
	if s == "" {
		return "not set"
	}
	return s
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func record(ctx context.Context, svc *gateway.Services, e journal.Entry) {
	if svc.Journal == nil {
		return
	}
	e.Source = journal.SourceCLI
	if _, err := svc.Journal.Record(ctx, e); err != nil {
		svc.Logger.Warn("journal record failed", zap.Error(err))
	}
}
