package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/agent"
	"github.com/stellarlinkco/factubot/internal/bus"
	"github.com/stellarlinkco/factubot/internal/commands"
	"github.com/stellarlinkco/factubot/internal/config"
	"github.com/stellarlinkco/factubot/internal/cron"
	"github.com/stellarlinkco/factubot/internal/intent"
	"github.com/stellarlinkco/factubot/internal/journal"
	"github.com/stellarlinkco/factubot/internal/logging"
)

const (
	askUsage      = "Utilisation : /ask <question>"
	billingFailed = "❌ Le service de facturation ne répond pas. Réessaie dans un instant."
	badDate       = "⚠️ Date invalide. Utilise le format AAAA-MM-JJ."
)

type Asker interface {
	Run(ctx context.Context, question string) agent.Result
}

type Resolver interface {
	Resolve(ctx context.Context, utterance string, rc *intent.Context) intent.Intent
}

type Runner interface {
	Run(ctx context.Context, name string, args []string) (commands.Output, error)
}

type Recorder interface {
	Record(ctx context.Context, e journal.Entry) (int64, error)
}

// Router turns one chat message into one reply. It remembers, per session,
// the last invoice a reply was about so "cette facture" can be resolved.
type Router struct {
	mode     string
	agent    Asker
	resolver Resolver
	commands Runner
	journal  Recorder
	logger   *zap.Logger

	mu          sync.Mutex
	lastInvoice map[string]string
}

// NewRouter builds a router. rec may be nil.
func NewRouter(mode string, a Asker, r Resolver, c Runner, rec Recorder, logger *zap.Logger) *Router {
	return &Router{
		mode:        mode,
		agent:       a,
		resolver:    r,
		commands:    c,
		journal:     rec,
		logger:      logging.OrNop(logger),
		lastInvoice: make(map[string]string),
	}
}

// Handle answers msg. It never returns an empty string for non-blank input.
func (r *Router) Handle(ctx context.Context, msg bus.InboundMessage) string {
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return ""
	}
	session := msg.SessionKey()
	entry := journal.Entry{Session: session, Source: sourceOf(msg.Channel), Input: text}

	var reply string
	if strings.HasPrefix(text, "/") {
		reply = r.slash(ctx, session, text, &entry)
	} else if r.mode == config.ModeIntent {
		reply = r.classify(ctx, session, text, &entry)
	} else {
		reply = r.ask(ctx, session, text, &entry)
	}

	entry.Output = reply
	r.record(ctx, entry)
	return reply
}

func (r *Router) slash(ctx context.Context, session, text string, e *journal.Entry) string {
	fields := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	rest := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))

	switch {
	case name == "start" || name == commands.Help:
		e.Command = commands.Help
		e.Outcome = string(agent.OutcomeDone)
		return commands.HelpText()
	case name == "ask":
		if rest == "" {
			e.Outcome = string(agent.OutcomeFailed)
			return askUsage
		}
		return r.ask(ctx, session, rest, e)
	case commands.Known(name):
		return r.execute(ctx, session, name, fields[1:], e)
	default:
		e.Outcome = string(agent.OutcomeFailed)
		return fmt.Sprintf("Commande inconnue : /%s. Tape /help pour la liste.", name)
	}
}

func (r *Router) ask(ctx context.Context, session, question string, e *journal.Entry) string {
	res := r.agent.Run(ctx, question)
	e.Outcome = string(res.Outcome)
	e.Iterations = res.Iterations
	for _, call := range res.ToolCalls {
		if call.Name == commands.Invoice && !call.Failed() && len(call.Args) > 0 {
			r.remember(session, call.Args[0])
		}
	}
	return res.Answer
}

func (r *Router) classify(ctx context.Context, session, utterance string, e *journal.Entry) string {
	var rc *intent.Context
	if id := r.last(session); id != "" {
		rc = &intent.Context{LastReferencedInvoiceID: id}
	}
	in := r.resolver.Resolve(ctx, utterance, rc)
	e.Confidence = in.Confidence
	r.logger.Debug("classified",
		zap.String("session", session),
		zap.String("command", in.Command),
		zap.Strings("args", in.Args),
		zap.Float64("confidence", in.Confidence),
	)
	return r.execute(ctx, session, in.Command, in.Args, e)
}

func (r *Router) execute(ctx context.Context, session, name string, args []string, e *journal.Entry) string {
	e.Command = name
	e.Args = args
	out, err := r.commands.Run(ctx, name, args)
	if err != nil {
		e.Outcome = string(agent.OutcomeFailed)
		r.logger.Warn("command failed", zap.String("command", name), zap.Error(err))
		return commandError(name, err)
	}
	e.Outcome = string(agent.OutcomeDone)
	if out.InvoiceNumber != "" {
		r.remember(session, out.InvoiceNumber)
	}
	return out.Text
}

// RunJob runs a scheduled payload and returns the text to deliver.
func (r *Router) RunJob(ctx context.Context, job cron.CronJob) (string, error) {
	p := job.Payload
	entry := journal.Entry{Session: "cron:" + job.ID, Source: journal.SourceCron}

	var (
		text string
		err  error
	)
	if p.Command != "" {
		entry.Input = strings.TrimSpace(p.Command + " " + strings.Join(p.Args, " "))
		entry.Command = p.Command
		entry.Args = p.Args
		var out commands.Output
		out, err = r.commands.Run(ctx, p.Command, p.Args)
		text = out.Text
	} else {
		entry.Input = p.Question
		res := r.agent.Run(ctx, p.Question)
		entry.Iterations = res.Iterations
		text, err = res.Answer, res.Err
	}

	entry.Outcome = string(agent.OutcomeDone)
	entry.Output = text
	if err != nil {
		entry.Outcome = string(agent.OutcomeFailed)
		entry.Output = err.Error()
	}
	r.record(ctx, entry)
	return text, err
}

func (r *Router) remember(session, invoice string) {
	r.mu.Lock()
	r.lastInvoice[session] = invoice
	r.mu.Unlock()
}

func (r *Router) last(session string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastInvoice[session]
}

func (r *Router) record(ctx context.Context, e journal.Entry) {
	if r.journal == nil {
		return
	}
	if _, err := r.journal.Record(ctx, e); err != nil {
		r.logger.Warn("journal record failed", zap.Error(err))
	}
}

func commandError(name string, err error) string {
	switch {
	case errors.Is(err, commands.ErrArity):
		spec, _ := commands.Lookup(name)
		return "⚠️ Utilisation : /" + spec.Usage()
	case errors.Is(err, commands.ErrInvalidDate):
		return badDate
	case errors.Is(err, commands.ErrUnknownCommand):
		return fmt.Sprintf("Commande inconnue : /%s. Tape /help pour la liste.", name)
	default:
		return billingFailed
	}
}

func sourceOf(channel string) string {
	if channel == "" {
		return journal.SourceCLI
	}
	return channel
}
