// Package agent answers free-form questions by letting the model call the
// billing tools over a bounded number of round-trips.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/llm"
	"github.com/stellarlinkco/factubot/internal/logging"
	"github.com/stellarlinkco/factubot/internal/tools"
)

// MaxIterations bounds the model round-trips of one Run.
const MaxIterations = 5

const (
	ExhaustedAnswer = "Désolé, je n'ai pas réussi à aboutir à une réponse. Essaie de poser ta question plus simplement."
	EmptyAnswer     = "Désolé, je n'ai pas pu formuler de réponse."
)

type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFailed    Outcome = "failed"
)

var ErrNilClient = errors.New("agent: client is nil")

// Executor runs one vocabulary command.
type Executor interface {
	Execute(ctx context.Context, name string, args []string) (string, error)
}

// ToolCall records one executed tool call.
type ToolCall struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Args   []string `json:"args"`
	Output string   `json:"output"`
	Error  string   `json:"error,omitempty"`
}

func (c ToolCall) Failed() bool { return c.Error != "" }

// Result is the outcome of one Run. Answer is always user-presentable.
type Result struct {
	Answer     string     `json:"answer"`
	Outcome    Outcome    `json:"outcome"`
	Iterations int        `json:"iterations"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	Usage      llm.Usage  `json:"-"`
	Err        error      `json:"-"`
}

type Agent struct {
	client      llm.Client
	registry    *tools.Registry
	exec        Executor
	model       string
	maxTokens   int
	temperature *float64
	menu        []llm.Tool
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*Agent)

func WithMaxTokens(n int) Option {
	return func(a *Agent) { a.maxTokens = n }
}

func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = llm.Temperature(t) }
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.logger = logging.OrNop(l) }
}

// New builds an agent over the registry. Every registered tool must have a
// binder to a command.
func New(client llm.Client, registry *tools.Registry, exec Executor, model string, opts ...Option) (*Agent, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if registry == nil || exec == nil {
		return nil, errors.New("agent: registry and executor are required")
	}
	if err := checkBinders(registry); err != nil {
		return nil, err
	}
	a := &Agent{
		client:   client,
		registry: registry,
		exec:     exec,
		model:    model,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, def := range registry.List() {
		a.menu = append(a.menu, llm.Tool{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters.JSONSchema(),
		})
	}
	return a, nil
}

// Answer returns only the text of Run.
func (a *Agent) Answer(ctx context.Context, question string) string {
	return a.Run(ctx, question).Answer
}

// Run answers question. It never panics and always returns a presentable
// answer, whatever the model or the tools do.
func (a *Agent) Run(ctx context.Context, question string) (res Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("agent panicked: %v", p)
			res.Answer = fatalAnswer(res.Err)
		}
		a.logger.Info("run finished",
			zap.String("outcome", string(res.Outcome)),
			zap.Int("iterations", res.Iterations),
			zap.Int("tool_calls", len(res.ToolCalls)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(res.Err))
	}()

	question = strings.TrimSpace(question)
	if question == "" {
		return Result{Answer: EmptyAnswer, Outcome: OutcomeFailed}
	}

	conv := newConversation(systemPrompt(a.now()), question)
	for res.Iterations < MaxIterations {
		resp, err := a.client.Complete(ctx, llm.Request{
			Model:       a.model,
			Messages:    conv.Messages(),
			Tools:       a.menu,
			Temperature: a.temperature,
			MaxTokens:   a.maxTokens,
		})
		res.Iterations++
		if err != nil {
			res.Outcome = OutcomeFailed
			res.Err = err
			res.Answer = fatalAnswer(err)
			return res
		}
		res.Usage.InputTokens += resp.Usage.InputTokens
		res.Usage.OutputTokens += resp.Usage.OutputTokens

		msg := resp.Message
		msg.Role = llm.RoleAssistant
		for i := range msg.ToolCalls {
			if msg.ToolCalls[i].ID == "" {
				msg.ToolCalls[i].ID = fmt.Sprintf("call_%d_%d", res.Iterations, i)
			}
		}
		conv.Append(msg)

		if len(msg.ToolCalls) == 0 {
			if content := strings.TrimSpace(msg.Content); content != "" {
				res.Outcome = OutcomeDone
				res.Answer = content
				return res
			}
			res.Outcome = OutcomeFailed
			res.Answer = EmptyAnswer
			return res
		}

		if res.Iterations == MaxIterations {
			break
		}
		for _, call := range msg.ToolCalls {
			args, output, err := a.invoke(ctx, call.Name, call.Arguments)
			record := ToolCall{ID: call.ID, Name: call.Name, Args: args, Output: output}
			if err != nil {
				record.Error = err.Error()
				a.logger.Warn("tool call failed", zap.String("tool", call.Name), zap.Error(err))
			} else {
				a.logger.Debug("tool call", zap.String("tool", call.Name), zap.Strings("args", args))
			}
			res.ToolCalls = append(res.ToolCalls, record)
			if err != nil {
				conv.Append(llm.ToolError(call.ID, output))
			} else {
				conv.Append(llm.ToolResult(call.ID, output))
			}
		}
	}

	res.Outcome = OutcomeExhausted
	res.Answer = ExhaustedAnswer
	return res
}

func fatalAnswer(err error) string {
	return fmt.Sprintf("❌ Erreur : %s. Essaie de reformuler ta question.", logging.Truncate(err.Error(), 200))
}
