package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/commands"
	"github.com/stellarlinkco/factubot/internal/llm"
	"github.com/stellarlinkco/factubot/internal/logging"
)

const defaultMaxTokens = 200

// Resolver classifies utterances. It is safe for concurrent use.
type Resolver struct {
	client    llm.Client
	model     string
	maxTokens int
	examples  []Example
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = logging.OrNop(l) }
}

func WithMaxTokens(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxTokens = n
		}
	}
}

func WithExamples(ex []Example) Option {
	return func(r *Resolver) { r.examples = ex }
}

func NewResolver(client llm.Client, model string, opts ...Option) *Resolver {
	r := &Resolver{
		client:    client,
		model:     model,
		maxTokens: defaultMaxTokens,
		examples:  DefaultExamples(),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve classifies utterance. It never fails: any problem with the model
// call or its output yields Fallback().
func (r *Resolver) Resolve(ctx context.Context, utterance string, rc *Context) (in Intent) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("resolve panicked", zap.Any("panic", p))
			in = Fallback()
		}
	}()

	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Fallback()
	}

	resp, err := r.client.Complete(ctx, llm.Request{
		Model: r.model,
		Messages: []llm.Message{
			llm.System(buildPrompt(r.examples, r.now(), rc)),
			llm.User(utterance),
		},
		Temperature: llm.Temperature(0),
		MaxTokens:   r.maxTokens,
	})
	if err != nil {
		r.logger.Warn("classification call failed", zap.Error(err))
		return Fallback()
	}

	in, err = Parse(resp.Message.Content)
	if err != nil {
		r.logger.Info("unusable classifier output",
			zap.String("output", logging.Truncate(resp.Message.Content, 200)),
			zap.Error(err))
		return Fallback()
	}
	in = complete(in, rc)
	r.logger.Debug("resolved",
		zap.String("utterance", logging.Truncate(utterance, 80)),
		zap.String("command", in.Command),
		zap.Strings("args", in.Args),
		zap.Float64("confidence", in.Confidence))
	return in
}

type rawIntent struct {
	Command    string          `json:"command"`
	Args       json.RawMessage `json:"args"`
	Confidence any             `json:"confidence"`
}

// Parse extracts the intent from raw model output: the first balanced JSON
// object, with a command from the vocabulary.
func Parse(output string) (Intent, error) {
	obj, ok := firstJSONObject(output)
	if !ok {
		return Intent{}, fmt.Errorf("no JSON object in output")
	}
	var raw rawIntent
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}
	command := strings.ToLower(strings.TrimSpace(raw.Command))
	if !commands.Known(command) {
		return Intent{}, fmt.Errorf("%w: %q", commands.ErrUnknownCommand, raw.Command)
	}
	args, err := decodeArgs(raw.Args)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Command: command, Args: args, Confidence: confidence(raw.Confidence)}, nil
}

func decodeArgs(raw json.RawMessage) ([]string, error) {
	args := []string{}
	if len(raw) == 0 || string(raw) == "null" {
		return args, nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		var single any
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
		list = []any{single}
	}
	for _, v := range list {
		args = append(args, stringify(v))
	}
	for len(args) > 0 && args[len(args)-1] == "" {
		args = args[:len(args)-1]
	}
	return args, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func confidence(v any) float64 {
	var c float64
	switch x := v.(type) {
	case float64:
		c = x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		c = f
	default:
		return 0
	}
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(1, c))
}

// complete fixes up arguments the executor would otherwise reject.
func complete(in Intent, rc *Context) Intent {
	switch in.Command {
	case commands.Invoice:
		if len(in.Args) == 0 {
			if id := rc.invoiceID(); id != "" {
				in.Args = []string{id}
			}
		}
	case commands.TransactionsByPeriod:
		for i := 0; i < len(in.Args) && i < 2; i++ {
			if d, err := commands.NormalizeDate(in.Args[i]); err == nil {
				in.Args[i] = d
			}
		}
		if len(in.Args) > 2 {
			in.Args[2] = normalizeFilter(in.Args[2])
		}
	}
	if spec, ok := commands.Lookup(in.Command); ok && len(in.Args) > spec.MaxArgs() {
		in.Args = in.Args[:spec.MaxArgs()]
	}
	return in
}

func normalizeFilter(f string) string {
	f = strings.ToLower(strings.TrimSpace(f))
	switch f {
	case "dépenses", "depense", "dépense", "débits", "debits":
		return commands.FilterExpenses
	case "recette", "crédits", "credits":
		return commands.FilterIncome
	case "salaire":
		return commands.FilterSalaries
	case "tout", "toutes", "all":
		return commands.FilterAll
	}
	return f
}
