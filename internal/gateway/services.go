package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/agent"
	"github.com/stellarlinkco/factubot/internal/billing"
	"github.com/stellarlinkco/factubot/internal/cache"
	"github.com/stellarlinkco/factubot/internal/commands"
	"github.com/stellarlinkco/factubot/internal/config"
	"github.com/stellarlinkco/factubot/internal/httpapi"
	"github.com/stellarlinkco/factubot/internal/intent"
	"github.com/stellarlinkco/factubot/internal/journal"
	"github.com/stellarlinkco/factubot/internal/llm"
	"github.com/stellarlinkco/factubot/internal/logging"
	"github.com/stellarlinkco/factubot/internal/tools"
)

// Services are the components built from one config. The gateway and the
// CLI share them.
type Services struct {
	Config   *config.Config
	Logger   *zap.Logger
	LLM      llm.Client
	Billing  *billing.Client
	Commands *commands.Executor
	Tools    *tools.Registry
	Agent    *agent.Agent
	Resolver *intent.Resolver
	Journal  *journal.Store // nil when the journal is disabled

	cache *cache.Redis
}

// NewServices validates cfg and wires every component it describes.
func NewServices(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logging.OrNop(logger)
	s := &Services{Config: cfg, Logger: logger, Tools: tools.Default()}

	client, err := llm.New(cfg.Provider, logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	s.LLM = client

	billingOpts := []billing.Option{billing.WithLogger(logger.Named("billing"))}
	if cfg.Cache.Enabled {
		rc, err := cache.NewRedis(ctx, cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		s.cache = rc
		billingOpts = append(billingOpts, billing.WithCache(rc, time.Duration(cfg.Cache.TTLSeconds)*time.Second))
	}
	s.Billing, err = billing.New(cfg.Billing, billingOpts...)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create billing client: %w", err)
	}

	s.Commands = commands.NewExecutor(s.Billing, commands.WithLogger(logger.Named("commands")))

	s.Agent, err = agent.New(client, s.Tools, s.Commands, cfg.Agent.Model,
		agent.WithMaxTokens(cfg.Agent.MaxTokens),
		agent.WithTemperature(cfg.Agent.Temperature),
		agent.WithLogger(logger.Named("agent")),
	)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create agent: %w", err)
	}

	s.Resolver = intent.NewResolver(client, cfg.ClassifierModel(), intent.WithLogger(logger.Named("intent")))

	if cfg.Journal.Enabled {
		s.Journal, err = journal.Open(cfg.JournalPath())
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}
	return s, nil
}

// Router returns a router over these services.
func (s *Services) Router() *Router {
	var rec Recorder
	if s.Journal != nil {
		rec = s.Journal
	}
	return NewRouter(s.Config.Agent.Mode, s.Agent, s.Resolver, s.Commands, rec, s.Logger.Named("router"))
}

// API returns the HTTP handler over these services.
func (s *Services) API() http.Handler {
	deps := httpapi.Deps{
		Agent:    s.Agent,
		Resolver: s.Resolver,
		Commands: s.Commands,
		Tools:    s.Tools,
		Token:    s.Config.Gateway.APIToken,
		Logger:   s.Logger.Named("api"),
	}
	if s.Journal != nil {
		deps.Journal = s.Journal
	}
	return httpapi.New(deps)
}

func (s *Services) Close() error {
	var errs []error
	if s.Journal != nil {
		errs = append(errs, s.Journal.Close())
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	return errors.Join(errs...)
}
