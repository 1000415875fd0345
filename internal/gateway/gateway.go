package gateway

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/factubot/internal/bus"
	"github.com/stellarlinkco/factubot/internal/channel"
	"github.com/stellarlinkco/factubot/internal/config"
	"github.com/stellarlinkco/factubot/internal/cron"
	"github.com/stellarlinkco/factubot/internal/httpapi"
	"github.com/stellarlinkco/factubot/internal/logging"
)

// Options for creating a Gateway.
type Options struct {
	API           http.Handler // served when cfg.Gateway.APIEnabled
	CronStorePath string
	Closer        io.Closer      // closed on shutdown
	SignalChan    chan os.Signal // for testing signal handling
	Logger        *zap.Logger
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	router     *Router
	channels   *channel.ChannelManager
	cron       *cron.Service
	api        http.Handler
	closer     io.Closer
	signalChan chan os.Signal
	logger     *zap.Logger
}

// New builds a Gateway over svc. Shutdown closes svc.
func New(svc *Services) (*Gateway, error) {
	opts := Options{
		CronStorePath: config.CronStorePath(),
		Closer:        svc,
		Logger:        svc.Logger,
	}
	if svc.Config.Gateway.APIEnabled {
		opts.API = svc.API()
	}
	return NewWithOptions(svc.Config, svc.Router(), opts)
}

func NewWithOptions(cfg *config.Config, router *Router, opts Options) (*Gateway, error) {
	logger := logging.OrNop(opts.Logger).Named("gateway")
	g := &Gateway{
		cfg:        cfg,
		router:     router,
		api:        opts.API,
		closer:     opts.Closer,
		signalChan: opts.SignalChan,
		logger:     logger,
	}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)
	g.bus.SetLogger(logger)

	storePath := opts.CronStorePath
	if storePath == "" {
		storePath = config.CronStorePath()
	}
	g.cron = cron.NewService(storePath, logger.Named("cron"))

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus, logger)
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr
	return g, nil
}

// Register adds a channel besides the configured ones.
func (g *Gateway) Register(ch channel.Channel) {
	g.channels.Register(ch)
}

// Run serves until SIGINT/SIGTERM or until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bg, bgCtx := errgroup.WithContext(ctx)
	bg.Go(func() error {
		g.bus.DispatchOutbound(bgCtx)
		return nil
	})

	if err := g.channels.StartAll(ctx); err != nil {
		cancel()
		_ = bg.Wait()
		return fmt.Errorf("start channels: %w", err)
	}
	g.logger.Info("channels started", zap.Strings("channels", g.channels.EnabledChannels()))

	g.cron.OnJob = func(job cron.CronJob) (string, error) {
		return g.runJob(bgCtx, job)
	}
	if err := g.cron.Start(ctx); err != nil {
		g.logger.Warn("cron start failed", zap.Error(err))
	}

	if g.api != nil && g.cfg.Gateway.APIEnabled {
		addr := net.JoinHostPort(g.cfg.Gateway.Host, strconv.Itoa(g.cfg.Gateway.Port))
		bg.Go(func() error {
			return httpapi.Serve(bgCtx, addr, g.api, g.logger.Named("api"))
		})
	}

	bg.Go(func() error {
		return g.processLoop(bgCtx)
	})

	g.logger.Info("running", zap.String("host", g.cfg.Gateway.Host), zap.Int("port", g.cfg.Gateway.Port))

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-bgCtx.Done():
	}

	g.logger.Info("shutting down")
	cancel()
	runErr := bg.Wait()
	if err := g.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// processLoop hands inbound messages to at most cfg.Gateway.Workers
// concurrent handlers.
func (g *Gateway) processLoop(ctx context.Context) error {
	workers := g.cfg.Gateway.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}
	var eg errgroup.Group
	eg.SetLimit(workers)

	for {
		select {
		case msg := <-g.bus.Inbound:
			eg.Go(func() error {
				g.handle(ctx, msg)
				return nil
			})
		case <-ctx.Done():
			return eg.Wait()
		}
	}
}

func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	g.logger.Info("inbound",
		zap.String("channel", msg.Channel),
		zap.String("sender", msg.SenderID),
		zap.String("content", logging.Truncate(msg.Content, 80)),
	)
	reply := g.router.Handle(ctx, msg)
	if reply == "" {
		return
	}
	if err := g.bus.Publish(ctx, bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
		ReplyTo: msg.MessageID,
	}); err != nil {
		g.logger.Warn("reply dropped", zap.String("session", msg.SessionKey()), zap.Error(err))
	}
}

func (g *Gateway) runJob(ctx context.Context, job cron.CronJob) (string, error) {
	text, err := g.router.RunJob(ctx, job)
	if err != nil {
		return "", err
	}
	if job.Payload.Channel != "" && text != "" {
		if err := g.bus.Publish(ctx, bus.OutboundMessage{
			Channel: job.Payload.Channel,
			ChatID:  job.Payload.To,
			Content: text,
		}); err != nil {
			return text, fmt.Errorf("deliver job result: %w", err)
		}
	}
	return text, nil
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if g.closer != nil {
		if err := g.closer.Close(); err != nil {
			g.logger.Warn("close services", zap.Error(err))
		}
	}
	g.logger.Info("shutdown complete")
	return nil
}
