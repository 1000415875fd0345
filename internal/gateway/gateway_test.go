package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/stellarlinkco/factubot/internal/agent"
	"github.com/stellarlinkco/factubot/internal/bus"
	"github.com/stellarlinkco/factubot/internal/commands"
	"github.com/stellarlinkco/factubot/internal/config"
	"github.com/stellarlinkco/factubot/internal/cron"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockChannel records outbound messages.
type mockChannel struct {
	name     string
	startErr error
	mu       sync.Mutex
	sent     []bus.OutboundMessage
	stopped  bool
}

func (m *mockChannel) Name() string { return m.name }
func (m *mockChannel) Start(ctx context.Context) error { return m.startErr }

func (m *mockChannel) Stop() error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return nil
}

func (m *mockChannel) Send(msg bus.OutboundMessage) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

func (m *mockChannel) messages() []bus.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bus.OutboundMessage(nil), m.sent...)
}

type closeRecorder struct{ closed atomic.Bool }

func (c *closeRecorder) Close() error {
	c.closed.Store(true)
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Agent.Model = config.DefaultModel
	cfg.Gateway.Workers = 2
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.Config, router *Router) (*Gateway, *mockChannel, chan os.Signal) {
	t.Helper()
	sigCh := make(chan os.Signal, 1)
	g, err := NewWithOptions(cfg, router, Options{
		CronStorePath: filepath.Join(t.TempDir(), "cron", "jobs.json"),
		SignalChan:    sigCh,
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	ch := &mockChannel{name: "telegram"}
	g.Register(ch)
	return g, ch, sigCh
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewWithOptions_TelegramWithoutToken(t *testing.T) {
	cfg := testConfig()
	cfg.Channels.Telegram.Enabled = true
	_, err := NewWithOptions(cfg, newRouterFixture(config.ModeAgent).router, Options{
		CronStorePath: filepath.Join(t.TempDir(), "jobs.json"),
	})
	if err == nil {
		t.Error("expected channel manager error")
	}
}

func TestGateway_Run_RepliesAndShutsDown(t *testing.T) {
	f := newRouterFixture(config.ModeAgent)
	g, ch, sigCh := newTestGateway(t, testConfig(), f.router)
	closer := &closeRecorder{}
	g.closer = closer

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	g.bus.Inbound <- tgMessage("Combien de factures impayées ?")
	waitFor(t, func() bool { return len(ch.messages()) == 1 })

	got := ch.messages()[0]
	if got.ChatID != "42" || got.Content != "Voici la réponse." || got.ReplyTo != "9" {
		t.Errorf("outbound = %+v", got)
	}

	sigCh <- os.Interrupt
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not exit after signal")
	}
	if !closer.closed.Load() {
		t.Error("services should be closed on shutdown")
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.stopped {
		t.Error("channel should be stopped on shutdown")
	}
}

func TestGateway_Run_ContextCancel(t *testing.T) {
	g, _, _ := newTestGateway(t, testConfig(), newRouterFixture(config.ModeAgent).router)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not exit after cancel")
	}
}

func TestGateway_Run_ChannelStartError(t *testing.T) {
	g, _, _ := newTestGateway(t, testConfig(), newRouterFixture(config.ModeAgent).router)
	g.Register(&mockChannel{name: "broken", startErr: errors.New("no network")})

	if err := g.Run(context.Background()); err == nil {
		t.Error("expected error from channel start")
	}
}

func TestGateway_ProcessLoop_WorkerLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.Workers = 2

	var active, peak atomic.Int32
	release := make(chan struct{})
	f := newRouterFixture(config.ModeAgent)
	f.asker.run = func(ctx context.Context, q string) agent.Result {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return agent.Result{Answer: "ok", Outcome: agent.OutcomeDone}
	}

	g, ch, sigCh := newTestGateway(t, cfg, f.router)
	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	for i := 0; i < 5; i++ {
		g.bus.Inbound <- tgMessage("question")
	}
	waitFor(t, func() bool { return active.Load() == 2 })
	time.Sleep(50 * time.Millisecond)
	close(release)
	waitFor(t, func() bool { return len(ch.messages()) == 5 })

	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}

	sigCh <- os.Interrupt
	<-done
}

func TestGateway_RunJob_Delivers(t *testing.T) {
	f := newRouterFixture(config.ModeAgent)
	f.runner.out = commands.Output{Text: "3 factures en retard"}
	g, ch, sigCh := newTestGateway(t, testConfig(), f.router)

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	job := cron.NewCronJob("retards", cron.Schedule{Kind: cron.KindEvery, EveryMs: 60000},
		cron.Payload{Command: commands.Overdue, Channel: "telegram", To: "42"})
	text, err := g.runJob(context.Background(), job)
	if err != nil || text != "3 factures en retard" {
		t.Fatalf("runJob = %q, %v", text, err)
	}
	waitFor(t, func() bool { return len(ch.messages()) == 1 })
	if got := ch.messages()[0]; got.ChatID != "42" || got.Content != "3 factures en retard" {
		t.Errorf("delivered = %+v", got)
	}

	sigCh <- os.Interrupt
	<-done
}

func TestGateway_RunJob_NoTarget(t *testing.T) {
	f := newRouterFixture(config.ModeAgent)
	g, ch, _ := newTestGateway(t, testConfig(), f.router)

	job := cron.NewCronJob("silent", cron.Schedule{Kind: cron.KindEvery, EveryMs: 60000}, cron.Payload{Command: commands.Stats})
	if _, err := g.runJob(context.Background(), job); err != nil {
		t.Fatalf("runJob error: %v", err)
	}
	if len(ch.messages()) != 0 {
		t.Error("job without target must not deliver")
	}
	if len(g.bus.Outbound) != 0 {
		t.Error("job without target must not publish")
	}
}

func TestGateway_RunJob_Error(t *testing.T) {
	f := newRouterFixture(config.ModeAgent)
	f.runner.err = errors.New("billing down")
	g, _, _ := newTestGateway(t, testConfig(), f.router)

	job := cron.NewCronJob("x", cron.Schedule{Kind: cron.KindEvery, EveryMs: 60000},
		cron.Payload{Command: commands.Unpaid, Channel: "telegram", To: "42"})
	if _, err := g.runJob(context.Background(), job); err == nil {
		t.Error("expected error")
	}
	if len(g.bus.Outbound) != 0 {
		t.Error("failed job must not publish")
	}
}

func TestGateway_ServesAPI(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := testConfig()
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = port
	cfg.Gateway.APIEnabled = true

	sigCh := make(chan os.Signal, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	g, err := NewWithOptions(cfg, newRouterFixture(config.ModeAgent).router, Options{
		API:           handler,
		CronStorePath: filepath.Join(t.TempDir(), "jobs.json"),
		SignalChan:    sigCh,
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	waitFor(t, func() bool {
		resp, err := client.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusTeapot
	})

	sigCh <- os.Interrupt
	if err := <-done; err != nil {
		t.Errorf("Run error: %v", err)
	}
}
