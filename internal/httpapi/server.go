// Package httpapi exposes the resolver, the agent and the command executor
// over a small JSON API.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/agent"
	"github.com/stellarlinkco/factubot/internal/commands"
	"github.com/stellarlinkco/factubot/internal/intent"
	"github.com/stellarlinkco/factubot/internal/journal"
	"github.com/stellarlinkco/factubot/internal/logging"
	"github.com/stellarlinkco/factubot/internal/tools"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "requestID"
	maxHistory      = 200
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

type Journal interface {
	Record(ctx context.Context, e journal.Entry) (int64, error)
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Deps are the components behind the API. Journal and Token are optional.
type Deps struct {
	Agent    Asker
	Resolver Resolver
	Commands Runner
	Tools    *tools.Registry
	Journal  Journal
	Token    string
	Logger   *zap.Logger
}

type server struct {
	Deps
	logger *zap.Logger
}

func New(d Deps) *gin.Engine {
	s := &server{Deps: d, logger: logging.OrNop(d.Logger)}

	g := gin.New()
	g.Use(gin.Recovery(), requestID(), s.accessLog())
	g.GET("/healthz", s.health)

	v1 := g.Group("/v1")
	if strings.TrimSpace(d.Token) != "" {
		v1.Use(bearer(d.Token))
	}
	v1.GET("/tools", s.listTools)
	v1.POST("/resolve", s.resolve)
	v1.POST("/ask", s.ask)
	v1.POST("/execute", s.execute)
	v1.GET("/history", s.history)
	return g
}

// Serve runs h on addr until ctx is cancelled, then shuts it down.
func Serve(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http api: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http api shutdown: %w", err)
		}
		<-errCh
		return nil
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func bearer(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"err": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("id", c.GetString(requestIDKey)),
		)
	}
}

func (s *server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type toolView struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func (s *server) listTools(c *gin.Context) {
	defs := s.Tools.List()
	out := make([]toolView, 0, len(defs))
	for _, def := range defs {
		out = append(out, toolView{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters.JSONSchema(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"tools": out})
}

func (s *server) resolve(c *gin.Context) {
	var req struct {
		Utterance   string `json:"utterance"`
		LastInvoice string `json:"lastReferencedInvoiceId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	var rc *intent.Context
	if req.LastInvoice != "" {
		rc = &intent.Context{LastReferencedInvoiceID: req.LastInvoice}
	}
	in := s.Resolver.Resolve(c.Request.Context(), req.Utterance, rc)
	s.record(c, journal.Entry{
		Input:      req.Utterance,
		Command:    in.Command,
		Args:       in.Args,
		Confidence: in.Confidence,
		Outcome:    "resolved",
	})
	c.JSON(http.StatusOK, in)
}

func (s *server) ask(c *gin.Context) {
	var req struct {
		Question string `json:"question" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	res := s.Agent.Run(c.Request.Context(), req.Question)
	s.record(c, journal.Entry{
		Input:      req.Question,
		Output:     res.Answer,
		Outcome:    string(res.Outcome),
		Iterations: res.Iterations,
	})
	c.JSON(http.StatusOK, gin.H{
		"answer":     res.Answer,
		"outcome":    res.Outcome,
		"iterations": res.Iterations,
		"toolCalls":  res.ToolCalls,
	})
}

func (s *server) execute(c *gin.Context) {
	var req struct {
		Command string   `json:"command" binding:"required"`
		Args    []string `json:"args"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if req.Args == nil {
		req.Args = []string{}
	}

	out, err := s.Commands.Run(c.Request.Context(), req.Command, req.Args)
	entry := journal.Entry{
		Input:   req.Command + " " + strings.Join(req.Args, " "),
		Command: req.Command,
		Args:    req.Args,
		Output:  out.Text,
		Outcome: "done",
	}
	if err != nil {
		entry.Output = err.Error()
		entry.Outcome = "failed"
	}
	s.record(c, entry)

	if err != nil {
		c.JSON(statusFor(err), gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": out.Text, "invoice": out.InvoiceNumber})
}

// statusFor maps caller mistakes to 400 and everything else, which is the
// billing service failing, to 502.
func statusFor(err error) int {
	switch {
	case errors.Is(err, commands.ErrUnknownCommand),
		errors.Is(err, commands.ErrArity),
		errors.Is(err, commands.ErrInvalidDate):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func (s *server) history(c *gin.Context) {
	if s.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "journal disabled"})
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"err": "bad limit"})
			return
		}
		limit = min(n, maxHistory)
	}
	entries, err := s.Journal.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *server) record(c *gin.Context, e journal.Entry) {
	if s.Journal == nil {
		return
	}
	e.Source = journal.SourceAPI
	e.Session = c.GetString(requestIDKey)
	if _, err := s.Journal.Record(c.Request.Context(), e); err != nil {
		s.logger.Warn("journal record failed", zap.Error(err))
	}
}
