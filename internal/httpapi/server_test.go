package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/factubot/internal/agent"
	"github.com/stellarlinkco/factubot/internal/commands"
	"github.com/stellarlinkco/factubot/internal/intent"
	"github.com/stellarlinkco/factubot/internal/journal"
	"github.com/stellarlinkco/factubot/internal/tools"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAsker struct{ question string }

func (f *fakeAsker) Run(_ context.Context, question string) agent.Result {
	f.question = question
	return agent.Result{Answer: "Tu as 3 factures impayées.", Outcome: agent.OutcomeDone, Iterations: 2}
}

type fakeResolver struct{ rc *intent.Context }

func (f *fakeResolver) Resolve(_ context.Context, utterance string, rc *intent.Context) intent.Intent {
	f.rc = rc
	if rc != nil && strings.Contains(utterance, "cette facture") {
		return intent.Intent{Command: commands.Invoice, Args: []string{rc.LastReferencedInvoiceID}, Confidence: 0.9}
	}
	return intent.Fallback()
}

type fakeRunner struct {
	name string
	args []string
	err  error
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string) (commands.Output, error) {
	f.name, f.args = name, args
	if f.err != nil {
		return commands.Output{}, f.err
	}
	return commands.Output{Text: "Facture INV-7", InvoiceNumber: "INV-7"}, nil
}

type fixture struct {
	engine   *gin.Engine
	asker    *fakeAsker
	resolver *fakeResolver
	runner   *fakeRunner
	journal  *journal.Store
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{asker: &fakeAsker{}, resolver: &fakeResolver{}, runner: &fakeRunner{}, journal: store}
	f.engine = New(Deps{
		Agent:    f.asker,
		Resolver: f.resolver,
		Commands: f.runner,
		Tools:    tools.Default(),
		Journal:  store,
		Token:    token,
	})
	return f
}

func (f *fixture) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "secret")
	w := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestBearerToken(t *testing.T) {
	f := newFixture(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/tools", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/tools", "", "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/tools", "", "Authorization", "Bearer secret").Code)

	for _, header := range []string{"Bearer secre", "Bearer secrets", "secret", "bearer secret", "Bearer "} {
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/tools", "", "Authorization", header).Code, header)
	}
}

func TestListTools(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(http.MethodGet, "/v1/tools", "")
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Tools []toolView `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Tools, tools.Default().Len())
	assert.Equal(t, "object", out.Tools[0].Parameters["type"])
}

func TestResolve_PassesContext(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(http.MethodPost, "/v1/resolve", `{"utterance":"Montre cette facture","lastReferencedInvoiceId":"INV-42"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var in intent.Intent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &in))
	assert.Equal(t, intent.Intent{Command: commands.Invoice, Args: []string{"INV-42"}, Confidence: 0.9}, in)

	entries, err := f.journal.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.SourceAPI, entries[0].Source)
	assert.Equal(t, commands.Invoice, entries[0].Command)
}

func TestResolve_NoContext(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(http.MethodPost, "/v1/resolve", `{"utterance":"bonjour"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, f.resolver.rc)
	assert.Equal(t, "help", decode(t, w)["command"])
}

func TestResolve_BadJSON(t *testing.T) {
	f := newFixture(t, "")
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/resolve", `{`).Code)
}

func TestAsk(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(http.MethodPost, "/v1/ask", `{"question":"Combien de factures impayées ?"}`)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	assert.Equal(t, "Tu as 3 factures impayées.", out["answer"])
	assert.Equal(t, "done", out["outcome"])
	assert.EqualValues(t, 2, out["iterations"])
	assert.Equal(t, "Combien de factures impayées ?", f.asker.question)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/ask", `{}`).Code)
}

func TestExecute(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(http.MethodPost, "/v1/execute", `{"command":"invoice","args":["INV-7"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	assert.Equal(t, "Facture INV-7", out["output"])
	assert.Equal(t, "INV-7", out["invoice"])
	assert.Equal(t, []string{"INV-7"}, f.runner.args)
}

func TestExecute_NoArgs(t *testing.T) {
	f := newFixture(t, "")
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/execute", `{"command":"unpaid"}`).Code)
	assert.Equal(t, []string{}, f.runner.args)
}

func TestExecute_ErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: compare", commands.ErrUnknownCommand), http.StatusBadRequest},
		{fmt.Errorf("%w: usage invoice <number>", commands.ErrArity), http.StatusBadRequest},
		{fmt.Errorf("%w: \"demain\"", commands.ErrInvalidDate), http.StatusBadRequest},
		{errors.New("unpaid: billing returned 503"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		f := newFixture(t, "")
		f.runner.err = tt.err
		w := f.do(http.MethodPost, "/v1/execute", `{"command":"unpaid"}`)
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
		assert.Equal(t, tt.err.Error(), decode(t, w)["err"])
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, "")
	for i := 0; i < 3; i++ {
		f.do(http.MethodPost, "/v1/execute", `{"command":"unpaid"}`)
	}

	w := f.do(http.MethodGet, "/v1/history?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Entries []journal.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out.Entries, 2)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/history?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/history?limit=0", "").Code)
}

func TestHistory_JournalDisabled(t *testing.T) {
	engine := New(Deps{Agent: &fakeAsker{}, Resolver: &fakeResolver{}, Commands: &fakeRunner{}, Tools: tools.Default()})
	req := httptest.NewRequest(http.MethodGet, "/v1/history", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// execute still works without a journal
	req = httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader(`{"command":"paid"}`))
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, New(Deps{Tools: tools.Default()}), nil) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
