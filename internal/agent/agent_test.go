package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egeucak/api-doc-gpt/internal/config"
	"github.com/egeucak/api-doc-gpt/internal/conversation"
	"github.com/egeucak/api-doc-gpt/internal/store"
	"github.com/egeucak/api-doc-gpt/pkg/types"
)

const petDoc = `openapi: 3.0.0
info:
  title: Petstore
servers:
  - url: http://placeholder
paths:
  /pets:
    get:
      operationId: listPets
      summary: List pets
      responses:
        "200":
          description: ok
`

type scriptedModel struct {
	replies []string
	calls   [][]types.Turn
	tokens  int
}

func (m *scriptedModel) Complete(_ context.Context, turns []types.Turn, _ []string) (string, error) {
	m.calls = append(m.calls, turns)
	m.tokens += 10
	if len(m.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

func (m *scriptedModel) TotalTokens() int { return m.tokens }

func petAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pets" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name": "rex"}, {"name": "tom"}]`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, mode, baseURL string) *config.Config {
	t.Helper()
	specPath := filepath.Join(t.TempDir(), "openapi.yaml")
	require.NoError(t, os.WriteFile(specPath, []byte(petDoc), 0o644))

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Agent.Mode = mode
	cfg.Target.Spec = specPath
	cfg.Target.BaseURL = baseURL
	return cfg
}

func TestEngineNaiveRoundTrip(t *testing.T) {
	api := petAPI(t)
	model := &scriptedModel{replies: []string{"CMD: GET /pets", "OUT: There are 2 pets."}}
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "apichat.db"))
	require.NoError(t, err)
	defer st.Close()

	e, err := New(context.Background(), Options{Config: testConfig(t, config.AgentNaive, api.URL), Model: model, Store: st})
	require.NoError(t, err)

	answer, err := e.Ask(context.Background(), "how many pets?")
	require.NoError(t, err)
	assert.Equal(t, "There are 2 pets.", answer)

	system := model.calls[0][0]
	assert.Equal(t, types.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "operation_id,path,method")
	assert.Contains(t, system.Content, "listPets,/pets,GET")

	last := model.calls[1][len(model.calls[1])-1]
	assert.Equal(t, `CMD_RESP: [{"name":"rex"},{"name":"tom"}]`, last.Content)

	sess, err := st.GetSession(e.SessionID())
	require.NoError(t, err)
	assert.Equal(t, 20, sess.TotalTokens)
	turns, err := st.GetTurns(e.SessionID())
	require.NoError(t, err)
	assert.Len(t, turns, len(e.Transcript()))

	require.NoError(t, e.Close())
	sess, _ = st.GetSession(e.SessionID())
	assert.Equal(t, store.StatusClosed, sess.Status)
}

func TestEngineReactRoundTrip(t *testing.T) {
	api := petAPI(t)
	model := &scriptedModel{replies: []string{
		"Thought: check\nAction: EndpointDetails\nAction Input: listPets",
		"Thought: call\nAction: Request\nAction Input: {\"method\": \"GET\", \"url\": \"/pets\"}",
		"Thought: I now know the final answer\nFinal Answer: rex and tom",
	}}
	e, err := New(context.Background(), Options{Config: testConfig(t, config.AgentReact, api.URL), Model: model})
	require.NoError(t, err)
	assert.Empty(t, e.SessionID())

	answer, err := e.Ask(context.Background(), "which pets?")
	require.NoError(t, err)
	assert.Equal(t, "Thought: I now know the final answer\nFinal Answer: rex and tom", answer)

	system := model.calls[0][0].Content
	assert.Contains(t, system, "- EndpointDetails: Use this for getting details")
	assert.Contains(t, system, "[EndpointDetails, Request]")
	assert.Contains(t, system, api.URL)

	obs1 := model.calls[1][len(model.calls[1])-1].Content
	assert.True(t, strings.HasPrefix(obs1, "Observation: {"), obs1)
	assert.Contains(t, obs1, `"security_details":null`)
	obs2 := model.calls[2][len(model.calls[2])-1].Content
	assert.Equal(t, `Observation: [{"name":"rex"},{"name":"tom"}]`, obs2)
	assert.Equal(t, 30, e.Usage())
}

func TestEngineMarksSessionFailedOnProtocolViolation(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "apichat.db"))
	require.NoError(t, err)
	defer st.Close()

	chatter := make([]string, 10)
	for i := range chatter {
		chatter[i] = "I would rather chat."
	}
	cfg := testConfig(t, config.AgentNaive, "http://api.local")
	cfg.Agent.MaxRetries = 1
	e, err := New(context.Background(), Options{Config: cfg, Model: &scriptedModel{replies: chatter}, Store: st})
	require.NoError(t, err)

	_, err = e.Ask(context.Background(), "how many pets?")
	require.ErrorIs(t, err, conversation.ErrProtocolViolation)

	sess, err := st.GetSession(e.SessionID())
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, sess.Status)

	require.NoError(t, e.Close())
	sess, _ = st.GetSession(e.SessionID())
	assert.Equal(t, store.StatusFailed, sess.Status)
}

func TestDescribeReadsTitle(t *testing.T) {
	d, err := Describe(context.Background(), testConfig(t, config.AgentNaive, ""), nil)
	require.NoError(t, err)
	assert.Equal(t, "Petstore", d.Title)
	assert.Equal(t, "http://placeholder", d.BaseURL)
}

func TestEngineUsesDocumentServer(t *testing.T) {
	e, err := New(context.Background(), Options{Config: testConfig(t, config.AgentReact, ""), Model: &scriptedModel{}})
	require.NoError(t, err)
	assert.Equal(t, "http://placeholder", e.BaseURL())
	assert.Contains(t, e.Tables().Endpoints, "listPets")
}

func TestEngineRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t, "planner", "http://x")
	_, err := New(context.Background(), Options{Config: cfg, Model: &scriptedModel{}})
	require.Error(t, err)

	cfg = testConfig(t, config.AgentNaive, "http://x")
	cfg.Target.Spec = filepath.Join(t.TempDir(), "missing.json")
	_, err = New(context.Background(), Options{Config: cfg, Model: &scriptedModel{}})
	require.Error(t, err)

	_, err = New(context.Background(), Options{})
	require.Error(t, err)
}

type stubAsker struct {
	questions []string
	fail      map[string]error
}

func (s *stubAsker) Ask(_ context.Context, q string) (string, error) {
	s.questions = append(s.questions, q)
	if err := s.fail[q]; err != nil {
		return "", err
	}
	return "answer to " + q, nil
}

func TestReplStopsOnExit(t *testing.T) {
	asker := &stubAsker{fail: map[string]error{"broken": errors.New("model down")}}
	in := strings.NewReader("first\n\n   \nbroken\nsecond\nexit\nnever\n")
	var out strings.Builder

	err := Repl(context.Background(), in, &out, asker, func(s string) string { return "<" + s + ">" })
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "broken", "second"}, asker.questions)
	assert.Contains(t, out.String(), "<answer to first>")
	assert.Contains(t, out.String(), "model down")
	assert.Contains(t, out.String(), "<answer to second>")
	assert.NotContains(t, out.String(), "never")
}

func TestReplEOFAndCancel(t *testing.T) {
	asker := &stubAsker{}
	var out strings.Builder
	require.NoError(t, Repl(context.Background(), strings.NewReader("only"), &out, asker, nil))
	assert.Contains(t, out.String(), "answer to only")

	asker = &stubAsker{fail: map[string]error{"q": context.Canceled}}
	err := Repl(context.Background(), strings.NewReader("q\nnext\n"), &out, asker, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"q"}, asker.questions)
}

func TestMarkdownRenderer(t *testing.T) {
	render, err := MarkdownRenderer(80)
	require.NoError(t, err)
	assert.Contains(t, render("**bold** text"), "bold")
}
