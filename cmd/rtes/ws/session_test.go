package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rune-org/rtes/cmd/rtes/state"
	"github.com/rune-org/rtes/common/bus"
	"github.com/rune-org/rtes/common/config"
	"github.com/rune-org/rtes/common/logger"
	"github.com/rune-org/rtes/common/models"
)

type stubTokens struct {
	allow bool
}

func (s *stubTokens) AddToken(context.Context, models.ExecutionToken) error { return nil }
func (s *stubTokens) ValidateAccess(context.Context, string, *string, string) (bool, error) {
	return s.allow, nil
}
func (s *stubTokens) ValidateAccessForExecution(context.Context, string, string) (bool, error) {
	return s.allow, nil
}
func (s *stubTokens) ValidateExecutionAccess(context.Context, string, string) (bool, error) {
	return s.allow, nil
}
func (s *stubTokens) ValidateWorkflowAccess(context.Context, string) (bool, error) {
	return s.allow, nil
}

type stubExecutions struct {
	doc *models.ExecutionDocument
}

func (s *stubExecutions) UpsertExecutionDefinition(context.Context, *models.NodeExecutionMessage) error {
	return nil
}
func (s *stubExecutions) GetExecutionDocument(context.Context, string) (*models.ExecutionDocument, error) {
	return s.doc, nil
}
func (s *stubExecutions) GetExecutionsForWorkflow(context.Context, string) ([]models.ExecutionDocument, error) {
	return nil, nil
}
func (s *stubExecutions) UpdateNodeStatus(context.Context, *models.NodeStatusMessage) error {
	return nil
}
func (s *stubExecutions) CompleteExecution(context.Context, *models.CompletionMessage) error {
	return nil
}

func newTestApp(tokens *stubTokens, executions *stubExecutions) *state.AppState {
	return &state.AppState{
		Config: &config.Config{
			Service: config.ServiceConfig{CORSOrigin: "http://localhost:3000"},
		},
		Log:        logger.New("error", "text"),
		Tokens:     tokens,
		Executions: executions,
		Bus:        bus.New(),
	}
}

func newWsServer(appState *state.AppState) *httptest.Server {
	e := echo.New()
	e.GET("/rt", NewHandler(appState).Serve)
	return httptest.NewServer(e)
}

func dialWs(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rt?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) WsNodeUpdate {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame WsNodeUpdate
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func strPtr(s string) *string { return &s }

func TestFromWorkerMessageNodeStatus(t *testing.T) {
	idx := 2
	msg := models.WorkerMessage{NodeStatus: &models.NodeStatusMessage{
		ExecutionID: "exec-1",
		NodeID:      "node-1",
		Status:      models.StatusRunning,
		Parameters:  map[string]any{"url": "http://example.com"},
		ItemIndex:   &idx,
		LineageHash: strPtr("abc"),
	}}

	frame := FromWorkerMessage(msg)

	require.NotNil(t, frame.NodeID)
	assert.Equal(t, "node-1", *frame.NodeID)
	require.NotNil(t, frame.Status)
	assert.Equal(t, models.StatusRunning, *frame.Status)
	assert.Equal(t, map[string]any{"url": "http://example.com"}, frame.Params)
	assert.Equal(t, &idx, frame.ItemIndex)
	assert.Equal(t, "abc", *frame.LineageHash)
}

func TestFromWorkerMessageCompletion(t *testing.T) {
	msg := models.WorkerMessage{WorkflowCompletion: &models.CompletionMessage{
		ExecutionID: "exec-1",
		Status:      models.ExecutionFailed,
	}}

	frame := FromWorkerMessage(msg)

	assert.Nil(t, frame.NodeID)
	require.NotNil(t, frame.Status)
	assert.Equal(t, models.ExecutionCompleted, *frame.Status)
}

func TestFrameSerializesAllFields(t *testing.T) {
	data, err := json.Marshal(WsNodeUpdate{})
	require.NoError(t, err)

	// Clients rely on a stable shape: absent fields ship as null.
	for _, field := range []string{
		"node_id", "input", "params", "output", "status", "lineage_hash",
		"lineage_stack", "split_node_id", "branch_id", "item_index",
		"total_items", "processed_count", "aggregator_state", "used_inputs",
	} {
		assert.Contains(t, string(data), `"`+field+`":null`)
	}
}

func TestServeRejectsMissingParams(t *testing.T) {
	srv := newWsServer(newTestApp(&stubTokens{allow: true}, &stubExecutions{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/rt?execution_id=exec-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamRouteIsGetOnly(t *testing.T) {
	srv := newWsServer(newTestApp(&stubTokens{allow: true}, &stubExecutions{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/rt?execution_id=exec-1&workflow_id=wf-1", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServeRejectsUnauthorized(t *testing.T) {
	srv := newWsServer(newTestApp(&stubTokens{allow: false}, &stubExecutions{}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rt?execution_id=exec-1&workflow_id=wf-1"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSessionHistoryThenLive(t *testing.T) {
	status := models.StatusSuccess
	doc := &models.ExecutionDocument{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Nodes: models.NodeMap{
			"node-1": {Latest: &models.NodeExecutionInstance{Status: &status}},
		},
	}
	appState := newTestApp(&stubTokens{allow: true}, &stubExecutions{doc: doc})
	srv := newWsServer(appState)
	defer srv.Close()

	conn := dialWs(t, srv, "execution_id=exec-1&workflow_id=wf-1")
	defer conn.Close()

	history := readFrame(t, conn)
	require.NotNil(t, history.NodeID)
	assert.Equal(t, "node-1", *history.NodeID)
	require.NotNil(t, history.Status)
	assert.Equal(t, models.StatusSuccess, *history.Status)

	// Sessions subscribe after history replay; give the server a moment.
	time.Sleep(100 * time.Millisecond)

	appState.Bus.Publish(models.WorkerMessage{NodeStatus: &models.NodeStatusMessage{
		ExecutionID: "exec-1",
		NodeID:      "node-live",
		Status:      models.StatusRunning,
	}})

	live := readFrame(t, conn)
	require.NotNil(t, live.NodeID)
	assert.Equal(t, "node-live", *live.NodeID)
	require.NotNil(t, live.Status)
	assert.Equal(t, models.StatusRunning, *live.Status)
}

func TestSessionReplaysLineagesAndTerminalStatus(t *testing.T) {
	running := models.StatusRunning
	success := models.StatusSuccess
	completed := models.ExecutionCompleted
	doc := &models.ExecutionDocument{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Status:      &completed,
		Nodes: models.NodeMap{
			"node-1": {
				Latest: &models.NodeExecutionInstance{Status: &success},
				Lineages: map[string]models.NodeExecutionInstance{
					"h1": {Status: &running},
					"h2": {Status: &success},
				},
			},
		},
	}
	srv := newWsServer(newTestApp(&stubTokens{allow: true}, &stubExecutions{doc: doc}))
	defer srv.Close()

	conn := dialWs(t, srv, "execution_id=exec-1&workflow_id=wf-1")
	defer conn.Close()

	// Two lineage frames (latest is skipped when lineages exist), then the
	// terminal status frame.
	first := readFrame(t, conn)
	second := readFrame(t, conn)
	require.NotNil(t, first.NodeID)
	require.NotNil(t, second.NodeID)
	assert.Equal(t, "node-1", *first.NodeID)
	assert.Equal(t, "node-1", *second.NodeID)

	terminal := readFrame(t, conn)
	assert.Nil(t, terminal.NodeID)
	require.NotNil(t, terminal.Status)
	assert.Equal(t, models.ExecutionCompleted, *terminal.Status)
}

func TestSessionFiltersForeignAndActivationMessages(t *testing.T) {
	appState := newTestApp(&stubTokens{allow: true}, &stubExecutions{})
	srv := newWsServer(appState)
	defer srv.Close()

	conn := dialWs(t, srv, "execution_id=exec-1&workflow_id=wf-1")
	defer conn.Close()

	time.Sleep(100 * time.Millisecond)

	// Neither of these may reach the client.
	appState.Bus.Publish(models.WorkerMessage{NodeStatus: &models.NodeStatusMessage{
		ExecutionID: "exec-other",
		NodeID:      "node-foreign",
		Status:      models.StatusRunning,
	}})
	appState.Bus.Publish(models.WorkerMessage{NodeExecution: &models.NodeExecutionMessage{
		ExecutionID: "exec-1",
		CurrentNode: "node-activation",
	}})
	appState.Bus.Publish(models.WorkerMessage{WorkflowCompletion: &models.CompletionMessage{
		ExecutionID: "exec-1",
		Status:      models.ExecutionCompleted,
	}})

	frame := readFrame(t, conn)
	assert.Nil(t, frame.NodeID)
	require.NotNil(t, frame.Status)
	assert.Equal(t, models.ExecutionCompleted, *frame.Status)
}

func TestBusCloseEndsSession(t *testing.T) {
	appState := newTestApp(&stubTokens{allow: true}, &stubExecutions{})
	srv := newWsServer(appState)
	defer srv.Close()

	conn := dialWs(t, srv, "execution_id=exec-1&workflow_id=wf-1")
	defer conn.Close()

	time.Sleep(100 * time.Millisecond)
	appState.Bus.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
