package ws

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/rune-org/rtes/cmd/rtes/state"
	"github.com/rune-org/rtes/common/bus"
)

// Handler upgrades authorized clients and runs one session per connection.
type Handler struct {
	state    *state.AppState
	upgrader websocket.Upgrader
}

func NewHandler(appState *state.AppState) *Handler {
	origin := appState.Config.Service.CORSOrigin
	return &Handler{
		state: appState,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				o := r.Header.Get("Origin")
				return o == "" || o == origin
			},
		},
	}
}

// Serve gates the upgrade on the execution's grant index. Clients carry no
// user identity here: the execution id itself is the unguessable secret.
// GET /rt?execution_id=...&workflow_id=...
func (h *Handler) Serve(c echo.Context) error {
	ctx := c.Request().Context()

	executionID := c.QueryParam("execution_id")
	workflowID := c.QueryParam("workflow_id")
	if executionID == "" || workflowID == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error": "execution_id and workflow_id are required",
		})
	}

	ok, err := h.state.Tokens.ValidateExecutionAccess(ctx, executionID, workflowID)
	if err != nil {
		h.state.Log.Error("grant lookup failed", "execution_id", executionID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
	if !ok {
		h.state.Log.Warn("unauthorized websocket attempt", "execution_id", executionID, "workflow_id", workflowID)
		return c.JSON(http.StatusForbidden, map[string]any{"error": "access denied"})
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the handshake error response.
		return nil
	}

	sess := &session{state: h.state, conn: conn, executionID: executionID}
	sess.run(ctx)
	return nil
}

// session streams history frames followed by live frames for a single
// execution over one connection.
type session struct {
	state       *state.AppState
	conn        *websocket.Conn
	executionID string
}

func (s *session) run(ctx context.Context) {
	defer func() {
		_ = s.conn.Close()
	}()

	if err := s.replayHistory(ctx); err != nil {
		s.state.Log.Warn("history replay ended session", "execution_id", s.executionID, "error", err)
		return
	}

	sub := s.state.Bus.Subscribe()
	defer sub.Cancel()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		s.sendLoop(ctx, sub)
	}()

	receiverDone := make(chan struct{})
	go func() {
		defer close(receiverDone)
		s.readLoop()
	}()

	// Either side ending tears the whole session down; closing the
	// connection unblocks the other loop.
	select {
	case <-senderDone:
	case <-receiverDone:
	}
	cancel()
	_ = s.conn.Close()

	s.state.Log.Info("websocket disconnected", "execution_id", s.executionID)
}

// replayHistory sends the current document state: every lineage of every
// node (or the latest instance for nodes without lineages), then the
// terminal status when the execution already completed.
func (s *session) replayHistory(ctx context.Context) error {
	doc, err := s.state.Executions.GetExecutionDocument(ctx, s.executionID)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	for nodeID, node := range doc.Nodes {
		if len(node.Lineages) > 0 {
			for _, inst := range node.Lineages {
				if err := s.conn.WriteJSON(FromInstance(nodeID, inst)); err != nil {
					return err
				}
			}
			continue
		}
		if node.Latest != nil {
			if err := s.conn.WriteJSON(FromInstance(nodeID, *node.Latest)); err != nil {
				return err
			}
		}
	}

	if doc.Status != nil {
		if err := s.conn.WriteJSON(WsNodeUpdate{Status: doc.Status}); err != nil {
			return err
		}
	}
	return nil
}

// sendLoop ships live frames for this session's execution. Node
// activations never reach clients, and a lagging subscription logs and
// keeps going.
func (s *session) sendLoop(ctx context.Context, sub *bus.Subscription) {
	for {
		msg, err := sub.Recv(ctx)
		if err != nil {
			var lag *bus.LagError
			if errors.As(err, &lag) {
				s.state.Log.Warn("websocket subscriber lagging",
					"execution_id", s.executionID,
					"skipped", lag.Skipped,
				)
				continue
			}
			return
		}

		if msg.NodeExecution != nil {
			continue
		}
		if msg.ExecutionID() != s.executionID {
			continue
		}

		if err := s.conn.WriteJSON(FromWorkerMessage(msg)); err != nil {
			return
		}
	}
}

// readLoop drains client frames until the peer closes or errors. Anything
// the client sends besides Close is discarded.
func (s *session) readLoop() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
