package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflow-ai/careflow/capability"
	"github.com/careflow-ai/careflow/checkpoint"
	"github.com/careflow-ai/careflow/core"
	"github.com/careflow-ai/careflow/graph"
	"github.com/careflow-ai/careflow/model"
	"github.com/careflow-ai/careflow/profile"
	"github.com/careflow-ai/careflow/runner"
)

func newTestServer(t *testing.T) (*Server, *model.MockModel, *model.MockModel) {
	t.Helper()
	reasoner := model.NewMockModel("reasoner")
	decider := model.NewMockModel("decider")
	profiles := profile.NewMemoryStore()
	require.NoError(t, profiles.Upsert(context.Background(), &profile.Profile{UserID: "user-1"}))
	g := graph.New(reasoner, decider, capability.NewPool(capability.NewLocalEndpoint()))
	r := runner.New(g, checkpoint.NewMemoryStore(profiles))
	return New(r), reasoner, decider
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvents(t *testing.T, conn *websocket.Conn) []core.Event {
	t.Helper()
	var events []core.Event
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var ev core.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		events = append(events, ev)
		if ev.Type == core.EventTurnEnd || ev.Type == core.EventError {
			return events
		}
	}
}

func TestServer_TurnOverWebSocket(t *testing.T) {
	srv, reasoner, decider := newTestServer(t)

	reasoner.EnqueueGenerate(model.MockStep{Text: "Hello! How can I help you today?"})
	decider.EnqueueObject(model.MockStep{Object: json.RawMessage(
		`{"response":"Hello! How can I help you today?","symptom_trigger":false,"programme_trigger":false,"doctor_trigger":false}`)})

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(inboundFrame{
		SessionID: "sess-1",
		UserID:    "user-1",
		Text:      "hi",
	}))

	events := readEvents(t, conn)
	require.NotEmpty(t, events)
	assert.Equal(t, core.EventTurnStart, events[0].Type)

	end := events[len(events)-1]
	assert.Equal(t, core.EventTurnEnd, end.Type)
	assert.Equal(t, "Hello! How can I help you today?", end.Response)
	assert.Equal(t, "triage_agent", end.ActiveAgent)
}

func TestServer_EndSessionAck(t *testing.T) {
	srv, _, _ := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(inboundFrame{
		Type:      frameEndSession,
		SessionID: "sess-1",
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ack ackFrame
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "session_ended", ack.Type)
	assert.Equal(t, "sess-1", ack.SessionID)
}

func TestServer_NewSessionAck(t *testing.T) {
	srv, _, _ := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(inboundFrame{
		Type:      frameNewSession,
		SessionID: "sess-1",
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ack ackFrame
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "session_reset", ack.Type)
	assert.Equal(t, "sess-1", ack.SessionID)
}

func TestServer_RejectsEmptyTurn(t *testing.T) {
	srv, _, _ := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(inboundFrame{SessionID: "sess-1"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ack ackFrame
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "error", ack.Type)
	assert.NotEmpty(t, ack.Error)
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestServer_Shutdown(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx)) // no listener started; no-op
}
