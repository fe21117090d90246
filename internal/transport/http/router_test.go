package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	"quizroom-service/internal/realtime"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memory.NewStore()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(memory.SampleQuizzes()), time.Hour)
	hub := realtime.NewHub(realtime.Options{SubscriberBuffer: 64, ReplayBuffer: 16}, nil, logger)

	cfg := app.DefaultConfig()
	cfg.Rules.Timing = domain.Timing{Countdown: 20 * time.Millisecond, QuestionTimeout: 10 * time.Second, Reveal: 20 * time.Millisecond}
	cfg.ResyncInterval = 0
	svc := app.NewService(store.Repositories(quizzes), hub, cfg, logger)

	srv := httptest.NewServer(NewRouter(svc, RouterConfig{SweepThreshold: time.Hour}, logger))
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
	})
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, player string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if player != "" {
		req.Header.Set(PlayerHeader, player)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw bytes.Buffer
	_, _ = raw.ReadFrom(resp.Body)
	return resp, raw.Bytes()
}

func createRoom(t *testing.T, srv *httptest.Server, capacity int) domain.Room {
	t.Helper()
	resp, body := call(t, srv, http.MethodPost, "/rooms", "host", map[string]any{
		"host":     map[string]string{"displayName": "Hana"},
		"capacity": capacity,
		"quizId":   "civics-101",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var room domain.Room
	require.NoError(t, json.Unmarshal(body, &room))
	return room
}

func TestRoomLifecycleOverREST(t *testing.T) {
	srv := newTestServer(t)
	room := createRoom(t, srv, 4)
	assert.Equal(t, "host", room.HostID)
	assert.Len(t, room.Code, 8)

	resp, body := call(t, srv, http.MethodPost, "/rooms/"+strings.ToLower(room.Code)+"/join", "", map[string]string{
		"id": "guest", "displayName": "Gus",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = call(t, srv, http.MethodPost, "/rooms/"+room.ID+"/start", "guest", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "not_host")

	resp, _ = call(t, srv, http.MethodPost, "/rooms/"+room.ID+"/start", "host", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap domain.Snapshot
	require.Eventually(t, func() bool {
		_, body := call(t, srv, http.MethodGet, "/rooms/"+room.ID+"/snapshot", "", nil)
		return json.Unmarshal(body, &snap) == nil && snap.State.Phase == domain.PhaseQuestion
	}, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, snap.Question)
	assert.Empty(t, snap.Question.Correct)

	answer := map[string]any{"questionId": snap.Question.ID, "answer": "b", "responseTimeMs": 1200}
	resp, body = call(t, srv, http.MethodPost, "/rooms/"+room.ID+"/answers", "guest", answer)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var first app.SubmitResult
	require.NoError(t, json.Unmarshal(body, &first))
	assert.True(t, first.Recorded)
	assert.True(t, first.Response.IsCorrect)
	assert.Equal(t, int64(1200), first.Response.ResponseTimeMS)

	answer["answer"] = "a"
	resp, body = call(t, srv, http.MethodPost, "/rooms/"+room.ID+"/answers", "guest", answer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var repeat app.SubmitResult
	require.NoError(t, json.Unmarshal(body, &repeat))
	assert.False(t, repeat.Recorded)
	assert.Equal(t, "b", repeat.Response.Answer)

	resp, body = call(t, srv, http.MethodGet, "/rooms/"+room.ID+"/leaderboard", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var board []domain.LeaderboardEntry
	require.NoError(t, json.Unmarshal(body, &board))
	require.Len(t, board, 2)
	assert.Equal(t, "guest", board[0].PlayerID)
	assert.Equal(t, 100, board[0].Score)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	room := createRoom(t, srv, 2)

	cases := []struct {
		name   string
		method string
		path   string
		player string
		body   any
		status int
		code   string
	}{
		{"unknown room", http.MethodGet, "/rooms/nope", "", nil, http.StatusNotFound, "room_not_found"},
		{"unknown quiz", http.MethodPost, "/rooms", "x", map[string]string{"quizId": "missing"}, http.StatusNotFound, "quiz_not_found"},
		{"missing player", http.MethodPost, "/rooms/" + room.ID + "/join", "", map[string]string{}, http.StatusBadRequest, "bad_request"},
		{"empty chat", http.MethodPost, "/rooms/" + room.ID + "/messages", "host", map[string]string{"body": "   "}, http.StatusBadRequest, "empty_message"},
		{"answer while waiting", http.MethodPost, "/rooms/" + room.ID + "/answers", "host", map[string]string{"questionId": "q1", "answer": "a"}, http.StatusConflict, "phase_mismatch"},
		{"npc by guest", http.MethodPost, "/rooms/" + room.ID + "/npcs", "stranger", map[string]any{"name": "Bot", "accuracy": 0.5}, http.StatusForbidden, "not_host"},
		{"bad sweep threshold", http.MethodPost, "/admin/sweep?threshold=soon", "", nil, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := call(t, srv, tc.method, tc.path, tc.player, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode, string(body))
			var eb errorBody
			require.NoError(t, json.Unmarshal(body, &eb))
			assert.Equal(t, tc.code, eb.Error)
		})
	}

	resp, _ := call(t, srv, http.MethodPost, "/rooms/"+room.ID+"/join", "p2", map[string]string{"displayName": "P2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := call(t, srv, http.MethodPost, "/rooms/"+room.ID+"/join", "p3", map[string]string{"displayName": "P3"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "room_full")
}

func TestNPCSeatRejectsHumanInputs(t *testing.T) {
	srv := newTestServer(t)
	room := createRoom(t, srv, 4)
	resp, body := call(t, srv, http.MethodPost, "/rooms/"+room.ID+"/npcs", "host", map[string]any{
		"name": "Robo", "accuracy": 1, "minDelayMs": 60000, "maxDelayMs": 60000,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var npc domain.Player
	require.NoError(t, json.Unmarshal(body, &npc))
	require.True(t, npc.IsNPC())

	resp, _ = call(t, srv, http.MethodPost, "/rooms/"+room.ID+"/start", "host", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap domain.Snapshot
	require.Eventually(t, func() bool {
		_, body := call(t, srv, http.MethodGet, "/rooms/"+room.ID+"/snapshot", "", nil)
		return json.Unmarshal(body, &snap) == nil && snap.State.Phase == domain.PhaseQuestion
	}, 2*time.Second, 10*time.Millisecond)

	resp, body = call(t, srv, http.MethodPost, "/rooms/"+room.ID+"/answers", npc.ID, map[string]string{
		"questionId": snap.Question.ID, "answer": "b",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "not_human")

	resp, body = call(t, srv, http.MethodPost, "/rooms/"+room.ID+"/messages", npc.ID, map[string]string{"body": "I am a bot, trust me"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "not_human")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?roomId=" + room.ID + "&playerId=" + npc.ID
	_, wsResp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, wsResp)
	assert.Equal(t, http.StatusForbidden, wsResp.StatusCode)

	_, body = call(t, srv, http.MethodGet, "/rooms/"+room.ID+"/snapshot", "", nil)
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.False(t, snap.State.HasAnswered(npc.ID))
}

func TestAdminSweep(t *testing.T) {
	srv := newTestServer(t)
	createRoom(t, srv, 2)

	resp, body := call(t, srv, http.MethodPost, "/admin/sweep", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"swept":0}`, string(body))

	time.Sleep(5 * time.Millisecond)
	resp, body = call(t, srv, http.MethodPost, "/admin/sweep?threshold=1ms", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"swept":1}`, string(body))
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, body := call(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg Frame
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestWebsocketStreamsSnapshotAndChat(t *testing.T) {
	srv := newTestServer(t)
	room := createRoom(t, srv, 4)
	conn := dialWS(t, srv, "roomId="+room.ID+"&playerId=host")

	first := readUntil(t, conn, "snapshot")
	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal(first.Payload, &snap))
	assert.Equal(t, room.ID, snap.Room.ID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	readUntil(t, conn, "pong")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "chat", "payload": map[string]string{"body": "hello room"}}))
	var chat domain.Message
	for chat.Kind != domain.MessageChat {
		msg := readUntil(t, conn, "message")
		require.NoError(t, json.Unmarshal(msg.Payload, &chat))
	}
	assert.Equal(t, "hello room", chat.Body)
	assert.Equal(t, "host", chat.SenderID)
	assert.NotZero(t, chat.Seq)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "answer", "payload": map[string]string{"questionId": "q1", "answer": "b"}}))
	errMsg := readUntil(t, conn, "error")
	assert.Contains(t, string(errMsg.Payload), "phase_mismatch")
}

func TestWebsocketRejectsUnknownPlayer(t *testing.T) {
	srv := newTestServer(t)
	room := createRoom(t, srv, 4)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?roomId=" + room.ID + "&playerId=ghost"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketMarksDisconnectOnClose(t *testing.T) {
	srv := newTestServer(t)
	room := createRoom(t, srv, 4)
	resp, _ := call(t, srv, http.MethodPost, "/rooms/"+room.ID+"/join", "guest", map[string]string{"displayName": "Gus"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn := dialWS(t, srv, "roomId="+room.ID+"&playerId=guest")
	readUntil(t, conn, "snapshot")
	require.NoError(t, conn.Close())

	client := NewSnapshotClient(srv.URL, "host", srv.Client())
	require.Eventually(t, func() bool {
		snap, err := client.FetchSnapshot(context.Background(), room.ID)
		if err != nil {
			return false
		}
		for _, p := range snap.Players {
			if p.ID == "guest" {
				return !p.Connected
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSnapshotClientMapsErrors(t *testing.T) {
	srv := newTestServer(t)
	client := NewSnapshotClient(srv.URL+"/", "", nil)
	_, err := client.FetchSnapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestEventStreamAnswerFlow(t *testing.T) {
	srv := newTestServer(t)
	room := createRoom(t, srv, 4)
	ctx := context.Background()

	stream, err := DialEvents(ctx, srv.URL, room.ID, "host", 0)
	require.NoError(t, err)
	defer stream.Close()

	resp, _ := call(t, srv, http.MethodPost, "/rooms/"+room.ID+"/start", "host", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	next := func(typ string) Frame {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			f, err := stream.Next()
			require.NoError(t, err)
			if f.Type == typ {
				return f
			}
		}
		t.Fatalf("no %s frame", typ)
		return Frame{}
	}

	var snap domain.Snapshot
	for snap.State.Phase != domain.PhaseQuestion {
		require.NoError(t, json.Unmarshal(next("snapshot").Payload, &snap))
	}
	require.NotNil(t, snap.Question)

	require.NoError(t, stream.SendAnswer(snap.Question.ID, "b", 900*time.Millisecond))
	var res app.SubmitResult
	require.NoError(t, json.Unmarshal(next("answerResult").Payload, &res))
	assert.True(t, res.Recorded)
	assert.Equal(t, int64(900), res.Response.ResponseTimeMS)

	// the only player answered, so the room moves straight to feedback with the answer revealed
	for snap.State.Phase != domain.PhaseFeedback {
		require.NoError(t, json.Unmarshal(next("snapshot").Payload, &snap))
	}
	require.NotNil(t, snap.Question)
	assert.Equal(t, "b", snap.Question.Correct)

	require.NoError(t, stream.Ping())
	next("pong")
}
