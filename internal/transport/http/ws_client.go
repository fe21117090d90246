package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one server message as read off the socket.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EventStream is the client side of /ws.
type EventStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// DialEvents connects to the room stream of baseURL (http or https). Messages with a
// seq greater than since are replayed first.
func DialEvents(ctx context.Context, baseURL, roomID, playerID string, since uint64) (*EventStream, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("roomId", roomID)
	q.Set("playerId", playerID)
	if since > 0 {
		q.Set("since", strconv.FormatUint(since, 10))
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return &EventStream{conn: conn}, nil
}

// Next blocks for the next frame.
func (s *EventStream) Next() (Frame, error) {
	var f Frame
	err := s.conn.ReadJSON(&f)
	return f, err
}

func (s *EventStream) send(typ string, payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(outboundMessage{Type: typ, Payload: payload})
}

func (s *EventStream) SendAnswer(questionID, answer string, responseTime time.Duration) error {
	return s.send("answer", answerPayload{QuestionID: questionID, Answer: answer, ResponseTimeMS: responseTime.Milliseconds()})
}

func (s *EventStream) SendChat(body string) error {
	return s.send("chat", chatPayload{Body: body})
}

func (s *EventStream) Ping() error {
	return s.send("ping", nil)
}

func (s *EventStream) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}
