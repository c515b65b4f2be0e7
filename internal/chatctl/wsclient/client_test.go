package wsclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer 对每条消息回复 pong，并回显 message_id
func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/mobile", r.URL.Path)
		assert.Equal(t, "tok en", r.URL.Query().Get("token"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var in outbound
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			if err := conn.WriteJSON(map[string]string{"type": "pong", "message_id": in.MessageID}); err != nil {
				return
			}
		}
	}))
}

func TestClient_SendAndReceive(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	received := make(chan *Message, 1)
	closed := make(chan struct{})

	c := NewClient(srv.URL, "tok en")
	c.OnMessage(func(m *Message) { received <- m })
	c.OnClose(func() { close(closed) })
	require.NoError(t, c.Connect())

	id, err := c.Send("ping", nil)
	require.NoError(t, err)

	select {
	case m := <-received:
		assert.Equal(t, "pong", m.Type)
		assert.Equal(t, id, m.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}

	c.Close()
	c.Close()
	<-closed

	_, err = c.Send("ping", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClient_PayloadIsSerialized(t *testing.T) {
	got := make(chan json.RawMessage, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var in struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&in); err == nil {
			got <- in.Payload
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t")
	require.NoError(t, c.Connect())
	defer c.Close()

	_, err := c.Send("chat:send", map[string]string{"text": "hello"})
	require.NoError(t, err)

	select {
	case raw := <-got:
		assert.JSONEq(t, `{"text":"hello"}`, string(raw))
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}
}

func TestClient_ConnectFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "bad").Connect()
	assert.Error(t, err)
}
