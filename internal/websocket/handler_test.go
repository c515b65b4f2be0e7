package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatmate-server/internal/middleware"
	"chatmate-server/pkg/jwt"
)

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws/mobile", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	check := originChecker([]string{"http://localhost:3000"})
	assert.True(t, check(req("http://localhost:3000")))
	assert.False(t, check(req("http://evil.example")))
	assert.True(t, check(req("")))

	assert.True(t, originChecker(nil)(req("http://any.example")))
	assert.True(t, originChecker([]string{"*"})(req("http://any.example")))
}

func newTestServer(t *testing.T) (*httptest.Server, *jwt.JWTService, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	deps, mc := newTestDeps(&stubCompletion{reply: "pong from ai"})
	jwtService := jwt.NewJWTService("test-secret-test-secret-test-secret", time.Hour, 24*time.Hour)

	hub := NewHub(mc)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	r := gin.New()
	NewHandler(hub, deps, nil).RegisterRoutes(r, middleware.AuthMiddleware(jwtService, mc))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, jwtService, hub
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/mobile?token=" + token
}

func TestHandleMobileWS_RejectsMissingToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleMobileWS_EndToEnd(t *testing.T) {
	srv, jwtService, hub := newTestServer(t)

	token, err := jwtService.GenerateAccessToken("u1", "u1@example.com", "tester")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount("u1") == 1 }, time.Second, 10*time.Millisecond)

	read := func(want string, match func(json.RawMessage) bool) inboundMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		for {
			var msg inboundMessage
			require.NoError(t, conn.ReadJSON(&msg))
			if msg.Type == want && (match == nil || match(msg.Payload)) {
				return msg
			}
		}
	}

	read(TypeModelState, nil)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": TypePing, "message_id": "p1"}))
	pong := read(TypePong, nil)
	assert.Equal(t, "p1", pong.MessageID)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    TypeChatSend,
		"payload": map[string]string{"text": "hello"},
	}))
	read(TypeMessagesSnapshot, func(raw json.RawMessage) bool {
		return strings.Contains(string(raw), "pong from ai")
	})

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}
