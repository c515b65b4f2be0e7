package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chatmate-server/internal/middleware"
	"chatmate-server/internal/service"
	"chatmate-server/pkg/logger"
	"chatmate-server/pkg/response"
)

// Handler 处理 WebSocket 连接
type Handler struct {
	hub      *Hub
	deps     service.WorkspaceDeps
	upgrader websocket.Upgrader
}

// NewHandler 创建 WebSocket Handler
// 参数:
//   - hub: 连接管理器
//   - deps: 工作区共享依赖
//   - origins: 允许的 Origin，为空或包含 "*" 时不限制
func NewHandler(hub *Hub, deps service.WorkspaceDeps, origins []string) *Handler {
	return &Handler{
		hub:  hub,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

// originChecker 根据白名单检查握手请求的 Origin
// 没有 Origin 头的请求来自原生客户端，直接放行
func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		return allowed[origin]
	}
}

// HandleMobileWS 处理手机端 WebSocket 连接
// 路由: GET /ws/mobile
// 参数: token (query parameter) - Access Token，由认证中间件校验
func (h *Handler) HandleMobileWS(c *gin.Context) {
	identity := middleware.GetIdentity(c)
	if identity == nil {
		response.Unauthorized(c, "需要认证 token")
		return
	}

	// 升级 HTTP 连接为 WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("Failed to upgrade connection: %v", err)
		return
	}

	// 请求上下文在握手结束后失效，连接使用独立的上下文
	client := NewClient(context.Background(), h.hub, conn, identity)
	workspace := service.NewWorkspace(client.ctx, h.deps, identity, client, client)

	h.hub.Register(client)

	// 初始状态先进入发送缓冲区，读循环开始前工作区已就绪
	client.Attach(workspace)

	// 启动读写协程
	go client.WritePump()
	go client.ReadPump()

	logger.Infof("Mobile WebSocket connected: userID=%s", identity.ID)
}

// RegisterRoutes 注册 WebSocket 路由
// 参数:
//   - r: 路由引擎
//   - auth: 认证中间件，握手时从 token 查询参数读取 Access Token
func (h *Handler) RegisterRoutes(r *gin.Engine, auth gin.HandlerFunc) {
	ws := r.Group("/ws")
	ws.Use(auth)
	{
		// 手机端 WebSocket
		ws.GET("/mobile", h.HandleMobileWS)
	}
}
