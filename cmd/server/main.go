// Package main 是服务端的入口点
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"chatmate-server/internal/cache"
	"chatmate-server/internal/config"
	"chatmate-server/internal/handler"
	"chatmate-server/internal/middleware"
	"chatmate-server/internal/model"
	"chatmate-server/internal/repository"
	"chatmate-server/internal/service"
	"chatmate-server/internal/store"
	"chatmate-server/internal/websocket"
	"chatmate-server/pkg/jwt"
	"chatmate-server/pkg/logger"
)

// backends 按存储驱动构造的持久化依赖
type backends struct {
	cache cache.Cache
	store *store.DocumentStore
	users service.UserStore
}

func main() {
	// 加载配置
	cfg, err := config.Load("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Log.Level, cfg.Log.Format)

	// 初始化存储
	b, err := initBackends(cfg)
	if err != nil {
		logger.Fatalf("Failed to init storage: %v", err)
	}

	// 初始化 JWT 服务
	jwtService := jwt.NewJWTService(
		cfg.JWT.Secret,
		cfg.JWT.AccessExpire,
		cfg.JWT.RefreshExpire,
	)

	// 初始化 Service 层
	completion := service.NewAIService(cfg.OpenAI)
	preferences := service.NewPreferenceService(b.cache, cfg.Catalog())
	guard := service.NewSendGuard()

	authService := service.NewAuthService(b.users, b.cache, jwtService)
	userService := service.NewUserService(b.users)
	chatService := service.NewChatService(b.store, completion, guard, preferences, b.cache, cfg.Chat)

	// 初始化 WebSocket Hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	wsHub := websocket.NewHub(b.cache)
	go wsHub.Run(hubCtx) // 在单独的 goroutine 中运行

	// 初始化 Handler 层
	authHandler := handler.NewAuthHandler(authService, jwtService)
	userHandler := handler.NewUserHandler(userService, b.cache)
	chatHandler := handler.NewChatHandler(chatService)
	modelHandler := handler.NewModelHandler(preferences)
	audioHandler := handler.NewAudioHandler(cfg.OpenAI.AudioDir)
	wsHandler := websocket.NewHandler(wsHub, service.WorkspaceDeps{
		Store:       b.store,
		Completion:  completion,
		Preferences: preferences,
		ActiveChats: b.cache,
		Guard:       guard,
		Chat:        cfg.Chat,
	}, cfg.Server.CORS)

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 全局中间件
	router.Use(middleware.RecoveryMiddleware())            // 恢复 panic
	router.Use(middleware.LoggerMiddleware())              // 请求日志
	router.Use(middleware.CORSMiddleware(cfg.Server.CORS)) // CORS

	registerRoutes(router, middleware.AuthMiddleware(jwtService, b.cache), b.cache,
		authHandler, userHandler, chatHandler, modelHandler, audioHandler, wsHandler)

	// 创建 HTTP 服务器
	// WebSocket 连接被劫持后不受 WriteTimeout 影响；同步发送需要等待补全，写超时按补全超时放宽
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.OpenAI.Timeout + 10*time.Second,
	}

	go func() {
		logger.Infof("Server starting on %s (storage=%s)", addr, cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// 断开所有 WebSocket 连接
	stopHub()

	if err := b.cache.Close(); err != nil {
		logger.Warnf("Failed to close cache: %v", err)
	}

	logger.Infof("Server exited")
}

// initBackends 根据 storage.driver 构造存储
// mysql: gorm + MySQL 保存数据，Redis 负责变更通知、黑名单和偏好
// memory: 全部保存在进程内存中，重启即丢失
func initBackends(cfg *config.Config) (*backends, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warnf("Using in-memory storage, data is lost on restart")
		mc := cache.NewMemoryCache()
		repo := repository.NewMemoryRepository()
		return &backends{
			cache: mc,
			store: store.New(repo, repo, mc),
			users: repository.NewMemoryUserRepository(),
		}, nil

	case "mysql", "":
		db, err := initDatabase(cfg)
		if err != nil {
			return nil, err
		}
		if err := autoMigrate(db); err != nil {
			return nil, err
		}

		redisCache, err := cache.NewRedisCache(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}

		return &backends{
			cache: redisCache,
			store: store.New(repository.NewChatRepository(db), repository.NewMessageRepository(db), redisCache),
			users: repository.NewUserRepository(db),
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// initDatabase 初始化数据库连接
func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		cfg.MySQL.Username,
		cfg.MySQL.Password,
		cfg.MySQL.Host,
		cfg.MySQL.Port,
		cfg.MySQL.Database,
		cfg.MySQL.Charset,
	)

	// 配置 GORM logger
	gormLogger := gormlogger.Default.LogMode(gormlogger.Info)
	if cfg.Server.Mode == "release" {
		gormLogger = gormlogger.Default.LogMode(gormlogger.Warn)
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 配置连接池
	sqlDB.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MySQL.MaxLifetime) * time.Second)

	logger.Infof("Database connected successfully")
	return db, nil
}

// autoMigrate 自动迁移数据库表
func autoMigrate(db *gorm.DB) error {
	logger.Infof("Running database migrations...")

	if err := db.AutoMigrate(
		&model.User{},
		&model.Chat{},
		&model.Message{},
	); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	logger.Infof("Database migrations completed")
	return nil
}

// registerRoutes 注册所有路由
func registerRoutes(
	router *gin.Engine,
	auth gin.HandlerFunc,
	health cache.Cache,
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	chatHandler *handler.ChatHandler,
	modelHandler *handler.ModelHandler,
	audioHandler *handler.AudioHandler,
	wsHandler *websocket.Handler,
) {
	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		if err := health.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Prometheus 指标
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// 认证相关（无需登录）
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.RefreshToken)
		authGroup.POST("/logout", auth, authHandler.Logout)
	}

	// 以下接口需要登录
	protected := v1.Group("")
	protected.Use(auth)

	user := protected.Group("/user")
	{
		user.GET("/profile", userHandler.GetProfile)
		user.PUT("/profile", userHandler.UpdateProfile)
		user.PUT("/password", userHandler.ChangePassword)
		user.GET("/connections", userHandler.Connections)
	}

	models := protected.Group("/models")
	{
		models.GET("", modelHandler.ListModels)
		models.GET("/selected", modelHandler.GetSelected)
		models.PUT("/selected", modelHandler.SelectModel)
	}

	chats := protected.Group("/chats")
	{
		chats.GET("", chatHandler.ListChats)
		chats.POST("", chatHandler.CreateChat)
		chats.POST("/batch-delete", chatHandler.BatchDeleteChats)
		chats.GET("/:id", chatHandler.GetChat)
		chats.PUT("/:id", chatHandler.UpdateChat)
		chats.DELETE("/:id", chatHandler.DeleteChat)
		chats.GET("/:id/messages", chatHandler.ListMessages)
		chats.POST("/:id/messages", chatHandler.SendMessage)
		chats.DELETE("/:id/messages", chatHandler.ClearMessages)
		chats.PATCH("/:id/messages/:message_id", chatHandler.UpdateMessage)
	}

	// 音频播放器可以用 ?token= 传递 Access Token
	protected.GET("/audio/:name", audioHandler.GetAudio)

	// WebSocket 路由
	wsHandler.RegisterRoutes(router, auth)
}
