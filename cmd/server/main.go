// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"db-chat-go/internal/config"
	"db-chat-go/internal/handler"
	"db-chat-go/internal/middleware"
	"db-chat-go/internal/pipeline"
	"db-chat-go/internal/repository"
	"db-chat-go/internal/service"
	"db-chat-go/pkg/database"
	"db-chat-go/pkg/kafka"
	"db-chat-go/pkg/llm"
	"db-chat-go/pkg/log"
	"db-chat-go/pkg/storage"
	"db-chat-go/pkg/token"
)

const sweepInterval = 10 * time.Minute

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	// 3. 初始化目标业务库、Redis、对象存储与 Kafka
	dbName, err := database.DatabaseName(cfg.Database.Target.Driver, cfg.Database.Target.DSN)
	if err != nil {
		log.Fatal("无法确定目标数据库名", err)
	}
	schemaRepo := initSchemaRepository(cfg.Database.Target, dbName)

	kafkaEnabled := cfg.Kafka.Brokers != ""
	if cfg.UsesRedis() {
		database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	}
	if kafkaEnabled {
		kafka.InitProducer(cfg.Kafka)
	}

	// 4. 初始化 Repository
	artifactRepo := initArtifactRepository(cfg, dbName)
	conversationRepo := initConversationRepository(bgCtx, cfg.Conversation)
	topicCacheRepo := initTopicCacheRepository(cfg.Router)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	llmClient := llm.NewClient(cfg.LLM)

	var describer pipeline.DescriptionGenerator
	if cfg.Snapshot.DescribeTables {
		describer = service.NewDescriptionService(llmClient, cfg.LLM.Describe, cfg.LLM.Timeout)
	}
	processor := pipeline.NewSnapshotProcessor(schemaRepo, artifactRepo, describer, cfg.Snapshot.SampleRows)

	var produce service.TaskProducer
	if kafkaEnabled {
		produce = kafka.ProduceSnapshotTask
	}
	snapshotService := service.NewSnapshotService(processor, artifactRepo, produce)
	routerService := service.NewRouterService(llmClient, topicCacheRepo, cfg.LLM.Classify, cfg.LLM.Timeout)
	chatService := service.NewChatService(
		artifactRepo,
		routerService,
		service.NewContextService(),
		conversationRepo,
		llmClient,
		cfg.LLM,
		cfg.Conversation.HistoryWindow,
	)
	conversationService := service.NewConversationService(conversationRepo)

	// 6. 启动后台 Kafka 消费者，排队的构建与同步构建共用同一个构建槽
	if kafkaEnabled {
		go kafka.StartConsumer(bgCtx, cfg.Kafka, snapshotService)
	}

	// 6.1 首次启动时若尚无快照则在后台构建一次
	if cfg.Snapshot.BuildOnStartup {
		go buildInitialSnapshot(bgCtx, snapshotService)
	}

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger("/metrics", "/healthz"), gin.Recovery())

	// 8. 注册路由
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "database": dbName})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		chatHandler := handler.NewChatHandler(chatService)
		apiV1.POST("/chat", chatHandler.Chat)
		apiV1.GET("/chat/ws", chatHandler.Stream)

		apiV1.GET("/conversations/:id", handler.NewConversationHandler(conversationService).GetConversation)

		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin := apiV1.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware())
		{
			snapshotHandler := handler.NewSnapshotHandler(snapshotService)
			admin.POST("/snapshot", snapshotHandler.Build)
			admin.DELETE("/snapshot", snapshotHandler.Clear)
			admin.GET("/snapshot", snapshotHandler.Status)
			admin.GET("/snapshot/document", snapshotHandler.Document)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s, 目标数据库: %s", srv.Addr, dbName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止消费者与清理协程，再关闭生产者
	cancelBg()
	if err := kafka.Close(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

func initSchemaRepository(target config.TargetDBConfig, dbName string) repository.SchemaRepository {
	switch target.Driver {
	case "postgres":
		database.InitPostgres(target.DSN)
		return repository.NewPostgresSchemaRepository(database.PG, dbName, target.Schema, target.QueryTimeout)
	default:
		database.InitMySQL(target.DSN)
		return repository.NewMySQLSchemaRepository(database.DB, dbName, target.QueryTimeout)
	}
}

func initArtifactRepository(cfg config.Config, dbName string) repository.ArtifactRepository {
	if cfg.Snapshot.Backend == "minio" {
		storage.InitMinIO(cfg.MinIO)
		return repository.NewMinIOArtifactRepository(storage.MinioClient, cfg.MinIO.BucketName, cfg.MinIO.Prefix, dbName)
	}
	if err := os.MkdirAll(cfg.Snapshot.LocalDir, 0o755); err != nil {
		log.Fatal("创建快照目录失败", err)
	}
	return repository.NewLocalArtifactRepository(cfg.Snapshot.LocalDir, dbName)
}

func initConversationRepository(ctx context.Context, cfg config.ConversationConfig) repository.ConversationRepository {
	if cfg.Backend == "redis" {
		return repository.NewRedisConversationRepository(database.RDB, cfg.TTL)
	}
	repo := repository.NewMemoryConversationRepository(cfg.TTL)
	repo.StartSweeper(ctx, sweepInterval)
	return repo
}

func initTopicCacheRepository(cfg config.RouterConfig) repository.TopicCacheRepository {
	if cfg.CacheBackend == "redis" {
		return repository.NewRedisTopicCacheRepository(database.RDB, cfg.CacheTTL)
	}
	return repository.NewMemoryTopicCacheRepository(cfg.CacheTTL)
}

// buildInitialSnapshot 在尚无持久化快照时构建一次，已存在则跳过。
func buildInitialSnapshot(ctx context.Context, snapshots service.SnapshotService) {
	status, err := snapshots.Status(ctx)
	if err != nil {
		log.Warnf("buildInitialSnapshot: 读取快照状态失败，跳过: %v", err)
		return
	}
	if status.Exists {
		log.Infof("buildInitialSnapshot: 快照已存在(%d 张表)，跳过", len(status.Tables))
		return
	}
	snapshot, err := snapshots.Build(ctx)
	if err != nil {
		log.Warnf("buildInitialSnapshot: 构建失败: %v", err)
		return
	}
	log.Infof("buildInitialSnapshot: 构建完成, tables: %d", len(snapshot.Metadata))
}
