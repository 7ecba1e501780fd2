// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"io"
	"learn-go/internal/config"
	"learn-go/internal/handler"
	"learn-go/internal/middleware"
	"learn-go/internal/model"
	"learn-go/internal/pipeline"
	"learn-go/internal/repository"
	"learn-go/internal/service"
	"learn-go/pkg/database"
	"learn-go/pkg/embedding"
	"learn-go/pkg/es"
	"learn-go/pkg/kafka"
	"learn-go/pkg/llm"
	"learn-go/pkg/log"
	"learn-go/pkg/storage"
	"learn-go/pkg/tika"
	"learn-go/pkg/tokenizer"
	"learn-go/pkg/vectorindex"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化存储：元数据、向量索引、Redis、MinIO
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	metadataRepo, err := newMetadataRepository(ctx, cfg, &closers)
	if err != nil {
		log.Fatalf("元数据存储初始化失败: %v", err)
	}
	index, err := newVectorIndex(ctx, cfg)
	if err != nil {
		log.Fatalf("向量索引初始化失败: %v", err)
	}
	rdb, err := database.InitRedis(ctx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatalf("Redis 初始化失败: %v", err)
	}
	closers = append(closers, rdb)
	objectStore, err := storage.NewObjectStore(ctx, cfg.MinIO)
	if err != nil {
		log.Fatalf("MinIO 初始化失败: %v", err)
	}

	// 4. 初始化外部服务客户端
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	// 5. 初始化文件处理管道 (Processor)
	counter, err := tokenizer.ForModel(cfg.Pipeline.TokenizerModel)
	if err != nil {
		log.Warnf("加载 tokenizer 失败，回退为按字符计数: %v", err)
		counter = tokenizer.Runes
	}
	chunker, err := pipeline.NewChunker(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap, counter)
	if err != nil {
		log.Fatalf("切块参数不合法: %v", err)
	}
	processor := pipeline.NewProcessor(chunker, embeddingClient, index, metadataRepo, objectStore, tikaClient, cfg.Pipeline, cfg.Embedding)

	// 6. 初始化 Kafka 生产者与后台消费者
	producer := kafka.NewProducer(cfg.Kafka)
	closers = append(closers, producer)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Job, processor, repository.NewJobAttemptRepository(rdb), classify)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil {
			log.Errorf("Kafka 消费者异常退出: %v", err)
		}
	}()

	// 7. 初始化 Service (依赖注入)
	searchService := service.NewSearchService(embeddingClient, index, cfg.Embedding.Timeout+cfg.Pipeline.IndexTimeout)
	vectorService := service.NewVectorService(producer, objectStore, metadataRepo, index, cfg.Pipeline.AuthorDeleteBatch, cfg.Pipeline.IndexTimeout)
	chatService := service.NewChatService(searchService, llmClient, cfg.LLM, cfg.Pipeline.AskingTopK)

	// 8. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	if cfg.Server.Token == "" {
		log.Warnf("server.token 未配置，/api 路由不做鉴权")
	}
	r := newRouter(cfg, searchService, vectorService, chatService)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	<-ctx.Done()
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	// 消费者随 ctx 取消退出，未完成的任务不提交 offset
	wg.Wait()
	log.Info("服务已优雅关闭")
}

func newRouter(cfg config.Config, searchService service.SearchService, vectorService service.VectorService, chatService service.ChatService) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/", handler.NewRootHandler(cfg.Server.Version, cfg.Server.Mode).Index)

	vectorHandler := handler.NewVectorHandler(vectorService)
	searchHandler := handler.NewSearchHandler(searchService, cfg.Pipeline.SearchTopK)
	chatHandler := handler.NewChatHandler(chatService)

	api := r.Group("/api")
	api.Use(middleware.TokenAuth(cfg.Server.Token))
	{
		api.POST("/upsert", vectorHandler.Upsert)
		api.POST("/upsert/file", vectorHandler.UpsertFile)
		api.GET("/semantic-search", searchHandler.SemanticSearch)
		api.POST("/vectors", vectorHandler.List)
		api.DELETE("/vectors", vectorHandler.Delete)
		api.DELETE("/vectors/usernames", vectorHandler.DeleteByUsernames)
		api.POST("/asking", chatHandler.Asking)
		api.GET("/asking/stream", chatHandler.Stream)
	}
	return r
}

// newMetadataRepository 按 metadata.driver 选择元数据存储。
func newMetadataRepository(ctx context.Context, cfg config.Config, closers *[]io.Closer) (repository.VectorMetadataRepository, error) {
	switch cfg.Metadata.Driver {
	case "mongo":
		client, coll, err := database.InitMongo(ctx, cfg.Database.Mongo.DSN, cfg.Database.Mongo.DBName, cfg.Database.Mongo.Collection)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, closerFunc(func() error { return client.Disconnect(context.Background()) }))
		return repository.NewMongoVectorMetadataRepository(coll), nil
	case "bolt":
		db, err := database.OpenBolt(cfg.Database.Bolt.Path)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, db)
		return repository.NewBoltVectorMetadataRepository(db)
	case "mysql", "":
		db, err := database.InitMySQL(cfg.Database.MySQL.DSN, &model.VectorMetadata{})
		if err != nil {
			return nil, err
		}
		return repository.NewVectorMetadataRepository(db), nil
	default:
		return nil, fmt.Errorf("unknown metadata driver: %s", cfg.Metadata.Driver)
	}
}

// newVectorIndex 按 vector_index.driver 选择向量索引。
func newVectorIndex(ctx context.Context, cfg config.Config) (vectorindex.Index, error) {
	switch cfg.VectorIndex.Driver {
	case "memory":
		log.Warnf("使用内存向量索引，进程重启后数据丢失")
		return vectorindex.NewMemoryIndex(cfg.Elasticsearch.Dims), nil
	case "elasticsearch", "":
		return es.NewIndex(ctx, cfg.Elasticsearch)
	default:
		return nil, fmt.Errorf("unknown vector index driver: %s", cfg.VectorIndex.Driver)
	}
}

// classify 将流水线错误映射为消费者的处理结果。
func classify(err error) kafka.Outcome {
	switch pipeline.Classify(err) {
	case pipeline.OutcomeOK:
		return kafka.OutcomeOK
	case pipeline.OutcomeFatal:
		return kafka.OutcomeFatal
	default:
		return kafka.OutcomeRetryable
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
