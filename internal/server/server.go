package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contextiq/backend/internal/config"
	"github.com/contextiq/backend/internal/queue"
	mid "github.com/contextiq/backend/internal/server/middleware"
	"github.com/contextiq/backend/internal/storage"
	"github.com/contextiq/backend/pkg/ai"
	aimock "github.com/contextiq/backend/pkg/ai/mock"
	oai "github.com/contextiq/backend/pkg/ai/ollama"
	gai "github.com/contextiq/backend/pkg/ai/openai"
	"github.com/contextiq/backend/pkg/ingest"
	"github.com/contextiq/backend/pkg/logger"
	"github.com/contextiq/backend/pkg/notify"
	"github.com/contextiq/backend/pkg/retrieval"
	graphstore "github.com/contextiq/backend/pkg/store/pgx"
	vectorstore "github.com/contextiq/backend/pkg/vector/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// NewAIClient builds the configured embedding/extraction adapter.
// Shared by the HTTP server and the queue worker.
func NewAIClient(cfg config.Config) ai.PipelineAIClient {
	switch cfg.AIAdapter {
	case "ollama":
		client, err := oai.NewPipelineOllamaClient(oai.NewPipelineOllamaClientParams{
			EmbeddingModel:  cfg.EmbeddingModel,
			ExtractionModel: cfg.ExtractionModel,

			BaseURL: cfg.ChatURL,
			ApiKey:  cfg.ChatKey,

			MaxConcurrentRequests: int64(cfg.ParallelAI),
		})
		if err != nil {
			logger.Fatal("Failed to create Ollama client", "err", err)
		}
		return client
	case "mock":
		return aimock.NewMockPipelineClient()
	default:
		return gai.NewPipelineOpenAIClient(gai.NewPipelineOpenAIClientParams{
			EmbeddingModel:  cfg.EmbeddingModel,
			ExtractionModel: cfg.ExtractionModel,

			EmbeddingURL: cfg.EmbeddingURL,
			EmbeddingKey: cfg.EmbeddingKey,
			ChatURL:      cfg.ChatURL,
			ChatKey:      cfg.ChatKey,

			MaxConcurrentRequests: int64(cfg.ParallelAI),
		})
	}
}

// RunMigrations applies pending schema migrations. Missing migration
// files are tolerated so containerized deployments can rely on the
// stores' own lazy schema creation instead.
func RunMigrations(databaseURL string) {
	m, err := migrate.New("file://migrations", databaseURL)
	if err != nil {
		logger.Warn("Skipping migrations", "err", err)
		return
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Failed to run migrations", "err", err)
	}
}

func Init() {
	cfg := config.Load()

	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	jwksUrl := cfg.AuthURL + "/jwks"
	k, err := keyfunc.NewDefault([]string{jwksUrl})
	if err != nil {
		logger.Fatal("Failed to load jwks keys", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	RunMigrations(cfg.DatabaseURL)

	conn, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()
	conn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}

	queues := []string{queue.IngestQueue, queue.NotifyQueue}
	if err := queue.SetupQueues(ch, queues); err != nil {
		logger.Fatal("Failed to setup queues", "err", err)
	}

	s3 := storage.NewS3Client(ctx)

	aiClient := NewAIClient(cfg)

	graph := graphstore.NewGraphDBStore(conn, graphstore.Params{})
	if err := graph.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to ensure graph schema", "err", err)
	}
	vectors := vectorstore.NewVectorIndex(conn, cfg.EmbedDimensions)
	if err := vectors.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to ensure vector schema", "err", err)
	}

	engine, err := retrieval.NewEngine(retrieval.NewEngineParams{
		Embedder: aiClient,
		Vectors:  vectors,
		Graph:    graph,
	})
	if err != nil {
		logger.Fatal("Failed to create retrieval engine", "err", err)
	}

	notifier, err := notify.NewAMQPNotifier(notify.AMQPParams{Channel: ch, Queue: queue.NotifyQueue})
	if err != nil {
		logger.Fatal("Failed to create notifier", "err", err)
	}
	orchestrator, err := ingest.NewOrchestrator(ingest.NewOrchestratorParams{
		AIClient:            aiClient,
		Vectors:             vectors,
		Graph:               graph,
		Notifier:            notifier,
		Archiver:            &storage.S3Archiver{Client: s3},
		ParallelExtractions: cfg.ParallelExtractions,
		MaxRetries:          cfg.ExtractionRetries,
		AgreementLookback:   cfg.AgreementLookback(),
	})
	if err != nil {
		logger.Fatal("Failed to create orchestrator", "err", err)
	}

	app := &mid.App{
		DBConn:       conn,
		Queue:        ch,
		Key:          &k,
		S3:           s3,
		AiClient:     aiClient,
		Graph:        graph,
		Vectors:      vectors,
		Engine:       engine,
		Orchestrator: orchestrator,

		MasterAPIKey:   cfg.MasterAPIKey,
		MasterUserID:   cfg.MasterUserID,
		MasterUserRole: cfg.MasterUserRole,
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("32M"))

	RegisterRoutes(e)

	go func() {
		port := cfg.Port
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
