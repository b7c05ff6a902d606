package middleware

import (
	"github.com/MicahParks/keyfunc/v3"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/contextiq/backend/pkg/ai"
	"github.com/contextiq/backend/pkg/ingest"
	"github.com/contextiq/backend/pkg/retrieval"
	"github.com/contextiq/backend/pkg/store"
	"github.com/contextiq/backend/pkg/vector"
)

type AppUser struct {
	UserID string
	Role   string
}

// App holds the service instances constructed once at process start.
type App struct {
	DBConn       *pgxpool.Pool
	Queue        *amqp091.Channel
	Key          *keyfunc.Keyfunc
	S3           *s3.Client
	AiClient     ai.PipelineAIClient
	Graph        store.GraphStore
	Vectors      vector.Index
	Engine       *retrieval.Engine
	Orchestrator *ingest.Orchestrator

	MasterAPIKey   string
	MasterUserID   string
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
