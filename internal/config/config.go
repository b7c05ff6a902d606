// Package config gathers all runtime settings into one explicit struct
// populated at startup. Components receive their settings through
// constructors instead of reading the environment themselves.
package config

import (
	"time"

	"github.com/contextiq/backend/internal/util"
)

type Config struct {
	Port        string
	DatabaseURL string
	AuthURL     string

	MasterAPIKey   string
	MasterUserID   string
	MasterUserRole string

	AIAdapter       string
	EmbeddingModel  string
	ExtractionModel string
	EmbeddingURL    string
	EmbeddingKey    string
	ChatURL string
	ChatKey string
	// EmbedDimensions must match the vector(N) column of the
	// event_vectors migration; 384 is baked into 000001_init.up.sql.
	EmbedDimensions int
	ParallelAI      int

	ParallelExtractions      int
	ExtractionRetries        int
	AgreementLookbackMinutes int

	RabbitMQUser     string
	RabbitMQPassword string
	RabbitMQHost     string
	RabbitMQPort     string
}

// Load reads the full configuration from the environment. Defaults
// match local development against docker-compose services.
func Load() Config {
	return Config{
		Port:        util.GetEnvString("PORT", "8080"),
		DatabaseURL: util.GetEnv("DATABASE_URL"),
		AuthURL:     util.GetEnv("AUTH_URL"),

		MasterAPIKey:   util.GetEnv("MASTER_API_KEY"),
		MasterUserID:   util.GetEnv("MASTER_USER_ID"),
		MasterUserRole: util.GetEnv("MASTER_USER_ROLE"),

		AIAdapter:       util.GetEnvString("AI_ADAPTER", "openai"),
		EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
		ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
		EmbeddingURL:    util.GetEnv("AI_EMBED_URL"),
		EmbeddingKey:    util.GetEnv("AI_EMBED_KEY"),
		ChatURL:         util.GetEnv("AI_CHAT_URL"),
		ChatKey:         util.GetEnv("AI_CHAT_KEY"),
		EmbedDimensions: util.GetEnvInt("AI_EMBED_DIM", 384),
		ParallelAI:      util.GetEnvInt("AI_PARALLEL_REQ", 15),

		ParallelExtractions:      util.GetEnvInt("INGEST_PARALLEL_EXTRACT", 4),
		ExtractionRetries:        util.GetEnvInt("INGEST_EXTRACT_RETRIES", 3),
		AgreementLookbackMinutes: util.GetEnvInt("AGREEMENT_LOOKBACK_MIN", 60),

		RabbitMQUser:     util.GetEnv("RABBITMQ_USER"),
		RabbitMQPassword: util.GetEnv("RABBITMQ_PASSWORD"),
		RabbitMQHost:     util.GetEnv("RABBITMQ_HOST"),
		RabbitMQPort:     util.GetEnv("RABBITMQ_PORT"),
	}
}

func (c Config) AgreementLookback() time.Duration {
	return time.Duration(c.AgreementLookbackMinutes) * time.Minute
}
