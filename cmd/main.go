package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"legal-agent/handler"
	"legal-agent/internal/conversation"
	"legal-agent/internal/integrations/openai"
	"legal-agent/internal/integrations/paramstore"
	"legal-agent/internal/integrations/qdrant"
	"legal-agent/internal/limits"
	"legal-agent/internal/repository"
	"legal-agent/internal/retrieval"
	"legal-agent/internal/retry"
	"legal-agent/internal/tokens"
	"legal-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	paramPrefix := mustEnv("PARAM_PREFIX")
	qdrantURL := mustEnv("QDRANT_URL")
	qdrantCollection := mustEnv("QDRANT_COLLECTION")
	qdrantAPIKey := os.Getenv("QDRANT_API_KEY")
	turnTable := os.Getenv("TURN_TABLE") // optional audit log
	maxHistory := envInt("MAX_HISTORY", 10)
	maxKeyPoints := envInt("MAX_KEY_POINTS", 5)
	maxTotalTokens := envInt("MAX_TOTAL_TOKENS", 8000)
	requestsPerMinute := envInt("REQUESTS_PER_MINUTE", 60)
	maxConcurrent := envInt("MAX_CONCURRENT", 10)
	charBudget := envInt("RETRIEVAL_CHAR_BUDGET", 10000)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}
	qdrantClient, err := qdrant.NewClient(qdrant.Config{
		URL:        qdrantURL,
		APIKey:     qdrantAPIKey,
		Collection: qdrantCollection,
	})
	if err != nil {
		slog.Error("failed to create Qdrant client", "err", err)
		os.Exit(1)
	}

	var turnLog usecase.TurnLogger
	if turnTable != "" {
		log, err := repository.NewTurnLog(awsdynamodb.NewFromConfig(cfg), turnTable)
		if err != nil {
			slog.Error("failed to create turn log", "err", err)
			os.Exit(1)
		}
		turnLog = log
	}

	// ---- Core components ----
	estimator := buildEstimator()
	store := conversation.NewStore(conversation.Config{
		MaxHistory:   maxHistory,
		MaxKeyPoints: maxKeyPoints,
	})
	summarizer := conversation.NewSummarizer(openaiClient, maxKeyPoints, nil)
	optimizer := conversation.NewOptimizer(store, estimator, summarizer, usecase.SystemInstruction, maxTotalTokens, nil)
	pipeline := retrieval.NewPipeline(openaiClient, openaiClient, qdrantClient, retrieval.Config{
		CharBudget: charBudget,
	}, nil)

	limiter := limits.New(requestsPerMinute, maxConcurrent)
	go limiter.RunCleanup(ctx, time.Minute)

	answerService, err := usecase.NewAnswerService(
		openaiClient, pipeline, store, optimizer, limiter,
		estimator, retry.DefaultPolicy(), turnLog, nil,
	)
	if err != nil {
		slog.Error("failed to create answer service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(answerService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func buildEstimator() tokens.Estimator {
	if os.Getenv("TOKEN_ESTIMATOR") != "tiktoken" {
		return tokens.Heuristic{}
	}
	enc, err := tokens.NewEncoding(os.Getenv("TOKEN_ENCODING"))
	if err != nil {
		slog.Warn("tiktoken unavailable, using heuristic estimator", "err", err)
		return tokens.Heuristic{}
	}
	return enc
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
