// Local runner: answers questions from stdin using a YAML config file and
// an OPENAI_API_KEY from the environment. No AWS access is required.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"legal-agent/internal/config"
	"legal-agent/internal/conversation"
	"legal-agent/internal/integrations/openai"
	"legal-agent/internal/integrations/qdrant"
	"legal-agent/internal/limits"
	"legal-agent/internal/retrieval"
	"legal-agent/internal/retry"
	"legal-agent/internal/tokens"
	"legal-agent/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		slog.Error("OPENAI_API_KEY is not set")
		os.Exit(1)
	}

	svc, err := buildService(cfg, apiKey)
	if err != nil {
		slog.Error("failed to build service", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	convID := ""
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Println("Ask a legal question (empty line to quit).")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			break
		}

		out, err := svc.HandleTurn(ctx, usecase.AnswerInput{
			Question:       question,
			ConversationID: convID,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		convID = out.ConversationID
		fmt.Println(out.Answer)
		fmt.Println()
	}
}

func buildService(cfg *config.Config, apiKey string) (*usecase.AnswerService, error) {
	openaiClient, err := openai.NewStaticClient(apiKey,
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithChatModel(cfg.OpenAI.ChatModel),
		openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	qdrantClient, err := qdrant.NewClient(qdrant.Config{
		URL:        cfg.Qdrant.URL,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		Collection: cfg.Qdrant.Collection,
	})
	if err != nil {
		return nil, err
	}

	estimator, err := buildEstimator(cfg.Tokens)
	if err != nil {
		return nil, err
	}

	store := conversation.NewStore(conversation.Config{
		MaxHistory:   cfg.Conversation.MaxHistory,
		MaxKeyPoints: cfg.Conversation.MaxKeyPoints,
		StateTTL:     cfg.Conversation.StateTTL,
		ContextTTL:   cfg.Conversation.ContextTTL,
	})
	summarizer := conversation.NewSummarizer(openaiClient, cfg.Conversation.MaxKeyPoints, nil)
	optimizer := conversation.NewOptimizer(store, estimator, summarizer,
		usecase.SystemInstruction, cfg.Conversation.MaxTotalTokens, nil)
	pipeline := retrieval.NewPipeline(openaiClient, openaiClient, qdrantClient, retrieval.Config{
		SummaryLimit: cfg.Retrieval.SummaryLimit,
		ChunkLimit:   cfg.Retrieval.ChunkLimit,
		MaxCases:     cfg.Retrieval.MaxCases,
		CharBudget:   cfg.Retrieval.CharBudget,
		CacheTTL:     cfg.Retrieval.CacheTTL,
	}, nil)

	limiter := limits.New(cfg.Limits.RequestsPerMinute, cfg.Limits.MaxConcurrent)
	go limiter.RunCleanup(context.Background(), time.Minute)

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	return usecase.NewAnswerService(openaiClient, pipeline, store, optimizer, limiter,
		estimator, policy, nil, nil)
}

func buildEstimator(cfg config.TokensConfig) (tokens.Estimator, error) {
	if cfg.Estimator == "tiktoken" {
		return tokens.NewEncoding(cfg.Encoding)
	}
	return tokens.Heuristic{}, nil
}
