package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"legal-agent/internal/conversation"
	"legal-agent/internal/domain"
	"legal-agent/internal/limits"
	"legal-agent/internal/retrieval"
	"legal-agent/internal/retry"
	"legal-agent/internal/tokens"
)

const defaultMaxQuestion = 2000

// LLMClient is the completion service used for classification and answers.
type LLMClient interface {
	Chat(ctx context.Context, messages []domain.ChatMessage) (string, error)
	Complete(ctx context.Context, systemInstruction, userPrompt string) (string, error)
}

// Retriever builds the document context for a question.
type Retriever interface {
	Search(ctx context.Context, query, conversationID string) (domain.AggregatedContext, error)
}

// TurnLogger records completed turns for auditing. Failures are logged
// and never affect the answer.
type TurnLogger interface {
	SaveCompletedTurn(ctx context.Context, conversationID, question, answer string, tokens int) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// AnswerService orchestrates one conversation turn: admission, context
// assembly, classification, retrieval, and the final completion call.
type AnswerService struct {
	llm            LLMClient
	retriever      Retriever
	store          *conversation.Store
	optimizer      *conversation.Optimizer
	limiter        *limits.Limiter
	estimator      tokens.Estimator
	retryPolicy    retry.Policy
	turnLog        TurnLogger
	logger         *slog.Logger
	maxQuestionLen int
}

type AnswerInput struct {
	Question       string
	ConversationID string
}

type AnswerOutput struct {
	Answer         string
	ConversationID string
}

func NewAnswerService(
	llm LLMClient,
	retriever Retriever,
	store *conversation.Store,
	optimizer *conversation.Optimizer,
	limiter *limits.Limiter,
	estimator tokens.Estimator,
	retryPolicy retry.Policy,
	turnLog TurnLogger,
	logger *slog.Logger,
) (*AnswerService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if retriever == nil {
		return nil, errors.New("usecase: retriever must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if optimizer == nil {
		return nil, errors.New("usecase: optimizer must not be nil")
	}
	if limiter == nil {
		return nil, errors.New("usecase: limiter must not be nil")
	}
	if estimator == nil {
		estimator = tokens.Heuristic{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerService{
		llm:            llm,
		retriever:      retriever,
		store:          store,
		optimizer:      optimizer,
		limiter:        limiter,
		estimator:      estimator,
		retryPolicy:    retryPolicy,
		turnLog:        turnLog,
		logger:         logger,
		maxQuestionLen: defaultMaxQuestion,
	}, nil
}

// HandleTurn answers one question within a conversation.
func (s *AnswerService) HandleTurn(ctx context.Context, in AnswerInput) (AnswerOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return AnswerOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if len(question) > s.maxQuestionLen {
		return AnswerOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}
	if looksSuspicious(question) {
		return AnswerOutput{}, newError(ErrorInvalidInput, "suspicious_pattern", nil)
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}

	// One in-flight turn per conversation; a concurrent request for the
	// same id waits here.
	unlock := s.store.Lock(convID)
	defer unlock()

	if !s.limiter.Admit(convID) {
		return AnswerOutput{}, newError(ErrorRateLimited, "rate_limit_exceeded", nil)
	}
	release, err := s.limiter.Acquire()
	if err != nil {
		return AnswerOutput{}, newError(ErrorConcurrencyExceeded, "too_many_active_requests", err)
	}
	defer release()

	conv := s.store.GetOrCreate(convID)
	window := s.optimizer.Optimize(ctx, convID, &conv)

	checks := s.classify(ctx, question)
	if !checks.isLegal || !checks.needsRetrieval {
		s.logger.InfoContext(ctx, "question redirected",
			slog.String("conversation_id", convID),
			slog.Bool("is_legal", checks.isLegal),
			slog.Bool("needs_retrieval", checks.needsRetrieval),
			slog.String("legal_domain", checks.legalDomain))
		s.persistTurn(ctx, convID, question, redirectAnswer, &conv, window)
		return AnswerOutput{Answer: redirectAnswer, ConversationID: convID}, nil
	}

	answer, err := retry.Do(ctx, s.retryPolicy, func(ctx context.Context) (string, error) {
		return s.answerWithContext(ctx, convID, question, window)
	})
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return AnswerOutput{}, newError(ErrorRateLimited, "upstream_rate_limited", err)
		}
		if ctx.Err() != nil {
			return AnswerOutput{}, newError(ErrorInternal, "request_cancelled", err)
		}
		return AnswerOutput{}, newError(ErrorUpstream, "answer_generation_failed", err)
	}

	s.persistTurn(ctx, convID, question, answer, &conv, window)
	return AnswerOutput{Answer: answer, ConversationID: convID}, nil
}

// answerWithContext performs retrieval and the final completion call. A
// no-documents outcome is converted to its fixed answer here so the retry
// wrapper never re-runs it.
func (s *AnswerService) answerWithContext(ctx context.Context, convID, question string, window []domain.ChatMessage) (string, error) {
	docs, err := s.retriever.Search(ctx, question, convID)
	if err != nil {
		if errors.Is(err, retrieval.ErrNoRelevantDocuments) {
			s.logger.InfoContext(ctx, "no relevant documents",
				slog.String("conversation_id", convID))
			return noMaterialAnswer, nil
		}
		return "", err
	}
	return s.llm.Chat(ctx, buildAnswerMessages(window, docs.Text, question))
}

type classification struct {
	isLegal        bool
	legalDomain    string
	needsRetrieval bool
}

// classify runs the three admission checks concurrently. Each check
// degrades to its safe default on failure instead of propagating.
func (s *AnswerService) classify(ctx context.Context, question string) classification {
	out := classification{legalDomain: "other"}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		raw, err := s.llm.Complete(ctx, legalCheckInstruction, question)
		if err != nil {
			s.logger.WarnContext(ctx, "legal check degraded", slog.String("error", err.Error()))
			return
		}
		out.isLegal = parseYesNo(raw)
	}()
	go func() {
		defer wg.Done()
		raw, err := s.llm.Complete(ctx, domainClassInstruction, question)
		if err != nil {
			s.logger.WarnContext(ctx, "domain classification degraded", slog.String("error", err.Error()))
			return
		}
		out.legalDomain = parseDomain(raw)
	}()
	go func() {
		defer wg.Done()
		raw, err := s.llm.Complete(ctx, retrievalCheckInstruction, question)
		if err != nil {
			s.logger.WarnContext(ctx, "retrieval check degraded", slog.String("error", err.Error()))
			return
		}
		out.needsRetrieval = parseYesNo(raw)
	}()
	wg.Wait()

	return out
}

// persistTurn writes the optimized context and the completed exchange back
// into conversation state, then appends the audit record.
func (s *AnswerService) persistTurn(ctx context.Context, convID, question, answer string, state *domain.Conversation, window []domain.ChatMessage) {
	s.store.Update(convID, func(conv *domain.Conversation) {
		// Summary and key points are written by the background regeneration,
		// so only the window fields are carried over here.
		conv.Context.Messages = state.Context.Messages
		conv.Context.LastTokenCount = state.Context.LastTokenCount
		conv.Context.LastUpdate = state.Context.LastUpdate
		conv.History = append(conv.History,
			domain.ChatMessage{Role: domain.RoleUser, Content: question},
			domain.ChatMessage{Role: domain.RoleAssistant, Content: answer},
		)
		conv.PreviousQuestions = append(conv.PreviousQuestions, question)
		conv.LastResponse = answer
	})

	if s.turnLog == nil {
		return
	}
	cost := s.estimator.Estimate(append(window, domain.ChatMessage{Role: domain.RoleAssistant, Content: answer}))
	if err := s.turnLog.SaveCompletedTurn(ctx, convID, question, answer, cost); err != nil {
		s.logger.WarnContext(ctx, "turn log write failed",
			slog.String("conversation_id", convID),
			slog.String("error", err.Error()))
	}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
