// Package handler adapts API Gateway proxy events to the answer service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"legal-agent/internal/usecase"
)

// AnswerUseCase is the single operation the handler exposes upward.
type AnswerUseCase interface {
	HandleTurn(ctx context.Context, in usecase.AnswerInput) (usecase.AnswerOutput, error)
}

type Handler struct {
	uc     AnswerUseCase
	logger *slog.Logger
}

type askRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversationId"`
}

type askResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversationId"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(uc AnswerUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc, logger: slog.Default()}, nil
}

// Handle processes one API Gateway request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	logger := h.logger.With(slog.String("correlation_id", corrID))

	var in askRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		logger.WarnContext(ctx, "invalid request body", slog.String("error", err.Error()))
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "invalid_body",
		}), nil
	}

	out, err := h.uc.HandleTurn(ctx, usecase.AnswerInput{
		Question:       in.Question,
		ConversationID: in.ConversationID,
	})
	if err != nil {
		status, body := mapError(err)
		logger.ErrorContext(ctx, "turn failed",
			slog.String("code", body.Error),
			slog.String("reason", body.Reason),
			slog.Int("status", status))
		return jsonResponse(status, corrID, body), nil
	}

	logger.InfoContext(ctx, "turn answered",
		slog.String("conversation_id", out.ConversationID))
	return jsonResponse(http.StatusOK, corrID, askResponse{
		Answer:         out.Answer,
		ConversationID: out.ConversationID,
	}), nil
}

func mapError(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}

	body := errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, body
	case usecase.ErrorRateLimited, usecase.ErrorConcurrencyExceeded:
		return http.StatusTooManyRequests, body
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, body
	}
}

// correlationID reuses an inbound correlation id header regardless of
// case, or mints a fresh one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "X-Correlation-Id") && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}

func jsonResponse(status int, corrID string, body any) events.APIGatewayProxyResponse {
	data, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    responseHeaders(corrID),
			Body:       `{"error":"INTERNAL_ERROR"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    responseHeaders(corrID),
		Body:       string(data),
	}
}

func responseHeaders(corrID string) map[string]string {
	return map[string]string{
		"Content-Type":     "application/json",
		"X-Correlation-Id": corrID,
	}
}
