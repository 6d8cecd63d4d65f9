// Package repository persists an append-only audit trail of completed
// question/answer turns to DynamoDB. The trail is never read back into
// prompting; it exists for inspection and billing only.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"legal-agent/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by TurnLog.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// TurnLog writes completed turn records to a DynamoDB table.
type TurnLog struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewTurnLog creates a TurnLog for the given table.
func NewTurnLog(api dynamodbAPI, tableName string) (*TurnLog, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &TurnLog{api: api, tableName: tableName, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK returns the sort key for a turn using its UTC timestamp.
func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano)
}

// SaveCompletedTurn appends one completed turn record. The conditional
// write guards against sort-key collisions overwriting an earlier turn.
func (l *TurnLog) SaveCompletedTurn(ctx context.Context, conversationID, question, answer string, tokens int) error {
	turn := l.newTurn(conversationID, question, answer, tokens)
	_, err := l.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                turnItem(turn),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveCompletedTurn: %w", err)
	}
	return nil
}

func (l *TurnLog) newTurn(conversationID, question, answer string, tokens int) domain.Turn {
	ts := l.now().UTC()
	return domain.Turn{
		PK:             convPK(conversationID),
		SK:             msgSK(ts),
		ConversationID: conversationID,
		Question:       question,
		Answer:         answer,
		Tokens:         tokens,
		TTL:            ts.Add(ttlDuration).Unix(),
	}
}

func turnItem(turn domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: turn.PK},
		"SK":             &types.AttributeValueMemberS{Value: turn.SK},
		"conversationId": &types.AttributeValueMemberS{Value: turn.ConversationID},
		"question":       &types.AttributeValueMemberS{Value: turn.Question},
		"answer":         &types.AttributeValueMemberS{Value: turn.Answer},
		"tokens":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", turn.Tokens)},
		"ttl":            &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", turn.TTL)},
	}
}
