package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"compensation-checker/internal/domain"
)

const (
	pkPrefixClaim = "CLAIM#"
	skPrefixCheck = "CHECK#"
	ttlDuration   = 90 * 24 * time.Hour // 90-day TTL

	// sortableTime keeps nine fractional digits so keys sort chronologically.
	sortableTime = "2006-01-02T15:04:05.000000000Z07:00"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps a DynamoDB table holding claim decision history.
type Client struct {
	api       dynamodbAPI
	tableName string
}

func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// claimPK returns the DynamoDB partition key for a claim.
func claimPK(claimKey string) string {
	return pkPrefixClaim + claimKey
}

// checkSK returns the sort key for a decision taken at ts.
func checkSK(ts time.Time) string {
	return skPrefixCheck + ts.UTC().Format(sortableTime)
}

func ttlValue(now time.Time) int64 {
	return now.Add(ttlDuration).Unix()
}

// NewDecisionRecord builds a record with keys and TTL derived from checkedAt.
func NewDecisionRecord(claimKey, checkID, message string, checkedAt time.Time) domain.DecisionRecord {
	checkedAt = checkedAt.UTC()
	return domain.DecisionRecord{
		PK:        claimPK(claimKey),
		SK:        checkSK(checkedAt),
		CheckID:   checkID,
		ClaimKey:  claimKey,
		Message:   message,
		CheckedAt: checkedAt,
		TTL:       ttlValue(checkedAt),
	}
}

// GetLatestDecision returns the most recent decision for claimKey. ok is false
// when the claim has never been checked.
func (c *Client) GetLatestDecision(ctx context.Context, claimKey string) (domain.DecisionRecord, bool, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: claimPK(claimKey)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixCheck},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return domain.DecisionRecord{}, false, fmt.Errorf("repository: GetLatestDecision query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return domain.DecisionRecord{}, false, nil
	}

	rec, err := itemToDecision(out.Items[0])
	if err != nil {
		return domain.DecisionRecord{}, false, fmt.Errorf("repository: GetLatestDecision unmarshal: %w", err)
	}
	return rec, true, nil
}

// SaveDecision persists rec. An existing item with the same keys is never overwritten.
func (c *Client) SaveDecision(ctx context.Context, rec domain.DecisionRecord) error {
	if rec.PK == "" || rec.SK == "" {
		return errors.New("repository: SaveDecision: PK and SK are required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                decisionItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveDecision: %w", err)
	}
	return nil
}

// RecordDecision stores the outcome of one check.
func (c *Client) RecordDecision(ctx context.Context, claimKey, checkID, message string, checkedAt time.Time) error {
	if err := c.SaveDecision(ctx, NewDecisionRecord(claimKey, checkID, message, checkedAt)); err != nil {
		return fmt.Errorf("repository: RecordDecision: %w", err)
	}
	return nil
}

func decisionItem(rec domain.DecisionRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: rec.PK},
		"SK":        &types.AttributeValueMemberS{Value: rec.SK},
		"checkId":   &types.AttributeValueMemberS{Value: rec.CheckID},
		"claimKey":  &types.AttributeValueMemberS{Value: rec.ClaimKey},
		"message":   &types.AttributeValueMemberS{Value: rec.Message},
		"checkedAt": &types.AttributeValueMemberS{Value: rec.CheckedAt.UTC().Format(sortableTime)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.TTL, 10)},
	}
}

// itemToDecision converts a DynamoDB attribute map to a DecisionRecord.
func itemToDecision(item map[string]types.AttributeValue) (domain.DecisionRecord, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.DecisionRecord{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.DecisionRecord{}, err
	}
	message, err := strAttr(item, "message")
	if err != nil {
		return domain.DecisionRecord{}, err
	}
	checkedAtRaw, err := strAttr(item, "checkedAt")
	if err != nil {
		return domain.DecisionRecord{}, err
	}
	checkedAt, err := time.Parse(time.RFC3339Nano, checkedAtRaw)
	if err != nil {
		return domain.DecisionRecord{}, fmt.Errorf("repository: parse attribute %q: %w", "checkedAt", err)
	}
	checkID, _ := strAttr(item, "checkId")   // allow empty
	claimKey, _ := strAttr(item, "claimKey") // allow empty
	ttl, _ := int64Attr(item, "ttl")

	return domain.DecisionRecord{
		PK:        pk,
		SK:        sk,
		CheckID:   checkID,
		ClaimKey:  claimKey,
		Message:   message,
		CheckedAt: checkedAt,
		TTL:       ttl,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
