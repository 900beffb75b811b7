package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"sensor_monitor/internal/config"
	"sensor_monitor/internal/models"
	"sensor_monitor/internal/timeutil"
)

// DynamoAPI is the subset of the DynamoDB client used by AccountDynamo.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// NewDynamoClient creates a DynamoDB client. When EndpointURL is set (LocalStack)
// all traffic goes to that endpoint.
func NewDynamoClient(ctx context.Context, cfg config.DynamoDBConfig) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	clientOpts := []func(*dynamodb.Options){}
	if cfg.EndpointURL != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}
	return dynamodb.NewFromConfig(awsCfg, clientOpts...), nil
}

// Single-table layout: every item is keyed by "pk".
const (
	accountPrefix = "account#"
	tokenPrefix   = "token#"
)

type accountItem struct {
	PK           string `dynamodbav:"pk"`
	Email        string `dynamodbav:"email"`
	PasswordHash string `dynamodbav:"password_hash"`
	Verified     bool   `dynamodbav:"verified"`
	CreatedAt    string `dynamodbav:"created_at"`
	Token        string `dynamodbav:"token,omitempty"`
}

type tokenItem struct {
	PK        string `dynamodbav:"pk"`
	Token     string `dynamodbav:"token"`
	Email     string `dynamodbav:"email"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

// AccountDynamo is the DynamoDB-backed AccountRepo.
type AccountDynamo struct {
	client DynamoAPI
	table  string
}

func NewAccountDynamo(client DynamoAPI, table string) *AccountDynamo {
	return &AccountDynamo{client: client, table: table}
}

var _ AccountRepo = (*AccountDynamo)(nil)

func pkey(prefix, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: prefix + id},
	}
}

func (r *AccountDynamo) getAccountItem(ctx context.Context, email string) (*accountItem, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            pkey(accountPrefix, email),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get account %q: %w", email, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var it accountItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal account %q: %w", email, err)
	}
	return &it, nil
}

func (r *AccountDynamo) getTokenItem(ctx context.Context, token string) (*tokenItem, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            pkey(tokenPrefix, token),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var it tokenItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	return &it, nil
}

// GetAccount fetches an account by email. Returns (nil, nil) if not found.
func (r *AccountDynamo) GetAccount(ctx context.Context, email string) (*models.Account, error) {
	it, err := r.getAccountItem(ctx, email)
	if err != nil || it == nil {
		return nil, err
	}
	created, err := timeutil.ParseStored(it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("account %q created_at: %w", email, err)
	}
	return &models.Account{
		Email:        it.Email,
		PasswordHash: it.PasswordHash,
		Verified:     it.Verified,
		CreatedAt:    created,
	}, nil
}

// SaveRegistration replaces the account and its token in one transaction.
// The account put is conditioned on the state read beforehand, so a racing
// writer cancels the transaction and ErrConcurrentWrite is returned.
func (r *AccountDynamo) SaveRegistration(ctx context.Context, acct models.Account, tok models.ConfirmationToken) error {
	prev, err := r.getAccountItem(ctx, acct.Email)
	if err != nil {
		return err
	}
	if prev != nil && prev.Verified {
		return ErrAccountVerified
	}

	acctAV, err := attributevalue.MarshalMap(accountItem{
		PK:           accountPrefix + acct.Email,
		Email:        acct.Email,
		PasswordHash: acct.PasswordHash,
		CreatedAt:    timeutil.Format(acct.CreatedAt),
		Token:        tok.Token,
	})
	if err != nil {
		return fmt.Errorf("marshal account %q: %w", acct.Email, err)
	}
	tokAV, err := attributevalue.MarshalMap(tokenItem{
		PK:        tokenPrefix + tok.Token,
		Token:     tok.Token,
		Email:     acct.Email,
		ExpiresAt: tok.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal token for %q: %w", acct.Email, err)
	}

	acctPut := &types.Put{
		TableName: aws.String(r.table),
		Item:      acctAV,
	}
	switch {
	case prev == nil:
		acctPut.ConditionExpression = aws.String("attribute_not_exists(pk)")
	case prev.Token == "":
		acctPut.ConditionExpression = aws.String("verified = :f AND attribute_not_exists(#tok)")
		acctPut.ExpressionAttributeNames = map[string]string{"#tok": "token"}
		acctPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":f": &types.AttributeValueMemberBOOL{Value: false},
		}
	default:
		acctPut.ConditionExpression = aws.String("verified = :f AND #tok = :prev")
		acctPut.ExpressionAttributeNames = map[string]string{"#tok": "token"}
		acctPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":f":    &types.AttributeValueMemberBOOL{Value: false},
			":prev": &types.AttributeValueMemberS{Value: prev.Token},
		}
	}

	items := []types.TransactWriteItem{
		{Put: acctPut},
		{Put: &types.Put{
			TableName:           aws.String(r.table),
			Item:                tokAV,
			ConditionExpression: aws.String("attribute_not_exists(pk)"),
		}},
	}
	if prev != nil && prev.Token != "" {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(r.table),
			Key:       pkey(tokenPrefix, prev.Token),
		}})
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return fmt.Errorf("save registration %q: %w", acct.Email, ErrConcurrentWrite)
		}
		return fmt.Errorf("save registration %q: %w", acct.Email, err)
	}
	return nil
}

// DeleteRegistration removes the token, then the account while it is unverified.
func (r *AccountDynamo) DeleteRegistration(ctx context.Context, email, token string) error {
	if err := r.DeleteToken(ctx, token); err != nil {
		return err
	}
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.table),
		Key:                 pkey(accountPrefix, email),
		ConditionExpression: aws.String("verified = :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		var failed *types.ConditionalCheckFailedException
		if errors.As(err, &failed) {
			return nil
		}
		return fmt.Errorf("delete account %q: %w", email, err)
	}
	return nil
}

// GetToken fetches a token record. Returns (nil, nil) if not found.
func (r *AccountDynamo) GetToken(ctx context.Context, token string) (*models.ConfirmationToken, error) {
	it, err := r.getTokenItem(ctx, token)
	if err != nil || it == nil {
		return nil, err
	}
	return &models.ConfirmationToken{
		Token:     it.Token,
		Email:     it.Email,
		ExpiresAt: time.UnixMilli(it.ExpiresAt).UTC(),
	}, nil
}

// ConsumeToken deletes a live token and verifies its account in one transaction.
func (r *AccountDynamo) ConsumeToken(ctx context.Context, token string, now time.Time) (string, error) {
	it, err := r.getTokenItem(ctx, token)
	if err != nil {
		return "", err
	}
	if it == nil || it.ExpiresAt <= now.UnixMilli() {
		return "", ErrTokenNotFound
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{
				TableName:           aws.String(r.table),
				Key:                 pkey(tokenPrefix, token),
				ConditionExpression: aws.String("attribute_exists(pk) AND expires_at > :now"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.UnixMilli())},
				},
			}},
			{Update: &types.Update{
				TableName:                aws.String(r.table),
				Key:                      pkey(accountPrefix, it.Email),
				UpdateExpression:         aws.String("SET verified = :t REMOVE #tok"),
				ConditionExpression:      aws.String("attribute_exists(pk)"),
				ExpressionAttributeNames: map[string]string{"#tok": "token"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":t": &types.AttributeValueMemberBOOL{Value: true},
				},
			}},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return "", fmt.Errorf("consume token: %w", ErrTokenNotFound)
		}
		return "", fmt.Errorf("consume token: %w", err)
	}
	return it.Email, nil
}

// DeleteToken removes a token; a missing token is not an error.
func (r *AccountDynamo) DeleteToken(ctx context.Context, token string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key:       pkey(tokenPrefix, token),
	})
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
