package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"sensor_monitor/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo serves GetItem from items and records writes.
type fakeDynamo struct {
	items       map[string]map[string]types.AttributeValue
	transacts   []*dynamodb.TransactWriteItemsInput
	deletes     []*dynamodb.DeleteItemInput
	transactErr error
	deleteErr   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func (f *fakeDynamo) put(t *testing.T, v any) {
	t.Helper()
	av, err := attributevalue.MarshalMap(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	pk := av["pk"].(*types.AttributeValueMemberS).Value
	f.items[pk] = av
}

func keyOf(k map[string]types.AttributeValue) string {
	return k["pk"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deletes = append(f.deletes, in)
	if f.deleteErr != nil && in.ConditionExpression != nil {
		return nil, f.deleteErr
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transacts = append(f.transacts, in)
	if f.transactErr != nil {
		return nil, f.transactErr
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func registration(email, token string) (models.Account, models.ConfirmationToken) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return models.Account{Email: email, PasswordHash: "hash", CreatedAt: now},
		models.ConfirmationToken{Token: token, Email: email, ExpiresAt: now.Add(24 * time.Hour)}
}

func TestDynamoSaveRegistration_NewAccount(t *testing.T) {
	f := newFakeDynamo()
	repo := NewAccountDynamo(f, "accounts")

	acct, tok := registration("a@b.c", "tok1")
	if err := repo.SaveRegistration(context.Background(), acct, tok); err != nil {
		t.Fatalf("SaveRegistration: %v", err)
	}
	if len(f.transacts) != 1 {
		t.Fatalf("transactions = %d, want 1", len(f.transacts))
	}
	items := f.transacts[0].TransactItems
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if got := aws.ToString(items[0].Put.ConditionExpression); got != "attribute_not_exists(pk)" {
		t.Fatalf("account condition = %q", got)
	}
	if got := keyOf(items[1].Put.Item); got != "token#tok1" {
		t.Fatalf("token key = %q", got)
	}
}

func TestDynamoSaveRegistration_ReplacesPreviousToken(t *testing.T) {
	f := newFakeDynamo()
	f.put(t, accountItem{PK: "account#a@b.c", Email: "a@b.c", PasswordHash: "old", CreatedAt: "2024-05-01 09:00:00.000", Token: "old"})
	repo := NewAccountDynamo(f, "accounts")

	acct, tok := registration("a@b.c", "new")
	if err := repo.SaveRegistration(context.Background(), acct, tok); err != nil {
		t.Fatalf("SaveRegistration: %v", err)
	}
	items := f.transacts[0].TransactItems
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	if cond := aws.ToString(items[0].Put.ConditionExpression); !strings.Contains(cond, ":prev") {
		t.Fatalf("account condition = %q", cond)
	}
	if got := keyOf(items[2].Delete.Key); got != "token#old" {
		t.Fatalf("deleted key = %q", got)
	}
}

func TestDynamoSaveRegistration_Verified(t *testing.T) {
	f := newFakeDynamo()
	f.put(t, accountItem{PK: "account#a@b.c", Email: "a@b.c", Verified: true, CreatedAt: "2024-05-01 09:00:00.000"})
	repo := NewAccountDynamo(f, "accounts")

	acct, tok := registration("a@b.c", "tok")
	if err := repo.SaveRegistration(context.Background(), acct, tok); !errors.Is(err, ErrAccountVerified) {
		t.Fatalf("expected ErrAccountVerified, got %v", err)
	}
	if len(f.transacts) != 0 {
		t.Fatal("no transaction expected")
	}
}

func TestDynamoSaveRegistration_Canceled(t *testing.T) {
	f := newFakeDynamo()
	f.transactErr = &types.TransactionCanceledException{Message: aws.String("conditional check failed")}
	repo := NewAccountDynamo(f, "accounts")

	acct, tok := registration("a@b.c", "tok")
	if err := repo.SaveRegistration(context.Background(), acct, tok); !errors.Is(err, ErrConcurrentWrite) {
		t.Fatalf("expected ErrConcurrentWrite, got %v", err)
	}
}

func TestDynamoConsumeToken(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f := newFakeDynamo()
	f.put(t, tokenItem{PK: "token#tok", Token: "tok", Email: "a@b.c", ExpiresAt: now.Add(time.Hour).UnixMilli()})
	repo := NewAccountDynamo(f, "accounts")

	email, err := repo.ConsumeToken(context.Background(), "tok", now)
	if err != nil || email != "a@b.c" {
		t.Fatalf("ConsumeToken: %q %v", email, err)
	}
	items := f.transacts[0].TransactItems
	if got := keyOf(items[1].Update.Key); got != "account#a@b.c" {
		t.Fatalf("updated key = %q", got)
	}

	if _, err := repo.ConsumeToken(context.Background(), "tok", now.Add(2*time.Hour)); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expired: expected ErrTokenNotFound, got %v", err)
	}
	if _, err := repo.ConsumeToken(context.Background(), "missing", now); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("missing: expected ErrTokenNotFound, got %v", err)
	}

	f.transactErr = &types.TransactionCanceledException{}
	if _, err := repo.ConsumeToken(context.Background(), "tok", now); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("raced: expected ErrTokenNotFound, got %v", err)
	}
}

func TestDynamoDeleteRegistration_VerifiedAccountKept(t *testing.T) {
	f := newFakeDynamo()
	f.deleteErr = &types.ConditionalCheckFailedException{}
	repo := NewAccountDynamo(f, "accounts")

	if err := repo.DeleteRegistration(context.Background(), "a@b.c", "tok"); err != nil {
		t.Fatalf("DeleteRegistration: %v", err)
	}
	if len(f.deletes) != 2 {
		t.Fatalf("deletes = %d, want 2", len(f.deletes))
	}
}

func TestDynamoGetAccount(t *testing.T) {
	f := newFakeDynamo()
	f.put(t, accountItem{PK: "account#a@b.c", Email: "a@b.c", PasswordHash: "h", CreatedAt: "2024-05-01 09:00:00.000"})
	repo := NewAccountDynamo(f, "accounts")

	got, err := repo.GetAccount(context.Background(), "a@b.c")
	if err != nil || got == nil || got.PasswordHash != "h" || got.Verified {
		t.Fatalf("GetAccount: %+v %v", got, err)
	}
	missing, err := repo.GetAccount(context.Background(), "x@y.z")
	if err != nil || missing != nil {
		t.Fatalf("missing: %+v %v", missing, err)
	}
}
