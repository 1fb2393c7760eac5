package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dennisdiepolder/hostline/internal/types"
	"github.com/rs/zerolog"
)

const (
	attrUserID    = "UserID"
	attrAnalytics = "analytics"

	// A nested update can lose to a concurrent map creation, and a map
	// creation can lose to a concurrent creation. Three rounds settle both.
	maxMergeRounds = 3
)

// dynamoAPI is the subset of the DynamoDB client the store uses
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoDBStore implements Store using AWS DynamoDB
type DynamoDBStore struct {
	client dynamoAPI
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoDBStore creates a new DynamoDB store
func NewDynamoDBStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBStore, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// For local mode, build the client directly without LoadDefaultConfig.
		// LoadDefaultConfig probes the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	// Create tables in local mode
	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Str("table", cfg.UsersTable).
		Msg("DynamoDB store initialized")

	return newDynamoDBStore(client, cfg, logger), nil
}

func newDynamoDBStore(client dynamoAPI, cfg DynamoConfig, logger zerolog.Logger) *DynamoDBStore {
	return &DynamoDBStore{
		client: client,
		config: cfg,
		logger: logger.With().Str("component", "dynamodb_store").Logger(),
	}
}

func (s *DynamoDBStore) key(userID string) map[string]dbtypes.AttributeValue {
	return map[string]dbtypes.AttributeValue{
		attrUserID: &dbtypes.AttributeValueMemberS{Value: userID},
	}
}

func (s *DynamoDBStore) GetUser(ctx context.Context, userID string) (*types.UserRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.UsersTable),
		Key:            s.key(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user record: %w", err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var record types.UserRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user record: %w", err)
	}
	return &record, nil
}

func (s *DynamoDBStore) PutUser(ctx context.Context, record types.UserRecord) error {
	update := expression.Set(expression.Name("restaurantName"), expression.Value(record.RestaurantName))
	if record.AgentData != nil {
		update = update.Set(expression.Name("agentData"), expression.Value(record.AgentData))
	} else {
		update = update.Remove(expression.Name("agentData"))
	}

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.UsersTable),
		Key:                       s.key(record.UserID),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return fmt.Errorf("failed to save user record: %w", err)
	}
	return nil
}

// MergeAnalytics writes analytics[callID] with a single-attribute update so
// concurrent merges for other call IDs cannot be lost. The analytics map is
// created on first write.
func (s *DynamoDBStore) MergeAnalytics(ctx context.Context, userID, callID string, record types.AnalyticsRecord) error {
	value, err := attributevalue.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics record: %w", err)
	}

	for round := 0; round < maxMergeRounds; round++ {
		err := s.setNestedAnalytics(ctx, userID, callID, value)
		if err == nil {
			return nil
		}
		if !isConditionFailed(err) {
			return fmt.Errorf("failed to merge analytics: %w", err)
		}

		// The analytics map does not exist yet. Create it holding this entry,
		// unless someone else created it in the meantime.
		err = s.createAnalytics(ctx, userID, callID, value)
		if err == nil {
			return nil
		}
		if !isConditionFailed(err) {
			return fmt.Errorf("failed to create analytics: %w", err)
		}

		s.logger.Debug().
			Str("user_id", userID).
			Str("call_id", callID).
			Int("round", round).
			Msg("analytics map created concurrently, retrying nested update")
	}
	return fmt.Errorf("failed to merge analytics for call %s: too much contention", callID)
}

// setNestedAnalytics updates analytics.<callID> in place. Call IDs may contain
// dots, which the expression builder would split into a path, so the
// expression is written out with explicit placeholders.
func (s *DynamoDBStore) setNestedAnalytics(ctx context.Context, userID, callID string, value dbtypes.AttributeValue) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.config.UsersTable),
		Key:                 s.key(userID),
		UpdateExpression:    aws.String("SET #a.#cid = :rec"),
		ConditionExpression: aws.String("attribute_exists(#a)"),
		ExpressionAttributeNames: map[string]string{
			"#a":   attrAnalytics,
			"#cid": callID,
		},
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":rec": value,
		},
	})
	return err
}

func (s *DynamoDBStore) createAnalytics(ctx context.Context, userID, callID string, value dbtypes.AttributeValue) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.config.UsersTable),
		Key:                 s.key(userID),
		UpdateExpression:    aws.String("SET #a = :m"),
		ConditionExpression: aws.String("attribute_not_exists(#a)"),
		ExpressionAttributeNames: map[string]string{
			"#a": attrAnalytics,
		},
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":m": &dbtypes.AttributeValueMemberM{
				Value: map[string]dbtypes.AttributeValue{callID: value},
			},
		},
	})
	return err
}

func isConditionFailed(err error) bool {
	var ccf *dbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *DynamoDBStore) ListAnalytics(ctx context.Context, userID string) (map[string]types.AnalyticsRecord, error) {
	proj := expression.NamesList(expression.Name(attrUserID), expression.Name(attrAnalytics))
	expr, err := expression.NewBuilder().WithProjection(proj).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.config.UsersTable),
		Key:                      s.key(userID),
		ProjectionExpression:     expr.Projection(),
		ExpressionAttributeNames: expr.Names(),
		ConsistentRead:           aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get analytics: %w", err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var record types.UserRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analytics: %w", err)
	}
	if record.Analytics == nil {
		record.Analytics = map[string]types.AnalyticsRecord{}
	}
	return record.Analytics, nil
}

// TruncateAll deletes all items from the users table (scan + batch delete)
func (s *DynamoDBStore) TruncateAll(ctx context.Context) error {
	var lastKey map[string]dbtypes.AttributeValue

	for {
		input := &dynamodb.ScanInput{
			TableName:            aws.String(s.config.UsersTable),
			ProjectionExpression: aws.String("#pk"),
			ExpressionAttributeNames: map[string]string{
				"#pk": attrUserID,
			},
			Limit: aws.Int32(500),
		}
		if lastKey != nil {
			input.ExclusiveStartKey = lastKey
		}

		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", s.config.UsersTable, err)
		}

		// Batch delete in groups of 25
		for i := 0; i < len(result.Items); i += 25 {
			end := min(i+25, len(result.Items))

			requests := make([]dbtypes.WriteRequest, 0, end-i)
			for _, item := range result.Items[i:end] {
				requests = append(requests, dbtypes.WriteRequest{
					DeleteRequest: &dbtypes.DeleteRequest{
						Key: map[string]dbtypes.AttributeValue{
							attrUserID: item[attrUserID],
						},
					},
				})
			}

			_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]dbtypes.WriteRequest{
					s.config.UsersTable: requests,
				},
			})
			if err != nil {
				return fmt.Errorf("failed to delete from %s: %w", s.config.UsersTable, err)
			}
		}

		lastKey = result.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}

	s.logger.Info().Str("table", s.config.UsersTable).Msg("table truncated")
	return nil
}
