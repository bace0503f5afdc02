package dynamo

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("dynamo")

// API is the subset of the DynamoDB client used by Client.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// ClientConfig bounds every store call.
type ClientConfig struct {
	// MaxAttempts is the total number of tries for a throttled call.
	MaxAttempts int
	// RetryDelay is the fixed wait between throttled tries.
	RetryDelay time.Duration
	// CallTimeout applies to each individual try.
	CallTimeout time.Duration
}

// DefaultClientConfig returns the production defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{MaxAttempts: 3, RetryDelay: time.Second, CallTimeout: 5 * time.Second}
}

func (c ClientConfig) normalize() ClientConfig {
	d := DefaultClientConfig()
	if c.MaxAttempts < 1 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	return c
}

// Client implements Store over DynamoDB with throttling retries, per-call
// timeouts, metrics and spans.
type Client struct {
	api     API
	cfg     ClientConfig
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

var _ Store = (*Client)(nil)

// NewClient wraps api. The SDK's own retryer should be disabled on api so
// that the attempt bound here is exact.
func NewClient(api API, cfg ClientConfig, metrics *observability.Metrics, logger *zap.Logger) *Client {
	return &Client{
		api:     api,
		cfg:     cfg.normalize(),
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ============================================================
// Primitives
// ============================================================

func (c *Client) Get(ctx context.Context, table string, key Key) (map[string]any, error) {
	var out *dynamodb.GetItemOutput
	err := c.call(ctx, table, "get", func(ctx context.Context) error {
		var err error
		out, err = c.api.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(table),
			Key:            keyAttributes(key),
			ConsistentRead: aws.Bool(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return DecodeItem(out.Item)
}

func (c *Client) Put(ctx context.Context, table string, item map[string]any) error {
	if _, err := itemKey(item); err != nil {
		return err
	}
	av, err := EncodeItem(stampTimestamps(item, c.now()))
	if err != nil {
		return err
	}
	return c.call(ctx, table, "put", func(ctx context.Context) error {
		_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(table),
			Item:      av,
		})
		return err
	})
}

func (c *Client) Update(ctx context.Context, table string, key Key, upd Update) (map[string]any, error) {
	input, err := buildUpdate(table, key, upd, c.now())
	if err != nil {
		return nil, err
	}
	var out *dynamodb.UpdateItemOutput
	err = c.call(ctx, table, "update", func(ctx context.Context) error {
		var err error
		out, err = c.api.UpdateItem(ctx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return DecodeItem(out.Attributes)
}

func (c *Client) Delete(ctx context.Context, table string, key Key) error {
	return c.call(ctx, table, "delete", func(ctx context.Context) error {
		_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(table),
			Key:       keyAttributes(key),
		})
		return err
	})
}

func (c *Client) Query(ctx context.Context, in QueryInput) (QueryOutput, error) {
	input, err := buildQuery(in)
	if err != nil {
		return QueryOutput{}, err
	}
	var out *dynamodb.QueryOutput
	err = c.call(ctx, in.Table, "query", func(ctx context.Context) error {
		var err error
		out, err = c.api.Query(ctx, input)
		return err
	})
	if err != nil {
		return QueryOutput{}, err
	}

	items := make([]map[string]any, 0, len(out.Items))
	for _, raw := range out.Items {
		item, err := DecodeItem(raw)
		if err != nil {
			return QueryOutput{}, err
		}
		items = append(items, item)
	}
	token, err := EncodeToken(out.LastEvaluatedKey)
	if err != nil {
		return QueryOutput{}, err
	}
	return QueryOutput{Items: items, Count: len(items), NextToken: token}, nil
}

func (c *Client) BatchWrite(ctx context.Context, table string, items []map[string]any) (int, error) {
	written := 0
	now := c.now()
	for start := 0; start < len(items); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(items))

		reqs := make([]types.WriteRequest, 0, end-start)
		for _, item := range items[start:end] {
			if _, err := itemKey(item); err != nil {
				return written, &BatchWriteError{Written: written, Err: err}
			}
			av, err := EncodeItem(stampTimestamps(item, now))
			if err != nil {
				return written, &BatchWriteError{Written: written, Err: err}
			}
			reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
		}

		pending := reqs
		for round := 1; len(pending) > 0; round++ {
			if round > c.cfg.MaxAttempts {
				return written, &BatchWriteError{
					Written: written,
					Err: &domain.ErrStoreUnavailable{
						Operation: "batch_write",
						Err:       fmt.Errorf("%d unprocessed items", len(pending)),
					},
				}
			}
			var out *dynamodb.BatchWriteItemOutput
			err := c.call(ctx, table, "batch_write", func(ctx context.Context) error {
				var err error
				out, err = c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
					RequestItems: map[string][]types.WriteRequest{table: pending},
				})
				return err
			})
			if err != nil {
				return written, &BatchWriteError{Written: written, Err: err}
			}
			unprocessed := out.UnprocessedItems[table]
			written += len(pending) - len(unprocessed)
			pending = unprocessed
			if len(pending) > 0 {
				if err := sleepCtx(ctx, c.cfg.RetryDelay); err != nil {
					return written, &BatchWriteError{Written: written, Err: err}
				}
			}
		}
	}
	return written, nil
}

func (c *Client) Scan(ctx context.Context, table string, filters []Filter, limit int32) ([]map[string]any, error) {
	c.metrics.IncrScan(table)
	c.logger.Warn("dynamo: full table scan",
		zap.String("table", table),
		zap.Int("filters", len(filters)),
		zap.Int32("limit", limit),
	)

	input := &dynamodb.ScanInput{TableName: aws.String(table)}
	if cond, ok := buildFilter(filters); ok {
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var items []map[string]any
	for {
		var out *dynamodb.ScanOutput
		err := c.call(ctx, table, "scan", func(ctx context.Context) error {
			var err error
			out, err = c.api.Scan(ctx, input)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, raw := range out.Items {
			item, err := DecodeItem(raw)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if limit > 0 && int32(len(items)) >= limit {
				return items, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Ping checks that the table exists and is reachable.
func (c *Client) Ping(ctx context.Context, table string) error {
	return c.call(ctx, table, "describe", func(ctx context.Context) error {
		_, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		return err
	})
}

// ============================================================
// Retry & error classification
// ============================================================

type errClass int

const (
	classOther errClass = iota
	classThrottled
	classTableMissing
	classMalformed
	classConditional
	classTimeout
)

func classify(err error) errClass {
	var throughput *types.ProvisionedThroughputExceededException
	var requestLimit *types.RequestLimitExceeded
	var notFound *types.ResourceNotFoundException
	var condErr *types.ConditionalCheckFailedException
	var apiErr smithy.APIError

	switch {
	case errors.As(err, &condErr):
		return classConditional
	case errors.As(err, &throughput), errors.As(err, &requestLimit):
		return classThrottled
	case errors.As(err, &notFound):
		return classTableMissing
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return classTimeout
	case errors.As(err, &apiErr):
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ProvisionedThroughputExceededException", "RequestLimitExceeded":
			return classThrottled
		case "ValidationException", "SerializationException":
			return classMalformed
		case "ResourceNotFoundException":
			return classTableMissing
		}
	}
	return classOther
}

// call runs fn under the per-call timeout, retrying throttled attempts
// after a fixed delay until MaxAttempts is reached.
func (c *Client) call(ctx context.Context, table, op string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "dynamo."+op, trace.WithAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.table", table),
	))
	defer span.End()

	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			c.metrics.IncrStoreOp(table, op, "ok")
			return nil
		}
		span.RecordError(err)

		switch classify(err) {
		case classThrottled:
			if attempt >= c.cfg.MaxAttempts {
				c.metrics.IncrStoreOp(table, op, "unavailable")
				c.logger.Error("dynamo: retries exhausted",
					zap.String("table", table),
					zap.String("op", op),
					zap.Int("attempts", attempt),
					zap.Error(err),
				)
				return &domain.ErrStoreUnavailable{Operation: op, Err: err}
			}
			c.metrics.IncrStoreRetry(table, op)
			c.logger.Warn("dynamo: throughput exceeded, retrying",
				zap.String("table", table),
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", c.cfg.RetryDelay),
			)
			if err := sleepCtx(ctx, c.cfg.RetryDelay); err != nil {
				c.metrics.IncrStoreOp(table, op, "unavailable")
				return &domain.ErrStoreUnavailable{Operation: op, Err: err}
			}

		case classConditional:
			c.metrics.IncrStoreOp(table, op, "condition_failed")
			return ErrItemNotFound

		case classTableMissing:
			c.metrics.IncrStoreOp(table, op, "table_not_found")
			c.logger.Error("dynamo: table not found", zap.String("table", table), zap.String("op", op))
			return fmt.Errorf("%w: %s: %v", ErrTableNotFound, table, err)

		case classMalformed:
			c.metrics.IncrStoreOp(table, op, "malformed")
			c.logger.Error("dynamo: malformed request",
				zap.String("table", table),
				zap.String("op", op),
				zap.Error(err),
			)
			return fmt.Errorf("%w: %v", ErrMalformedRequest, err)

		default:
			c.metrics.IncrStoreOp(table, op, "unavailable")
			c.logger.Warn("dynamo: call failed",
				zap.String("table", table),
				zap.String("op", op),
				zap.Error(err),
			)
			return &domain.ErrStoreUnavailable{Operation: op, Err: err}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ============================================================
// Request builders
// ============================================================

func keyAttributes(key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: key.PK},
		AttrSK: &types.AttributeValueMemberS{Value: key.SK},
	}
}

// buildUpdate renders "SET #attrN = :valN, ..., #updated_at = :updated_at
// [REMOVE #rmN, ...]" conditioned on the item existing.
func buildUpdate(table string, key Key, upd Update, now time.Time) (*dynamodb.UpdateItemInput, error) {
	names := map[string]string{
		"#pk":         AttrPK,
		"#updated_at": AttrUpdatedAt,
	}
	values := map[string]types.AttributeValue{
		":updated_at": &types.AttributeValueMemberS{Value: now.UTC().Format(TimeLayout)},
	}

	attrs := make([]string, 0, len(upd.Set))
	for k := range upd.Set {
		if k == AttrPK || k == AttrSK || k == AttrUpdatedAt || k == AttrCreatedAt {
			continue
		}
		attrs = append(attrs, k)
	}
	sort.Strings(attrs)

	setClauses := make([]string, 0, len(attrs)+1)
	for i, k := range attrs {
		av, err := ToStore(upd.Set[k])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		names[nameKey] = k
		values[valueKey] = av
		setClauses = append(setClauses, nameKey+" = "+valueKey)
	}
	setClauses = append(setClauses, "#updated_at = :updated_at")
	expr := "SET " + strings.Join(setClauses, ", ")

	var removeClauses []string
	for i, k := range upd.Remove {
		if _, alsoSet := upd.Set[k]; alsoSet || k == AttrPK || k == AttrSK {
			continue
		}
		nameKey := fmt.Sprintf("#rm%d", i)
		names[nameKey] = k
		removeClauses = append(removeClauses, nameKey)
	}
	if len(removeClauses) > 0 {
		expr += " REMOVE " + strings.Join(removeClauses, ", ")
	}

	return &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       keyAttributes(key),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	}, nil
}

func buildQuery(in QueryInput) (*dynamodb.QueryInput, error) {
	kc, err := buildKeyCondition(in.Key)
	if err != nil {
		return nil, err
	}
	builder := expression.NewBuilder().WithKeyCondition(kc)
	if cond, ok := buildFilter(in.Filters); ok {
		builder = builder.WithFilter(cond)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	start, err := DecodeToken(in.NextToken)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(in.Table),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ExclusiveStartKey:         start,
		ScanIndexForward:          aws.Bool(!in.Descending),
	}
	if in.Index != "" {
		input.IndexName = aws.String(string(in.Index))
	}
	if in.Limit > 0 {
		input.Limit = aws.Int32(in.Limit)
	}
	return input, nil
}

func buildKeyCondition(k KeyCondition) (expression.KeyConditionBuilder, error) {
	if k.PartitionAttr == "" {
		return expression.KeyConditionBuilder{}, fmt.Errorf("%w: missing partition key", ErrMalformedRequest)
	}
	kc := expression.Key(k.PartitionAttr).Equal(expression.Value(k.PartitionValue))
	sk := expression.Key(k.SortAttr)
	switch k.Op {
	case SortNone:
		return kc, nil
	case SortEqual:
		return kc.And(sk.Equal(expression.Value(k.SortValue))), nil
	case SortBeginsWith:
		return kc.And(sk.BeginsWith(k.SortValue)), nil
	case SortLess:
		return kc.And(sk.LessThan(expression.Value(k.SortValue))), nil
	case SortLessEqual:
		return kc.And(sk.LessThanEqual(expression.Value(k.SortValue))), nil
	case SortGreaterEqual:
		return kc.And(sk.GreaterThanEqual(expression.Value(k.SortValue))), nil
	case SortBetween:
		return kc.And(sk.Between(expression.Value(k.SortValue), expression.Value(k.SortValueTo))), nil
	}
	return expression.KeyConditionBuilder{}, fmt.Errorf("%w: unknown sort operator %d", ErrMalformedRequest, k.Op)
}

func buildFilter(filters []Filter) (expression.ConditionBuilder, bool) {
	conds := make([]expression.ConditionBuilder, 0, len(filters))
	for _, f := range filters {
		name := expression.Name(f.Attr)
		switch f.Op {
		case FilterEqual:
			conds = append(conds, name.Equal(expression.Value(plainValue(f.Value))))
		case FilterNotEqual:
			conds = append(conds, name.NotEqual(expression.Value(plainValue(f.Value))))
		case FilterContains:
			conds = append(conds, name.Contains(fmt.Sprint(plainValue(f.Value))))
		case FilterBeginsWith:
			conds = append(conds, name.BeginsWith(fmt.Sprint(plainValue(f.Value))))
		case FilterExists:
			conds = append(conds, name.AttributeExists())
		case FilterNotExists:
			conds = append(conds, name.AttributeNotExists())
		}
	}
	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return conds[0], true
	default:
		return expression.And(conds[0], conds[1], conds[2:]...), true
	}
}

// plainValue reduces filter operands to the forms the codec stores:
// typed strings to string, times to their stored layout.
func plainValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(TimeLayout)
	case string, bool, int, int64, float64:
		return x
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String()
	}
	return v
}

// NewSDKClient builds the DynamoDB client for NewClient. The SDK retryer is
// disabled; endpoint overrides the resolved endpoint when set (DynamoDB Local).
func NewSDKClient(awsCfg aws.Config, endpoint string) *dynamodb.Client {
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.Retryer = aws.NopRetryer{}
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}
