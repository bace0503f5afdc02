package dynamo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// fakeAPI records calls and returns scripted errors.
type fakeAPI struct {
	mu sync.Mutex

	calls      map[string]int
	errs       []error // consumed one per call, nil entries succeed
	getItem    map[string]types.AttributeValue
	updateAttr map[string]types.AttributeValue
	lastUpdate *dynamodb.UpdateItemInput
	lastQuery  *dynamodb.QueryInput
	batchSizes []int
	unprocess  int // items left unprocessed on the first batch call
}

func newFakeAPI(errs ...error) *fakeAPI {
	return &fakeAPI{calls: make(map[string]int), errs: errs}
}

func (f *fakeAPI) next(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeAPI) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if err := f.next("get"); err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: f.getItem}, nil
}

func (f *fakeAPI) PutItem(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if err := f.next("put"); err != nil {
		return nil, err
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdate = in
	if err := f.next("update"); err != nil {
		return nil, err
	}
	return &dynamodb.UpdateItemOutput{Attributes: f.updateAttr}, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, _ *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return &dynamodb.DeleteItemOutput{}, f.next("delete")
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQuery = in
	if err := f.next("query"); err != nil {
		return nil, err
	}
	return &dynamodb.QueryOutput{}, nil
}

func (f *fakeAPI) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if err := f.next("scan"); err != nil {
		return nil, err
	}
	return &dynamodb.ScanOutput{}, nil
}

func (f *fakeAPI) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if err := f.next("batch"); err != nil {
		return nil, err
	}
	out := &dynamodb.BatchWriteItemOutput{}
	for table, reqs := range in.RequestItems {
		f.batchSizes = append(f.batchSizes, len(reqs))
		if f.unprocess > 0 && f.unprocess <= len(reqs) {
			out.UnprocessedItems = map[string][]types.WriteRequest{table: reqs[len(reqs)-f.unprocess:]}
			f.unprocess = 0
		}
	}
	return out, nil
}

func (f *fakeAPI) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, f.next("describe")
}

func testClient(api API, attempts int) (*Client, *observability.Metrics) {
	m := observability.NewMetrics()
	return NewClient(api, ClientConfig{MaxAttempts: attempts, RetryDelay: 0, CallTimeout: 0}, m, zap.NewNop()), m
}

func throttled() error {
	return &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
}

func TestClient_ThrottlingExhaustsAttempts(t *testing.T) {
	api := newFakeAPI(throttled(), throttled(), throttled(), throttled())
	c, m := testClient(api, 3)

	_, err := c.Get(context.Background(), "Main", PrimaryKey(EntityCustomer, "c1"))

	var unavailable *domain.ErrStoreUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if api.calls["get"] != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", api.calls["get"])
	}
	if got := m.StoreRetryCount("Main", "get"); got != 2 {
		t.Errorf("expected 2 retries recorded, got %v", got)
	}
}

func TestClient_ThrottlingThenSuccess(t *testing.T) {
	api := newFakeAPI(&smithy.GenericAPIError{Code: "ThrottlingException"}, nil)
	api.getItem = map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "c1"}}
	c, _ := testClient(api, 3)

	item, err := c.Get(context.Background(), "Main", PrimaryKey(EntityCustomer, "c1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item["id"] != "c1" {
		t.Errorf("unexpected item: %v", item)
	}
	if api.calls["get"] != 2 {
		t.Errorf("expected 2 attempts, got %d", api.calls["get"])
	}
}

func TestClient_GetMissingReturnsNil(t *testing.T) {
	c, _ := testClient(newFakeAPI(), 3)
	item, err := c.Get(context.Background(), "Main", PrimaryKey(EntityCustomer, "nope"))
	if err != nil || item != nil {
		t.Errorf("expected nil, nil; got %v, %v", item, err)
	}
}

func TestClient_TableNotFoundIsNotRetried(t *testing.T) {
	api := newFakeAPI(&types.ResourceNotFoundException{Message: aws.String("no table")})
	c, _ := testClient(api, 3)

	err := c.Put(context.Background(), "Missing", map[string]any{"PK": "A#1", "SK": "METADATA"})
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
	if api.calls["put"] != 1 {
		t.Errorf("expected a single attempt, got %d", api.calls["put"])
	}
}

func TestClient_ValidationIsMalformed(t *testing.T) {
	api := newFakeAPI(&smithy.GenericAPIError{Code: "ValidationException", Message: "bad key"})
	c, _ := testClient(api, 3)

	err := c.Delete(context.Background(), "Main", PrimaryKey(EntityCustomer, "c1"))
	if !errors.Is(err, ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
	if api.calls["delete"] != 1 {
		t.Errorf("expected a single attempt, got %d", api.calls["delete"])
	}
}

func TestClient_UpdateMissingItem(t *testing.T) {
	api := newFakeAPI(&types.ConditionalCheckFailedException{Message: aws.String("nope")})
	c, _ := testClient(api, 3)

	_, err := c.Update(context.Background(), "Main", PrimaryKey(EntityCustomer, "c1"), Update{
		Set: map[string]any{"status": "inactive"},
	})
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestClient_UpdateExpression(t *testing.T) {
	api := newFakeAPI()
	api.updateAttr = map[string]types.AttributeValue{"status": &types.AttributeValueMemberS{Value: "paid"}}
	c, _ := testClient(api, 3)

	item, err := c.Update(context.Background(), "Main", PrimaryKey(EntityInvoice, "i1"), Update{
		Set:    map[string]any{"status": "paid", "amount_paid": 1000.0},
		Remove: []string{"GSI3PK", "GSI3SK", "status"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if item["status"] != "paid" {
		t.Errorf("unexpected returned item: %v", item)
	}

	in := api.lastUpdate
	expr := aws.ToString(in.UpdateExpression)
	if expr != "SET #attr0 = :val0, #attr1 = :val1, #updated_at = :updated_at REMOVE #rm0, #rm1" {
		t.Errorf("unexpected update expression: %s", expr)
	}
	if in.ExpressionAttributeNames["#attr0"] != "amount_paid" || in.ExpressionAttributeNames["#attr1"] != "status" {
		t.Errorf("unexpected names: %v", in.ExpressionAttributeNames)
	}
	if aws.ToString(in.ConditionExpression) != "attribute_exists(#pk)" {
		t.Errorf("unexpected condition: %s", aws.ToString(in.ConditionExpression))
	}
	if in.ReturnValues != types.ReturnValueAllNew {
		t.Errorf("expected ALL_NEW, got %s", in.ReturnValues)
	}
}

func TestClient_QueryBuildsIndexRequest(t *testing.T) {
	api := newFakeAPI()
	c, _ := testClient(api, 3)

	_, err := c.Query(context.Background(), QueryInput{
		Table:      "Main",
		Index:      GSI5,
		Key:        PartitionEquals(GSI5.PKAttr(), "COMPANY#co1").BeginsWith(GSI5.SKAttr(), "CUSTOMER#"),
		Filters:    []Filter{Eq("is_active", true)},
		Limit:      10,
		Descending: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	q := api.lastQuery
	if aws.ToString(q.IndexName) != "GSI5-Index" {
		t.Errorf("unexpected index: %s", aws.ToString(q.IndexName))
	}
	if aws.ToInt32(q.Limit) != 10 || aws.ToBool(q.ScanIndexForward) {
		t.Errorf("unexpected limit/direction: %v %v", aws.ToInt32(q.Limit), aws.ToBool(q.ScanIndexForward))
	}
	if !strings.Contains(aws.ToString(q.KeyConditionExpression), "begins_with") {
		t.Errorf("unexpected key condition: %s", aws.ToString(q.KeyConditionExpression))
	}
	if q.FilterExpression == nil {
		t.Error("expected a filter expression")
	}
}

func TestClient_QueryRejectsBadToken(t *testing.T) {
	api := newFakeAPI()
	c, _ := testClient(api, 3)
	_, err := c.Query(context.Background(), QueryInput{
		Table:     "Main",
		Key:       PartitionEquals(AttrPK, "INVOICE#i1"),
		NextToken: "!!!",
	})
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if api.calls["query"] != 0 {
		t.Error("query should not be issued with an invalid token")
	}
}

func TestClient_ScanIsCounted(t *testing.T) {
	c, m := testClient(newFakeAPI(), 3)
	if _, err := c.Scan(context.Background(), "Main", nil, 0); err != nil {
		t.Fatal(err)
	}
	if got := m.ScanCount("Main"); got != 1 {
		t.Errorf("expected 1 scan recorded, got %v", got)
	}
}

func batchItems(n int) []map[string]any {
	items := make([]map[string]any, n)
	for i := range items {
		items[i] = map[string]any{"PK": "A#" + string(rune('a'+i%26)) + strings.Repeat("x", i/26), "SK": "METADATA"}
	}
	return items
}

func TestClient_BatchWriteChunks(t *testing.T) {
	api := newFakeAPI()
	c, _ := testClient(api, 3)

	n, err := c.BatchWrite(context.Background(), "Main", batchItems(60))
	if err != nil {
		t.Fatal(err)
	}
	if n != 60 {
		t.Errorf("expected 60 written, got %d", n)
	}
	want := []int{25, 25, 10}
	if len(api.batchSizes) != len(want) {
		t.Fatalf("expected %d batch calls, got %v", len(want), api.batchSizes)
	}
	for i := range want {
		if api.batchSizes[i] != want[i] {
			t.Errorf("batch %d: expected %d, got %d", i, want[i], api.batchSizes[i])
		}
	}
}

func TestClient_BatchWriteRetriesUnprocessed(t *testing.T) {
	api := newFakeAPI()
	api.unprocess = 5
	c, _ := testClient(api, 3)

	n, err := c.BatchWrite(context.Background(), "Main", batchItems(20))
	if err != nil {
		t.Fatal(err)
	}
	if n != 20 {
		t.Errorf("expected 20 written, got %d", n)
	}
	if len(api.batchSizes) != 2 || api.batchSizes[1] != 5 {
		t.Errorf("expected a follow-up batch of 5, got %v", api.batchSizes)
	}
}

func TestClient_BatchWritePartialFailure(t *testing.T) {
	tableErr := &types.ResourceNotFoundException{Message: aws.String("gone")}
	api := newFakeAPI(nil, tableErr)
	c, _ := testClient(api, 3)

	n, err := c.BatchWrite(context.Background(), "Main", batchItems(30))
	var bwe *BatchWriteError
	if !errors.As(err, &bwe) {
		t.Fatalf("expected BatchWriteError, got %v", err)
	}
	if n != 25 || bwe.Written != 25 {
		t.Errorf("expected 25 written before failure, got %d/%d", n, bwe.Written)
	}
	if !errors.Is(err, ErrTableNotFound) {
		t.Errorf("expected wrapped ErrTableNotFound, got %v", err)
	}
}

func TestClient_PingMapsErrors(t *testing.T) {
	c, _ := testClient(newFakeAPI(&types.ResourceNotFoundException{Message: aws.String("x")}), 3)
	if err := c.Ping(context.Background(), "Main"); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("expected ErrTableNotFound, got %v", err)
	}
}
