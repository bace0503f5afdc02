package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store-level errors. Repositories translate them into domain errors.
var (
	ErrItemNotFound     = errors.New("dynamo: item not found")
	ErrTableNotFound    = errors.New("dynamo: table not found")
	ErrMalformedRequest = errors.New("dynamo: malformed request")
	ErrInvalidToken     = errors.New("dynamo: invalid continuation token")
	ErrUnsupportedType  = errors.New("dynamo: unsupported attribute type")
)

// BatchWriteError reports a batch that failed part-way through.
type BatchWriteError struct {
	Written int
	Err     error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("batch write failed after %d items: %v", e.Written, e.Err)
}

func (e *BatchWriteError) Unwrap() error {
	return e.Err
}

// MaxBatchSize is the largest number of items per BatchWriteItem call.
const MaxBatchSize = 25

// Store is the primitive item API shared by the DynamoDB client and the
// in-memory implementation. Items are attribute maps of application values.
type Store interface {
	// Get returns nil, nil when the item does not exist.
	Get(ctx context.Context, table string, key Key) (map[string]any, error)
	// Put overwrites the item, stamping updated_at and created_at if absent.
	Put(ctx context.Context, table string, item map[string]any) error
	// Update changes the named attributes of an existing item and returns
	// the item after the update. ErrItemNotFound if the key does not exist.
	Update(ctx context.Context, table string, key Key, upd Update) (map[string]any, error)
	Delete(ctx context.Context, table string, key Key) error
	Query(ctx context.Context, in QueryInput) (QueryOutput, error)
	// BatchWrite writes items in chunks of MaxBatchSize and returns how many
	// were written. On failure the error is a *BatchWriteError.
	BatchWrite(ctx context.Context, table string, items []map[string]any) (int, error)
	// Scan reads the whole table. Administrative use only.
	Scan(ctx context.Context, table string, filters []Filter, limit int32) ([]map[string]any, error)
}

// Update is a partial item update.
type Update struct {
	Set    map[string]any
	Remove []string
}

// SortOp is the comparison applied to the sort key of a query.
type SortOp int

const (
	SortNone SortOp = iota
	SortEqual
	SortBeginsWith
	SortLess
	SortLessEqual
	SortGreaterEqual
	SortBetween
)

// KeyCondition selects one partition and optionally a sort-key range.
type KeyCondition struct {
	PartitionAttr  string
	PartitionValue string
	SortAttr       string
	Op             SortOp
	SortValue      string
	SortValueTo    string
}

// PartitionEquals selects every item of a partition.
func PartitionEquals(attr, value string) KeyCondition {
	return KeyCondition{PartitionAttr: attr, PartitionValue: value}
}

// BeginsWith narrows the condition to sort keys with the given prefix.
func (k KeyCondition) BeginsWith(attr, prefix string) KeyCondition {
	k.SortAttr, k.Op, k.SortValue = attr, SortBeginsWith, prefix
	return k
}

// LessThan narrows the condition to sort keys strictly below v.
func (k KeyCondition) LessThan(attr, v string) KeyCondition {
	k.SortAttr, k.Op, k.SortValue = attr, SortLess, v
	return k
}

// Equals narrows the condition to a single sort key.
func (k KeyCondition) Equals(attr, v string) KeyCondition {
	k.SortAttr, k.Op, k.SortValue = attr, SortEqual, v
	return k
}

// Between narrows the condition to lo <= sort key <= hi.
func (k KeyCondition) Between(attr, lo, hi string) KeyCondition {
	k.SortAttr, k.Op, k.SortValue, k.SortValueTo = attr, SortBetween, lo, hi
	return k
}

// FilterOp is a non-key predicate.
type FilterOp int

const (
	FilterEqual FilterOp = iota
	FilterNotEqual
	FilterContains
	FilterBeginsWith
	FilterExists
	FilterNotExists
)

// Filter is evaluated after the key condition; filters are ANDed.
type Filter struct {
	Attr  string
	Op    FilterOp
	Value any
}

// Eq matches items whose attribute equals v.
func Eq(attr string, v any) Filter { return Filter{Attr: attr, Op: FilterEqual, Value: v} }

// Ne matches items whose attribute differs from v.
func Ne(attr string, v any) Filter { return Filter{Attr: attr, Op: FilterNotEqual, Value: v} }

// Contains matches string attributes containing substr.
func Contains(attr, substr string) Filter {
	return Filter{Attr: attr, Op: FilterContains, Value: substr}
}

// Exists matches items that have the attribute.
func Exists(attr string) Filter { return Filter{Attr: attr, Op: FilterExists} }

// NotExists matches items without the attribute.
func NotExists(attr string) Filter { return Filter{Attr: attr, Op: FilterNotExists} }

// QueryInput describes a query against the table or one of its indexes.
type QueryInput struct {
	Table      string
	Index      Index // empty queries the base table
	Key        KeyCondition
	Filters    []Filter
	Limit      int32
	Descending bool
	NextToken  string
}

// QueryOutput is one page of results.
type QueryOutput struct {
	Items     []map[string]any
	Count     int
	NextToken string
}

// stampTimestamps sets updated_at and, if absent, created_at.
func stampTimestamps(item map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(item)+2)
	for k, v := range item {
		out[k] = v
	}
	out[AttrUpdatedAt] = now
	if v, ok := out[AttrCreatedAt]; !ok || v == nil {
		out[AttrCreatedAt] = now
	}
	return out
}

// itemKey reads the primary key back out of an item.
func itemKey(item map[string]any) (Key, error) {
	pk, _ := item[AttrPK].(string)
	sk, _ := item[AttrSK].(string)
	if pk == "" || sk == "" {
		return Key{}, fmt.Errorf("%w: item without PK/SK", ErrMalformedRequest)
	}
	return Key{PK: pk, SK: sk}, nil
}
