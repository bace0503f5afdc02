// Package repository maps domain entities onto the single-table layout:
// one file per entity type, all composing a dynamo.Store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// base carries what every repository needs.
type base struct {
	store  dynamo.Store
	table  string
	logger *zap.Logger
	now    func() time.Time
}

func newBase(store dynamo.Store, table string, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		store:  store,
		table:  table,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (b *base) today() string {
	return b.now().Format(domain.DateLayout)
}

func newID() string {
	return uuid.NewString()
}

// shortCode returns n upper-case hex characters for human-facing numbers.
func shortCode(n int) string {
	s := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return s[:n]
}

// translate maps store errors onto the domain taxonomy.
func translate(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	var unavailable *domain.ErrStoreUnavailable
	switch {
	case errors.As(err, &unavailable):
		return err
	case errors.Is(err, dynamo.ErrItemNotFound):
		return &domain.ErrNotFound{Resource: resource, ID: id}
	case errors.Is(err, dynamo.ErrInvalidToken):
		return &domain.ErrValidation{Field: "next_token", Message: "is invalid"}
	}
	return fmt.Errorf("%s %s: %w", resource, id, err)
}

func isNotFound(err error) bool {
	var nf *domain.ErrNotFound
	return errors.As(err, &nf)
}

// getItem reads the METADATA record or returns ErrNotFound.
func (b *base) getItem(ctx context.Context, t dynamo.EntityType, resource, id string) (map[string]any, error) {
	item, err := b.store.Get(ctx, b.table, dynamo.PrimaryKey(t, id))
	if err != nil {
		return nil, translate(err, resource, id)
	}
	if item == nil {
		return nil, &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return item, nil
}

// putEntity writes a new entity with every index projection derived from attrs.
func (b *base) putEntity(ctx context.Context, t dynamo.EntityType, resource, id string, attrs map[string]any) error {
	item := dynamo.NewItem(t, dynamo.PrimaryKey(t, id), attrs)
	if err := b.store.Put(ctx, b.table, item); err != nil {
		return translate(err, resource, id)
	}
	return nil
}

// updateEntity applies set on top of current, re-deriving every index key
// from the merged attributes so stale projections are overwritten or removed.
func (b *base) updateEntity(ctx context.Context, t dynamo.EntityType, resource, id string, current, set map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(current)+len(set))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range set {
		merged[k] = v
	}

	idxSet, idxRemove := dynamo.IndexAttributes(dynamo.SecondaryKeys(t, merged))
	upd := dynamo.Update{Set: make(map[string]any, len(set)+len(idxSet)), Remove: idxRemove}
	for k, v := range set {
		upd.Set[k] = v
	}
	for k, v := range idxSet {
		upd.Set[k] = v
	}

	item, err := b.store.Update(ctx, b.table, dynamo.PrimaryKey(t, id), upd)
	if err != nil {
		return nil, translate(err, resource, id)
	}
	return item, nil
}

// queryPage runs one page of a query and normalizes the page request.
func (b *base) queryPage(ctx context.Context, in dynamo.QueryInput, page domain.PageRequest, resource string) (dynamo.QueryOutput, error) {
	page = page.Normalize()
	in.Table = b.table
	in.Limit = int32(page.Limit)
	in.NextToken = page.NextToken
	out, err := b.store.Query(ctx, in)
	if err != nil {
		return dynamo.QueryOutput{}, translate(err, resource, "list")
	}
	return out, nil
}

// queryAll follows continuation tokens until the result set is exhausted.
func (b *base) queryAll(ctx context.Context, in dynamo.QueryInput, resource string) ([]map[string]any, error) {
	in.Table = b.table
	var items []map[string]any
	for {
		out, err := b.store.Query(ctx, in)
		if err != nil {
			return nil, translate(err, resource, "list")
		}
		items = append(items, out.Items...)
		if out.NextToken == "" {
			return items, nil
		}
		in.NextToken = out.NextToken
	}
}

// decodePage converts a query page with fn.
func decodePage[T any](out dynamo.QueryOutput, fn func(map[string]any) *T) domain.Page[T] {
	items := make([]T, 0, len(out.Items))
	for _, it := range out.Items {
		items = append(items, *fn(it))
	}
	return domain.Page[T]{Items: items, Count: len(items), NextToken: out.NextToken}
}

func childQuery(idx dynamo.Index, parent, prefix string) dynamo.KeyCondition {
	return dynamo.PartitionEquals(idx.PKAttr(), parent).BeginsWith(idx.SKAttr(), prefix)
}

// ============================================================
// Attribute decoding
// ============================================================
//
// Stored numbers come back as int64 when integral and float64 otherwise;
// the helpers below re-widen them to the field types in one place.

func attrString(m map[string]any, k string) string {
	switch v := m[k].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func attrFloat(m map[string]any, k string) float64 {
	switch v := m[k].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func attrFloatPtr(m map[string]any, k string) *float64 {
	if _, ok := m[k]; !ok || m[k] == nil {
		return nil
	}
	f := attrFloat(m, k)
	return &f
}

func attrInt(m map[string]any, k string) int {
	switch v := m[k].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func attrBool(m map[string]any, k string) bool {
	b, _ := m[k].(bool)
	return b
}

func attrTime(m map[string]any, k string) time.Time {
	s, _ := m[k].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func attrTimePtr(m map[string]any, k string) *time.Time {
	t := attrTime(m, k)
	if t.IsZero() {
		return nil
	}
	return &t
}

func attrStrings(m map[string]any, k string) []string {
	out := []string{}
	switch v := m[k].(type) {
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	}
	return out
}

func attrMap(m map[string]any, k string) map[string]any {
	v, _ := m[k].(map[string]any)
	return v
}

func attrList(m map[string]any, k string) []map[string]any {
	raw, _ := m[k].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, e := range raw {
		if mm, ok := e.(map[string]any); ok {
			out = append(out, mm)
		}
	}
	return out
}

// timeOrNil keeps optional timestamps out of the item when unset.
func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
