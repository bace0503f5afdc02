package dynamo

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// MemStore is an in-process Store. Items are kept in their encoded form so
// reads observe the same conversions as the DynamoDB client.
type MemStore struct {
	mu     sync.RWMutex
	tables map[string]map[Key]map[string]types.AttributeValue
	scans  map[string]int
	fail   error
	now    func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty store. Tables are created on first write.
func NewMemStore() *MemStore {
	return &MemStore{
		tables: make(map[string]map[Key]map[string]types.AttributeValue),
		scans:  make(map[string]int),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// FailWith makes every subsequent call return err until called with nil.
func (m *MemStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// ScanCount reports how many scans hit table.
func (m *MemStore) ScanCount(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scans[table]
}

// Len reports the number of items in table.
func (m *MemStore) Len(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[table])
}

func (m *MemStore) table(name string) map[Key]map[string]types.AttributeValue {
	t, ok := m.tables[name]
	if !ok {
		t = make(map[Key]map[string]types.AttributeValue)
		m.tables[name] = t
	}
	return t
}

func (m *MemStore) Get(_ context.Context, table string, key Key) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail != nil {
		return nil, m.fail
	}
	raw, ok := m.tables[table][key]
	if !ok {
		return nil, nil
	}
	return DecodeItem(raw)
}

func (m *MemStore) Put(_ context.Context, table string, item map[string]any) error {
	key, err := itemKey(item)
	if err != nil {
		return err
	}
	av, err := EncodeItem(stampTimestamps(item, m.now()))
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.table(table)[key] = av
	return nil
}

func (m *MemStore) Update(_ context.Context, table string, key Key, upd Update) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	current, ok := m.tables[table][key]
	if !ok {
		return nil, ErrItemNotFound
	}

	next := make(map[string]types.AttributeValue, len(current)+len(upd.Set))
	for k, v := range current {
		next[k] = v
	}
	for _, k := range upd.Remove {
		if _, alsoSet := upd.Set[k]; alsoSet || k == AttrPK || k == AttrSK {
			continue
		}
		delete(next, k)
	}
	for k, v := range upd.Set {
		if k == AttrPK || k == AttrSK || k == AttrCreatedAt || k == AttrUpdatedAt {
			continue
		}
		av, err := ToStore(v)
		if err != nil {
			return nil, err
		}
		next[k] = av
	}
	next[AttrUpdatedAt] = &types.AttributeValueMemberS{Value: m.now().Format(TimeLayout)}

	m.tables[table][key] = next
	return DecodeItem(next)
}

func (m *MemStore) Delete(_ context.Context, table string, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	delete(m.tables[table], key)
	return nil
}

func (m *MemStore) BatchWrite(ctx context.Context, table string, items []map[string]any) (int, error) {
	for i, item := range items {
		if err := m.Put(ctx, table, item); err != nil {
			return i, &BatchWriteError{Written: i, Err: err}
		}
	}
	return len(items), nil
}

func (m *MemStore) Scan(_ context.Context, table string, filters []Filter, limit int32) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	m.scans[table]++

	keys := make([]Key, 0, len(m.tables[table]))
	for k := range m.tables[table] {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b Key) int {
		if c := strings.Compare(a.PK, b.PK); c != 0 {
			return c
		}
		return strings.Compare(a.SK, b.SK)
	})

	var out []map[string]any
	for _, k := range keys {
		raw := m.tables[table][k]
		ok, err := matchFilters(raw, filters)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		item, err := DecodeItem(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
		if limit > 0 && int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

// Ping reports the injected failure, if any.
func (m *MemStore) Ping(context.Context, string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fail
}

type memCandidate struct {
	key  Key
	sort string
	raw  map[string]types.AttributeValue
}

func (m *MemStore) Query(_ context.Context, in QueryInput) (QueryOutput, error) {
	if in.Key.PartitionAttr == "" {
		return QueryOutput{}, ErrMalformedRequest
	}
	start, err := DecodeToken(in.NextToken)
	if err != nil {
		return QueryOutput{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail != nil {
		return QueryOutput{}, m.fail
	}

	sortAttr := in.Key.SortAttr
	if sortAttr == "" {
		sortAttr = AttrSK
		if in.Index != "" {
			sortAttr = in.Index.SKAttr()
		}
	}

	var matched []memCandidate
	for k, raw := range m.tables[in.Table] {
		if stringAttr(raw, in.Key.PartitionAttr) != in.Key.PartitionValue {
			continue
		}
		if _, ok := raw[in.Key.PartitionAttr]; !ok {
			continue
		}
		sv, hasSort := raw[sortAttr]
		if !hasSort {
			continue
		}
		s := stringOf(sv)
		if !matchSort(in.Key, s) {
			continue
		}
		matched = append(matched, memCandidate{key: k, sort: s, raw: raw})
	}

	cmp := func(a, b memCandidate) int {
		if c := strings.Compare(a.sort, b.sort); c != 0 {
			return c
		}
		if c := strings.Compare(a.key.PK, b.key.PK); c != 0 {
			return c
		}
		return strings.Compare(a.key.SK, b.key.SK)
	}
	slices.SortFunc(matched, cmp)
	if in.Descending {
		slices.Reverse(matched)
	}

	if start != nil {
		cursor := memCandidate{
			key:  Key{PK: stringAttr(start, AttrPK), SK: stringAttr(start, AttrSK)},
			sort: stringAttr(start, sortAttr),
		}
		idx := len(matched)
		for i, c := range matched {
			d := cmp(c, cursor)
			if in.Descending {
				d = -d
			}
			if d > 0 {
				idx = i
				break
			}
		}
		matched = matched[idx:]
	}

	// Limit bounds evaluated items before filtering, as DynamoDB does.
	page := matched
	more := false
	if in.Limit > 0 && int(in.Limit) < len(matched) {
		page = matched[:in.Limit]
		more = true
	}

	items := make([]map[string]any, 0, len(page))
	for _, c := range page {
		ok, err := matchFilters(c.raw, in.Filters)
		if err != nil {
			return QueryOutput{}, err
		}
		if !ok {
			continue
		}
		item, err := DecodeItem(c.raw)
		if err != nil {
			return QueryOutput{}, err
		}
		items = append(items, item)
	}

	out := QueryOutput{Items: items, Count: len(items)}
	if more {
		last := page[len(page)-1]
		lastKey := map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: last.key.PK},
			AttrSK: &types.AttributeValueMemberS{Value: last.key.SK},
		}
		if in.Index != "" {
			lastKey[in.Index.PKAttr()] = last.raw[in.Index.PKAttr()]
			lastKey[sortAttr] = last.raw[sortAttr]
		}
		token, err := EncodeToken(lastKey)
		if err != nil {
			return QueryOutput{}, err
		}
		out.NextToken = token
	}
	return out, nil
}

func matchSort(k KeyCondition, v string) bool {
	switch k.Op {
	case SortNone:
		return true
	case SortEqual:
		return v == k.SortValue
	case SortBeginsWith:
		return strings.HasPrefix(v, k.SortValue)
	case SortLess:
		return v < k.SortValue
	case SortLessEqual:
		return v <= k.SortValue
	case SortGreaterEqual:
		return v >= k.SortValue
	case SortBetween:
		return v >= k.SortValue && v <= k.SortValueTo
	}
	return false
}

func matchFilters(raw map[string]types.AttributeValue, filters []Filter) (bool, error) {
	for _, f := range filters {
		av, present := raw[f.Attr]
		if _, isNull := av.(*types.AttributeValueMemberNULL); isNull {
			present = false
		}
		switch f.Op {
		case FilterExists:
			if !present {
				return false, nil
			}
		case FilterNotExists:
			if present {
				return false, nil
			}
		case FilterEqual, FilterNotEqual:
			want, err := ToStore(plainValue(f.Value))
			if err != nil {
				return false, err
			}
			eq := present && avEqual(av, want)
			if (f.Op == FilterEqual) != eq {
				return false, nil
			}
		case FilterContains:
			if !present || !avContains(av, stringOf(mustString(f.Value))) {
				return false, nil
			}
		case FilterBeginsWith:
			s, ok := av.(*types.AttributeValueMemberS)
			if !present || !ok || !strings.HasPrefix(s.Value, stringOf(mustString(f.Value))) {
				return false, nil
			}
		}
	}
	return true, nil
}

func mustString(v any) types.AttributeValue {
	av, err := ToStore(plainValue(v))
	if err != nil {
		return &types.AttributeValueMemberS{}
	}
	return av
}

func avEqual(a, b types.AttributeValue) bool {
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		dx, err1 := decimal.NewFromString(x.Value)
		dy, err2 := decimal.NewFromString(y.Value)
		return err1 == nil && err2 == nil && dx.Equal(dy)
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && x.Value == y.Value
	}
	return false
}

func avContains(av types.AttributeValue, sub string) bool {
	switch x := av.(type) {
	case *types.AttributeValueMemberS:
		return strings.Contains(x.Value, sub)
	case *types.AttributeValueMemberL:
		for _, e := range x.Value {
			if s, ok := e.(*types.AttributeValueMemberS); ok && s.Value == sub {
				return true
			}
		}
	case *types.AttributeValueMemberSS:
		return slices.Contains(x.Value, sub)
	}
	return false
}

func stringAttr(raw map[string]types.AttributeValue, name string) string {
	return stringOf(raw[name])
}

func stringOf(av types.AttributeValue) string {
	switch x := av.(type) {
	case *types.AttributeValueMemberS:
		return x.Value
	case *types.AttributeValueMemberN:
		return x.Value
	}
	return ""
}
