// Package audit turns main-table stream records into audit trail entries.
package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// Audit entries are partitioned by entity and sorted by change time.
const (
	auditPrefix  = "AUDIT#"
	auditEntity  = "AUDIT"
	unknownActor = "system"
)

// ignoredFields never count as a change on their own.
var ignoredFields = map[string]bool{
	dynamo.AttrUpdatedAt: true,
}

// Writer is the slice of the store the handler needs.
type Writer interface {
	BatchWrite(ctx context.Context, table string, items []map[string]any) (int, error)
}

// Handler consumes DynamoDB stream batches.
type Handler struct {
	store  Writer
	table  string
	logger *zap.Logger
}

// NewHandler writes audit entries into table.
func NewHandler(store Writer, table string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, table: table, logger: logger}
}

// Handle is the Lambda entry point. A failed write fails the whole batch so
// the stream retries it; entries are keyed by event id and so idempotent.
func (h *Handler) Handle(ctx context.Context, event events.DynamoDBEvent) error {
	items := make([]map[string]any, 0, len(event.Records))
	for _, record := range event.Records {
		item, err := h.entry(record)
		if err != nil {
			h.logger.Error("audit record skipped",
				zap.String("event_id", record.EventID),
				zap.Error(err),
			)
			continue
		}
		if item != nil {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return nil
	}
	n, err := h.store.BatchWrite(ctx, h.table, items)
	if err != nil {
		return fmt.Errorf("write %d audit entries: %w", len(items), err)
	}
	h.logger.Info("audit entries written", zap.Int("records", len(event.Records)), zap.Int("written", n))
	return nil
}

// entry builds the audit item for one record, or nil when the record is not
// an entity change.
func (h *Handler) entry(record events.DynamoDBEventRecord) (map[string]any, error) {
	keys := record.Change.Keys
	pk, sk := stringAttr(keys, dynamo.AttrPK), stringAttr(keys, dynamo.AttrSK)
	if pk == "" || sk == "" {
		return nil, fmt.Errorf("record without primary key")
	}

	oldImage, err := decodeImage(record.Change.OldImage)
	if err != nil {
		return nil, fmt.Errorf("old image: %w", err)
	}
	newImage, err := decodeImage(record.Change.NewImage)
	if err != nil {
		return nil, fmt.Errorf("new image: %w", err)
	}

	entityType := entityTypeOf(newImage, oldImage)
	if entityType == "" {
		return nil, nil
	}
	changed := ChangedFields(oldImage, newImage)
	if record.EventName == string(events.DynamoDBOperationTypeModify) && len(changed) == 0 {
		return nil, nil
	}

	at := record.Change.ApproximateCreationDateTime.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	item := map[string]any{
		dynamo.AttrPK:         auditPrefix + entityType + "#" + pk,
		dynamo.AttrSK:         at.Format(dynamo.TimeLayout) + "#" + record.EventID,
		dynamo.AttrEntityType: auditEntity,
		"event_id":            record.EventID,
		"event_name":          record.EventName,
		"entity_type":         entityType,
		"entity_pk":           pk,
		"entity_sk":           sk,
		"changed_fields":      changed,
		"actor":               actorOf(newImage, oldImage),
		"recorded_at":         at,
	}
	if oldImage != nil {
		item["old_image"] = oldImage
	}
	if newImage != nil {
		item["new_image"] = newImage
	}
	return item, nil
}

// ChangedFields lists the top-level attributes whose values differ between
// the two images, sorted by name.
func ChangedFields(oldImage, newImage map[string]any) []string {
	seen := make(map[string]bool, len(oldImage)+len(newImage))
	var out []string
	check := func(k string) {
		if seen[k] || ignoredFields[k] {
			return
		}
		seen[k] = true
		if fmt.Sprint(oldImage[k]) != fmt.Sprint(newImage[k]) {
			out = append(out, k)
		}
	}
	for k := range oldImage {
		check(k)
	}
	for k := range newImage {
		check(k)
	}
	sort.Strings(out)
	return out
}

func decodeImage(image map[string]events.DynamoDBAttributeValue) (map[string]any, error) {
	if len(image) == 0 {
		return nil, nil
	}
	av := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		converted, err := ConvertAttribute(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		av[k] = converted
	}
	var out map[string]any
	if err := attributevalue.UnmarshalMap(av, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConvertAttribute maps a stream attribute onto the SDK representation.
func ConvertAttribute(v events.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}, nil
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}, nil
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}, nil
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}, nil
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}, nil
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}, nil
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}, nil
	case events.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, 0, len(list))
		for _, e := range list {
			c, err := ConvertAttribute(e)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	case events.DataTypeMap:
		m := v.Map()
		out := make(map[string]types.AttributeValue, len(m))
		for k, e := range m {
			c, err := ConvertAttribute(e)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return &types.AttributeValueMemberM{Value: out}, nil
	}
	return nil, fmt.Errorf("unsupported stream data type %v", v.DataType())
}

func entityTypeOf(images ...map[string]any) string {
	for _, img := range images {
		if s, ok := img[dynamo.AttrEntityType].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// actorOf reads the user that last touched the entity, when recorded.
func actorOf(images ...map[string]any) string {
	for _, img := range images {
		for _, k := range []string{"updated_by", "created_by"} {
			if s, ok := img[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return unknownActor
}

func stringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}
