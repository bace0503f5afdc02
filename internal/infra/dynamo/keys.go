// Package dynamo is the single-table data-access layer: key derivation,
// attribute conversion and a resilient store client over DynamoDB.
package dynamo

import (
	"fmt"
	"strings"
	"time"
)

// EntityType is the discriminator stored on every item.
type EntityType string

const (
	EntityUser        EntityType = "USER"
	EntityCompany     EntityType = "COMPANY"
	EntityMembership  EntityType = "USER_COMPANY"
	EntityCustomer    EntityType = "CUSTOMER"
	EntityInvoice     EntityType = "INVOICE"
	EntityInvoiceItem EntityType = "INVOICE_ITEM"
	EntityPayment     EntityType = "PAYMENT"
	EntityPlan        EntityType = "PLAN"
	EntityReceipt     EntityType = "RECEIPT"
	EntityRisk        EntityType = "RISK"
	EntityComm        EntityType = "COMM"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityUser, EntityCompany, EntityMembership, EntityCustomer, EntityInvoice,
		EntityInvoiceItem, EntityPayment, EntityPlan, EntityReceipt, EntityRisk, EntityComm:
		return true
	}
	return false
}

// Attribute names shared by every item.
const (
	AttrPK         = "PK"
	AttrSK         = "SK"
	AttrEntityType = "EntityType"
	AttrCreatedAt  = "created_at"
	AttrUpdatedAt  = "updated_at"
)

// MetadataSK is the sort key of an entity's own record.
const MetadataSK = "METADATA"

// TimeLayout is the fixed-width, lexically sortable ISO-8601 form used for
// stored timestamps and timestamp key components.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Key is a primary key pair.
type Key struct {
	PK string
	SK string
}

// Index is a generic global secondary index.
type Index string

const (
	GSI1 Index = "GSI1-Index"
	GSI2 Index = "GSI2-Index"
	GSI3 Index = "GSI3-Index"
	GSI4 Index = "GSI4-Index"
	GSI5 Index = "GSI5-Index"
)

// Indexes lists every index in order.
var Indexes = []Index{GSI1, GSI2, GSI3, GSI4, GSI5}

func (i Index) prefix() string {
	return strings.TrimSuffix(string(i), "-Index")
}

// PKAttr is the partition key attribute of the index, e.g. GSI1PK.
func (i Index) PKAttr() string { return i.prefix() + "PK" }

// SKAttr is the sort key attribute of the index, e.g. GSI1SK.
func (i Index) SKAttr() string { return i.prefix() + "SK" }

// IndexKey is the projection of an item onto one index. A nil Key means the
// item must not appear in that index.
type IndexKey struct {
	Index Index
	Key   *Key
}

// Overdue index partition value.
const OverduePK = "OVERDUE"

// PrimaryKey returns the key of an entity's own record.
func PrimaryKey(t EntityType, id string) Key {
	return Key{PK: string(t) + "#" + id, SK: MetadataSK}
}

// ItemKey returns the key of an invoice line, stored under the invoice partition.
func ItemKey(invoiceID string, line int) Key {
	return Key{PK: string(EntityInvoice) + "#" + invoiceID, SK: fmt.Sprintf("ITEM#%03d", line)}
}

// ItemPrefix is the sort-key prefix shared by invoice lines.
const ItemPrefix = "ITEM#"

// Prefix builds "TYPE#value", the partition form used by parent lookups.
func Prefix(t EntityType, value string) string {
	return string(t) + "#" + value
}

// SecondaryKeys derives every index projection of an entity from its
// current attributes. The result always has one entry per index.
func SecondaryKeys(t EntityType, attrs map[string]any) []IndexKey {
	keys := make(map[Index]*Key, len(Indexes))
	id := part(attrs["id"])
	created := part(attrs[AttrCreatedAt])

	switch t {
	case EntityUser:
		keys[GSI4] = &Key{PK: "EMAIL#" + strings.ToLower(part(attrs["email"])), SK: string(EntityUser)}

	case EntityMembership:
		uid, cid := part(attrs["user_id"]), part(attrs["company_id"])
		keys[GSI1] = &Key{PK: Prefix(EntityUser, uid), SK: Prefix(EntityCompany, cid)}
		keys[GSI5] = &Key{PK: Prefix(EntityCompany, cid), SK: Prefix(EntityUser, uid)}

	case EntityCustomer:
		keys[GSI5] = &Key{
			PK: Prefix(EntityCompany, part(attrs["company_id"])),
			SK: "CUSTOMER#" + part(attrs["customer_name"]) + "#" + id,
		}

	case EntityInvoice:
		issue := part(attrs["issue_date"])
		status := part(attrs["status"])
		keys[GSI1] = &Key{PK: Prefix(EntityCustomer, part(attrs["customer_id"])), SK: "INVOICE#" + issue + "#" + id}
		keys[GSI2] = &Key{PK: "STATUS#" + status, SK: "INVOICE#" + id}
		if status != "paid" && status != "cancelled" {
			keys[GSI3] = &Key{PK: OverduePK, SK: part(attrs["due_date"]) + "#" + id}
		}
		keys[GSI5] = &Key{PK: Prefix(EntityCompany, part(attrs["company_id"])), SK: "INVOICE#" + issue + "#" + id}

	case EntityPayment:
		date := part(attrs["payment_date"])
		keys[GSI1] = &Key{PK: Prefix(EntityInvoice, part(attrs["invoice_id"])), SK: "PAYMENT#" + date + "#" + id}
		keys[GSI2] = &Key{PK: Prefix(EntityCustomer, part(attrs["customer_id"])), SK: "PAYMENT#" + date + "#" + id}

	case EntityPlan:
		keys[GSI1] = &Key{PK: Prefix(EntityInvoice, part(attrs["invoice_id"])), SK: "PLAN#" + created + "#" + id}

	case EntityReceipt:
		keys[GSI1] = &Key{PK: Prefix(EntityInvoice, part(attrs["invoice_id"])), SK: "RECEIPT#" + created + "#" + id}

	case EntityRisk:
		keys[GSI1] = &Key{PK: Prefix(EntityCustomer, part(attrs["customer_id"])), SK: "RISK#" + created + "#" + id}
		keys[GSI2] = &Key{PK: "RISK_LEVEL#" + part(attrs["risk_level"]), SK: created + "#" + id}

	case EntityComm:
		keys[GSI1] = &Key{PK: Prefix(EntityCustomer, part(attrs["customer_id"])), SK: "COMM#" + created + "#" + id}
		if inv := part(attrs["invoice_id"]); inv != "" {
			keys[GSI2] = &Key{PK: Prefix(EntityInvoice, inv), SK: "COMM#" + created + "#" + id}
		}
	}

	out := make([]IndexKey, len(Indexes))
	for i, idx := range Indexes {
		out[i] = IndexKey{Index: idx, Key: keys[idx]}
	}
	return out
}

// IndexAttributes splits projections into attributes to set and attribute
// names to remove, so a write replaces the whole index set.
func IndexAttributes(keys []IndexKey) (set map[string]any, remove []string) {
	set = make(map[string]any, 2*len(keys))
	for _, k := range keys {
		if k.Key == nil {
			remove = append(remove, k.Index.PKAttr(), k.Index.SKAttr())
			continue
		}
		set[k.Index.PKAttr()] = k.Key.PK
		set[k.Index.SKAttr()] = k.Key.SK
	}
	return set, remove
}

// NewItem assembles a full item: attributes, primary key, discriminator and
// every present index projection. Absent projections are omitted.
func NewItem(t EntityType, key Key, attrs map[string]any) map[string]any {
	item := make(map[string]any, len(attrs)+13)
	for k, v := range attrs {
		item[k] = v
	}
	item[AttrPK] = key.PK
	item[AttrSK] = key.SK
	item[AttrEntityType] = string(t)
	set, _ := IndexAttributes(SecondaryKeys(t, attrs))
	for k, v := range set {
		item[k] = v
	}
	return item
}

func part(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format(TimeLayout)
	case *time.Time:
		if x == nil {
			return ""
		}
		return x.UTC().Format(TimeLayout)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
