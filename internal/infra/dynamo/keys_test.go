package dynamo

import (
	"testing"
	"time"
)

func findIndex(keys []IndexKey, idx Index) *Key {
	for _, k := range keys {
		if k.Index == idx {
			return k.Key
		}
	}
	return nil
}

func TestPrimaryKey(t *testing.T) {
	k := PrimaryKey(EntityCustomer, "c-1")
	if k.PK != "CUSTOMER#c-1" || k.SK != "METADATA" {
		t.Errorf("unexpected key: %+v", k)
	}
}

func TestItemKey_ZeroPadded(t *testing.T) {
	k := ItemKey("inv-1", 7)
	if k.PK != "INVOICE#inv-1" || k.SK != "ITEM#007" {
		t.Errorf("unexpected key: %+v", k)
	}
}

func TestIndexAttrNames(t *testing.T) {
	if GSI3.PKAttr() != "GSI3PK" || GSI3.SKAttr() != "GSI3SK" {
		t.Errorf("got %s/%s", GSI3.PKAttr(), GSI3.SKAttr())
	}
}

func TestSecondaryKeys_AlwaysOnePerIndex(t *testing.T) {
	keys := SecondaryKeys(EntityPlan, map[string]any{"id": "p"})
	if len(keys) != len(Indexes) {
		t.Fatalf("expected %d entries, got %d", len(Indexes), len(keys))
	}
}

func TestSecondaryKeys_UserEmailLowercased(t *testing.T) {
	keys := SecondaryKeys(EntityUser, map[string]any{"id": "u1", "email": "Ana@Example.COM"})
	k := findIndex(keys, GSI4)
	if k == nil || k.PK != "EMAIL#ana@example.com" || k.SK != "USER" {
		t.Errorf("unexpected GSI4 key: %+v", k)
	}
}

func TestSecondaryKeys_Membership(t *testing.T) {
	keys := SecondaryKeys(EntityMembership, map[string]any{"user_id": "u1", "company_id": "co1"})
	if k := findIndex(keys, GSI1); k == nil || k.PK != "USER#u1" || k.SK != "COMPANY#co1" {
		t.Errorf("unexpected GSI1: %+v", k)
	}
	if k := findIndex(keys, GSI5); k == nil || k.PK != "COMPANY#co1" || k.SK != "USER#u1" {
		t.Errorf("unexpected GSI5: %+v", k)
	}
}

func TestSecondaryKeys_CustomerByCompanyAndName(t *testing.T) {
	keys := SecondaryKeys(EntityCustomer, map[string]any{
		"id": "c1", "company_id": "co1", "customer_name": "Acme",
	})
	k := findIndex(keys, GSI5)
	if k == nil || k.PK != "COMPANY#co1" || k.SK != "CUSTOMER#Acme#c1" {
		t.Errorf("unexpected GSI5: %+v", k)
	}
}

func TestSecondaryKeys_InvoiceOverdueMembership(t *testing.T) {
	base := map[string]any{
		"id":          "i1",
		"customer_id": "c1",
		"company_id":  "co1",
		"issue_date":  "2024-01-01",
		"due_date":    "2024-01-31",
	}
	tests := []struct {
		status  string
		overdue bool
	}{
		{"draft", true},
		{"sent", true},
		{"partial", true},
		{"overdue", true},
		{"paid", false},
		{"cancelled", false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			attrs := map[string]any{"status": tt.status}
			for k, v := range base {
				attrs[k] = v
			}
			keys := SecondaryKeys(EntityInvoice, attrs)
			k := findIndex(keys, GSI3)
			if (k != nil) != tt.overdue {
				t.Fatalf("overdue projection present=%v, want %v", k != nil, tt.overdue)
			}
			if k != nil && (k.PK != OverduePK || k.SK != "2024-01-31#i1") {
				t.Errorf("unexpected GSI3: %+v", k)
			}
			if s := findIndex(keys, GSI2); s == nil || s.PK != "STATUS#"+tt.status {
				t.Errorf("unexpected GSI2: %+v", s)
			}
			if c := findIndex(keys, GSI1); c == nil || c.SK != "INVOICE#2024-01-01#i1" {
				t.Errorf("unexpected GSI1: %+v", c)
			}
		})
	}
}

func TestSecondaryKeys_CommInvoiceOptional(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	without := SecondaryKeys(EntityComm, map[string]any{"id": "m1", "customer_id": "c1", "created_at": created})
	if findIndex(without, GSI2) != nil {
		t.Error("expected no invoice projection without invoice_id")
	}
	with := SecondaryKeys(EntityComm, map[string]any{
		"id": "m1", "customer_id": "c1", "invoice_id": "i1", "created_at": created,
	})
	k := findIndex(with, GSI2)
	if k == nil || k.PK != "INVOICE#i1" || k.SK != "COMM#2024-03-01T12:00:00.000000Z#m1" {
		t.Errorf("unexpected GSI2: %+v", k)
	}
}

func TestSecondaryKeys_RiskByLevel(t *testing.T) {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	keys := SecondaryKeys(EntityRisk, map[string]any{
		"id": "r1", "customer_id": "c1", "risk_level": "high", "created_at": created,
	})
	k := findIndex(keys, GSI2)
	if k == nil || k.PK != "RISK_LEVEL#high" {
		t.Errorf("unexpected GSI2: %+v", k)
	}
}

func TestIndexAttributes_RemovesAbsentProjections(t *testing.T) {
	keys := SecondaryKeys(EntityInvoice, map[string]any{
		"id": "i1", "status": "paid", "customer_id": "c1", "company_id": "co1",
	})
	set, remove := IndexAttributes(keys)
	if _, ok := set["GSI3PK"]; ok {
		t.Error("GSI3PK should not be set for a paid invoice")
	}
	want := map[string]bool{"GSI3PK": true, "GSI3SK": true, "GSI4PK": true, "GSI4SK": true}
	for _, r := range remove {
		delete(want, r)
	}
	if len(want) != 0 {
		t.Errorf("missing removals: %v", want)
	}
}

func TestNewItem(t *testing.T) {
	item := NewItem(EntityCustomer, PrimaryKey(EntityCustomer, "c1"), map[string]any{
		"id": "c1", "company_id": "co1", "customer_name": "Acme",
	})
	if item[AttrPK] != "CUSTOMER#c1" || item[AttrSK] != MetadataSK {
		t.Errorf("unexpected key attrs: %v %v", item[AttrPK], item[AttrSK])
	}
	if item[AttrEntityType] != "CUSTOMER" {
		t.Errorf("unexpected entity type: %v", item[AttrEntityType])
	}
	if item["GSI5PK"] != "COMPANY#co1" {
		t.Errorf("unexpected GSI5PK: %v", item["GSI5PK"])
	}
	if _, ok := item["GSI1PK"]; ok {
		t.Error("customer should not carry GSI1")
	}
}
