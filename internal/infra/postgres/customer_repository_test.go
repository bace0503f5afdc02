package postgres

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/billingiq-api/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	sql  string
	args []any
	row  pgx.Row
	rows *fakeRows
	err  error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql, f.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.sql, f.args = sql, args
	return f.row
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.sql, f.args = sql, args
	if f.err != nil {
		return nil, f.err
	}
	if f.rows == nil {
		return &fakeRows{}, nil
	}
	return f.rows, nil
}

// fakeRows yields canned rows, assigning each value to the matching Scan
// destination.
type fakeRows struct {
	data   [][]any
	pos    int
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return r.data[r.pos-1], nil }

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

func customerRow(id, name, status string, updated time.Time) []any {
	return []any{id, "co", name, "", id + "@x.test", "", "USA", 30,
		decimal.RequireFromString("250.00"), []string{"vip"}, status, "low", status == "active",
		updated, updated}
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func TestUpsertCustomerArgs(t *testing.T) {
	db := &fakeDB{}
	repo := NewCustomerRepository(db)
	now := time.Now()

	err := repo.UpsertCustomer(context.Background(), &domain.Customer{
		ID: "c1", CompanyID: "co", CustomerName: "Acme", Email: "a@x.test",
		CreditLimit: 1500.5, Status: domain.CustomerActive, IsActive: true,
		CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.True(t, strings.Contains(db.sql, "ON CONFLICT (id)"))
	require.Len(t, db.args, 15)
	assert.True(t, decimal.RequireFromString("1500.50").Equal(db.args[8].(decimal.Decimal)))
	assert.Equal(t, []string{}, db.args[9])
	assert.Equal(t, "active", db.args[10])
}

func TestUpsertCustomerWrapsError(t *testing.T) {
	repo := NewCustomerRepository(&fakeDB{err: errors.New("conn refused")})
	err := repo.UpsertCustomer(context.Background(), &domain.Customer{ID: "c1"})
	assert.ErrorContains(t, err, "upsert customer c1")
}

func TestGetByIDNotFound(t *testing.T) {
	repo := NewCustomerRepository(&fakeDB{row: errRow{err: pgx.ErrNoRows}})
	_, err := repo.GetByID(context.Background(), "missing")
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestListByCompanyDefaultsSkipDeleted(t *testing.T) {
	now := time.Now().UTC()
	db := &fakeDB{rows: &fakeRows{data: [][]any{
		customerRow("c1", "Acme", "active", now),
		customerRow("c2", "Globex", "suspended", now),
	}}}
	repo := NewCustomerRepository(db)

	got, err := repo.ListByCompany(context.Background(), "co", domain.MirrorFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Acme", got[0].CustomerName)
	assert.Equal(t, 250.0, got[0].CreditLimit)
	assert.Equal(t, domain.CustomerSuspended, got[1].Status)
	assert.Equal(t, domain.RiskLow, got[1].RiskLevel)
	assert.True(t, db.rows.closed)

	assert.Contains(t, db.sql, "status <> 'deleted'")
	assert.Contains(t, db.sql, "LIMIT $2 OFFSET $3")
	assert.Equal(t, []any{"co", domain.DefaultPageSize, 0}, db.args)
}

func TestListByCompanyFiltersAndPages(t *testing.T) {
	db := &fakeDB{}
	repo := NewCustomerRepository(db)

	got, err := repo.ListByCompany(context.Background(), "co", domain.MirrorFilter{
		Status:    domain.CustomerDeleted,
		RiskLevel: domain.RiskHigh,
		Limit:     500,
		Offset:    40,
	})
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.NotContains(t, db.sql, "status <> 'deleted'")
	assert.Contains(t, db.sql, "status = $2 AND risk_level = $3")
	assert.Contains(t, db.sql, "ORDER BY customer_name, id LIMIT $4 OFFSET $5")
	assert.Equal(t, []any{"co", "deleted", "high", domain.MaxPageSize, 40}, db.args)
}

func TestListByCompanyWrapsError(t *testing.T) {
	repo := NewCustomerRepository(&fakeDB{err: errors.New("conn refused")})
	_, err := repo.ListByCompany(context.Background(), "co", domain.MirrorFilter{Offset: -5})
	assert.ErrorContains(t, err, "list customers")
}

func TestGetByIDScansRow(t *testing.T) {
	now := time.Now().UTC()
	row := &fakeRows{data: [][]any{customerRow("c9", "Initech", "active", now)}}
	require.True(t, row.Next())
	db := &fakeDB{row: row}

	got, err := NewCustomerRepository(db).GetByID(context.Background(), "c9")
	require.NoError(t, err)
	assert.Equal(t, "c9", got.ID)
	assert.Equal(t, []string{"vip"}, got.Tags)
	assert.True(t, got.IsActive)
	assert.True(t, got.UpdatedAt.Equal(now))
	assert.Equal(t, []any{"c9"}, db.args)
}
