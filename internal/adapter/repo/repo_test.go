package repo

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/farmlink/market-api/internal/entity"
)

func newMock(t *testing.T, dialect Dialect) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db, dialect), mock
}

func TestRebind(t *testing.T) {
	pg := New(nil, Postgres)
	assert.Equal(t, "SELECT a FROM t WHERE x=$1 AND y=$2", pg.rebind("SELECT a FROM t WHERE x=? AND y=?"))
	my := New(nil, MySQL)
	assert.Equal(t, "SELECT a FROM t WHERE x=?", my.rebind("SELECT a FROM t WHERE x=?"))
}

func TestMapErr(t *testing.T) {
	d := New(nil, MySQL)
	for _, err := range []error{
		&mysql.MySQLError{Number: 1213, Message: "Deadlock found"},
		&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout"},
		&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"},
		&pq.Error{Code: "40001"},
		&pq.Error{Code: "40P01"},
	} {
		assert.ErrorIs(t, d.mapErr(err), domain.ErrConflict, err.Error())
	}
	other := &mysql.MySQLError{Number: 1146}
	assert.Equal(t, error(other), d.mapErr(other))
	assert.Nil(t, d.mapErr(nil))
}

func TestDecrementStockGuards(t *testing.T) {
	d, mock := newMock(t, MySQL)
	repo := NewProductRepo(d)
	q := regexp.QuoteMeta("WHERE id = ? AND version = ? AND quantity >= ?")

	mock.ExpectExec(q).WithArgs(int64(2), "p1", int64(3), int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.DecrementStock(context.Background(), "p1", 2, 3))

	mock.ExpectExec(q).WithArgs(int64(2), "p1", int64(3), int64(2)).WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.DecrementStock(context.Background(), "p1", 2, 3), domain.ErrConflict)

	require.ErrorIs(t, repo.DecrementStock(context.Background(), "p1", 0, 3), domain.ErrInvalidAmount)
}

func TestWithinTxJoinsNestedWrites(t *testing.T) {
	d, mock := newMock(t, MySQL)
	carts := NewCartRepo(d)
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO carts")).WithArgs("u1", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cart_items")).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cart_items")).
		WithArgs("u1", "p1", int64(2), now, int64(0)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c := &domain.Cart{UserID: "u1", UpdatedAt: now, Items: []domain.CartItem{{ProductID: "p1", Quantity: 2, AddedAt: now}}}
	err := d.WithinTx(context.Background(), func(ctx context.Context) error {
		return carts.Save(ctx, c)
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.Version)
}

func TestWithinTxRollsBackStaleCart(t *testing.T) {
	d, mock := newMock(t, MySQL)
	carts := NewCartRepo(d)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE carts SET version = version + 1")).
		WithArgs(sqlmock.AnyArg(), "u1", int64(4)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	c := &domain.Cart{UserID: "u1", Version: 4}
	require.ErrorIs(t, carts.Save(context.Background(), c), domain.ErrConflict)
	assert.EqualValues(t, 4, c.Version)
}

func TestCommitDeadlockIsConflict(t *testing.T) {
	d, mock := newMock(t, MySQL)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cart_items")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM carts")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"})

	err := d.WithinTx(context.Background(), func(ctx context.Context) error {
		return NewCartRepo(d).DeleteByUser(ctx, "u1")
	})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestOrderUpdatePostgres(t *testing.T) {
	d, mock := newMock(t, Postgres)
	orders := NewOrderRepo(d)
	paidAt := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	o := &domain.Order{
		ID: "o1", Status: domain.StatusProcessing, PaymentStatus: domain.PaymentCompleted,
		TransactionReference: "order_o1", Version: 2,
		Payment: &domain.PaymentDetails{Channel: "card", PaidAt: paidAt, AmountPaid: 1000},
	}
	q := regexp.QuoteMeta("WHERE id = $8 AND version = $9")

	mock.ExpectExec(q).
		WithArgs("processing", "completed", "order_o1", "card", paidAt, int64(1000), sqlmock.AnyArg(), "o1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, orders.Update(context.Background(), o))
	assert.EqualValues(t, 3, o.Version)

	mock.ExpectExec(q).WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
	require.ErrorIs(t, orders.Update(context.Background(), o), domain.ErrConflict)
	assert.EqualValues(t, 3, o.Version)
}

func orderRow(mock sqlmock.Sqlmock, id string, created time.Time) *sqlmock.Rows {
	return mock.NewRows([]string{"id", "buyer_id", "total_price", "shipping_json", "payment_method", "status",
		"payment_status", "transaction_reference", "payment_channel", "paid_at", "amount_paid", "version",
		"created_at", "updated_at"}).
		AddRow(id, "buyer-a", int64(750), `{"address":"12 Market Rd","city":"Ibadan","state":"Oyo","phone":"1"}`,
			"cash_on_delivery", "processing", "pending", "order_"+id, "", nil, nil, int64(1), created, created)
}

func TestOrderGetByID(t *testing.T) {
	d, mock := newMock(t, MySQL)
	orders := NewOrderRepo(d)
	created := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id=?")).WithArgs("o1").WillReturnRows(orderRow(mock, "o1", created))
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items WHERE order_id=?")).WithArgs("o1").
		WillReturnRows(mock.NewRows([]string{"product_id", "farmer_id", "quantity", "price_at_purchase"}).
			AddRow("p1", "farmer-1", int64(3), int64(250)))

	o, err := orders.GetByID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "Ibadan", o.Shipping.City)
	assert.Equal(t, domain.StatusProcessing, o.Status)
	assert.Nil(t, o.Payment)
	require.Len(t, o.Items, 1)
	assert.Equal(t, domain.OrderItem{ProductID: "p1", FarmerID: "farmer-1", Quantity: 3, PriceAtPurchase: 250}, o.Items[0])

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id=?")).WithArgs("nope").
		WillReturnRows(mock.NewRows([]string{"id"}))
	_, err = orders.GetByID(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProductGetByIDNotFound(t *testing.T) {
	d, mock := newMock(t, MySQL)
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id=?")).WithArgs("p9").
		WillReturnRows(mock.NewRows([]string{"id"}))
	_, err := NewProductRepo(d).GetByID(context.Background(), "p9")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMigrateStopsOnError(t *testing.T) {
	d, mock := newMock(t, Postgres)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS products")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_products_farmer")).WillReturnError(errors.New("permission denied"))
	err := d.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate step 2")
}

func TestProductUpdateAndDelete(t *testing.T) {
	d, mock := newMock(t, Postgres)
	repo := NewProductRepo(d)
	ctx := context.Background()
	q := regexp.QuoteMeta("SET name = $1, price = $2, quantity = $3, version = version + 1\nWHERE id = $4 AND version = $5")

	p := &domain.Product{ID: "p1", Name: "Yam", Price: 700, Quantity: 4, Version: 2}
	mock.ExpectExec(q).WithArgs("Yam", int64(700), int64(4), "p1", int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(ctx, p))
	assert.EqualValues(t, 3, p.Version)

	mock.ExpectExec(q).WithArgs("Yam", int64(700), int64(4), "p1", int64(3)).WillReturnResult(sqlmock.NewResult(0, 0))
	p.Version = 3
	require.ErrorIs(t, repo.Update(ctx, p), domain.ErrConflict)
	assert.EqualValues(t, 3, p.Version)

	del := regexp.QuoteMeta("DELETE FROM products WHERE id=$1")
	mock.ExpectExec(del).WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(ctx, "p1"))
	mock.ExpectExec(del).WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.Delete(ctx, "p1"), domain.ErrNotFound)
}

func TestProductListByFarmer(t *testing.T) {
	d, mock := newMock(t, MySQL)
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	cols := []string{"id", "farmer_id", "name", "price", "quantity", "version", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE farmer_id=? ORDER BY created_at DESC")).WithArgs("f1").
		WillReturnRows(mock.NewRows(cols).
			AddRow("p2", "f1", "Okra", int64(200), int64(9), int64(1), created.Add(time.Hour)).
			AddRow("p1", "f1", "Yam", int64(500), int64(0), int64(4), created))

	list, err := NewProductRepo(d).ListByFarmer(context.Background(), "f1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p2", list[0].ID)
	assert.EqualValues(t, 4, list[1].Version)
}

func TestNotificationBulkReadAndDelete(t *testing.T) {
	d, mock := newMock(t, MySQL)
	repo := NewNotificationRepo(d)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET is_read=TRUE WHERE user_id=? AND is_read=FALSE")).
		WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := repo.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notifications WHERE id=? AND user_id=?")).
		WithArgs("n1", "u1").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, repo.Delete(ctx, "n1", "u1"))
}
