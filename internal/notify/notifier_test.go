package notify

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/settings"
)

// --- Mock implementations ---

type mockMailer struct {
	sent    []Message
	failFor map[string]error
}

func (m *mockMailer) Send(_ context.Context, msg Message) error {
	for _, to := range msg.To {
		if err := m.failFor[to]; err != nil {
			return err
		}
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockOrders struct {
	orders map[string]*order.Order
}

func (m *mockOrders) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

type mockSettings struct {
	s settings.Settings
}

func (m *mockSettings) Get(_ context.Context) (settings.Settings, error) {
	return m.s, nil
}

func testOrder() *order.Order {
	d := decimal.RequireFromString
	return &order.Order{
		ID:           "o-1",
		Number:       1042,
		Email:        "ada@example.com",
		CustomerName: "Ada Lovelace",
		ShippingAddress: &customer.Address{
			FullName: "Ada Lovelace",
			Line1:    "1 Analytical St",
			City:     "London",
			Postcode: "N1 1AA",
			Country:  "GB",
		},
		Lines: []order.Line{{
			ProductID:       "p1",
			VariantID:       "v1",
			SKU:             "TEE-M",
			Title:           "Tee",
			Options:         product.Options{{Name: "size", Value: "M"}},
			Quantity:        3,
			UnitPriceExVat:  d("9.99"),
			VATPercent:      d("20"),
			LineExVat:       d("29.97"),
			LineVat:         d("5.99"),
			LineTotalIncVat: d("35.96"),
		}},
		Currency: "EUR",
		Zone:     "UK",
		Totals: order.Totals{
			SubtotalExVat:     d("29.97"),
			VATTotal:          d("5.99"),
			Shipping:          d("2.99"),
			Discount:          decimal.Zero,
			GrandTotal:        d("38.95"),
			GrandTotalDisplay: d("44.79"),
		},
		Status:    order.StatusCreated,
		CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func newTestNotifier(t *testing.T, mailer Mailer, staffEmail string) *Notifier {
	t.Helper()
	st := settings.Default()
	st.StoreName = "Corner Shop"
	st.SupportEmail = "help@shop.test"
	st.StaffEmail = staffEmail

	n, err := NewNotifier(mailer, &mockOrders{orders: map[string]*order.Order{"o-1": testOrder()}}, &mockSettings{s: st})
	require.NoError(t, err)
	return n
}

// --- Tests ---

func TestNotifier_OrderCreated(t *testing.T) {
	mailer := &mockMailer{}
	n := newTestNotifier(t, mailer, "orders@shop.test")

	err := n.Handle(context.Background(), order.Event{Type: order.EventCreated, OrderID: "o-1"})
	require.NoError(t, err)

	require.Len(t, mailer.sent, 2)

	confirmation := mailer.sent[0]
	assert.Equal(t, []string{"ada@example.com"}, confirmation.To)
	assert.Equal(t, "Corner Shop <help@shop.test>", confirmation.From)
	assert.Equal(t, "Thanks for your order #1042 — Corner Shop", confirmation.Subject)
	assert.Contains(t, confirmation.HTML, "Hi Ada Lovelace")
	assert.Contains(t, confirmation.HTML, "Tee (M)")
	assert.Contains(t, confirmation.HTML, "£35.96")
	assert.Contains(t, confirmation.HTML, "Total: £38.95")
	assert.Contains(t, confirmation.HTML, "Charged in EUR: €44.79")
	assert.Contains(t, confirmation.HTML, "1 Analytical St")

	staff := mailer.sent[1]
	assert.Equal(t, []string{"orders@shop.test"}, staff.To)
	assert.Equal(t, "New order #1042 — Corner Shop", staff.Subject)
	assert.Contains(t, staff.HTML, "ada@example.com")
}

func TestNotifier_NoStaffEmail(t *testing.T) {
	mailer := &mockMailer{}
	n := newTestNotifier(t, mailer, "")

	require.NoError(t, n.Handle(context.Background(), order.Event{Type: order.EventCreated, OrderID: "o-1"}))
	assert.Len(t, mailer.sent, 1)
}

func TestNotifier_StaffFailureIsNotRetried(t *testing.T) {
	mailer := &mockMailer{failFor: map[string]error{"orders@shop.test": errors.New("mailbox full")}}
	n := newTestNotifier(t, mailer, "orders@shop.test")

	require.NoError(t, n.Handle(context.Background(), order.Event{Type: order.EventCreated, OrderID: "o-1"}))
	assert.Len(t, mailer.sent, 1)
}

func TestNotifier_CustomerFailureIsRetried(t *testing.T) {
	mailer := &mockMailer{failFor: map[string]error{"ada@example.com": errors.New("connection refused")}}
	n := newTestNotifier(t, mailer, "")

	err := n.Handle(context.Background(), order.Event{Type: order.EventCreated, OrderID: "o-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNotifier_StatusChanges(t *testing.T) {
	tests := []struct {
		name        string
		status      order.Status
		wantSubject string
	}{
		{name: "shipped sends notice", status: order.StatusShipped, wantSubject: "Your order #1042 has shipped — Corner Shop"},
		{name: "paid is silent", status: order.StatusPaid},
		{name: "cancelled is silent", status: order.StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := &mockMailer{}
			n := newTestNotifier(t, mailer, "orders@shop.test")

			err := n.Handle(context.Background(), order.Event{
				Type:    order.EventStatusChanged,
				OrderID: "o-1",
				Status:  tt.status,
			})
			require.NoError(t, err)

			if tt.wantSubject == "" {
				assert.Empty(t, mailer.sent)
				return
			}
			require.Len(t, mailer.sent, 1)
			assert.Equal(t, tt.wantSubject, mailer.sent[0].Subject)
			assert.Contains(t, mailer.sent[0].HTML, "is on its way")
		})
	}
}

func TestNotifier_MissingOrder(t *testing.T) {
	n := newTestNotifier(t, &mockMailer{}, "")

	err := n.Handle(context.Background(), order.Event{Type: order.EventCreated, OrderID: "gone"})
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestMoney(t *testing.T) {
	d := decimal.RequireFromString
	assert.Equal(t, "£2.90", money("GBP", d("2.9")))
	assert.Equal(t, "€115.00", money("EUR", d("115")))
	assert.Equal(t, "100.00 CHF", money("CHF", d("100")))
}
