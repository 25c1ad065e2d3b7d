package order

import (
	"cmp"
	"context"
	"net/mail"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/internal/pricing"
)

// DefaultTxTimeout bounds a single order transaction.
const DefaultTxTimeout = 5 * time.Second

// MaxLineQuantity caps the quantity of a single cart line. It keeps the
// value well inside the INTEGER stock column.
const MaxLineQuantity = 10_000

// List paging defaults.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ItemRequest is one requested cart line.
type ItemRequest struct {
	ProductID string
	VariantID string
	SKU       string
	Quantity  int
	// UnitPriceExVat is sent by older carts. It is never used for pricing.
	UnitPriceExVat *decimal.Decimal
}

// VariantRef returns the variant id, or the SKU when no id was sent.
func (r ItemRequest) VariantRef() string {
	if r.VariantID != "" {
		return r.VariantID
	}
	return r.SKU
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Email           string
	CustomerName    string
	Items           []ItemRequest
	Currency        string
	Zone            string
	BillingAddress  *customer.Address
	ShippingAddress *customer.Address
	CouponCode      string
	// CustomerID is the authenticated account placing the order, if any.
	CustomerID string
	// SaveAddresses copies name and addresses back to the account.
	SaveAddresses bool
}

// Service encapsulates order placement and the order workflow.
type Service struct {
	tx        Transactor
	settings  settings.Provider
	orders    Repository
	relay     Relay
	txTimeout time.Duration
	now       func() time.Time

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	metrics        *metrics
}

// Option configures a Service.
type Option func(*Service)

// WithTxTimeout overrides DefaultTxTimeout.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// WithMeterProvider sets the meter provider for order metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		if mp != nil {
			s.meterProvider = mp
		}
	}
}

// WithTracerProvider sets the tracer provider for order spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracerProvider = tp
		}
	}
}

// NewService creates an order Service. Reads go through orders; writes run
// inside tx. relay may be nil.
func NewService(
	tx Transactor,
	settingsProvider settings.Provider,
	orders Repository,
	relay Relay,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		tx:             tx,
		settings:       settingsProvider,
		orders:         orders,
		relay:          relay,
		txTimeout:      DefaultTxTimeout,
		now:            time.Now,
		meterProvider:  noop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	m, err := newMetrics(s.meterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}
	s.metrics = m
	s.tracer = s.tracerProvider.Tracer(instrumentationName)

	return s, nil
}

// PlaceOrder validates the cart, reserves stock, prices every line with
// server-side prices and persists the order, all in one transaction.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder")
	defer span.End()

	start := time.Now()
	o, err := s.placeOrder(ctx, req)
	s.metrics.recordPlacement(ctx, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.Int64("order_number", o.Number),
		zap.Int("lines", len(o.Lines)),
		zap.Stringer("grand_total", o.Totals.GrandTotal),
	)
	s.kick()

	return o, nil
}

func (s *Service) placeOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	if err := validatePlaceOrder(req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var placed *Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		st, err := s.settings.Get(ctx)
		if err != nil {
			return errors.Wrap(err, "load settings")
		}
		st = st.WithDefaults()

		currency := strings.ToUpper(strings.TrimSpace(req.Currency))
		if currency == "" {
			currency = st.BaseCurrency
		}
		if !st.SupportsCurrency(currency) {
			return &ValidationError{Field: "currency", Message: "unsupported currency " + currency}
		}
		requested := strings.TrimSpace(req.Zone)
		if requested == "" {
			requested = settings.DefaultZone
		}
		zone, ok := st.LookupZone(requested)
		if !ok {
			return &ValidationError{Field: "zone", Message: "unsupported shipping zone " + requested}
		}

		lines, err := s.reserveLines(ctx, uow.Products(), req.Items, st.VATPercent)
		if err != nil {
			return err
		}

		totals := sumLines(lines)
		totals.Shipping = pricing.Shipping(
			st.FlatShipping(zone),
			st.FreeShippingThreshold(zone),
			totals.SubtotalExVat.Add(totals.VATTotal),
		)

		couponCode := ""
		if strings.TrimSpace(req.CouponCode) != "" {
			d, err := redeemCoupon(ctx, uow.Coupons(), req.CouponCode, lines)
			if err != nil {
				return err
			}
			totals.Discount = d.Amount
			couponCode = d.Code
		}

		grand := totals.SubtotalExVat.Add(totals.VATTotal).Add(totals.Shipping).Sub(totals.Discount)
		if grand.IsNegative() {
			grand = decimal.Zero
		}
		totals.GrandTotal = grand.Round(pricing.Places)
		display, rate := pricing.ConvertFromBase(totals.GrandTotal, st.FX, currency)
		totals.GrandTotalDisplay = display

		if req.SaveAddresses {
			upd := customer.ProfileUpdate{
				Name:            req.CustomerName,
				BillingAddress:  req.BillingAddress,
				ShippingAddress: req.ShippingAddress,
			}
			if err := uow.Customers().UpdateProfile(ctx, req.CustomerID, upd); err != nil {
				return errors.Wrap(err, "update customer profile")
			}
		}

		now := s.now().UTC()
		o := &Order{
			ID:              uuid.New().String(),
			CustomerID:      req.CustomerID,
			Email:           strings.TrimSpace(req.Email),
			CustomerName:    req.CustomerName,
			BillingAddress:  req.BillingAddress,
			ShippingAddress: req.ShippingAddress,
			Lines:           lines,
			Currency:        currency,
			Zone:            zone,
			FXRateUsed:      rate,
			Totals:          totals,
			CouponCode:      couponCode,
			Status:          StatusCreated,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := uow.Orders().Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}

		if err := uow.Events().Record(ctx, Event{
			Type:        EventCreated,
			OrderID:     o.ID,
			OrderNumber: o.Number,
			Email:       o.Email,
			Status:      o.Status,
			OccurredAt:  now,
		}); err != nil {
			return errors.Wrap(err, "record order event")
		}

		placed = o
		return nil
	})
	if err != nil {
		return nil, abort(err)
	}

	return placed, nil
}

// reserveLines loads each requested variant, prices the line and then
// decrements stock. Lookups run in request order so errors name the first
// bad line; decrements run in lockOrder so concurrent carts sharing
// variants lock rows in the same sequence.
func (s *Service) reserveLines(
	ctx context.Context,
	products product.Repository,
	items []ItemRequest,
	storeVAT decimal.Decimal,
) ([]Line, error) {
	lines := make([]Line, 0, len(items))
	for i, item := range items {
		p, err := products.GetByID(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return nil, &ProductNotFoundError{Line: i, ProductID: item.ProductID}
			}
			return nil, errors.Wrapf(err, "get product %s", item.ProductID)
		}
		if p.Status == product.StatusDraft {
			return nil, &ProductNotFoundError{Line: i, ProductID: item.ProductID}
		}

		v, ok := p.Variant(item.VariantRef())
		if !ok {
			return nil, &VariantNotFoundError{Line: i, ProductID: p.ID, Ref: item.VariantRef()}
		}

		unit := p.UnitPriceExVat(v)
		vat := p.EffectiveVATPercent(storeVAT)
		amounts := pricing.Line(unit, item.Quantity, vat)

		lines = append(lines, Line{
			ProductID:       p.ID,
			VariantID:       v.ID,
			SKU:             v.SKU,
			Title:           p.Title,
			Image:           p.Image(),
			Options:         v.Options,
			Quantity:        item.Quantity,
			UnitPriceExVat:  unit,
			VATPercent:      vat,
			LineExVat:       amounts.ExVat,
			LineVat:         amounts.Vat,
			LineTotalIncVat: amounts.IncVat,
		})
	}

	for _, i := range lockOrder(lines) {
		l := lines[i]
		reserved, err := products.DecrementStock(ctx, l.ProductID, l.VariantID, l.Quantity)
		if err != nil {
			return nil, errors.Wrapf(err, "decrement stock for %s", l.SKU)
		}
		if reserved {
			continue
		}
		available, err := products.AvailableStock(ctx, l.ProductID, l.VariantID)
		if err != nil {
			return nil, errors.Wrapf(err, "read stock for %s", l.SKU)
		}
		return nil, &InsufficientStockError{
			Line:      i,
			ProductID: l.ProductID,
			Title:     l.Title,
			SKU:       l.SKU,
			Requested: l.Quantity,
			Available: available,
		}
	}
	return lines, nil
}

// lockOrder returns line indexes sorted by product and variant id. Every
// transaction that touches variant rows walks them in this order.
func lockOrder(lines []Line) []int {
	idx := make([]int, len(lines))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Or(
			cmp.Compare(lines[a].ProductID, lines[b].ProductID),
			cmp.Compare(lines[a].VariantID, lines[b].VariantID),
		)
	})
	return idx
}

func sumLines(lines []Line) Totals {
	t := Totals{
		SubtotalExVat: decimal.Zero,
		VATTotal:      decimal.Zero,
		Shipping:      decimal.Zero,
		Discount:      decimal.Zero,
	}
	for _, l := range lines {
		t.SubtotalExVat = t.SubtotalExVat.Add(l.LineExVat)
		t.VATTotal = t.VATTotal.Add(l.LineVat)
	}
	return t
}

func redeemCoupon(ctx context.Context, repo coupon.Repository, code string, lines []Line) (*coupon.Discount, error) {
	items := make([]coupon.Item, len(lines))
	for i, l := range lines {
		items[i] = coupon.Item{ProductID: l.ProductID, Amount: l.LineTotalIncVat}
	}

	d, err := coupon.NewRepoValidator(repo).Redeem(ctx, code, items)
	if err != nil {
		switch {
		case errors.Is(err, coupon.ErrInvalidCoupon),
			errors.Is(err, coupon.ErrCouponExpired),
			errors.Is(err, coupon.ErrCouponUsageLimitReached),
			errors.Is(err, coupon.ErrNotApplicable),
			errors.Is(err, coupon.ErrUnsupportedType):
			return nil, &ValidationError{Field: "couponCode", Message: err.Error()}
		default:
			return nil, errors.Wrap(err, "redeem coupon")
		}
	}
	return d, nil
}

// UpdateStatus moves an order along the status workflow. Cancelling returns
// the reserved stock. Setting the current status again is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, id string, next Status) (*Order, error) {
	if !next.Valid() {
		return nil, &ValidationError{Field: "status", Message: "unknown status " + string(next)}
	}

	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus")
	defer span.End()

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var (
		updated *Order
		changed bool
	)
	err := s.tx.WithinTx(txCtx, func(ctx context.Context, uow UnitOfWork) error {
		o, err := uow.Orders().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Status == next {
			updated = o
			return nil
		}
		if !o.Status.CanTransitionTo(next) {
			return &InvalidTransitionError{From: o.Status, To: next}
		}

		if next == StatusCancelled {
			for _, i := range lockOrder(o.Lines) {
				l := o.Lines[i]
				if err := uow.Products().IncrementStock(ctx, l.ProductID, l.VariantID, l.Quantity); err != nil {
					return errors.Wrapf(err, "restock %s", l.SKU)
				}
			}
		}

		now := s.now().UTC()
		if err := uow.Orders().UpdateStatus(ctx, o.ID, next, now); err != nil {
			return errors.Wrap(err, "update status")
		}
		if err := uow.Events().Record(ctx, Event{
			Type:           EventStatusChanged,
			OrderID:        o.ID,
			OrderNumber:    o.Number,
			Email:          o.Email,
			Status:         next,
			PreviousStatus: o.Status,
			OccurredAt:     now,
		}); err != nil {
			return errors.Wrap(err, "record order event")
		}

		prev := o.Status
		o.Status = next
		o.UpdatedAt = now
		updated = o
		changed = true

		zctx.From(ctx).Info("Order status changed",
			zap.String("order_id", o.ID),
			zap.String("from", string(prev)),
			zap.String("to", string(next)),
		)
		return nil
	})
	if err != nil {
		err = abort(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if changed {
		s.metrics.recordTransition(ctx, next)
		s.kick()
	}
	return updated, nil
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// ListForCustomer returns the orders placed by an account or, for guest
// checkouts, under its email. Newest first.
func (s *Service) ListForCustomer(ctx context.Context, customerID, email string) ([]Order, error) {
	if customerID == "" && email == "" {
		return []Order{}, nil
	}
	orders, err := s.orders.ListByCustomer(ctx, customerID, email)
	if err != nil {
		return nil, errors.Wrap(err, "list customer orders")
	}
	return orders, nil
}

// List returns one page of orders matching f. Newest first.
func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, &ValidationError{Field: "status", Message: "unknown status " + string(f.Status)}
	}
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultPageLimit
	case f.Limit > MaxPageLimit:
		f.Limit = MaxPageLimit
	}

	orders, total, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return &Page{Orders: orders, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

func (s *Service) kick() {
	if s.relay != nil {
		s.relay.Kick()
	}
}

func validatePlaceOrder(req PlaceOrderRequest) error {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return &ValidationError{Field: "email", Message: "email is required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &ValidationError{Field: "email", Message: "email is invalid"}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Message: "at least one item is required"}
	}
	for i, item := range req.Items {
		field := "items[" + strconv.Itoa(i) + "]"
		if item.ProductID == "" {
			return &ValidationError{Field: field + ".productId", Message: "product id is required"}
		}
		if item.VariantRef() == "" {
			return &ValidationError{Field: field + ".variantId", Message: "variant id or sku is required"}
		}
		if item.Quantity < 1 {
			return &ValidationError{Field: field + ".qty", Message: "quantity must be at least 1"}
		}
		if item.Quantity > MaxLineQuantity {
			return &ValidationError{Field: field + ".qty", Message: "quantity must be at most " + strconv.Itoa(MaxLineQuantity)}
		}
	}
	if req.SaveAddresses && req.CustomerID == "" {
		return &ValidationError{Field: "saveAddresses", Message: "sign in to save addresses"}
	}
	return nil
}

// abort converts infrastructure failures into TransactionAbortedError and
// passes domain errors through unchanged.
func abort(err error) error {
	if isDomainError(err) {
		return err
	}
	return &TransactionAbortedError{Err: err}
}
