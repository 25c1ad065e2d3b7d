package notify

import (
	"context"
	"html/template"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/internal/outbox"
)

// OrderReader loads the order an event refers to.
type OrderReader interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
}

var _ outbox.Handler = (*Notifier)(nil)

// Notifier turns order events into emails: a confirmation and a staff
// notice for new orders, and a shipped notice when an order ships.
type Notifier struct {
	mailer   Mailer
	orders   OrderReader
	settings settings.Provider
	tmpl     *templates
}

// NewNotifier creates a Notifier.
func NewNotifier(mailer Mailer, orders OrderReader, sp settings.Provider) (*Notifier, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	return &Notifier{
		mailer:   mailer,
		orders:   orders,
		settings: sp,
		tmpl:     tmpl,
	}, nil
}

// HandlerName is the outbox handler name of the Notifier.
const HandlerName = "email"

func (n *Notifier) Name() string { return HandlerName }

func (n *Notifier) Handle(ctx context.Context, e order.Event) error {
	switch {
	case e.Type == order.EventCreated:
		return n.orderCreated(ctx, e)
	case e.Type == order.EventStatusChanged && e.Status == order.StatusShipped:
		return n.orderShipped(ctx, e)
	default:
		return nil
	}
}

func (n *Notifier) orderCreated(ctx context.Context, e order.Event) error {
	data, err := n.load(ctx, e.OrderID)
	if err != nil {
		return err
	}
	st, err := n.settings.Get(ctx)
	if err != nil {
		return errors.Wrap(err, "load settings")
	}
	st = st.WithDefaults()

	if err := n.send(ctx, st, n.tmpl.confirmation, data, data.Order.Email,
		"Thanks for your order "+data.Order.DisplayNumber()+" — "+st.StoreName,
	); err != nil {
		return err
	}

	// A failed staff copy is logged, not retried.
	if st.StaffEmail != "" {
		if err := n.send(ctx, st, n.tmpl.staff, data, st.StaffEmail,
			"New order "+data.Order.DisplayNumber()+" — "+st.StoreName,
		); err != nil {
			zctx.From(ctx).Warn("Staff notification failed",
				zap.String("order_id", e.OrderID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (n *Notifier) orderShipped(ctx context.Context, e order.Event) error {
	data, err := n.load(ctx, e.OrderID)
	if err != nil {
		return err
	}
	st, err := n.settings.Get(ctx)
	if err != nil {
		return errors.Wrap(err, "load settings")
	}
	st = st.WithDefaults()

	return n.send(ctx, st, n.tmpl.shipped, data, data.Order.Email,
		"Your order "+data.Order.DisplayNumber()+" has shipped — "+st.StoreName,
	)
}

func (n *Notifier) load(ctx context.Context, orderID string) (emailData, error) {
	o, err := n.orders.GetByID(ctx, orderID)
	if err != nil {
		return emailData{}, errors.Wrapf(err, "load order %s", orderID)
	}
	return emailData{Order: o}, nil
}

func (n *Notifier) send(
	ctx context.Context,
	st settings.Settings,
	t *template.Template,
	data emailData,
	to, subject string,
) error {
	data.StoreName = st.StoreName
	data.SupportEmail = st.SupportEmail
	data.BaseCurrency = st.BaseCurrency

	html, err := render(t, data)
	if err != nil {
		return err
	}

	msg := Message{
		From:    st.Sender(),
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		return errors.Wrapf(err, "send %q", subject)
	}
	zctx.From(ctx).Info("Email sent",
		zap.String("order_id", data.Order.ID),
		zap.String("subject", subject),
	)
	return nil
}
