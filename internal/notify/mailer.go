// Package notify sends order emails.
package notify

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Message is a single HTML email.
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// SSL uses implicit TLS instead of opportunistic STARTTLS.
	SSL bool
}

var _ Mailer = (*SMTPMailer)(nil)

// SMTPMailer sends mail through an SMTP relay. It dials per message.
type SMTPMailer struct {
	client *mail.Client
}

// NewSMTPMailer creates an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.SSL {
		opts = append(opts, mail.WithSSL())
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create smtp client")
	}
	return &SMTPMailer{client: client}, nil
}

func (s *SMTPMailer) Send(ctx context.Context, m Message) error {
	msg := mail.NewMsg()
	if err := msg.From(m.From); err != nil {
		return errors.Wrapf(err, "from %q", m.From)
	}
	if err := msg.To(m.To...); err != nil {
		return errors.Wrap(err, "recipients")
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextHTML, m.HTML)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return errors.Wrap(err, "send mail")
	}
	return nil
}

var _ Mailer = LogMailer{}

// LogMailer only logs messages. It is used when no SMTP host is configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, m Message) error {
	zctx.From(ctx).Info("Email (not sent, no SMTP configured)",
		zap.Strings("to", m.To),
		zap.String("subject", m.Subject),
		zap.Int("html_bytes", len(m.HTML)),
	)
	return nil
}
