package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

const sslPort = 465

type smtpConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
	To   string
}

type smtpChannel struct {
	cfg smtpConfig
}

func newSMTPChannel(cfg smtpConfig) *smtpChannel {
	return &smtpChannel{cfg: cfg}
}

func (c *smtpChannel) Name() string { return "smtp" }

func (c *smtpChannel) Send(ctx context.Context, p Payload) error {
	opts := []mail.Option{
		mail.WithPort(c.cfg.Port),
	}
	if c.cfg.Port == sslPort {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if c.cfg.User != "" || c.cfg.Pass != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.cfg.User),
			mail.WithPassword(c.cfg.Pass),
		)
	}

	client, err := mail.NewClient(c.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(c.cfg.From); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(c.cfg.To); err != nil {
		return fmt.Errorf("to address: %w", err)
	}
	msg.Subject(p.Title)

	body := p.Message
	if p.Link != "" {
		body += "\n\n" + p.Link
	}
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
