package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	gomail "github.com/wneessen/go-mail"
)

var ErrNoRecipient = errors.New("mail has no recipient")

// Message is a single plain text mail, with an optional html alternative.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type SMTPMailerParams struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPMailer sends mails through an SMTP relay. A new connection is made for every mail.
type SMTPMailer struct {
	client *gomail.Client
	from   string
}

func NewSMTPMailer(params SMTPMailerParams) (*SMTPMailer, error) {
	if params.Host == "" {
		return nil, errors.New("smtp host not set")
	}
	if params.From == "" {
		return nil, errors.New("smtp from address not set")
	}

	opts := []gomail.Option{
		gomail.WithPort(params.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if params.Port == 465 {
		opts = append(opts, gomail.WithSSL())
	}
	if params.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(params.Timeout))
	}
	if params.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(params.Username),
			gomail.WithPassword(params.Password),
		)
	}

	client, err := gomail.NewClient(params.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("new smtp client: %w", err)
	}

	return &SMTPMailer{
		client: client,
		from:   params.From,
	}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, message Message) error {
	msg, err := buildMsg(m.from, message)
	if err != nil {
		return err
	}

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", message.To, err)
	}

	log.Debugf("mail [%s] sent to %s", message.Subject, message.To)
	return nil
}

func buildMsg(from string, message Message) (*gomail.Msg, error) {
	if message.To == "" {
		return nil, ErrNoRecipient
	}

	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("set from address: %w", err)
	}
	if err := msg.To(message.To); err != nil {
		return nil, fmt.Errorf("set to address: %w", err)
	}
	msg.Subject(message.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, message.Text)
	if message.HTML != "" {
		msg.AddAlternativeString(gomail.TypeTextHTML, message.HTML)
	}

	return msg, nil
}

// LogMailer only logs the mails it gets. Used when sending mails is disabled.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, message Message) error {
	if message.To == "" {
		return ErrNoRecipient
	}
	log.WithFields(log.Fields{
		"to":      message.To,
		"subject": message.Subject,
	}).Infof("mail not sent (disabled): %s", message.Text)
	return nil
}
