package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// Message is a single HTML email.
type Message struct {
	From     string // optional, defaults to the mailer's sender address
	To       string
	Subject  string
	HTMLBody string
}

// Mailer sends one message and returns its Message-ID.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// SMTPMailer delivers messages through an SMTP relay.
type SMTPMailer struct {
	dialer    *gomail.Dialer
	fromEmail string
	fromName  string
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid smtp port: %d", cfg.Port)
	}
	if cfg.FromEmail == "" {
		cfg.FromEmail = cfg.Username
	}
	if cfg.FromEmail == "" {
		return nil, errors.New("smtp from email is required")
	}

	// SSL is switched on by gomail for port 465
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	return &SMTPMailer{
		dialer:    dialer,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}, nil
}

// Send dials the relay and delivers msg. gomail has no dial timeout, so the
// call is abandoned when ctx expires and reported as a temporary failure.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) (string, error) {
	gm, messageID := m.buildMessage(msg)

	errChan := make(chan error, 1)
	go func() {
		errChan <- m.dialer.DialAndSend(gm)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return "", ClassifyTransportError(err)
		}
		return messageID, nil
	case <-ctx.Done():
		return "", &TransportError{Temporary: true, Err: fmt.Errorf("smtp send to %s: %w", msg.To, ctx.Err())}
	}
}

func (m *SMTPMailer) buildMessage(msg Message) (*gomail.Message, string) {
	from := msg.From
	if from == "" {
		from = m.fromEmail
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domainOf(from))

	gm := gomail.NewMessage()
	if m.fromName != "" && msg.From == "" {
		gm.SetAddressHeader("From", from, m.fromName)
	} else {
		gm.SetHeader("From", from)
	}
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetHeader("Message-ID", messageID)
	gm.SetBody("text/html", msg.HTMLBody)

	return gm, messageID
}

func domainOf(email string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 && at < len(email)-1 {
		return email[at+1:]
	}
	return "localhost"
}
