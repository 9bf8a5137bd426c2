package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

const smtpTimeout = 30 * time.Second

var errEmailNotConfigured = errors.New("email not configured")

// EmailSink sends plain-text reports over SMTP with STARTTLS.
type EmailSink struct {
	Host      string
	Port      int
	User      string
	Password  string
	Recipient string

	now func() time.Time
}

func NewEmailSink(host string, port int, user, password, recipient string) *EmailSink {
	return &EmailSink{Host: host, Port: port, User: user, Password: password, Recipient: recipient, now: time.Now}
}

func (e *EmailSink) Name() string { return "email" }

func (e *EmailSink) Send(ctx context.Context, msg Message) error {
	now := e.now()

	var body string
	switch {
	case msg.Kind == KindTest:
		body = testEmailBody(now)
	case msg.Kind == KindSystem:
		body = msg.Text
	case len(msg.Events) == 0:
		body = noActivityBody(now)
	default:
		body = reportBody(msg.Events, now)
	}
	return e.send(ctx, msg.Subject, body, msg.ImagePath)
}

func (e *EmailSink) Test(ctx context.Context) (bool, string) {
	err := e.send(ctx, "["+productName+"] Test Notification", testEmailBody(e.now()), "")
	if err != nil {
		return false, describeSMTPError(err)
	}
	return true, "Test email sent to " + e.Recipient
}

func (e *EmailSink) send(ctx context.Context, subject, body, attachment string) error {
	if e.User == "" || e.Password == "" || e.Recipient == "" {
		return errEmailNotConfigured
	}

	m := mail.NewMsg()
	if err := m.From(e.User); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(e.Recipient); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)
	if attachment != "" {
		m.AttachFile(attachment)
	}

	client, err := mail.NewClient(e.Host,
		mail.WithPort(e.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(e.User),
		mail.WithPassword(e.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(smtpTimeout),
	)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send email to %s: %w", e.Recipient, err)
	}
	return nil
}

func describeSMTPError(err error) string {
	if errors.Is(err, errEmailNotConfigured) {
		return "Email not configured"
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "535") || strings.Contains(s, "auth") {
		return "Authentication failed - check username/password"
	}
	return "SMTP error: " + err.Error()
}
