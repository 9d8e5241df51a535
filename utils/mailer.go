package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// ErrInvalidRecipient marks a permanent recipient failure: the address can
// never succeed, so callers must not retry it.
var ErrInvalidRecipient = errors.New("invalid recipient address")

// Mailer sends transactional and campaign email over SMTP.
type Mailer struct {
	host      string
	port      int
	username  string
	password  string
	fromEmail string
	fromName  string
}

func NewMailer(host string, port int, username, password, fromEmail, fromName string) *Mailer {
	return &Mailer{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// Send delivers one HTML email and returns the generated message ID. Format
// validation happens before dialing so bad addresses surface as
// ErrInvalidRecipient rather than SMTP round-trips.
func (m *Mailer) Send(to, subject, htmlBody string) (string, error) {
	if err := checkmail.ValidateFormat(to); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidRecipient, to)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), m.fromDomain())

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.fromEmail, m.fromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetHeader("Message-ID", messageID)
	msg.SetBody("text/html", htmlBody)

	dialer := gomail.NewDialer(m.host, m.port, m.username, m.password)
	if err := dialer.DialAndSend(msg); err != nil {
		return "", fmt.Errorf("smtp send failed: %w", err)
	}

	return messageID, nil
}

func (m *Mailer) fromDomain() string {
	parts := strings.Split(m.fromEmail, "@")
	if len(parts) == 2 {
		return parts[1]
	}
	return "naviai.app"
}
