package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/oakmart/auth-api/pkg/config"
)

// Mailer delivers transactional auth emails over SMTP.
type Mailer struct {
	dialer  *gomail.Dialer
	from    string
	baseURL string
}

// New constructs a Mailer from SMTP configuration.
func New(cfg config.SMTPConfig) *Mailer {
	return &Mailer{
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:    cfg.From,
		baseURL: cfg.BaseURL,
	}
}

// SendPasswordReset delivers the single-use reset link. The token expires
// server-side; the email only states the window.
func (m *Mailer) SendPasswordReset(to, token string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Reset your password")
	msg.SetBody("text/html", fmt.Sprintf(
		`<p>We received a request to reset your password.</p>
<p><a href="%s/reset-password?token=%s">Reset password</a></p>
<p>The link is valid for one hour and can be used once. If you did not request this, you can ignore this email.</p>`,
		m.baseURL, token))

	return m.dialer.DialAndSend(msg)
}

// SendVerification delivers the email-ownership confirmation link.
func (m *Mailer) SendVerification(to, token string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Verify your email address")
	msg.SetBody("text/html", fmt.Sprintf(
		`<p>Welcome! Please confirm your email address.</p>
<p><a href="%s/verify-email?token=%s">Verify email</a></p>`,
		m.baseURL, token))

	return m.dialer.DialAndSend(msg)
}
