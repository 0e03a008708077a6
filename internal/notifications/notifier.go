package notifications

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"ticketflow/internal/config"
	"ticketflow/internal/services"
)

// Originator mail templates.
const (
	TemplateTicketCreated = "ticket_created"
	TemplateTicketClosed  = "ticket_closed"
	TemplateTicketUpdated = "ticket_updated"
)

// Notifier sends a templated message to address. A nil error means the
// message was accepted for delivery.
type Notifier interface {
	Notify(ctx context.Context, address, templateName string, fields map[string]string) error
}

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
}

var defaultTemplates = map[string][2]string{
	TemplateTicketCreated: {
		"Support Ticket Created - {{.ticket_number}}",
		`Dear {{.caller_name}},

Your support request has been received and a ticket has been created.

Ticket Details:
- Ticket Number: {{.ticket_number}}
- Subject: {{.short_description}}
- Assigned to: {{or .assignment_group "Support Team"}}

Description:
{{.description}}

You will receive an update when your ticket is resolved. Please reference
your ticket number in any follow-up.

Thank you,
{{.company_name}}
`,
	},
	TemplateTicketClosed: {
		"Support Ticket Resolved - {{.ticket_number}}",
		`Dear {{.caller_name}},

Your support ticket has been {{lower .status}}.

Ticket Details:
- Ticket Number: {{.ticket_number}}
- Subject: {{.short_description}}
- Resolution: {{or .resolution_notes "No resolution notes provided"}}
- Closed: {{.closed_time}}

If the issue persists, please send a new request.

Best regards,
{{.company_name}}
`,
	},
	TemplateTicketUpdated: {
		"Support Ticket Updated - {{.ticket_number}}",
		`Dear {{.caller_name}},

Your support ticket status changed to {{.status}}.

- Ticket Number: {{.ticket_number}}
- Subject: {{.short_description}}
- Last Updated: {{.updated_time}}

Thank you,
{{.company_name}}
`,
	},
}

func parseTemplates() (map[string]mailTemplate, error) {
	funcs := template.FuncMap{"lower": strings.ToLower}
	out := make(map[string]mailTemplate, len(defaultTemplates))
	for name, parts := range defaultTemplates {
		subject, err := template.New(name + ".subject").Option("missingkey=zero").Funcs(funcs).Parse(parts[0])
		if err != nil {
			return nil, fmt.Errorf("parse %s subject: %w", name, err)
		}
		body, err := template.New(name + ".body").Option("missingkey=zero").Funcs(funcs).Parse(parts[1])
		if err != nil {
			return nil, fmt.Errorf("parse %s body: %w", name, err)
		}
		out[name] = mailTemplate{subject: subject, body: body}
	}
	return out, nil
}

const smtpDialTimeout = 15 * time.Second

type sendFunc func(ctx context.Context, from string, to []string, msg []byte) error

// SMTPNotifier renders templates and relays them through an SMTP server.
type SMTPNotifier struct {
	addr        string
	host        string
	auth        smtp.Auth
	from        *mail.Address
	companyName string
	templates   map[string]mailTemplate
	send        sendFunc
	now         func() time.Time
}

// NewSMTPNotifier builds a notifier from configuration.
func NewSMTPNotifier(cfg config.Notifications) (*SMTPNotifier, error) {
	templates, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = cfg.SMTPUsername
	}
	sender := &mail.Address{Address: from}
	if from != "" {
		if sender, err = mail.ParseAddress(from); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "notify", "sender", fmt.Sprintf("invalid from address %q", from), err)
		}
	}
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	n := &SMTPNotifier{
		addr:        net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		host:        cfg.SMTPHost,
		auth:        auth,
		from:        sender,
		companyName: cfg.CompanyName,
		templates:   templates,
		now:         time.Now,
	}
	n.send = n.deliver
	return n, nil
}

// Render produces the subject and body for templateName.
func (n *SMTPNotifier) Render(templateName string, fields map[string]string) (string, string, error) {
	tmpl, ok := n.templates[templateName]
	if !ok {
		return "", "", services.Wrap(services.ErrValidation, "notify", "render", "unknown template "+templateName, nil)
	}
	data := make(map[string]string, len(fields)+4)
	data["company_name"] = n.companyName
	data["caller_name"] = "Customer"
	now := n.now().Format("2006-01-02 15:04:05")
	data["closed_time"] = now
	data["updated_time"] = now
	for k, v := range fields {
		if strings.TrimSpace(v) != "" {
			data[k] = v
		}
	}
	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return "", "", services.Wrap(services.ErrValidation, "notify", "render subject", templateName, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return "", "", services.Wrap(services.ErrValidation, "notify", "render body", templateName, err)
	}
	return strings.TrimSpace(subject.String()), body.String(), nil
}

// Notify renders and sends a message.
func (n *SMTPNotifier) Notify(ctx context.Context, address, templateName string, fields map[string]string) error {
	rcpt, err := mail.ParseAddress(strings.TrimSpace(address))
	if err != nil {
		return services.Wrap(services.ErrValidation, "notify", "address", fmt.Sprintf("invalid recipient %q", address), err)
	}
	subject, body, err := n.Render(templateName, fields)
	if err != nil {
		return err
	}
	msg, err := composeMessage(n.from, rcpt, subject, body, n.now())
	if err != nil {
		return services.Wrap(services.ErrValidation, "notify", "compose", templateName, err)
	}
	if err := n.send(ctx, n.from.Address, []string{rcpt.Address}, msg); err != nil {
		if ctx.Err() != nil || errors.Is(err, os.ErrDeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "notify", "smtp send", rcpt.Address, err)
		}
		return classifySMTPError(rcpt.Address, err)
	}
	return nil
}

// deliver runs one SMTP transaction. The connection inherits ctx's deadline
// and is closed when ctx ends, so a cancelled send never completes later.
func (n *SMTPNotifier) deliver(ctx context.Context, from string, to []string, msg []byte) error {
	dialer := net.Dialer{Timeout: smtpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", n.addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, n.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.host}); err != nil {
			return err
		}
	}
	if n.auth != nil {
		if ok, _ := client.Extension("AUTH"); !ok {
			return errors.New("smtp: server doesn't support AUTH")
		}
		if err := client.Auth(n.auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func classifySMTPError(address string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return services.Wrap(services.ErrTransient, "notify", "smtp send", address, err)
	}
	var reply *textproto.Error
	if errors.As(err, &reply) && reply.Code >= 500 {
		return services.Wrap(services.ErrPermanent, "notify", "smtp send", address, err)
	}
	return services.Wrap(services.ErrTransient, "notify", "smtp send", address, err)
}

// composeMessage writes a single-part text/plain message. Address and subject
// headers are RFC 2047 encoded where needed and the body is quoted-printable.
func composeMessage(from, to *mail.Address, subject, body string, at time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(at)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(subject)
	domain := "localhost"
	if _, d, ok := strings.Cut(from.Address, "@"); ok && d != "" {
		domain = d
	}
	h.SetMessageID(uuid.NewString() + "@" + domain)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NoopNotifier accepts every message without sending it.
type NoopNotifier struct{}

// Notify implements Notifier.
func (NoopNotifier) Notify(context.Context, string, string, map[string]string) error { return nil }
