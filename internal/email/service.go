// Package email sends submission notifications via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s != nil && s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-onboarding"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// ManagerSummary is a manager as listed in mails. Passwords are never included.
type ManagerSummary struct {
	Username string
	FullName string
	Role     string
	Email    string
}

// Submission describes a freshly created form.
type Submission struct {
	Email       string
	CompanyName string
	EditLink    string
	AdminLink   string
	Managers    []ManagerSummary
	LogoOption  string
	DesignText  string
}

// SendSubmissionEmails mails the edit link to the submitter and, when adminTo
// is set, a notification to the administrator. Both are attempted even if
// one fails.
func (s *Service) SendSubmissionEmails(sub Submission, adminTo string) error {
	var errs []error

	if sub.Email != "" && sub.Email != noEmailSentinel {
		html, err := renderTemplate(submitterEmailTemplate, sub)
		if err != nil {
			errs = append(errs, fmt.Errorf("render submitter template: %w", err))
		} else if err := s.SendHTMLEmail([]string{sub.Email}, "Your onboarding form edit link", html); err != nil {
			errs = append(errs, fmt.Errorf("send submitter email: %w", err))
		}
	}

	if adminTo != "" {
		subject := "New onboarding form: " + companyOrDefault(sub.CompanyName)
		html, err := renderTemplate(adminEmailTemplate, sub)
		if err != nil {
			errs = append(errs, fmt.Errorf("render admin template: %w", err))
		} else if err := s.SendHTMLEmail([]string{adminTo}, subject, html); err != nil {
			errs = append(errs, fmt.Errorf("send admin email: %w", err))
		}
	}

	return errors.Join(errs...)
}

// matches forms.DefaultEmail
const noEmailSentinel = "no-email@provided.com"

func companyOrDefault(name string) string {
	if strings.TrimSpace(name) == "" {
		return "N/A"
	}
	return name
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t, err := template.New("email").Funcs(template.FuncMap{"company": companyOrDefault}).Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const submitterEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Your onboarding form</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{company .CompanyName}}</h1>
    </div>

    <h2>Thank you for your submission</h2>

    <p>We received your onboarding form. You can review and edit it at any time with the link below.</p>

    <p>
        <a href="{{.EditLink}}" class="button">Edit your form</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.EditLink}}</p>
{{if .Managers}}
    <h3>Managers</h3>
    <ul>
    {{range .Managers}}    <li>{{.Username}} ({{.Role}}){{if .Email}} - {{.Email}}{{end}}</li>
    {{end}}</ul>
{{end}}
    <div class="footer">
        <p>Keep this link private. Anyone with it can edit the form.</p>
    </div>
</body>
</html>`

const adminEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New onboarding form</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        table { border-collapse: collapse; }
        td { padding: 4px 12px 4px 0; vertical-align: top; }
    </style>
</head>
<body>
    <div class="header">
        <h1>New onboarding form</h1>
    </div>

    <table>
        <tr><td><strong>Company</strong></td><td>{{company .CompanyName}}</td></tr>
        <tr><td><strong>Contact</strong></td><td>{{.Email}}</td></tr>
        <tr><td><strong>Logo</strong></td><td>{{.LogoOption}}</td></tr>
        <tr><td><strong>Design notes</strong></td><td>{{.DesignText}}</td></tr>
        <tr><td><strong>Managers</strong></td><td>{{len .Managers}}</td></tr>
    </table>
{{if .Managers}}
    <ul>
    {{range .Managers}}    <li>{{.Username}}{{if .FullName}} / {{.FullName}}{{end}} ({{.Role}}){{if .Email}} - {{.Email}}{{end}}</li>
    {{end}}</ul>
{{end}}
    <p>
        <a href="{{.AdminLink}}" class="button">Open in admin</a>
    </p>
</body>
</html>`
