package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

type sentMail struct {
	to  []string
	msg string
}

func newRecordingService(t *testing.T, fail map[string]error) (*Service, *[]sentMail) {
	t.Helper()
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "forms@example.com", FromName: "Onboarding"})
	var sent []sentMail
	svc.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		if addr != "smtp.example.com:587" {
			t.Errorf("addr = %q", addr)
		}
		if err := fail[to[0]]; err != nil {
			return err
		}
		sent = append(sent, sentMail{to: to, msg: string(msg)})
		return nil
	}
	return svc, &sent
}

func sampleSubmission() Submission {
	return Submission{
		Email:       "a@x.com",
		CompanyName: "Acme",
		EditLink:    "https://forms.example.com/?token=abc",
		AdminLink:   "https://forms.example.com/admin/form-details?token=abc",
		Managers:    []ManagerSummary{{Username: "alice", FullName: "Alice A", Role: "Admin", Email: "a@x.com"}},
		LogoOption:  "has-logo",
		DesignText:  "blue and gold",
	}
}

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}

	var nilService *Service
	if nilService.IsConfigured() {
		t.Error("nil service must not be configured")
	}
}

func TestSendSubmissionEmailsSendsBoth(t *testing.T) {
	svc, sent := newRecordingService(t, nil)

	if err := svc.SendSubmissionEmails(sampleSubmission(), "admin@example.com"); err != nil {
		t.Fatalf("SendSubmissionEmails: %v", err)
	}
	if len(*sent) != 2 {
		t.Fatalf("sent %d mails, want 2", len(*sent))
	}

	user := (*sent)[0]
	if user.to[0] != "a@x.com" {
		t.Errorf("first mail to %v", user.to)
	}
	if !strings.Contains(user.msg, "https://forms.example.com/?token=abc") {
		t.Error("submitter mail should contain the edit link")
	}
	if !strings.Contains(user.msg, "From: Onboarding <forms@example.com>") {
		t.Error("submitter mail should carry the display name")
	}

	admin := (*sent)[1]
	if admin.to[0] != "admin@example.com" {
		t.Errorf("second mail to %v", admin.to)
	}
	if !strings.Contains(admin.msg, "Subject: New onboarding form: Acme") {
		t.Error("admin mail should name the company in the subject")
	}
	if !strings.Contains(admin.msg, "admin/form-details?token=abc") {
		t.Error("admin mail should contain the admin link")
	}
}

func TestSendSubmissionEmailsSkipsSentinelAddress(t *testing.T) {
	svc, sent := newRecordingService(t, nil)
	sub := sampleSubmission()
	sub.Email = "no-email@provided.com"

	if err := svc.SendSubmissionEmails(sub, ""); err != nil {
		t.Fatalf("SendSubmissionEmails: %v", err)
	}
	if len(*sent) != 0 {
		t.Fatalf("sent %d mails, want 0", len(*sent))
	}
}

func TestSendSubmissionEmailsReportsEveryFailure(t *testing.T) {
	boom := errors.New("connection refused")
	svc, sent := newRecordingService(t, map[string]error{"a@x.com": boom})

	err := svc.SendSubmissionEmails(sampleSubmission(), "admin@example.com")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if len(*sent) != 1 || (*sent)[0].to[0] != "admin@example.com" {
		t.Fatalf("admin mail should still be sent, got %+v", *sent)
	}
}

func TestSendHTMLEmailRequiresConfig(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendHTMLEmail([]string{"a@x.com"}, "hi", "<p>hi</p>"); err == nil {
		t.Fatal("expected error for unconfigured service")
	}
}

func TestRenderAdminTemplateEscapesInput(t *testing.T) {
	sub := sampleSubmission()
	sub.CompanyName = "<script>alert(1)</script>"

	html, err := renderTemplate(adminEmailTemplate, sub)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("company name should be escaped")
	}
	if !strings.Contains(html, "blue and gold") {
		t.Error("template should contain design notes")
	}
}

func TestRenderSubmitterTemplateFallsBackForBlankCompany(t *testing.T) {
	sub := sampleSubmission()
	sub.CompanyName = ""

	html, err := renderTemplate(submitterEmailTemplate, sub)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if !strings.Contains(html, "<h1>N/A</h1>") {
		t.Error("blank company should render as N/A")
	}
	if !strings.Contains(html, "alice (Admin)") {
		t.Error("template should list managers")
	}
}
