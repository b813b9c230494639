package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"onboarding/api/internal/forms"
	"onboarding/api/internal/store"
)

type fakeRenderer struct {
	html string
	err  error
}

func (f *fakeRenderer) RenderPDF(_ context.Context, html string) ([]byte, error) {
	f.html = html
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.4 fake"), nil
}

func sampleDocument() FormDocument {
	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return FormDocument{
		Token:        "abc123",
		Version:      3,
		EditCount:    2,
		CreatedAt:    created,
		LastEditedAt: created.Add(time.Hour),
		ExpiresAt:    created.Add(30 * 24 * time.Hour),
		FormData: forms.FormData{
			SectionA: forms.CompanyProfile{
				CompanyName:    "Acme & Sons",
				Facebook:       "https://facebook.com/acme",
				ScheduleOption: "custom",
				CustomSchedule: "Mon-Fri 9-5",
				LogoOption:     forms.LogoHasLogo,
				UploadedLogos:  []string{"https://cdn.example.com/logo.png"},
			},
			SectionB: forms.Accounts{Managers: []forms.Manager{
				{Username: "alice", FullName: "Alice A", Role: forms.RoleAdmin, Email: "a@x.com", Password: "s3cret!pass"},
			}},
		}.Normalize(),
	}
}

func TestRenderFormHTMLMasksPasswords(t *testing.T) {
	doc := sampleDocument()

	html, err := RenderFormHTML(NewTemplateData(doc))
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if strings.Contains(html, "s3cret!pass") {
		t.Fatal("password leaked into rendered form")
	}
	for _, want := range []string{"Acme &amp; Sons", "Mon-Fri 9-5", "Manager #1", "alice", maskedPassword, "Version 3", "Last edited"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected rendered html to contain %q", want)
		}
	}
	if doc.FormData.SectionB.Managers[0].Password != "s3cret!pass" {
		t.Fatal("masking must not modify the caller's document")
	}
}

func TestRenderFormHTMLWithoutManagers(t *testing.T) {
	doc := sampleDocument()
	doc.EditCount = 0
	doc.FormData.SectionA.CompanyName = ""
	doc.FormData.SectionB.Managers = []forms.Manager{}

	html, err := RenderFormHTML(NewTemplateData(doc))
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if !strings.Contains(html, "No managers added") || !strings.Contains(html, "Onboarding Submission") {
		t.Fatalf("unexpected html for empty form: %s", html)
	}
	if strings.Contains(html, "Last edited") {
		t.Fatal("unedited form must not show a last edited date")
	}
}

func TestFormPDF(t *testing.T) {
	renderer := &fakeRenderer{}
	svc := NewService(renderer)

	result, err := svc.FormPDF(context.Background(), sampleDocument())
	if err != nil {
		t.Fatalf("FormPDF: %v", err)
	}

	if result.MimeType != "application/pdf" {
		t.Errorf("unexpected mime type %q", result.MimeType)
	}
	if result.Filename != "Acme--Sons-v3.pdf" {
		t.Errorf("unexpected filename %q", result.Filename)
	}
	if !bytes.HasPrefix(result.Data, []byte("%PDF")) {
		t.Errorf("unexpected data %q", result.Data)
	}
	if !strings.Contains(renderer.html, "<h1>Acme &amp; Sons</h1>") {
		t.Errorf("renderer did not receive the form html")
	}
}

func TestFormPDFPropagatesRendererErrors(t *testing.T) {
	svc := NewService(&fakeRenderer{err: ErrPDFDependencyMissing})

	_, err := svc.FormPDF(context.Background(), sampleDocument())

	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"Acme Corp":             "Acme-Corp",
		"../../etc/passwd":      "etcpasswd",
		"":                      "form",
		"***":                   "form",
		strings.Repeat("a", 80): strings.Repeat("a", 50),
	}
	for input, want := range tests {
		if got := sanitizeFilename(input); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("<p>a b&é</p>")
	want := "%3Cp%3Ea%20b%26%C3%A9%3C%2Fp%3E"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWriteFormsCSV(t *testing.T) {
	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	summaries := []store.FormSummary{
		{Token: "tok-1", CompanyName: "Acme, Inc", Email: "a@x.com", CreatedAt: created, LastEditedAt: created.Add(time.Hour), EditCount: 2, ManagersCount: 3},
		{Token: "tok-2", Email: forms.DefaultEmail, CreatedAt: created, LastEditedAt: created},
	}

	var buf bytes.Buffer
	if err := WriteFormsCSV(&buf, summaries); err != nil {
		t.Fatalf("WriteFormsCSV: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "Token,Company Name,Email,Created At,Last Edited,Edit Count,Managers Count" {
		t.Errorf("unexpected header %v", rows[0])
	}
	if rows[1][1] != "Acme, Inc" || rows[1][4] != "2026-03-10T13:00:00Z" || rows[1][5] != "2" || rows[1][6] != "3" {
		t.Errorf("unexpected first row %v", rows[1])
	}
	if rows[2][1] != "N/A" || rows[2][4] != "Never" {
		t.Errorf("unexpected second row %v", rows[2])
	}
}

func TestCSVFilename(t *testing.T) {
	got := CSVFilename(time.Date(2026, 3, 10, 12, 30, 5, 0, time.UTC))
	if got != "onboarding-forms-20260310-123005.csv" {
		t.Fatalf("unexpected filename %q", got)
	}
}
