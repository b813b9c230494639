package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"onboarding/api/internal/forms"
)

const maskedPassword = "••••••••"

//go:embed templates/*.html
var templateFS embed.FS

var formTemplate = template.Must(template.New("form.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string {
		return t.UTC().Format("Jan 2, 2006 15:04 MST")
	},
	"inc": func(i int) int { return i + 1 },
}).ParseFS(templateFS, "templates/form.html"))

// TemplateData holds data for form template rendering
type TemplateData struct {
	Title        string
	Company      string
	Token        string
	Version      int
	Edited       bool
	CreatedAt    time.Time
	LastEditedAt time.Time
	ExpiresAt    time.Time
	Profile      []TemplateField
	LogoOption   string
	Logos        []string
	DesignText   string
	References   []string
	Managers     []forms.Manager
}

type TemplateField struct {
	Label string
	Value string
}

// NewTemplateData prepares a form for rendering. Manager passwords are
// replaced with a fixed mask.
func NewTemplateData(doc FormDocument) TemplateData {
	a := doc.FormData.SectionA
	company := a.CompanyName
	if company == "" {
		company = "Onboarding Submission"
	}

	schedule := a.ScheduleOption
	if schedule == "custom" && a.CustomSchedule != "" {
		schedule = a.CustomSchedule
	}

	managers := make([]forms.Manager, len(doc.FormData.SectionB.Managers))
	for i, manager := range doc.FormData.SectionB.Managers {
		manager.Password = maskedPassword
		managers[i] = manager
	}

	return TemplateData{
		Title:        company + " - Onboarding Form",
		Company:      company,
		Token:        doc.Token,
		Version:      doc.Version,
		Edited:       doc.EditCount > 0,
		CreatedAt:    doc.CreatedAt,
		LastEditedAt: doc.LastEditedAt,
		ExpiresAt:    doc.ExpiresAt,
		Profile: []TemplateField{
			{"Company Name", a.CompanyName},
			{"Facebook", a.Facebook},
			{"Instagram", a.Instagram},
			{"X (Twitter)", a.Twitter},
			{"Other", a.Other},
			{"Room Details", a.RoomDetails},
			{"Cashout Limit", a.CashoutLimit},
			{"Minimum Deposit", a.MinDeposit},
			{"Telegram Phone", a.TelegramPhone},
			{"Schedule", schedule},
		},
		LogoOption: string(a.LogoOption),
		Logos:      a.UploadedLogos,
		DesignText: a.DesignReferenceText,
		References: a.DesignReferenceImages,
		Managers:   managers,
	}
}

// RenderFormHTML renders the form template with provided data
func RenderFormHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := formTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
