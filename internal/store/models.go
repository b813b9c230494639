package store

import (
	"errors"
	"time"

	"onboarding/api/internal/forms"
)

var (
	ErrNotFound        = errors.New("form not found")
	ErrVersionConflict = errors.New("form version changed concurrently")
	ErrTokenTaken      = errors.New("form token already exists")
)

// FormRecord is the root row of a submission. Versions is only populated by
// callers that load history explicitly.
type FormRecord struct {
	Token          string
	Email          string
	CurrentVersion int
	EditCount      int
	FormData       forms.FormData
	Versions       []VersionSnapshot
	CreatedAt      time.Time
	LastEditedAt   time.Time
	ExpiresAt      time.Time
	Metadata       Metadata
}

// Metadata is written once at creation.
type Metadata struct {
	FirstSubmitIP        string
	FirstSubmitUserAgent string
}

type VersionSnapshot struct {
	VersionNumber int
	FormData      forms.FormData
	EditedAt      time.Time
	IPAddress     string
	UserAgent     string
	Changes       forms.Changelog
}

// FormSummary is the admin list projection of a record.
type FormSummary struct {
	Token          string
	CompanyName    string
	Email          string
	CreatedAt      time.Time
	LastEditedAt   time.Time
	ExpiresAt      time.Time
	EditCount      int
	CurrentVersion int
	ManagersCount  int
}

type ListFilter struct {
	Search string
	Offset int
	Limit  int
}

type Stats struct {
	TotalForms     int
	FormsThisMonth int
	EditedForms    int
	AverageEdits   float64
}

// Summary projects a record onto the admin list shape.
func (r FormRecord) Summary() FormSummary {
	return FormSummary{
		Token:          r.Token,
		CompanyName:    r.FormData.SectionA.CompanyName,
		Email:          r.Email,
		CreatedAt:      r.CreatedAt,
		LastEditedAt:   r.LastEditedAt,
		ExpiresAt:      r.ExpiresAt,
		EditCount:      r.EditCount,
		CurrentVersion: r.CurrentVersion,
		ManagersCount:  len(r.FormData.SectionB.Managers),
	}
}

func (r FormRecord) clone() FormRecord {
	out := r
	out.FormData = r.FormData.Clone()
	if r.Versions != nil {
		out.Versions = make([]VersionSnapshot, len(r.Versions))
		for i, version := range r.Versions {
			out.Versions[i] = version.clone()
		}
	}
	return out
}

func (v VersionSnapshot) clone() VersionSnapshot {
	out := v
	out.FormData = v.FormData.Clone()
	if v.Changes != nil {
		out.Changes = make(forms.Changelog, len(v.Changes))
		for path, change := range v.Changes {
			out.Changes[path] = change
		}
	}
	return out
}
