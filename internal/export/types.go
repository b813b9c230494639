// Package export renders onboarding forms as PDF summaries and the admin
// listing as CSV.
package export

import (
	"errors"
	"time"

	"onboarding/api/internal/forms"
)

// FormDocument is everything the PDF summary shows about one form version.
type FormDocument struct {
	Token        string
	Version      int
	EditCount    int
	CreatedAt    time.Time
	LastEditedAt time.Time
	ExpiresAt    time.Time
	FormData     forms.FormData
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
