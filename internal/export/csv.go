package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"onboarding/api/internal/store"
)

var csvHeader = []string{"Token", "Company Name", "Email", "Created At", "Last Edited", "Edit Count", "Managers Count"}

// WriteFormsCSV writes the admin listing as CSV, one row per form.
func WriteFormsCSV(w io.Writer, summaries []store.FormSummary) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, summary := range summaries {
		company := summary.CompanyName
		if company == "" {
			company = "N/A"
		}
		lastEdited := "Never"
		if summary.EditCount > 0 {
			lastEdited = summary.LastEditedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			summary.Token,
			company,
			summary.Email,
			summary.CreatedAt.UTC().Format(time.RFC3339),
			lastEdited,
			strconv.Itoa(summary.EditCount),
			strconv.Itoa(summary.ManagersCount),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// CSVFilename names an export taken at t.
func CSVFilename(t time.Time) string {
	return fmt.Sprintf("onboarding-forms-%s.csv", t.UTC().Format("20060102-150405"))
}
