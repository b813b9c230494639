package export

import (
	"context"
	"fmt"
)

// PDFRenderer turns rendered HTML into PDF bytes.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// Service provides form export functionality
type Service struct {
	renderer PDFRenderer
}

// NewService creates a new export service
func NewService(renderer PDFRenderer) *Service {
	return &Service{renderer: renderer}
}

// FormPDF renders the summary PDF of one form version.
func (s *Service) FormPDF(ctx context.Context, doc FormDocument) (*Result, error) {
	data := NewTemplateData(doc)
	html, err := RenderFormHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	pdf, err := s.renderer.RenderPDF(ctx, html)
	if err != nil {
		return nil, err
	}

	return &Result{
		Data:     pdf,
		Filename: fmt.Sprintf("%s-v%d.pdf", sanitizeFilename(data.Company), doc.Version),
		MimeType: "application/pdf",
	}, nil
}
