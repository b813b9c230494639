package app

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"strings"
	"time"

	"onboarding/api/internal/export"
	"onboarding/api/internal/forms"
	"onboarding/api/internal/search"
	"onboarding/api/internal/store"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxPage         = 1 << 20
)

type ListInput struct {
	Page   int
	Limit  int
	Search string
}

type FormListItem struct {
	Token          string    `json:"token"`
	Email          string    `json:"email"`
	CompanyName    string    `json:"companyName"`
	CreatedAt      time.Time `json:"createdAt"`
	LastEditedAt   time.Time `json:"lastEditedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	EditCount      int       `json:"editCount"`
	CurrentVersion int       `json:"currentVersion"`
	ManagersCount  int       `json:"managersCount"`
}

type Pagination struct {
	CurrentPage  int `json:"currentPage"`
	TotalPages   int `json:"totalPages"`
	TotalItems   int `json:"totalItems"`
	ItemsPerPage int `json:"itemsPerPage"`
}

type FormPage struct {
	Data       []FormListItem `json:"data"`
	Pagination Pagination     `json:"pagination"`
}

// FormDetail is the full admin view of one record, including every version.
type FormDetail struct {
	Token          string          `json:"token"`
	Email          string          `json:"email"`
	CurrentVersion int             `json:"currentVersion"`
	EditCount      int             `json:"editCount"`
	FormData       forms.FormData  `json:"formData"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastEditedAt   time.Time       `json:"lastEditedAt"`
	ExpiresAt      time.Time       `json:"expiresAt"`
	Metadata       FirstSubmitInfo `json:"metadata"`
	Versions       []VersionView   `json:"versions"`
}

type StatsView struct {
	TotalForms     int     `json:"totalForms"`
	FormsThisMonth int     `json:"formsThisMonth"`
	EditedForms    int     `json:"editedForms"`
	AverageEdits   float64 `json:"averageEdits"`
}

func (s *Service) ListForms(ctx context.Context, input ListInput) (FormPage, error) {
	page := input.Page
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	limit := input.Limit
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if s.search == nil {
		return FormPage{}, errServer()
	}
	summaries, total, err := s.search.List(ctx, search.Query{
		Text:   strings.TrimSpace(input.Search),
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		log.Printf("app: list forms: %v", err)
		return FormPage{}, errServer()
	}

	items := make([]FormListItem, 0, len(summaries))
	for _, summary := range summaries {
		items = append(items, FormListItem{
			Token:          summary.Token,
			Email:          summary.Email,
			CompanyName:    summary.CompanyName,
			CreatedAt:      summary.CreatedAt,
			LastEditedAt:   summary.LastEditedAt,
			ExpiresAt:      summary.ExpiresAt,
			EditCount:      summary.EditCount,
			CurrentVersion: summary.CurrentVersion,
			ManagersCount:  summary.ManagersCount,
		})
	}

	return FormPage{
		Data: items,
		Pagination: Pagination{
			CurrentPage:  page,
			TotalPages:   int(math.Ceil(float64(total) / float64(limit))),
			TotalItems:   total,
			ItemsPerPage: limit,
		},
	}, nil
}

func (s *Service) FormDetail(ctx context.Context, token string) (FormDetail, error) {
	record, versions, err := s.loadWithVersions(ctx, token)
	if err != nil {
		return FormDetail{}, err
	}
	views := make([]VersionView, 0, len(versions))
	for _, version := range versions {
		views = append(views, versionView(version))
	}
	return FormDetail{
		Token:          record.Token,
		Email:          record.Email,
		CurrentVersion: record.CurrentVersion,
		EditCount:      record.EditCount,
		FormData:       record.FormData,
		CreatedAt:      record.CreatedAt,
		LastEditedAt:   record.LastEditedAt,
		ExpiresAt:      record.ExpiresAt,
		Metadata: FirstSubmitInfo{
			FirstSubmitIP:        record.Metadata.FirstSubmitIP,
			FirstSubmitUserAgent: record.Metadata.FirstSubmitUserAgent,
		},
		Versions: views,
	}, nil
}

// Stats counts live forms. The month starts at midnight UTC on the first.
func (s *Service) Stats(ctx context.Context) (StatsView, error) {
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	stats, err := s.store.Stats(ctx, monthStart)
	if err != nil {
		log.Printf("app: stats: %v", err)
		return StatsView{}, errServer()
	}
	return StatsView{
		TotalForms:     stats.TotalForms,
		FormsThisMonth: stats.FormsThisMonth,
		EditedForms:    stats.EditedForms,
		AverageEdits:   math.Round(stats.AverageEdits*100) / 100,
	}, nil
}

// DeleteForm removes a record with its versions, its search document and
// every image any of its versions referenced.
func (s *Service) DeleteForm(ctx context.Context, token string) error {
	_, versions, err := s.loadWithVersions(ctx, token)
	if err != nil {
		return err
	}

	if err := s.store.DeleteForm(ctx, token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errFormNotFound()
		}
		log.Printf("app: delete form: %v", err)
		return errServer()
	}

	if s.search != nil {
		s.search.DeleteForms(token)
	}
	s.uploads.Discard(referencedImages(versions))
	return nil
}

func referencedImages(versions []store.VersionSnapshot) []string {
	seen := map[string]struct{}{}
	var urls []string
	for _, version := range versions {
		lists := [][]string{version.FormData.SectionA.UploadedLogos, version.FormData.SectionA.DesignReferenceImages}
		for _, list := range lists {
			for _, url := range list {
				if _, ok := seen[url]; ok {
					continue
				}
				seen[url] = struct{}{}
				urls = append(urls, url)
			}
		}
	}
	return urls
}

// ExportCSV renders every live form as one CSV row.
func (s *Service) ExportCSV(ctx context.Context) (*export.Result, error) {
	summaries, err := s.store.AllForms(ctx)
	if err != nil {
		log.Printf("app: export csv: %v", err)
		return nil, errServer()
	}
	var buf bytes.Buffer
	if err := export.WriteFormsCSV(&buf, summaries); err != nil {
		log.Printf("app: write csv: %v", err)
		return nil, errServer()
	}
	return &export.Result{
		Data:     buf.Bytes(),
		Filename: export.CSVFilename(s.now()),
		MimeType: "text/csv",
	}, nil
}
