package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"math"
	"strings"
	"testing"
	"time"

	"onboarding/api/internal/forms"
	"onboarding/api/internal/store"
	"onboarding/api/internal/uploads"
)

func createCompany(t *testing.T, svc *Service, name, contact string) CreateResult {
	t.Helper()
	payload := forms.PartialFormData{
		SectionA: &forms.PartialCompanyProfile{CompanyName: forms.StringPtr(name)},
		SectionB: &forms.Accounts{Managers: []forms.Manager{
			{Username: "owner", Role: forms.RoleAdmin, Email: contact, Password: "s3cret!pass"},
		}},
	}
	return mustCreate(t, svc, payload)
}

func TestListFormsPaginates(t *testing.T) {
	fs := newFakeStore()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	var tick int
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	fs.MemoryStore.WithClock(func() time.Time { return base })
	svc := newTestService(fs, WithClock(clock))
	for i := 0; i < 12; i++ {
		createCompany(t, svc, "Company", "owner@example.com")
	}

	page, err := svc.ListForms(context.Background(), ListInput{Page: 2, Limit: 5})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Data) != 5 {
		t.Fatalf("expected 5 items, got %d", len(page.Data))
	}
	want := Pagination{CurrentPage: 2, TotalPages: 3, TotalItems: 12, ItemsPerPage: 5}
	if page.Pagination != want {
		t.Fatalf("expected %+v, got %+v", want, page.Pagination)
	}
	if page.Data[0].ManagersCount != 1 || page.Data[0].CurrentVersion != 1 {
		t.Fatalf("unexpected item %+v", page.Data[0])
	}

	defaults, err := svc.ListForms(context.Background(), ListInput{Page: -1, Limit: 1000})
	if err != nil {
		t.Fatalf("list defaults: %v", err)
	}
	if defaults.Pagination.CurrentPage != 1 || defaults.Pagination.ItemsPerPage != maxPageSize {
		t.Fatalf("unexpected clamped pagination %+v", defaults.Pagination)
	}
}

func TestListFormsCapsHugePage(t *testing.T) {
	svc := newTestService(newFakeStore())
	createCompany(t, svc, "Only", "only@example.com")

	page, err := svc.ListForms(context.Background(), ListInput{Page: math.MaxInt, Limit: maxPageSize})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Pagination.CurrentPage != maxPage {
		t.Fatalf("expected page capped at %d, got %d", maxPage, page.Pagination.CurrentPage)
	}
	if len(page.Data) != 0 {
		t.Fatalf("a page past the end must be empty, got %d items", len(page.Data))
	}
}

func TestListFormsSearchesCompanyAndEmail(t *testing.T) {
	svc := newTestService(newFakeStore())
	createCompany(t, svc, "Lucky Star Casino", "ops@lucky.example")
	createCompany(t, svc, "Golden Room", "desk@golden.example")

	byCompany, err := svc.ListForms(context.Background(), ListInput{Search: "  lucky "})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(byCompany.Data) != 1 || byCompany.Data[0].CompanyName != "Lucky Star Casino" {
		t.Fatalf("unexpected company search result %+v", byCompany.Data)
	}

	byEmail, err := svc.ListForms(context.Background(), ListInput{Search: "GOLDEN.example"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if byEmail.Pagination.TotalItems != 1 || byEmail.Data[0].Email != "desk@golden.example" {
		t.Fatalf("unexpected email search result %+v", byEmail)
	}
}

func TestStatsRoundsAverageAndUsesMonthStart(t *testing.T) {
	fs := newFakeStore()
	var gotMonthStart time.Time
	fs.statsFn = func(_ context.Context, monthStart time.Time) (store.Stats, error) {
		gotMonthStart = monthStart
		return store.Stats{TotalForms: 3, FormsThisMonth: 2, EditedForms: 2, AverageEdits: 2.0 / 3.0}, nil
	}
	now := time.Date(2026, 5, 17, 23, 30, 0, 0, time.FixedZone("UTC+3", 3*3600))
	svc := newTestService(fs, WithClock(func() time.Time { return now }))

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.AverageEdits != 0.67 {
		t.Fatalf("expected 0.67, got %v", stats.AverageEdits)
	}
	if stats.TotalForms != 3 || stats.FormsThisMonth != 2 || stats.EditedForms != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if want := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC); !gotMonthStart.Equal(want) {
		t.Fatalf("expected month start %s, got %s", want, gotMonthStart)
	}
}

func TestStatsFromStoredForms(t *testing.T) {
	svc := newTestService(newFakeStore())
	first := createCompany(t, svc, "One", "one@example.com")
	second := createCompany(t, svc, "Two", "two@example.com")
	createCompany(t, svc, "Three", "three@example.com")
	mustUpdate(t, svc, first.Token, forms.PartialFormData{})
	mustUpdate(t, svc, second.Token, forms.PartialFormData{})

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalForms != 3 || stats.EditedForms != 2 || stats.AverageEdits != 0.67 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDeleteFormRemovesRecordAndImages(t *testing.T) {
	up := &fakeUploads{}
	svc := newTestService(newFakeStore(), WithUploads(up))
	created, err := svc.Create(context.Background(), CreateInput{
		FormData: scenarioPayload(),
		Uploads:  UploadSet{Logos: []uploads.File{{Name: "a.png", Body: strings.NewReader("a")}}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = svc.Update(context.Background(), UpdateInput{
		Token:   created.Token,
		Uploads: UploadSet{References: []uploads.File{{Name: "r.jpg", Body: strings.NewReader("r")}}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := svc.DeleteForm(context.Background(), created.Token); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if len(up.discarded) != 2 {
		t.Fatalf("expected both images discarded once, got %v", up.discarded)
	}
	_, err = svc.Get(context.Background(), created.Token)
	requireDomainError(t, err, 404, "NOT_FOUND")

	err = svc.DeleteForm(context.Background(), created.Token)
	requireDomainError(t, err, 404, "NOT_FOUND")
}

func TestFormDetailIncludesVersions(t *testing.T) {
	svc := newTestService(newFakeStore())
	created := mustCreate(t, svc, scenarioPayload())
	mustUpdate(t, svc, created.Token, forms.PartialFormData{
		SectionA: &forms.PartialCompanyProfile{CompanyName: forms.StringPtr("Acme2")},
	})

	detail, err := svc.FormDetail(context.Background(), created.Token)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail.Versions) != 2 || detail.Versions[0].FormData.SectionA.CompanyName != "Acme" {
		t.Fatalf("unexpected versions %+v", detail.Versions)
	}
	if detail.Metadata.FirstSubmitIP != testClient.IP {
		t.Fatalf("unexpected metadata %+v", detail.Metadata)
	}
}

func TestExportCSV(t *testing.T) {
	now := time.Date(2026, 4, 2, 9, 5, 7, 0, time.UTC)
	fs := newFakeStore()
	fs.MemoryStore.WithClock(func() time.Time { return now })
	svc := newTestService(fs, WithClock(func() time.Time { return now }))
	created := createCompany(t, svc, "", "blank@example.com")

	result, err := svc.ExportCSV(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.Filename != "onboarding-forms-20260402-090507.csv" || result.MimeType != "text/csv" {
		t.Fatalf("unexpected result %q %q", result.Filename, result.MimeType)
	}
	rows, err := csv.NewReader(bytes.NewReader(result.Data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one row, got %d", len(rows))
	}
	if rows[1][0] != created.Token || rows[1][1] != "N/A" || rows[1][4] != "Never" {
		t.Fatalf("unexpected row %v", rows[1])
	}
}
