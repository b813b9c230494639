package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"onboarding/api/internal/config"
	"onboarding/api/internal/email"
	"onboarding/api/internal/export"
	"onboarding/api/internal/forms"
	"onboarding/api/internal/lock"
	"onboarding/api/internal/search"
	"onboarding/api/internal/store"
	"onboarding/api/internal/uploads"
	"onboarding/api/internal/util"
)

const (
	maxTokenAttempts  = 5
	maxUpdateAttempts = 5
	notifyTimeout     = 30 * time.Second
)

type dataStore interface {
	InsertForm(context.Context, store.FormRecord, store.VersionSnapshot) error
	GetForm(context.Context, string) (store.FormRecord, error)
	AppendVersion(context.Context, string, int, store.FormRecord, store.VersionSnapshot) error
	ListVersions(context.Context, string) ([]store.VersionSnapshot, error)
	GetVersion(context.Context, string, int) (store.VersionSnapshot, error)
	AllForms(context.Context) ([]store.FormSummary, error)
	Stats(context.Context, time.Time) (store.Stats, error)
	DeleteForm(context.Context, string) error
	Ping(ctx context.Context) error
}

type formSearch interface {
	List(context.Context, search.Query) ([]store.FormSummary, int, error)
	IndexForm(store.FormSummary)
	DeleteForms(...string)
}

type updateLocker interface {
	Acquire(ctx context.Context, name string) (func(), error)
}

type uploadStore interface {
	Store(ctx context.Context, kind uploads.Kind, files []uploads.File) ([]string, error)
	Discard(urls []string)
}

type notifier interface {
	IsConfigured() bool
	SendSubmissionEmails(sub email.Submission, adminTo string) error
}

type pdfExporter interface {
	FormPDF(ctx context.Context, doc export.FormDocument) (*export.Result, error)
}

// Client identifies the caller of a write for the version history.
type Client struct {
	IP        string
	UserAgent string
}

// UploadSet holds the files received with one submit or update.
type UploadSet struct {
	Logos      []uploads.File
	References []uploads.File
}

func (u UploadSet) empty() bool {
	return len(u.Logos) == 0 && len(u.References) == 0
}

type CreateInput struct {
	FormData forms.PartialFormData
	Uploads  UploadSet
	Client   Client
}

type CreateResult struct {
	Token    string
	EditLink string
	Version  int
}

type UpdateInput struct {
	Token    string
	FormData forms.PartialFormData
	Uploads  UploadSet
	Client   Client
}

type UpdateResult struct {
	Version         int
	ChangesDetected bool
	Changes         forms.Changelog
	EditLink        string
}

type FormView struct {
	FormData       forms.FormData `json:"formData"`
	CurrentVersion int            `json:"currentVersion"`
	EditCount      int            `json:"editCount"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastEditedAt   time.Time      `json:"lastEditedAt"`
	ExpiresAt      time.Time      `json:"expiresAt"`
}

type FirstSubmitInfo struct {
	FirstSubmitIP        string `json:"firstSubmitIP"`
	FirstSubmitUserAgent string `json:"firstSubmitUserAgent"`
}

type VersionEntry struct {
	Version   int             `json:"version"`
	EditedAt  time.Time       `json:"editedAt"`
	IPAddress string          `json:"ipAddress"`
	UserAgent string          `json:"userAgent"`
	Changes   forms.Changelog `json:"changes"`
}

type HistoryView struct {
	Token           string          `json:"token"`
	Email           string          `json:"email"`
	CurrentVersion  int             `json:"currentVersion"`
	TotalEdits      int             `json:"totalEdits"`
	CreatedAt       time.Time       `json:"createdAt"`
	LastEditedAt    time.Time       `json:"lastEditedAt"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	FirstSubmitInfo FirstSubmitInfo `json:"firstSubmitInfo"`
	Versions        []VersionEntry  `json:"versions"`
}

// VersionView is one historical snapshot including the document as it was
// after that version was written.
type VersionView struct {
	Version   int             `json:"version"`
	FormData  forms.FormData  `json:"formData"`
	EditedAt  time.Time       `json:"editedAt"`
	IPAddress string          `json:"ipAddress"`
	UserAgent string          `json:"userAgent"`
	Changes   forms.Changelog `json:"changes"`
}

type Service struct {
	cfg      config.Config
	store    dataStore
	search   formSearch
	locker   updateLocker
	uploads  uploadStore
	notifier notifier
	exporter pdfExporter
	now      func() time.Time
	pending  sync.WaitGroup
}

type Option func(*Service)

func WithSearch(svc formSearch) Option {
	return func(s *Service) { s.search = svc }
}

func WithLocker(locker updateLocker) Option {
	return func(s *Service) { s.locker = locker }
}

func WithUploads(svc uploadStore) Option {
	return func(s *Service) { s.uploads = svc }
}

func WithNotifier(n notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithExporter(e pdfExporter) Option {
	return func(s *Service) { s.exporter = e }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds the service. Collaborators not supplied through options are
// disabled, except that admin listing falls back to the store itself when it
// can list forms.
func New(cfg config.Config, dataStore dataStore, opts ...Option) *Service {
	s := &Service{
		cfg:   cfg,
		store: dataStore,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.uploads == nil {
		s.uploads = uploads.NewService(nil, cfg.UploadMaxBytes)
	}
	if s.search == nil {
		if lister, ok := dataStore.(searchableStore); ok {
			s.search = search.NewService(nil, lister)
		}
	}
	return s
}

type searchableStore interface {
	ListForms(context.Context, store.ListFilter) ([]store.FormSummary, int, error)
	SummariesByTokens(context.Context, []string) ([]store.FormSummary, error)
	AllForms(context.Context) ([]store.FormSummary, error)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Wait blocks until background notifications have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) EditLink(token string) string {
	return fmt.Sprintf("%s/?token=%s", s.cfg.FrontendURL, token)
}

func (s *Service) AdminLink(token string) string {
	return fmt.Sprintf("%s/admin/form-details?token=%s", s.cfg.FrontendURL, token)
}

func (s *Service) formTTL() time.Duration {
	if s.cfg.FormTTL <= 0 {
		return 30 * 24 * time.Hour
	}
	return s.cfg.FormTTL
}

// Create persists a new submission as version 1 under a fresh token.
func (s *Service) Create(ctx context.Context, input CreateInput) (CreateResult, error) {
	if err := validatePayload(input.FormData); err != nil {
		return CreateResult{}, err
	}

	uploaded, err := s.storeUploads(ctx, input.Uploads)
	if err != nil {
		return CreateResult{}, err
	}

	data := forms.Build(input.FormData, uploaded)
	contact := data.PrimaryEmail()
	if contact == "" {
		contact = forms.DefaultEmail
	}

	now := s.now().UTC()
	record := store.FormRecord{
		Email:          contact,
		CurrentVersion: 1,
		EditCount:      0,
		FormData:       data,
		CreatedAt:      now,
		LastEditedAt:   now,
		ExpiresAt:      now.Add(s.formTTL()),
		Metadata: store.Metadata{
			FirstSubmitIP:        input.Client.IP,
			FirstSubmitUserAgent: input.Client.UserAgent,
		},
	}
	first := store.VersionSnapshot{
		VersionNumber: 1,
		FormData:      data,
		EditedAt:      now,
		IPAddress:     input.Client.IP,
		UserAgent:     input.Client.UserAgent,
		Changes:       forms.Changelog{},
	}

	inserted := false
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := util.NewToken()
		if err != nil {
			s.discardUploads(uploaded)
			return CreateResult{}, fmt.Errorf("generate token: %w", err)
		}
		record.Token = token
		err = s.store.InsertForm(ctx, record, first)
		if errors.Is(err, store.ErrTokenTaken) {
			log.Printf("app: token collision on create, retrying")
			continue
		}
		if err != nil {
			s.discardUploads(uploaded)
			log.Printf("app: create form: %v", err)
			return CreateResult{}, errServer()
		}
		inserted = true
		break
	}
	if !inserted {
		s.discardUploads(uploaded)
		log.Printf("app: create form: no free token after %d attempts", maxTokenAttempts)
		return CreateResult{}, errServer()
	}

	if s.search != nil {
		s.search.IndexForm(record.Summary())
	}
	s.notifySubmission(record)

	return CreateResult{Token: record.Token, EditLink: s.EditLink(record.Token), Version: 1}, nil
}

// Update merges a partial payload into the live record and appends the next
// version. Concurrent writers are detected by the store's version check and
// the whole read-merge-write cycle is retried, so no accepted update is lost.
func (s *Service) Update(ctx context.Context, input UpdateInput) (UpdateResult, error) {
	token := strings.TrimSpace(input.Token)
	if token == "" {
		return UpdateResult{}, errValidation("token is required", map[string]string{"token": "is required"})
	}
	if err := validatePayload(input.FormData); err != nil {
		return UpdateResult{}, err
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, token)
		switch {
		case errors.Is(err, lock.ErrLocked):
			return UpdateResult{}, domainError(http.StatusConflict, "UPDATE_IN_PROGRESS", "Another update to this form is in progress", nil)
		case err != nil:
			log.Printf("app: update lock unavailable, relying on version check: %v", err)
		default:
			defer release()
		}
	}

	record, err := s.loadForm(ctx, token)
	if err != nil {
		return UpdateResult{}, err
	}

	uploaded, err := s.storeUploads(ctx, input.Uploads)
	if err != nil {
		return UpdateResult{}, err
	}

	for attempt := 1; ; attempt++ {
		next, snapshot := s.nextVersion(record, input, uploaded)
		err := s.store.AppendVersion(ctx, token, record.CurrentVersion, next, snapshot)
		if err == nil {
			if s.search != nil {
				s.search.IndexForm(next.Summary())
			}
			return UpdateResult{
				Version:         next.CurrentVersion,
				ChangesDetected: len(snapshot.Changes) > 0,
				Changes:         snapshot.Changes,
				EditLink:        s.EditLink(token),
			}, nil
		}

		switch {
		case errors.Is(err, store.ErrVersionConflict):
			if attempt >= maxUpdateAttempts {
				s.discardUploads(uploaded)
				return UpdateResult{}, domainError(http.StatusConflict, "VERSION_CONFLICT", "The form was changed by another update, please retry", nil)
			}
			record, err = s.loadForm(ctx, token)
			if err != nil {
				s.discardUploads(uploaded)
				return UpdateResult{}, err
			}
		case errors.Is(err, store.ErrNotFound):
			s.discardUploads(uploaded)
			return UpdateResult{}, errFormNotFound()
		default:
			s.discardUploads(uploaded)
			log.Printf("app: update form: %v", err)
			return UpdateResult{}, errServer()
		}
	}
}

func (s *Service) nextVersion(record store.FormRecord, input UpdateInput, uploaded forms.Uploads) (store.FormRecord, store.VersionSnapshot) {
	now := s.now().UTC()
	previous := record.FormData.Clone()
	merged := forms.Merge(previous, input.FormData, uploaded).Normalize()
	changes := forms.Diff(previous, merged)

	next := record
	next.FormData = merged
	next.CurrentVersion = record.CurrentVersion + 1
	next.EditCount = record.EditCount + 1
	next.LastEditedAt = now
	if contact := merged.PrimaryEmail(); contact != "" {
		next.Email = contact
	}

	snapshot := store.VersionSnapshot{
		VersionNumber: next.CurrentVersion,
		FormData:      merged,
		EditedAt:      now,
		IPAddress:     input.Client.IP,
		UserAgent:     input.Client.UserAgent,
		Changes:       changes,
	}
	return next, snapshot
}

func (s *Service) Get(ctx context.Context, token string) (FormView, error) {
	record, err := s.loadForm(ctx, token)
	if err != nil {
		return FormView{}, err
	}
	return FormView{
		FormData:       record.FormData,
		CurrentVersion: record.CurrentVersion,
		EditCount:      record.EditCount,
		CreatedAt:      record.CreatedAt,
		LastEditedAt:   record.LastEditedAt,
		ExpiresAt:      record.ExpiresAt,
	}, nil
}

func (s *Service) History(ctx context.Context, token string) (HistoryView, error) {
	record, versions, err := s.loadWithVersions(ctx, token)
	if err != nil {
		return HistoryView{}, err
	}

	entries := make([]VersionEntry, 0, len(versions))
	for _, version := range versions {
		entries = append(entries, VersionEntry{
			Version:   version.VersionNumber,
			EditedAt:  version.EditedAt,
			IPAddress: version.IPAddress,
			UserAgent: version.UserAgent,
			Changes:   nonNilChanges(version.Changes),
		})
	}

	return HistoryView{
		Token:          record.Token,
		Email:          record.Email,
		CurrentVersion: record.CurrentVersion,
		TotalEdits:     record.EditCount,
		CreatedAt:      record.CreatedAt,
		LastEditedAt:   record.LastEditedAt,
		ExpiresAt:      record.ExpiresAt,
		FirstSubmitInfo: FirstSubmitInfo{
			FirstSubmitIP:        record.Metadata.FirstSubmitIP,
			FirstSubmitUserAgent: record.Metadata.FirstSubmitUserAgent,
		},
		Versions: entries,
	}, nil
}

// Version returns the document exactly as it stood after version n.
func (s *Service) Version(ctx context.Context, token string, n int) (VersionView, error) {
	if n < 1 {
		return VersionView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Form version not found", nil)
	}
	snapshot, err := s.store.GetVersion(ctx, token, n)
	if errors.Is(err, store.ErrNotFound) {
		return VersionView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Form version not found", nil)
	}
	if err != nil {
		log.Printf("app: load version %d: %v", n, err)
		return VersionView{}, errServer()
	}
	return versionView(snapshot), nil
}

// FormPDF renders the current version of a form as a PDF summary.
func (s *Service) FormPDF(ctx context.Context, token string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil)
	}
	record, err := s.loadForm(ctx, token)
	if err != nil {
		return nil, err
	}
	result, err := s.exporter.FormPDF(ctx, export.FormDocument{
		Token:        record.Token,
		Version:      record.CurrentVersion,
		EditCount:    record.EditCount,
		CreatedAt:    record.CreatedAt,
		LastEditedAt: record.LastEditedAt,
		ExpiresAt:    record.ExpiresAt,
		FormData:     record.FormData,
	})
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil)
	}
	if err != nil {
		log.Printf("app: render pdf: %v", err)
		return nil, errServer()
	}
	return result, nil
}

func (s *Service) loadForm(ctx context.Context, token string) (store.FormRecord, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return store.FormRecord{}, errFormNotFound()
	}
	record, err := s.store.GetForm(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return store.FormRecord{}, errFormNotFound()
	}
	if err != nil {
		log.Printf("app: load form: %v", err)
		return store.FormRecord{}, errServer()
	}
	return record, nil
}

func (s *Service) loadWithVersions(ctx context.Context, token string) (store.FormRecord, []store.VersionSnapshot, error) {
	record, err := s.loadForm(ctx, token)
	if err != nil {
		return store.FormRecord{}, nil, err
	}
	versions, err := s.store.ListVersions(ctx, record.Token)
	if errors.Is(err, store.ErrNotFound) {
		return store.FormRecord{}, nil, errFormNotFound()
	}
	if err != nil {
		log.Printf("app: list versions: %v", err)
		return store.FormRecord{}, nil, errServer()
	}
	return record, versions, nil
}

func (s *Service) storeUploads(ctx context.Context, set UploadSet) (forms.Uploads, error) {
	if set.empty() {
		return forms.Uploads{}, nil
	}
	logos, err := s.uploads.Store(ctx, uploads.KindLogo, set.Logos)
	if err != nil {
		return forms.Uploads{}, uploadError("logos", err)
	}
	references, err := s.uploads.Store(ctx, uploads.KindReference, set.References)
	if err != nil {
		s.uploads.Discard(logos)
		return forms.Uploads{}, uploadError("references", err)
	}
	return forms.Uploads{Logos: logos, References: references}, nil
}

func (s *Service) discardUploads(uploaded forms.Uploads) {
	s.uploads.Discard(uploaded.Logos)
	s.uploads.Discard(uploaded.References)
}

func uploadError(field string, err error) error {
	if errors.Is(err, uploads.ErrUnsupportedType) || errors.Is(err, uploads.ErrTooLarge) {
		return errValidation("Invalid upload", map[string]string{field: err.Error()})
	}
	log.Printf("app: store %s: %v", field, err)
	return domainError(http.StatusBadGateway, "UPLOAD_FAILED", "Could not store uploaded files", nil)
}

func (s *Service) notifySubmission(record store.FormRecord) {
	if s.notifier == nil || !s.notifier.IsConfigured() {
		return
	}
	managers := make([]email.ManagerSummary, 0, len(record.FormData.SectionB.Managers))
	for _, manager := range record.FormData.SectionB.Managers {
		managers = append(managers, email.ManagerSummary{
			Username: manager.Username,
			FullName: manager.FullName,
			Role:     string(manager.Role),
			Email:    manager.Email,
		})
	}
	submission := email.Submission{
		Email:       record.Email,
		CompanyName: record.FormData.SectionA.CompanyName,
		EditLink:    s.EditLink(record.Token),
		AdminLink:   s.AdminLink(record.Token),
		Managers:    managers,
		LogoOption:  string(record.FormData.SectionA.LogoOption),
		DesignText:  record.FormData.SectionA.DesignReferenceText,
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		done := make(chan error, 1)
		go func() { done <- s.notifier.SendSubmissionEmails(submission, s.cfg.AdminNotifyEmail) }()
		select {
		case err := <-done:
			if err != nil {
				log.Printf("app: submission email: %v", err)
			}
		case <-time.After(notifyTimeout):
			log.Printf("app: submission email timed out after %s", notifyTimeout)
		}
	}()
}

func validatePayload(payload forms.PartialFormData) error {
	err := forms.Validate(payload)
	if err == nil {
		return nil
	}
	var invalid *forms.ValidationError
	if errors.As(err, &invalid) {
		return errValidation("Invalid form data", invalid.Fields)
	}
	return errValidation(err.Error(), nil)
}

func versionView(snapshot store.VersionSnapshot) VersionView {
	return VersionView{
		Version:   snapshot.VersionNumber,
		FormData:  snapshot.FormData,
		EditedAt:  snapshot.EditedAt,
		IPAddress: snapshot.IPAddress,
		UserAgent: snapshot.UserAgent,
		Changes:   nonNilChanges(snapshot.Changes),
	}
}

func nonNilChanges(changes forms.Changelog) forms.Changelog {
	if changes == nil {
		return forms.Changelog{}
	}
	return changes
}
