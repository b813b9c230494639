package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps records in process. It backs DATABASE_URL=memory and
// the service tests, and follows the same version check as PostgresStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]FormRecord
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]FormRecord{}, now: time.Now}
}

// WithClock replaces the store's notion of the current time.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *MemoryStore) live(token string) (FormRecord, bool) {
	record, ok := s.records[token]
	if !ok || !record.ExpiresAt.After(s.now()) {
		return FormRecord{}, false
	}
	return record, true
}

func (s *MemoryStore) InsertForm(_ context.Context, record FormRecord, first VersionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.Token]; exists {
		return ErrTokenTaken
	}
	stored := record.clone()
	stored.FormData = stored.FormData.Normalize()
	snapshot := first.clone()
	snapshot.FormData = snapshot.FormData.Normalize()
	stored.Versions = []VersionSnapshot{snapshot}
	s.records[record.Token] = stored
	return nil
}

func (s *MemoryStore) GetForm(_ context.Context, token string) (FormRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.live(token)
	if !ok {
		return FormRecord{}, ErrNotFound
	}
	out := record.clone()
	out.Versions = nil
	return out, nil
}

func (s *MemoryStore) AppendVersion(_ context.Context, token string, expectedVersion int, next FormRecord, snapshot VersionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.live(token)
	if !ok {
		return ErrNotFound
	}
	if record.CurrentVersion != expectedVersion {
		return ErrVersionConflict
	}
	versions := record.Versions
	updated := next.clone()
	updated.Token = record.Token
	updated.CreatedAt = record.CreatedAt
	updated.ExpiresAt = record.ExpiresAt
	updated.Metadata = record.Metadata
	updated.FormData = updated.FormData.Normalize()
	appended := snapshot.clone()
	appended.FormData = appended.FormData.Normalize()
	updated.Versions = append(versions, appended)
	s.records[token] = updated
	return nil
}

func (s *MemoryStore) ListVersions(_ context.Context, token string) ([]VersionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.live(token)
	if !ok {
		return nil, ErrNotFound
	}
	return record.clone().Versions, nil
}

func (s *MemoryStore) GetVersion(_ context.Context, token string, versionNumber int) (VersionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.live(token)
	if !ok || versionNumber < 1 || versionNumber > len(record.Versions) {
		return VersionSnapshot{}, ErrNotFound
	}
	return record.Versions[versionNumber-1].clone(), nil
}

func (s *MemoryStore) ListForms(ctx context.Context, filter ListFilter) ([]FormSummary, int, error) {
	all, err := s.AllForms(ctx)
	if err != nil {
		return nil, 0, err
	}
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]FormSummary, 0, len(all))
	for _, item := range all {
		if search == "" ||
			strings.Contains(strings.ToLower(item.CompanyName), search) ||
			strings.Contains(strings.ToLower(item.Email), search) ||
			strings.Contains(strings.ToLower(item.Token), search) {
			matched = append(matched, item)
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (s *MemoryStore) SummariesByTokens(ctx context.Context, tokens []string) ([]FormSummary, error) {
	wanted := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		wanted[token] = struct{}{}
	}
	all, err := s.AllForms(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]FormSummary, 0, len(tokens))
	for _, item := range all {
		if _, ok := wanted[item.Token]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *MemoryStore) AllForms(_ context.Context) ([]FormSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]FormSummary, 0, len(s.records))
	for token := range s.records {
		if record, ok := s.live(token); ok {
			items = append(items, record.Summary())
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].Token < items[j].Token
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (s *MemoryStore) Stats(ctx context.Context, monthStart time.Time) (Stats, error) {
	all, err := s.AllForms(ctx)
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	totalEdits := 0
	for _, item := range all {
		stats.TotalForms++
		if !item.CreatedAt.Before(monthStart) {
			stats.FormsThisMonth++
		}
		if item.EditCount > 0 {
			stats.EditedForms++
		}
		totalEdits += item.EditCount
	}
	if stats.TotalForms > 0 {
		stats.AverageEdits = float64(totalEdits) / float64(stats.TotalForms)
	}
	return stats, nil
}

func (s *MemoryStore) DeleteForm(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[token]; !ok {
		return ErrNotFound
	}
	delete(s.records, token)
	return nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens := make([]string, 0)
	for token := range s.records {
		if _, ok := s.live(token); !ok {
			delete(s.records, token)
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
