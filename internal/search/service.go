package search

import (
	"context"
	"log"
	"strings"

	"onboarding/api/internal/store"
)

type formLister interface {
	ListForms(context.Context, store.ListFilter) ([]store.FormSummary, int, error)
	SummariesByTokens(context.Context, []string) ([]store.FormSummary, error)
	AllForms(context.Context) ([]store.FormSummary, error)
}

type searchIndex interface {
	Searcher
	Indexer
}

// Service is the facade that answers admin searches from Meilisearch when it
// is healthy and from the store's substring match otherwise.
type Service struct {
	index searchIndex
	forms formLister
}

// NewService creates a search service. index may be nil if Meilisearch is
// not configured.
func NewService(index searchIndex, forms formLister) *Service {
	return &Service{index: index, forms: forms}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// List returns one page of form summaries matching q and the total number of
// matches.
func (s *Service) List(ctx context.Context, q Query) ([]store.FormSummary, int, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text != "" && s.indexReady() {
		tokens, total, err := s.index.Search(q)
		if err == nil {
			items, err := s.forms.SummariesByTokens(ctx, tokens)
			if err == nil {
				return items, total, nil
			}
			log.Printf("search: hydrate meilisearch hits: %v", err)
		} else {
			log.Printf("search: meilisearch error, falling back to store: %v", err)
		}
	}

	return s.forms.ListForms(ctx, store.ListFilter{Search: q.Text, Offset: q.Offset, Limit: q.Limit})
}

// IndexForm indexes a form (fire-and-forget to Meilisearch).
func (s *Service) IndexForm(summary store.FormSummary) {
	if !s.indexReady() {
		return
	}
	doc := DocumentFromSummary(summary)
	go func() {
		if err := s.index.IndexForm(doc); err != nil {
			log.Printf("search: index form %s: %v", doc.Token, err)
		}
	}()
}

// DeleteForms removes forms from the search index (fire-and-forget).
func (s *Service) DeleteForms(tokens ...string) {
	if !s.indexReady() || len(tokens) == 0 {
		return
	}
	go func() {
		for _, token := range tokens {
			if err := s.index.DeleteForm(token); err != nil {
				log.Printf("search: delete form %s: %v", token, err)
			}
		}
	}()
}

// ReindexFromStore pushes every live form into Meilisearch. Called at
// startup so an empty or stale index catches up.
func (s *Service) ReindexFromStore(ctx context.Context) {
	if !s.indexReady() {
		return
	}
	summaries, err := s.forms.AllForms(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	docs := make([]FormDocument, 0, len(summaries))
	for _, summary := range summaries {
		docs = append(docs, DocumentFromSummary(summary))
	}
	if err := s.index.IndexForms(docs); err != nil {
		log.Printf("search: reindex forms: %v", err)
	}
}
