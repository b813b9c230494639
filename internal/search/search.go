package search

import (
	"time"

	"onboarding/api/internal/store"
)

// Query describes an admin list request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// FormDocument is the data we index for a form. Passwords and the form body
// never leave the store.
type FormDocument struct {
	Token       string `json:"token"`
	CompanyName string `json:"companyName"`
	Email       string `json:"email"`
	CreatedAt   int64  `json:"createdAt"`
}

// DocumentFromSummary builds the index document for a form summary.
func DocumentFromSummary(summary store.FormSummary) FormDocument {
	return FormDocument{
		Token:       summary.Token,
		CompanyName: summary.CompanyName,
		Email:       summary.Email,
		CreatedAt:   summary.CreatedAt.UTC().UnixMilli(),
	}
}

// CreatedTime converts the indexed timestamp back to a time.
func (d FormDocument) CreatedTime() time.Time {
	return time.UnixMilli(d.CreatedAt).UTC()
}

// Searcher can execute a full-text search over indexed forms and return the
// matching tokens in display order.
type Searcher interface {
	Search(q Query) ([]string, int, error)
	Healthy() bool
}

// Indexer can push forms into a search index.
type Indexer interface {
	IndexForm(doc FormDocument) error
	IndexForms(docs []FormDocument) error
	DeleteForm(token string) error
}
