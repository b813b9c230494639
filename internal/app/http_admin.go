package app

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) adminRoutes(r chi.Router) {
	r.Use(s.requireAdmin)

	r.Get("/forms", s.handleAdminList)
	r.Get("/forms/{token}", s.handleAdminDetail)
	r.Delete("/forms/{token}", s.handleAdminDelete)
	r.Get("/forms/{token}/pdf", s.handlePDF)
	r.Get("/stats", s.handleAdminStats)
	r.Get("/export/csv", s.handleAdminCSV)
}

// requireAdmin checks the shared admin key. With no key configured the admin
// surface does not exist.
func (s *HTTPServer) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		provided := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.adminKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleAdminList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	limit, _ := strconv.Atoi(query.Get("limit"))

	result, err := s.service.ListForms(r.Context(), ListInput{
		Page:   page,
		Limit:  limit,
		Search: query.Get("search"),
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"data":       result.Data,
		"pagination": result.Pagination,
	})
}

func (s *HTTPServer) handleAdminDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.FormDetail(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": detail})
}

func (s *HTTPServer) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteForm(r.Context(), chi.URLParam(r, "token")); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Form deleted"})
}

func (s *HTTPServer) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

func (s *HTTPServer) handleAdminCSV(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportCSV(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeFile(w, result)
}
