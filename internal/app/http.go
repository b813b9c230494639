package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"onboarding/api/internal/export"
	"onboarding/api/internal/forms"
	"onboarding/api/internal/store"
	"onboarding/api/internal/uploads"
)

const (
	maxFilesPerField = 10
	// payload part and multipart framing on top of the files themselves
	multipartOverhead = 1 << 20
	maxJSONBody       = 1 << 20
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	adminKey   string
}

func NewHTTPServer(service *Service, corsOrigin, adminKey string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, adminKey: adminKey}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.withMiddleware)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Head("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Head("/ready", s.handleReady)

		r.Route("/form", func(r chi.Router) {
			r.Post("/submit", s.handleSubmit)
			r.Post("/update", s.handleUpdate)
			r.Get("/get/{token}", s.handleGet)
			r.Get("/history/{token}", s.handleHistory)
			r.Get("/history/{token}/{version}", s.handleVersion)
			r.Get("/pdf/{token}", s.handlePDF)
		})

		r.Route("/admin", s.adminRoutes)
	})

	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// formRequest is the body of submit and update, either as the whole JSON
// body or as the "payload" part of a multipart request.
type formRequest struct {
	Token    string                 `json:"token"`
	FormData *forms.PartialFormData `json:"formData"`
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, files, cleanup, err := s.readFormRequest(w, r)
	defer cleanup()
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if body.FormData == nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "formData is required", nil)
		return
	}

	result, err := s.service.Create(r.Context(), CreateInput{
		FormData: *body.FormData,
		Uploads:  files,
		Client:   clientFrom(r),
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"token":    result.Token,
		"editLink": result.EditLink,
		"version":  result.Version,
		"message":  "Form saved successfully",
	})
}

func (s *HTTPServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, files, cleanup, err := s.readFormRequest(w, r)
	defer cleanup()
	if err != nil {
		writeMappedError(w, err)
		return
	}

	var payload forms.PartialFormData
	if body.FormData != nil {
		payload = *body.FormData
	}
	result, err := s.service.Update(r.Context(), UpdateInput{
		Token:    body.Token,
		FormData: payload,
		Uploads:  files,
		Client:   clientFrom(r),
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         "Form updated successfully",
		"version":         result.Version,
		"editLink":        result.EditLink,
		"changesDetected": result.ChangesDetected,
		"changes":         nonNilChanges(result.Changes),
	})
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Get(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"formData":       view.FormData,
		"currentVersion": view.CurrentVersion,
		"editCount":      view.EditCount,
		"createdAt":      view.CreatedAt,
		"lastEditedAt":   view.LastEditedAt,
		"expiresAt":      view.ExpiresAt,
	})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.service.History(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": history})
}

func (s *HTTPServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "version must be a number", nil)
		return
	}
	version, err := s.service.Version(r.Context(), chi.URLParam(r, "token"), number)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "version": version})
}

func (s *HTTPServer) handlePDF(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.FormPDF(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeFile(w, result)
}

// readFormRequest decodes a JSON body or a multipart body with a "payload"
// part plus "logos" and "references" files. cleanup closes the opened files
// and is always safe to call.
func (s *HTTPServer) readFormRequest(w http.ResponseWriter, r *http.Request) (formRequest, UploadSet, func(), error) {
	var body formRequest
	noop := func() {}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := decodeBody(r, &body); err != nil {
			return body, UploadSet{}, noop, domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		}
		return body, UploadSet{}, noop, nil
	}

	limit := s.service.uploadLimit()*2*maxFilesPerField + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return body, UploadSet{}, noop, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	if raw := r.FormValue("payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return body, UploadSet{}, cleanup, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON payload", nil)
		}
	}

	var opened []multipart.File
	closeAll := func() {
		for _, file := range opened {
			_ = file.Close()
		}
		cleanup()
	}

	collect := func(field string) ([]uploads.File, error) {
		headers := r.MultipartForm.File[field]
		if len(headers) > maxFilesPerField {
			return nil, errValidation("Invalid upload", map[string]string{field: fmt.Sprintf("at most %d files are allowed", maxFilesPerField)})
		}
		files := make([]uploads.File, 0, len(headers))
		for _, header := range headers {
			file, err := header.Open()
			if err != nil {
				return nil, domainError(http.StatusBadRequest, "INVALID_BODY", "unreadable file part", nil)
			}
			opened = append(opened, file)
			files = append(files, uploads.File{
				Name:        header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Body:        file,
			})
		}
		return files, nil
	}

	logos, err := collect("logos")
	if err != nil {
		return body, UploadSet{}, closeAll, err
	}
	references, err := collect("references")
	if err != nil {
		return body, UploadSet{}, closeAll, err
	}
	return body, UploadSet{Logos: logos, References: references}, closeAll, nil
}

func (s *Service) uploadLimit() int64 {
	if s.cfg.UploadMaxBytes > 0 {
		return s.cfg.UploadMaxBytes
	}
	return 5 << 20
}

func clientFrom(r *http.Request) Client {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return Client{IP: ip, UserAgent: r.UserAgent()}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Key, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func writeFile(w http.ResponseWriter, result *export.Result) {
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body too large")
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Form not found or expired", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
