// Package uploads validates logo and design reference images and stores them
// in object storage, returning the URLs recorded on the form.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindLogo      Kind = "logos"
	KindReference Kind = "references"
)

var (
	ErrNotConfigured   = errors.New("upload storage is not configured")
	ErrUnsupportedType = errors.New("only jpg, jpeg, png, webp and svg images are allowed")
	ErrTooLarge        = errors.New("file exceeds the upload size limit")
)

var allowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
}

// ObjectStorage is the subset of an object store the upload service needs.
type ObjectStorage interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	RemoveObject(ctx context.Context, key string) error
	ObjectURL(key string) string
}

// File is one uploaded part as received from the client.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Service struct {
	storage  ObjectStorage
	maxBytes int64
}

// NewService returns a service backed by storage. A nil storage yields a
// service that rejects every non-empty upload with ErrNotConfigured.
func NewService(storage ObjectStorage, maxBytes int64) *Service {
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	return &Service{storage: storage, maxBytes: maxBytes}
}

func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Check validates a file's name, declared type and size without storing it.
func (s *Service) Check(file File) error {
	ext := strings.ToLower(path.Ext(file.Name))
	canonical, ok := allowedExtensions[ext]
	if !ok {
		return fmt.Errorf("%s: %w", file.Name, ErrUnsupportedType)
	}
	declared := strings.ToLower(strings.TrimSpace(strings.Split(file.ContentType, ";")[0]))
	if declared != "" && declared != "application/octet-stream" && declared != canonical &&
		!(canonical == "image/jpeg" && declared == "image/jpg") {
		return fmt.Errorf("%s: %w", file.Name, ErrUnsupportedType)
	}
	if file.Size > s.maxBytes {
		return fmt.Errorf("%s: %w", file.Name, ErrTooLarge)
	}
	return nil
}

// Store validates and stores files of one kind and returns their URLs in
// input order. A nil result means nothing was uploaded. On failure any
// objects already written for this call are removed.
func (s *Service) Store(ctx context.Context, kind Kind, files []File) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	for _, file := range files {
		if err := s.Check(file); err != nil {
			return nil, err
		}
	}
	if s.storage == nil {
		return nil, ErrNotConfigured
	}

	keys := make([]string, 0, len(files))
	urls := make([]string, 0, len(files))
	for _, file := range files {
		ext := strings.ToLower(path.Ext(file.Name))
		key := fmt.Sprintf("%s/%s/%s%s", kind, time.Now().UTC().Format("2006/01"), uuid.NewString(), ext)
		if err := s.storage.PutObject(ctx, key, file.Body, file.Size, allowedExtensions[ext]); err != nil {
			s.removeKeys(keys)
			return nil, err
		}
		keys = append(keys, key)
		urls = append(urls, s.storage.ObjectURL(key))
	}
	return urls, nil
}

// Discard removes objects previously returned by Store. It is used when the
// form write that would have referenced them fails.
func (s *Service) Discard(urls []string) {
	if s.storage == nil || len(urls) == 0 {
		return
	}
	keys := make([]string, 0, len(urls))
	base := s.storage.ObjectURL("")
	for _, url := range urls {
		if key := strings.TrimPrefix(url, base); key != url {
			keys = append(keys, key)
		}
	}
	s.removeKeys(keys)
}

func (s *Service) removeKeys(keys []string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := s.storage.RemoveObject(ctx, key); err != nil {
			log.Printf("uploads: cleanup %s: %v", key, err)
		}
	}
}
